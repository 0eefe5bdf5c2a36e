/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dialup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type call struct {
	name string
	args []string
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })
	return &buf
}

func TestRasdial_ConnectAndDisconnect(t *testing.T) {
	buf := captureLogs(t)
	var calls []call
	var slept time.Duration

	d := NewRasdial(
		WithRunner(func(_ context.Context, name string, args ...string) (string, error) {
			calls = append(calls, call{name, args})
			return "Connecting to Internet...\r\nCommand completed successfully.\r\n", nil
		}),
		WithSleep(func(_ context.Context, d time.Duration) { slept += d }),
	)

	d.Connect(context.Background())
	d.Disconnect(context.Background())

	assert.Equal(t, []call{
		{"rasdial", []string{"Internet", "/phone:*99***1#"}},
		{"rasdial", []string{"Internet", "/disconnect"}},
	}, calls)
	assert.Equal(t, 10*time.Second, slept)
	assert.Empty(t, buf.String())
}

func TestRasdial_WarnsOnUnexpectedOutput(t *testing.T) {
	buf := captureLogs(t)

	d := NewRasdial(
		WithRunner(func(context.Context, string, ...string) (string, error) {
			return "Remote Access error 619.\nThe port is not connected.\n", nil
		}),
		WithSleep(func(context.Context, time.Duration) {}),
	)
	d.Connect(context.Background())

	assert.Contains(t, buf.String(), "enabling/disabling network may have failed: Remote Access error 619. // The port is not connected.")
}

func TestRasdial_WarnsOnCommandError(t *testing.T) {
	buf := captureLogs(t)

	d := NewRasdial(WithRunner(func(context.Context, string, ...string) (string, error) {
		return "", errors.New("executable file not found")
	}))
	d.Disconnect(context.Background())

	assert.Contains(t, buf.String(), "enabling/disabling network may have failed")
	assert.Contains(t, buf.String(), "executable file not found")
}

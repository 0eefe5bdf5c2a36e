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

// Package dialup brings the modem connection up for the duration of a send on hosts
// without an always-on link.
package dialup

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	completed = "Command completed successfully"

	defaultEntry  = "Internet"
	defaultNumber = "*99***1#"
	defaultSettle = 10 * time.Second
)

// Dialer toggles connectivity around a send.
type Dialer interface {
	Connect(ctx context.Context)
	Disconnect(ctx context.Context)
}

// Runner executes the dialer command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Rasdial drives the Windows rasdial tool.
type Rasdial struct {
	Entry  string
	Number string
	Settle time.Duration

	run   Runner
	sleep func(context.Context, time.Duration)
}

type Option func(*Rasdial)

func WithRunner(r Runner) Option {
	return func(d *Rasdial) { d.run = r }
}

func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(d *Rasdial) { d.sleep = sleep }
}

func NewRasdial(opts ...Option) *Rasdial {
	d := &Rasdial{
		Entry:  defaultEntry,
		Number: defaultNumber,
		Settle: defaultSettle,
		run:    execRunner,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect dials and then waits for the link to settle.
func (d *Rasdial) Connect(ctx context.Context) {
	d.rasdial(ctx, d.Entry, "/phone:"+d.Number)
	d.sleep(ctx, d.Settle)
}

func (d *Rasdial) Disconnect(ctx context.Context) {
	d.rasdial(ctx, d.Entry, "/disconnect")
}

// rasdial never fails the caller; a bad result is only logged.
func (d *Rasdial) rasdial(ctx context.Context, args ...string) {
	out, err := d.run(ctx, "rasdial", args...)
	output := strings.Join(strings.Split(strings.TrimSpace(strings.ReplaceAll(out, "\r\n", "\n")), "\n"), " // ")
	if err != nil {
		logrus.WithError(err).Warn("enabling/disabling network may have failed: " + output)
		return
	}
	if !strings.Contains(output, completed) {
		logrus.Warn("enabling/disabling network may have failed: " + output)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Noop is used when the connection is always on.
type Noop struct{}

func (Noop) Connect(context.Context)    {}
func (Noop) Disconnect(context.Context) {}

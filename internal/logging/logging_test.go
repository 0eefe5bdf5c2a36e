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

package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_Format(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2024, 2, 3, 4, 5, 6, 789000000, time.Local),
		Level:   logrus.WarnLevel,
		Message: "failed send attempt: http response> 500",
		Data:    logrus.Fields{"payload": "1/3", "attempt": 2},
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-03 04:05:06,789;WARNING;failed send attempt: http response> 500 attempt=2 payload=1/3\n", string(out))
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelName(logrus.TraceLevel))
	assert.Equal(t, "INFO", LevelName(logrus.InfoLevel))
	assert.Equal(t, "WARNING", LevelName(logrus.WarnLevel))
	assert.Equal(t, "ERROR", LevelName(logrus.ErrorLevel))
	assert.Equal(t, "CRITICAL", LevelName(logrus.PanicLevel))
}

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	closer := Setup(Options{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	logrus.Info("sync successful")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3};INFO;sync successful\n$`, string(data))
}

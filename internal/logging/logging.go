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
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeFormat is the timestamp prefix of every log line.
const TimeFormat = "2006-01-02 15:04:05,000"

// Formatter writes `timestamp;LEVEL;message` lines. Fields are appended to the message
// as sorted key=value pairs.
type Formatter struct{}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format(TimeFormat))
	b.WriteByte(';')
	b.WriteString(LevelName(entry.Level))
	b.WriteByte(';')
	b.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func LevelName(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARNING"
	case logrus.ErrorLevel:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}

type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Console    bool
}

// Setup points the standard logrus logger, and the stdlib logger, at a rotating file.
// The returned closer flushes and closes the file.
func Setup(opts Options) io.Closer {
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	var out io.Writer = rotator
	if opts.Console {
		out = io.MultiWriter(rotator, os.Stderr)
	}

	logrus.SetFormatter(&Formatter{})
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetOutput(out)
	log.SetOutput(logrus.StandardLogger().Writer())
	log.SetFlags(0)

	return rotator
}

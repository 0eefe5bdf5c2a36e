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

// Package logscan reads the sync log backwards to find the entries that have not yet
// been shipped to the reporting endpoint.
package logscan

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/labsync/model"
)

const (
	SyncMarker      = "sync successful"
	CollectedMarker = "logs collected"

	endOfLogs  = "2000-01-01 00:00:00,000;WARNING;reached end of logs"
	incomplete = "2000-01-01 00:00:00,000;WARNING;incomplete log entry:[%s]"
)

// the first line of a multi-line entry starts with a datestamp
var entryStart = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}`)

type Scanner struct {
	path string
}

func New(path string) *Scanner {
	return &Scanner{path: path}
}

// Files lists the live log followed by its rotated backups, newest first.
func (s *Scanner) Files() []string {
	ext := filepath.Ext(s.path)
	prefix := strings.TrimSuffix(s.path, ext) + "-"
	backups, err := filepath.Glob(prefix + "*" + ext)
	if err != nil {
		logrus.Warnf("could not list rotated logs for %s: %v", s.path, err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return append([]string{s.path}, backups...)
}

type line struct {
	num  int
	text string
}

// lines yields the non-blank lines of every log file, last line first.
func (s *Scanner) lines() iter.Seq[line] {
	return func(yield func(line) bool) {
		for _, f := range s.Files() {
			data, err := os.ReadFile(f)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					logrus.Warnf("could not read log file %s: %v", f, err)
				}
				continue
			}

			raw := strings.Split(string(data), "\n")
			for i := len(raw) - 1; i >= 0; i-- {
				text := strings.TrimRight(raw[i], " \t\r")
				if strings.TrimSpace(text) == "" {
					continue
				}
				if !yield(line{num: i + 1, text: text}) {
					return
				}
			}
		}
	}
}

// Entries yields log entries newest first. Continuation lines are joined onto the
// entry they belong to; a fragment left over at the very beginning of the oldest file
// is reported as an incomplete entry.
func (s *Scanner) Entries() iter.Seq[model.LogEntry] {
	return func(yield func(model.LogEntry) bool) {
		block := ""
		for ln := range s.lines() {
			if block == "" {
				block = ln.text
			} else {
				block = ln.text + "\n" + block
			}

			if entryStart.MatchString(block) {
				if !yield(model.ParseLogEntry(block, ln.num)) {
					return
				}
				block = ""
			}
		}

		if block != "" {
			yield(model.ParseLogEntry(strings.Replace(incomplete, "%s", block, 1), -1))
		}
	}
}

// Unsynced collects entries back to the last shipped batch. The walk stops at a
// "logs collected" marker that is older than a "sync successful" marker; if no such
// boundary exists a synthetic "reached end of logs" entry is appended.
func (s *Scanner) Unsynced() []model.LogEntry {
	logs := []model.LogEntry{}
	reachedSync := false
	reachedCollected := false

	for entry := range s.Entries() {
		if entry.Message == CollectedMarker {
			if reachedSync {
				reachedCollected = true
				break
			}
			continue
		}
		if entry.Message == SyncMarker {
			reachedSync = true
		}
		logs = append(logs, entry)
	}

	if !reachedCollected {
		logs = append(logs, model.ParseLogEntry(endOfLogs, -1))
	}
	return logs
}

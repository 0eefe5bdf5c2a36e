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

package model

import (
	"fmt"
	"strings"
)

// LogEntry is one parsed line (or multi-line block) of the sync log.
type LogEntry struct {
	At      string `json:"at"`
	Level   string `json:"lvl"`
	Message string `json:"msg"`
	Line    int    `json:"ln"`
}

// ParseLogEntry splits a raw `timestamp;LEVEL;message` block. Semicolons inside the
// message are preserved.
func ParseLogEntry(raw string, line int) LogEntry {
	pieces := strings.SplitN(raw, ";", 3)
	entry := LogEntry{At: pieces[0], Line: line}
	if len(pieces) > 1 {
		entry.Level = pieces[1]
	}
	if len(pieces) > 2 {
		entry.Message = pieces[2]
	}
	return entry
}

type DatumKind string

const (
	DatumRecord DatumKind = "rec"
	DatumLog    DatumKind = "log"
)

// Datum is one item queued for transmission.
type Datum struct {
	Kind   DatumKind
	Sample WireSample
	Log    LogEntry
}

// Payload is one serialized transmission unit. It is immutable once built.
type Payload struct {
	Info       string
	Body       []byte
	RecordIDs  []string
	Compressed bool
}

func (p Payload) String() string {
	return fmt.Sprintf("payload %s (%d bytes, %d records)", p.Info, len(p.Body), len(p.RecordIDs))
}

// PayloadBody is the JSON document posted to the reporting endpoint.
type PayloadBody struct {
	Source  string       `json:"source"`
	Version string       `json:"version"`
	Now     Timestamp    `json:"now"`
	Info    string       `json:"info"`
	Samples []WireSample `json:"samples"`
	Logs    []LogEntry   `json:"logs"`
}

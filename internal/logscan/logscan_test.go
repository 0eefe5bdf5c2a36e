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

package logscan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func messages(t *testing.T, s *Scanner) []string {
	var out []string
	for _, e := range s.Unsynced() {
		out = append(out, e.Message)
	}
	return out
}

func TestEntries_JoinsMultilineAndReverses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	writeLog(t, path,
		"2024-01-01 10:00:00,000;INFO;first",
		"2024-01-01 10:00:01,000;ERROR;could not read records",
		"Traceback line one",
		"",
		"Traceback line two",
		"2024-01-01 10:00:02,000;INFO;third",
	)

	var got []string
	var lines []int
	for e := range New(path).Entries() {
		got = append(got, e.Message)
		lines = append(lines, e.Line)
	}

	assert.Equal(t, []string{
		"third",
		"could not read records\nTraceback line one\nTraceback line two",
		"first",
	}, got)
	assert.Equal(t, []int{6, 2, 1}, lines)
}

func TestEntries_IncompleteLeadingFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	writeLog(t, path,
		"orphan continuation",
		"2024-01-01 10:00:00,000;INFO;first",
	)

	var got []string
	for e := range New(path).Entries() {
		got = append(got, e.At+"|"+e.Message)
	}
	assert.Equal(t, []string{
		"2024-01-01 10:00:00,000|first",
		"2000-01-01 00:00:00,000|incomplete log entry:[orphan continuation]",
	}, got)
}

func TestUnsynced_StopsAtCollectedMarkerBeforeSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	writeLog(t, path,
		"2024-01-01 09:00:00,000;INFO;old news",
		"2024-01-01 09:30:00,000;INFO;logs collected",
		"2024-01-01 09:31:00,000;INFO;sync successful",
		"2024-01-01 13:10:00,000;INFO;beginning extract/sync task",
		"2024-01-01 13:10:05,000;INFO;logs collected",
		"2024-01-01 13:10:06,000;INFO;staging db: added 1 new records",
	)

	assert.Equal(t, []string{
		"staging db: added 1 new records",
		"beginning extract/sync task",
		"sync successful",
	}, messages(t, New(path)))
}

func TestUnsynced_ReachesEndOfLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.log")
	writeLog(t, path,
		"2024-01-01 09:30:00,000;INFO;logs collected",
		"2024-01-01 09:31:00,000;WARNING;failed send attempt: http response> 503",
	)

	got := New(path).Unsynced()
	require.Len(t, got, 2)
	assert.Equal(t, "failed send attempt: http response> 503", got[0].Message)
	assert.Equal(t, "reached end of logs", got[1].Message)
	assert.Equal(t, "WARNING", got[1].Level)
	assert.Equal(t, -1, got[1].Line)
}

func TestUnsynced_WalksIntoRotatedBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extract.log")
	writeLog(t, filepath.Join(dir, "extract-2024-01-01T00-00-00.000.log"),
		"2024-01-01 00:00:00,000;INFO;logs collected",
		"2024-01-01 00:00:01,000;INFO;sync successful",
		"2024-01-01 00:00:02,000;INFO;from oldest backup",
	)
	writeLog(t, filepath.Join(dir, "extract-2024-01-02T00-00-00.000.log"),
		"2024-01-02 00:00:00,000;INFO;from newest backup",
	)
	writeLog(t, path,
		"2024-01-03 00:00:00,000;INFO;from live file",
	)

	s := New(path)
	assert.Equal(t, []string{
		path,
		filepath.Join(dir, "extract-2024-01-02T00-00-00.000.log"),
		filepath.Join(dir, "extract-2024-01-01T00-00-00.000.log"),
	}, s.Files())

	assert.Equal(t, []string{
		"from live file",
		"from newest backup",
		"from oldest backup",
		"sync successful",
	}, messages(t, s))
}

func TestUnsynced_MissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.log"))
	assert.Equal(t, []string{"reached end of logs"}, messages(t, s))
}

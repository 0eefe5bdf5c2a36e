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

package labsync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/database"
	"github.com/jerry-enebeli/labsync/internal/dialup"
	"github.com/jerry-enebeli/labsync/internal/retry"
	"github.com/jerry-enebeli/labsync/internal/syncerror"
	"github.com/jerry-enebeli/labsync/model"
)

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	f.c = make(chan time.Time, 1)
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.c
}

func (f *fakeTimer) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

// fakeSource is an in-memory lab database.
type fakeSource struct {
	mu       sync.Mutex
	records  map[string]model.SampleRecord
	failIDs  int
	broken   model.IDSet
	fetched  []string
	archived model.IDSet
}

func newFakeSource(records ...model.SampleRecord) *fakeSource {
	s := &fakeSource{records: map[string]model.SampleRecord{}, broken: model.NewIDSet(), archived: model.NewIDSet()}
	for _, r := range records {
		s.records[r.SampleID] = r
	}
	return s
}

func (s *fakeSource) Put(r model.SampleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.SampleID] = r
}

func (s *fakeSource) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

func (s *fakeSource) GetSampleIDs(_ context.Context) (model.IDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs > 0 {
		s.failIDs--
		return nil, syncerror.New(syncerror.SourceRead, "failed to read sample ids from lab database", fmt.Errorf("connection refused"))
	}
	ids := model.NewIDSet()
	for id := range s.records {
		ids.Add(id)
	}
	return ids, nil
}

func (s *fakeSource) GetSample(_ context.Context, id string) (*model.SampleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, id)
	if s.broken.Has(id) {
		return nil, syncerror.New(syncerror.SourceRead, fmt.Sprintf("failed to read sample [%s] from lab database", id), fmt.Errorf("lost connection"))
	}
	r, ok := s.records[id]
	if !ok {
		return nil, syncerror.New(syncerror.SourceRead, fmt.Sprintf("sample [%s] not found", id), nil)
	}
	return &r, nil
}

func (s *fakeSource) GetArchivableIDs(_ context.Context, _ time.Time) (model.IDSet, error) {
	return s.archived, nil
}

func (s *fakeSource) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

func testConfig(t *testing.T, submitURL string) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	always := true
	cnf := &config.Configuration{
		SourceTag: "test-lab",
		Version:   "1.3.0",
		Staging:   config.StagingConfig{Path: filepath.Join(dir, "staging.db3")},
		Windows:   config.WindowConfig{Result: 30, Unresolved: 60, Testing: 90},
		Transport: config.TransportConfig{
			SubmitURL:          submitURL,
			User:               "lab",
			Password:           "secret",
			ChunkBytes:         5000,
			CompressionFactor:  0.2,
			AlwaysOnConnection: &always,
			TimeoutSec:         5,
		},
		Retries: config.RetryConfig{
			DBAccess:        []int{2, 3},
			Send:            []int{0, 30, 60},
			UnsyncedRecords: []int{30},
			SyncFlag:        []int{30, 30},
		},
		Schedule: []string{"0930"},
		Locks: config.LockConfig{
			TaskPath:         filepath.Join(dir, "task.lock"),
			DaemonPath:       filepath.Join(dir, "daemon.lock"),
			PollFrequencySec: 1,
			Polls:            2,
			MaxRuntimeSec:    60,
		},
		Daemon: config.DaemonConfig{PollIntervalSec: 10, MaxClockJumpSec: 300, MaxFaults: 3},
		Log:    config.LogConfig{Path: filepath.Join(dir, "extract.log")},
	}
	config.MockConfig(cnf)
	return cnf
}

// fixedClock returns a clock frozen at the given day, 10:00 local time.
func fixedClock(day string) func() time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", day+" 10:00", time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

// newStagedLabSync wires a LabSync to a real sqlite staging file.
func newStagedLabSync(t *testing.T, cnf *config.Configuration, source *fakeSource, opts ...Option) (*LabSync, *database.Datasource, *fakeTimer) {
	t.Helper()
	conn, err := database.ConnectDB(cnf.Staging.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = Migrate(conn, migrate.Up)
	require.NoError(t, err)

	timer := &fakeTimer{}
	staging := &database.Datasource{Conn: conn}
	opts = append([]Option{WithRetryOptions(retry.WithTimer(timer))}, opts...)
	l, err := NewLabSync(staging, source, opts...)
	require.NoError(t, err)
	return l, staging, timer
}

func labRecord(id string, result *model.Result) model.SampleRecord {
	return model.SampleRecord{
		SampleID:     id,
		PatientID:    ptr.String("P-" + id),
		FacilityCode: ptr.String("F01"),
		Result:       result,
	}
}

func TestNewLabSync_DialerFollowsConnectionMode(t *testing.T) {
	cnf := testConfig(t, "http://localhost")
	l, err := NewLabSync(nil, newFakeSource())
	require.NoError(t, err)
	assert.IsType(t, dialup.Noop{}, l.dialer)

	never := false
	cnf.Transport.AlwaysOnConnection = &never
	l, err = NewLabSync(nil, newFakeSource())
	require.NoError(t, err)
	assert.IsType(t, &dialup.Rasdial{}, l.dialer)
}

func TestMigrate_UpAndDown(t *testing.T) {
	conn, err := database.ConnectDB(filepath.Join(t.TempDir(), "staging.db3"))
	require.NoError(t, err)
	defer conn.Close()

	n, err := Migrate(conn, migrate.Up)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = Migrate(conn, migrate.Down)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func retryTimer(timer *fakeTimer) retry.Option {
	return retry.WithTimer(timer)
}

func fmtInfo(i, n int) string {
	return fmt.Sprintf("%d/%d", i, n)
}

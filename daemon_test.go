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
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hm(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func TestIsHit(t *testing.T) {
	tests := []struct {
		name  string
		sched time.Duration
		a, b  time.Duration
		want  bool
	}{
		{"inside", hm(9, 30), hm(9, 29), hm(9, 31), true},
		{"on lower bound", hm(9, 30), hm(9, 30), hm(9, 31), true},
		{"on upper bound", hm(9, 30), hm(9, 29), hm(9, 30), false},
		{"before", hm(9, 30), hm(10, 0), hm(10, 1), false},
		{"wraps midnight late side", hm(23, 59), hm(23, 58), hm(0, 1), true},
		{"wraps midnight early side", hm(0, 0), hm(23, 58), hm(0, 1), true},
		{"wraps midnight outside", hm(12, 0), hm(23, 58), hm(0, 1), false},
		{"empty interval", hm(9, 30), hm(9, 30), hm(9, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHit(tt.sched, tt.a, tt.b))
		})
	}
}

func TestParseSchedule(t *testing.T) {
	got := ParseSchedule([]string{"0930", "2400", "abc", "0015", " 1200 ", "930", "0960"})
	assert.Equal(t, []time.Duration{hm(0, 15), hm(9, 30), hm(12, 0)}, got)
	assert.Empty(t, ParseSchedule(nil))
}

func TestFormatTimeOfDay(t *testing.T) {
	assert.Equal(t, "09:05", formatTimeOfDay(hm(9, 5)))
	assert.Equal(t, "23:59", formatTimeOfDay(hm(23, 59)))
}

// scriptedClock returns each reading in turn; a nil entry panics.
type scriptedClock struct {
	mu       sync.Mutex
	readings []*time.Time
}

func (c *scriptedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.readings) == 0 {
		panic("clock exhausted")
	}
	next := c.readings[0]
	c.readings = c.readings[1:]
	if next == nil {
		panic("clock unreadable")
	}
	return *next
}

func at(clock string) *time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", clock, time.Local)
	if err != nil {
		panic(err)
	}
	return &t
}

func testDaemon(times []time.Duration, clock *scriptedClock, sleeps int) (*Daemon, chan time.Time, *int) {
	fired := make(chan time.Time, 10)
	slept := 0
	d := &Daemon{
		times:     times,
		interval:  10 * time.Second,
		maxJump:   5 * time.Minute,
		maxFaults: 3,
		now:       clock.now,
		sleep: func(context.Context, time.Duration) bool {
			slept++
			return slept <= sleeps
		},
		fire: func(context.Context) { fired <- time.Now() },
	}
	return d, fired, &slept
}

func TestDaemon_StepFiresWhenScheduleIsCrossed(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{at("2024-06-01 09:30:05")}}
	d, fired, _ := testDaemon([]time.Duration{hm(9, 30)}, clock, 0)

	next := d.step(context.Background(), *at("2024-06-01 09:29:55"))
	assert.Equal(t, *at("2024-06-01 09:30:05"), next)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected the task to fire")
	}
}

func TestDaemon_StepIgnoresQuietIntervals(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{at("2024-06-01 09:30:15")}}
	d, fired, _ := testDaemon([]time.Duration{hm(9, 30)}, clock, 0)

	d.step(context.Background(), *at("2024-06-01 09:30:05"))
	assert.Empty(t, fired)
}

func TestDaemon_ClockAnomalySuppressesFiring(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur *time.Time
	}{
		{"backwards", at("2024-06-01 09:31:00"), at("2024-06-01 09:20:00")},
		{"forward jump", at("2024-06-01 09:20:00"), at("2024-06-01 09:40:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &scriptedClock{readings: []*time.Time{tt.cur}}
			d, fired, _ := testDaemon([]time.Duration{hm(9, 30)}, clock, 0)

			next := d.step(context.Background(), *tt.prev)
			assert.Equal(t, *tt.cur, next)
			assert.Empty(t, fired)
		})
	}
}

func TestDaemon_FiresAcrossMidnight(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{
		at("2024-06-01 23:59:55"),
		at("2024-06-02 00:00:05"),
	}}
	d, fired, slept := testDaemon([]time.Duration{hm(0, 0)}, clock, 1)

	d.Loop(context.Background(), "")
	assert.Equal(t, 2, *slept)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected the task to fire")
	}
}

func TestDaemon_ShutsDownAfterConsecutiveFaults(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{at("2024-06-01 08:00:00"), nil, nil, nil}}
	d, _, slept := testDaemon([]time.Duration{hm(9, 30)}, clock, 100)

	d.Loop(context.Background(), "2024-06-01 07:59:00")
	assert.Equal(t, 3, *slept)
}

func TestDaemon_CleanStepResetsFaults(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{
		at("2024-06-01 08:00:00"),
		nil, nil,
		at("2024-06-01 08:00:10"),
		nil, nil,
	}}
	d, _, slept := testDaemon([]time.Duration{hm(9, 30)}, clock, 5)

	d.Loop(context.Background(), "")
	assert.Equal(t, 6, *slept)
}

func TestDaemon_StopsOnCancel(t *testing.T) {
	clock := &scriptedClock{readings: []*time.Time{at("2024-06-01 08:00:00")}}
	d, _, _ := testDaemon(nil, clock, 0)
	d.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Loop(ctx, "")
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestNewDaemon_UsesConfiguredTimings(t *testing.T) {
	testConfig(t, "http://localhost")
	l, err := NewLabSync(nil, newFakeSource())
	require.NoError(t, err)

	d := l.NewDaemon([]time.Duration{hm(9, 30)})
	assert.Equal(t, 10*time.Second, d.interval)
	assert.Equal(t, 5*time.Minute, d.maxJump)
	assert.Equal(t, 3, d.maxFaults)
}

func TestRunDaemon_NothingScheduled(t *testing.T) {
	cnf := testConfig(t, "http://localhost")
	cnf.Schedule = []string{"bad"}
	l, err := NewLabSync(nil, newFakeSource())
	require.NoError(t, err)

	require.NoError(t, l.RunDaemon(context.Background()))
	_, statErr := os.Stat(cnf.Locks.DaemonPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunDaemon_ReleasesLeaseOnShutdown(t *testing.T) {
	cnf := testConfig(t, "http://localhost")
	l, err := NewLabSync(nil, newFakeSource())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.RunDaemon(ctx))
	_, statErr := os.Stat(cnf.Locks.DaemonPath)
	assert.True(t, os.IsNotExist(statErr))
}

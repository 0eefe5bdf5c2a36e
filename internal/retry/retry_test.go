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

package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (f *fakeTimer) Start(d time.Duration) {
	f.waits = append(f.waits, d)
	f.c = make(chan time.Time, 1)
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time {
	return f.c
}

type event struct {
	hook        string
	attempt     int
	maxAttempts int
	wait        time.Duration
}

type scriptedTask struct {
	outcomes []bool
	calls    int
	events   []event
}

func (s *scriptedTask) Attempt() bool {
	ok := s.outcomes[s.calls]
	s.calls++
	return ok
}

func (s *scriptedTask) OnSuccess(attempt, maxAttempts int) {
	s.events = append(s.events, event{hook: "success", attempt: attempt, maxAttempts: maxAttempts})
}

func (s *scriptedTask) OnExhausted(maxAttempts int) {
	s.events = append(s.events, event{hook: "exhausted", maxAttempts: maxAttempts})
}

func (s *scriptedTask) OnRetry(attempt, maxAttempts int, wait time.Duration) {
	s.events = append(s.events, event{hook: "retry", attempt: attempt, maxAttempts: maxAttempts, wait: wait})
}

func (s *scriptedTask) Result(succeeded bool) int {
	if succeeded {
		return s.calls
	}
	return -1
}

func TestRun_SucceedsOnThirdAttempt(t *testing.T) {
	timer := &fakeTimer{}
	task := &scriptedTask{outcomes: []bool{false, false, true}}

	ok, result := Run[int](task, Seconds(30, 60, 120), WithTimer(timer))

	assert.True(t, ok)
	assert.Equal(t, 3, result)
	assert.Equal(t, 3, task.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, timer.waits)
	assert.Equal(t, []event{
		{hook: "retry", attempt: 1, maxAttempts: 4, wait: 30 * time.Second},
		{hook: "retry", attempt: 2, maxAttempts: 4, wait: 60 * time.Second},
		{hook: "success", attempt: 3, maxAttempts: 4},
	}, task.events)
}

func TestRun_Exhausted(t *testing.T) {
	timer := &fakeTimer{}
	task := &scriptedTask{outcomes: []bool{false, false, false}}

	ok, result := Run[int](task, Seconds(30, 30), WithTimer(timer))

	assert.False(t, ok)
	assert.Equal(t, -1, result)
	assert.Equal(t, 3, task.calls)
	assert.Len(t, timer.waits, 2)
	assert.Equal(t, event{hook: "exhausted", maxAttempts: 3}, task.events[len(task.events)-1])
}

func TestRun_EmptyScheduleMakesOneAttempt(t *testing.T) {
	timer := &fakeTimer{}
	task := &scriptedTask{outcomes: []bool{false}}

	ok, _ := Run[int](task, Schedule{}, WithTimer(timer))

	assert.False(t, ok)
	assert.Equal(t, 1, task.calls)
	assert.Empty(t, timer.waits)
	assert.Equal(t, []event{{hook: "exhausted", maxAttempts: 1}}, task.events)
}

func TestRun_ZeroWaitsAreHonoured(t *testing.T) {
	timer := &fakeTimer{}
	task := &scriptedTask{outcomes: []bool{false, false, true}}

	ok, _ := Run[int](task, Seconds(0, 0, 0, 30), WithTimer(timer))

	assert.True(t, ok)
	assert.Equal(t, []time.Duration{0, 0}, timer.waits)
}

func TestScheduleBackOff(t *testing.T) {
	b := Minutes(2, 3).BackOff()
	assert.Equal(t, 2*time.Minute, b.NextBackOff())
	assert.Equal(t, 3*time.Minute, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 2*time.Minute, b.NextBackOff())
}

func TestFunc(t *testing.T) {
	t.Run("returns result of successful attempt", func(t *testing.T) {
		calls := 0
		var retries []int
		task := &Func[string]{
			Name: "fetch",
			Do: func() (string, error) {
				calls++
				if calls < 2 {
					return "", errors.New("database is locked")
				}
				return "records", nil
			},
			Retry: func(attempt, _ int, _ time.Duration) {
				retries = append(retries, attempt)
			},
		}

		ok, result := Run[string](task, Seconds(30, 60), WithTimer(&fakeTimer{}))
		assert.True(t, ok)
		assert.Equal(t, "records", result)
		assert.Equal(t, []int{1}, retries)
	})

	t.Run("panic counts as a failed attempt", func(t *testing.T) {
		exhausted := false
		task := &Func[[]string]{
			Name: "explode",
			Do: func() ([]string, error) {
				panic("boom")
			},
			Exhausted: func(int) { exhausted = true },
		}

		ok, result := Run[[]string](task, Seconds(1), WithTimer(&fakeTimer{}))
		assert.False(t, ok)
		assert.Nil(t, result)
		assert.True(t, exhausted)
	})
}

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

/*
Package retry runs a task a bounded number of times, sleeping between attempts according
to an explicit schedule of wait durations.

A schedule of N waits allows N+1 attempts. Attempts are strictly sequential and the
waits are blocking; exactly one of the terminal hooks (OnSuccess, OnExhausted) runs
before Run returns.
*/
package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule is the ordered list of waits between attempts.
type Schedule []time.Duration

func Seconds(waits ...int) Schedule {
	s := make(Schedule, len(waits))
	for i, w := range waits {
		s[i] = time.Duration(w) * time.Second
	}
	return s
}

func Minutes(waits ...int) Schedule {
	s := make(Schedule, len(waits))
	for i, w := range waits {
		s[i] = time.Duration(w) * time.Minute
	}
	return s
}

func (s Schedule) MaxAttempts() int {
	return len(s) + 1
}

// BackOff exposes the schedule as a backoff.BackOff that stops once the list runs out.
func (s Schedule) BackOff() backoff.BackOff {
	return &scheduleBackOff{schedule: s}
}

type scheduleBackOff struct {
	schedule Schedule
	next     int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.schedule) {
		return backoff.Stop
	}
	wait := b.schedule[b.next]
	b.next++
	return wait
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// Task is a unit of work the runner may attempt several times.
//
// Attempt must report failure by returning false; it should not panic. OnRetry is called
// after a failed attempt that will be followed by another, with the wait about to be
// taken.
type Task[R any] interface {
	Attempt() bool
	OnSuccess(attempt, maxAttempts int)
	OnExhausted(maxAttempts int)
	OnRetry(attempt, maxAttempts int, wait time.Duration)
	Result(succeeded bool) R
}

type options struct {
	timer backoff.Timer
}

type Option func(*options)

// WithTimer replaces the timer used for the waits between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}

var errAttemptFailed = errors.New("attempt failed")

// Run executes task until it succeeds or the schedule is exhausted.
func Run[R any](task Task[R], schedule Schedule, opts ...Option) (bool, R) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	maxAttempts := schedule.MaxAttempts()
	attempt := 0

	operation := func() error {
		attempt++
		if task.Attempt() {
			return nil
		}
		return errAttemptFailed
	}
	notify := func(_ error, wait time.Duration) {
		task.OnRetry(attempt, maxAttempts, wait)
	}

	err := backoff.RetryNotifyWithTimer(operation, schedule.BackOff(), notify, o.timer)
	succeeded := err == nil
	if succeeded {
		task.OnSuccess(attempt, maxAttempts)
	} else {
		task.OnExhausted(maxAttempts)
	}
	return succeeded, task.Result(succeeded)
}

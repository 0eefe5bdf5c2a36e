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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Func adapts a closure into a Task. Do's error is logged and counts as a failed
// attempt, as does a panic. Hooks left nil are skipped.
type Func[R any] struct {
	Name      string
	Do        func() (R, error)
	Success   func(attempt, maxAttempts int)
	Exhausted func(maxAttempts int)
	Retry     func(attempt, maxAttempts int, wait time.Duration)

	result R
}

func (f *Func[R]) Attempt() (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithField("task", f.Name).Errorf("unexpected error: %v", rec)
			ok = false
		}
	}()

	result, err := f.Do()
	if err != nil {
		logrus.WithField("task", f.Name).Error(fmt.Sprintf("%+v", err))
		return false
	}
	f.result = result
	return true
}

func (f *Func[R]) OnSuccess(attempt, maxAttempts int) {
	if f.Success != nil {
		f.Success(attempt, maxAttempts)
	}
}

func (f *Func[R]) OnExhausted(maxAttempts int) {
	if f.Exhausted != nil {
		f.Exhausted(maxAttempts)
	}
}

func (f *Func[R]) OnRetry(attempt, maxAttempts int, wait time.Duration) {
	if f.Retry != nil {
		f.Retry(attempt, maxAttempts, wait)
	}
}

// Result returns the value of the successful attempt, or the zero value.
func (f *Func[R]) Result(succeeded bool) R {
	if !succeeded {
		var zero R
		return zero
	}
	return f.result
}

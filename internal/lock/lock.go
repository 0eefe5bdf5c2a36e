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
Package lock provides cross-process mutual exclusion through a lease file.

The lease file holds a single "YYYY-MM-DD HH:MM:SS" line written by the holder and
rewritten on every refresh. A contender that finds the file polls it; if the content
changes during the poll window the holder is alive, otherwise the holder is presumed
dead and the lease is reclaimed. Every read-decide-write step happens under an
advisory flock on a sidecar file so two contenders can never both win.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/labsync/internal/syncerror"
)

const LeaseFormat = "2006-01-02 15:04:05"

var leasePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}`)

type Lease struct {
	path       string
	name       string
	pollFreq   time.Duration
	polls      int
	maxRuntime time.Duration
	now        func() time.Time
	guard      *flock.Flock

	// io serialises guard use within this process; flock is not reentrant per handle.
	io   sync.Mutex
	mu   sync.Mutex
	held bool
}

type Option func(*Lease)

func WithPollFrequency(d time.Duration) Option {
	return func(l *Lease) { l.pollFreq = d }
}

// WithPolls sets how many unchanged polls mark a lease as stale.
func WithPolls(n int) Option {
	return func(l *Lease) { l.polls = n }
}

// WithMaxRuntime bounds how long Run keeps the lease for a task. Zero means unbounded.
func WithMaxRuntime(d time.Duration) Option {
	return func(l *Lease) { l.maxRuntime = d }
}

func WithName(name string) Option {
	return func(l *Lease) { l.name = name }
}

func WithClock(now func() time.Time) Option {
	return func(l *Lease) { l.now = now }
}

func NewLease(path string, opts ...Option) *Lease {
	l := &Lease{
		path:     path,
		pollFreq: 20 * time.Second,
		polls:    6,
		now:      time.Now,
		guard:    flock.New(path + ".flock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pollFreq <= 0 {
		l.pollFreq = 20 * time.Second
	}
	l.name = fmt.Sprintf("%s:%s", l.name, uuid.New().String()[:8])
	return l
}

func (l *Lease) Name() string {
	return l.name
}

func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// ReadLease returns the timestamp currently stored in the lease, or "" when the lease
// is absent or unreadable.
func (l *Lease) ReadLease() string {
	var content string
	err := l.locked(func() error {
		c, _, err := l.read()
		content = c
		return err
	})
	if err != nil {
		logrus.Errorf("could not read lockfile [%s - %s]; proceeding as if unlocked...: %v", l.name, l.path, err)
		return ""
	}
	return content
}

// TryAcquire takes the lease if it is free or stale. It blocks for up to polls*pollFreq
// while deciding whether an existing lease is stale.
func (l *Lease) TryAcquire(ctx context.Context) bool {
	var (
		observed string
		exists   bool
	)
	err := l.locked(func() error {
		var err error
		observed, exists, err = l.read()
		return err
	})
	if err != nil {
		logrus.Errorf("could not read lockfile [%s - %s]; proceeding as if unlocked...: %v", l.name, l.path, err)
	}

	if !exists {
		won, err := l.create()
		if err != nil {
			logrus.Errorf("cannot create lockfile [%s - %s]: %v", l.name, l.path, err)
			return false
		}
		if won {
			l.setHeld(true)
			return true
		}
		// another contender created it between our read and our create
		return false
	}

	if observed != "" {
		if !l.monitor(ctx, observed) {
			return false
		}
		logrus.Infof("existing lockfile [%s - %s] appears to be from a defunct process; proceeding as if unlocked...", l.name, l.path)
	}

	if !l.reclaim(observed) {
		return false
	}
	l.setHeld(true)
	return true
}

// Refresh rewrites the lease with the current time.
func (l *Lease) Refresh() {
	err := l.locked(func() error {
		return os.WriteFile(l.path, []byte(l.stamp()), 0o644)
	})
	if err != nil {
		logrus.Errorf("cannot update lockfile [%s - %s]; singleton guarantees no longer valid, but not much we can do; proceeding...: %v", l.name, l.path, err)
	}
}

// Release removes the lease file.
func (l *Lease) Release() {
	l.setHeld(false)
	err := l.locked(func() error {
		err := os.Remove(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
	if err != nil {
		logrus.Errorf("could not clear lockfile [%s - %s]; task is now defunct: %v", l.name, l.path, err)
	}
}

// Run executes task on its own goroutine while holding the lease, refreshing it every
// poll interval. When the task outlives the max runtime the lease is released anyway
// and Run returns; the task itself is not stopped. Run returns false if the lease could
// not be acquired.
func (l *Lease) Run(ctx context.Context, task func(ctx context.Context)) bool {
	if !l.TryAcquire(ctx) {
		logrus.Infof("unable to acquire lock for task [%s]; not running...", l.name)
		return false
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("top-level exception in task [%s]: %v", l.name, rec)
			}
		}()
		task(ctx)
	}()

	ticker := time.NewTicker(l.pollFreq)
	defer ticker.Stop()

	var runtime time.Duration
wait:
	for {
		select {
		case <-done:
			break wait
		case <-ticker.C:
			runtime += l.pollFreq
			if l.maxRuntime > 0 && runtime > l.maxRuntime {
				err := syncerror.New(syncerror.LockStaleness, fmt.Sprintf("task [%s] exceeded its max allowed runtime of %ds", l.name, int(l.maxRuntime.Seconds())), nil)
				logrus.WithField("kind", err.Kind).Warnf("%s; runlock is being released; assume task is hung/stalled, but may still be running!", err.Message)
				break wait
			}
			l.Refresh()
		}
	}

	l.Release()
	return true
}

// monitor polls the lease and reports whether it stayed unchanged for the whole window.
func (l *Lease) monitor(ctx context.Context, observed string) bool {
	for i := 0; i < l.polls; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.pollFreq):
		}

		current := l.ReadLease()
		if current != "" && current != observed {
			return false
		}
	}
	return true
}

// create makes the lease file if it does not exist. It reports false without error when
// the file already exists.
func (l *Lease) create() (bool, error) {
	won := false
	err := l.locked(func() error {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.WriteString(l.stamp()); err != nil {
			return err
		}
		won = true
		return nil
	})
	return won, err
}

// reclaim overwrites the lease only if it still holds what the caller observed, so that
// of several contenders that judged the same lease stale, only the first takes it.
func (l *Lease) reclaim(observed string) bool {
	won := false
	err := l.locked(func() error {
		current, exists, err := l.read()
		if err != nil {
			return err
		}
		if exists && current != observed {
			return nil
		}
		if err := os.WriteFile(l.path, []byte(l.stamp()), 0o644); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		logrus.Errorf("cannot reclaim lockfile [%s - %s]: %v", l.name, l.path, err)
		return false
	}
	return won
}

// read must be called with the guard held.
func (l *Lease) read() (string, bool, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", true, err
	}
	content := leasePattern.FindString(string(data))
	return content, true, nil
}

func (l *Lease) locked(fn func() error) error {
	l.io.Lock()
	defer l.io.Unlock()
	if err := l.guard.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", l.guard.Path(), err)
	}
	defer func() {
		_ = l.guard.Unlock()
	}()
	return fn()
}

func (l *Lease) stamp() string {
	return l.now().Format(LeaseFormat) + "\n"
}

func (l *Lease) setHeld(held bool) {
	l.mu.Lock()
	l.held = held
	l.mu.Unlock()
}

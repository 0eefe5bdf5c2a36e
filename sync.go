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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/labsync/internal/lock"
	"github.com/jerry-enebeli/labsync/internal/notification"
)

// RunSync is one full extract/sync run: reconcile lab and staging, then send what is
// pending. Anticipated failures are absorbed by the retried steps; anything else is
// logged, reported and returned.
func (l *LabSync) RunSync(ctx context.Context) (err error) {
	logrus.Info("beginning extract/sync task")
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unexpected top-level exception in sync task: %v", rec)
		}
		if err != nil {
			logrus.Error(err)
			notification.NotifyError(err)
		}
	}()

	l.SyncDatabases(ctx)
	if _, err := l.SendData(ctx); err != nil {
		return fmt.Errorf("unexpected top-level exception in sync task: %w", err)
	}

	logrus.Info("extract/sync task complete")
	return nil
}

func (l *LabSync) leaseOptions(name string) []lock.Option {
	return []lock.Option{
		lock.WithName(name),
		lock.WithPollFrequency(time.Duration(l.config.Locks.PollFrequencySec) * time.Second),
		lock.WithPolls(l.config.Locks.Polls),
	}
}

// TaskLease guards the extract/sync task so only one run executes at a time.
func (l *LabSync) TaskLease() *lock.Lease {
	opts := append(l.leaseOptions("extract/sync"),
		lock.WithMaxRuntime(time.Duration(l.config.Locks.MaxRuntimeSec)*time.Second))
	return lock.NewLease(l.config.Locks.TaskPath, opts...)
}

// DaemonLease keeps a second daemon from starting next to a live one.
func (l *LabSync) DaemonLease() *lock.Lease {
	return lock.NewLease(l.config.Locks.DaemonPath, l.leaseOptions("daemon")...)
}

// RunSingleton runs RunSync under the task lease. It reports false when another run
// holds the lease.
func (l *LabSync) RunSingleton(ctx context.Context) bool {
	return l.TaskLease().Run(ctx, func(ctx context.Context) {
		_ = l.RunSync(ctx)
	})
}

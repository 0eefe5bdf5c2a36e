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

	"github.com/jerry-enebeli/labsync/model"
)

// SyncStats counts the staged records in each sync state.
func (l *LabSync) SyncStats(ctx context.Context) (model.SyncStats, error) {
	return l.datasource.GetSyncStats(ctx)
}

// GetStagedSample returns the staging copy of a record, sync bookkeeping included.
func (l *LabSync) GetStagedSample(ctx context.Context, id string) (*model.SampleRecord, error) {
	return l.datasource.GetSample(ctx, id)
}

func (l *LabSync) HealthCheck(ctx context.Context) error {
	return l.datasource.Ping(ctx)
}

// TaskLeaseHolder is the timestamp in the task lease, or "" when no run is active.
func (l *LabSync) TaskLeaseHolder() string {
	return l.TaskLease().ReadLease()
}

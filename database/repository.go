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

package database

import (
	"context"

	"github.com/jerry-enebeli/labsync/model"
)

// IDataSource defines the interface for staging store operations.
type IDataSource interface {
	samples // Interface for staged sample records
	health  // Interface for connectivity checks
}

// samples defines methods for the staged copy of lab records.
type samples interface {
	GetSampleIDs(ctx context.Context) (model.IDSet, error)                              // All staged ids, historical included
	GetSample(ctx context.Context, id string) (*model.SampleRecord, error)              // Point lookup
	GetWindowedSampleIDs(ctx context.Context, window model.Window) (model.IDSet, error) // Non-historical ids still inside a listening window
	GetUnsyncedSamples(ctx context.Context) ([]model.SampleRecord, error)               // Records in new or update
	ApplyReconciliation(ctx context.Context, changes model.Changeset) error             // Deletes, inserts and replaces in one transaction
	MarkSynced(ctx context.Context, ids []string) error                                 // Flags sent records synced in one transaction
	ArchiveSamples(ctx context.Context, ids []string) (int, error)                      // Inserts historical placeholders
	GetSyncStats(ctx context.Context) (model.SyncStats, error)                          // Counts by sync status
}

type health interface {
	Ping(ctx context.Context) error
}

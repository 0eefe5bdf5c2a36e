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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jerry-enebeli/labsync/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) GetSampleIDs(ctx context.Context) (model.IDSet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.IDSet), args.Error(1)
}

func (m *MockDataSource) GetSample(ctx context.Context, id string) (*model.SampleRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SampleRecord), args.Error(1)
}

func (m *MockDataSource) GetWindowedSampleIDs(ctx context.Context, window model.Window) (model.IDSet, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.IDSet), args.Error(1)
}

func (m *MockDataSource) GetUnsyncedSamples(ctx context.Context) ([]model.SampleRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SampleRecord), args.Error(1)
}

func (m *MockDataSource) ApplyReconciliation(ctx context.Context, changes model.Changeset) error {
	args := m.Called(ctx, changes)
	return args.Error(0)
}

func (m *MockDataSource) MarkSynced(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockDataSource) ArchiveSamples(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) GetSyncStats(ctx context.Context) (model.SyncStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.SyncStats), args.Error(1)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

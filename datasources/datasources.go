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

// Package datasources reads lab records from the authoritative source store.
package datasources

import (
	"context"
	"fmt"
	"time"

	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/model"
)

// SourceAdapter is the read-only view of the lab database. Implementations apply the
// facility allow-list themselves and report every failure as a source read error.
type SourceAdapter interface {
	GetSampleIDs(ctx context.Context) (model.IDSet, error)
	GetSample(ctx context.Context, id string) (*model.SampleRecord, error)
	GetArchivableIDs(ctx context.Context, before time.Time) (model.IDSet, error)
}

func NewSourceAdapter(configuration *config.Configuration) (*Relational, error) {
	src := configuration.Source
	switch src.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("source driver %q not supported. Please use either mysql, postgres or sqlite3", src.Driver)
	}

	conn, err := connectRelational(src.Driver, src.Dns)
	if err != nil {
		return nil, err
	}

	return NewRelational(conn, RelationalOptions{
		Driver:     src.Driver,
		Table:      src.Table,
		IDColumn:   src.IDColumn,
		DateColumn: src.DateColumn,
		Columns:    src.Columns,
		Facilities: configuration.Facilities,
		Mapper:     ResultMapper{ResultMap: src.ResultMap},
	}), nil
}

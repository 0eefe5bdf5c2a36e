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
	"database/sql"
	"embed"
	"time"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/database"
	"github.com/jerry-enebeli/labsync/datasources"
	"github.com/jerry-enebeli/labsync/internal/dialup"
	"github.com/jerry-enebeli/labsync/internal/logscan"
	"github.com/jerry-enebeli/labsync/internal/retry"
)

// LabSync mirrors lab records into the staging store and ships unsent records to the
// reporting endpoint.
type LabSync struct {
	datasource database.IDataSource
	source     datasources.SourceAdapter
	config     *config.Configuration
	dialer     dialup.Dialer
	logs       *logscan.Scanner
	now        func() time.Time
	retryOpts  []retry.Option
}

//go:embed sql/*.sql
var SQLFiles embed.FS

type Option func(*LabSync)

// WithClock replaces time.Now, which decides "today" for imported_on and resolved_on.
func WithClock(now func() time.Time) Option {
	return func(l *LabSync) { l.now = now }
}

func WithDialer(d dialup.Dialer) Option {
	return func(l *LabSync) { l.dialer = d }
}

// WithRetryOptions is passed to every retried operation, e.g. a timer that does not
// really sleep.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(l *LabSync) { l.retryOpts = append(l.retryOpts, opts...) }
}

// NewLabSync initializes a new instance of LabSync with the given staging store and
// lab database reader. It fetches the configuration loaded by config.InitConfig.
func NewLabSync(db database.IDataSource, source datasources.SourceAdapter, opts ...Option) (*LabSync, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	l := &LabSync{
		datasource: db,
		source:     source,
		config:     configuration,
		logs:       logscan.New(configuration.Log.Path),
		now:        time.Now,
	}
	if configuration.Transport.AlwaysOn() {
		l.dialer = dialup.Noop{}
	} else {
		l.dialer = dialup.NewRasdial()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func migrations() *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       "sql",
	}
}

// Migrate applies (or rolls back) the staging schema and returns how many migrations ran.
func Migrate(db *sql.DB, direction migrate.MigrationDirection) (int, error) {
	return migrate.Exec(db, "sqlite3", migrations(), direction)
}

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

package datasources

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/labsync/internal/syncerror"
	"github.com/jerry-enebeli/labsync/model"
)

func connectRelational(driver, dns string) (*sql.DB, error) {
	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("%s connection error ❌: %v", driver, err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RelationalOptions describes where lab records live.
type RelationalOptions struct {
	Driver     string
	Table      string
	IDColumn   string
	DateColumn string
	Columns    []string
	Facilities []string
	Mapper     ResultMapper
}

// Relational reads lab records from a SQL database. The connection is treated as
// read-only.
type Relational struct {
	conn *sql.DB
	opts RelationalOptions
}

func NewRelational(conn *sql.DB, opts RelationalOptions) *Relational {
	return &Relational{conn: conn, opts: opts}
}

// rebind rewrites ? placeholders for drivers that number them.
func (r *Relational) rebind(query string) string {
	if r.opts.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// facilityClause restricts a query to the configured facilities. It is empty when all
// facilities are enabled.
func (r *Relational) facilityClause() (string, []interface{}) {
	if len(r.opts.Facilities) == 0 {
		return "", nil
	}
	marks := make([]string, len(r.opts.Facilities))
	args := make([]interface{}, len(r.opts.Facilities))
	for i, f := range r.opts.Facilities {
		marks[i] = "?"
		args[i] = f
	}
	return fmt.Sprintf("%s IN (%s)", r.opts.Columns[1], strings.Join(marks, ", ")), args
}

func (r *Relational) where(conds []string, args []interface{}) (string, []interface{}) {
	if clause, fargs := r.facilityClause(); clause != "" {
		conds = append(conds, clause)
		args = append(args, fargs...)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Relational) queryIDs(ctx context.Context, query string, args ...interface{}) (model.IDSet, error) {
	rows, err := r.conn.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(model.IDSet)
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id.Valid {
			ids.Add(strings.TrimSpace(id.String))
		}
	}
	return ids, rows.Err()
}

func (r *Relational) GetSampleIDs(ctx context.Context) (model.IDSet, error) {
	ctx, span := otel.Tracer("Source").Start(ctx, "Fetching lab sample ids")
	defer span.End()

	where, args := r.where(nil, nil)
	ids, err := r.queryIDs(ctx, fmt.Sprintf("SELECT %s FROM %s%s", r.opts.IDColumn, r.opts.Table, where), args...)
	if err != nil {
		span.RecordError(err)
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to read sample ids from lab database")
	}
	span.SetAttributes(attribute.Int("samples.count", len(ids)))
	return ids, nil
}

func (r *Relational) selectList() string {
	exprs := make([]string, len(rowFields))
	for i, field := range rowFields {
		exprs[i] = fmt.Sprintf("%s AS %s", r.opts.Columns[i], field)
	}
	return strings.Join(exprs, ", ")
}

func (r *Relational) GetSample(ctx context.Context, id string) (*model.SampleRecord, error) {
	ctx, span := otel.Tracer("Source").Start(ctx, "Fetching lab sample")
	defer span.End()
	span.SetAttributes(attribute.String("sample.id", id))

	where, args := r.where([]string{r.opts.IDColumn + " = ?"}, []interface{}{id})
	rows, err := r.conn.QueryContext(ctx, r.rebind(fmt.Sprintf("SELECT %s FROM %s%s", r.selectList(), r.opts.Table, where)), args...)
	if err != nil {
		span.RecordError(err)
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to read sample [%s] from lab database", id)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to read sample [%s] from lab database", id)
		}
		return nil, syncerror.New(syncerror.SourceRead, fmt.Sprintf("sample [%s] not found", id), nil)
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to read columns for sample [%s]", id)
	}
	values := make([]interface{}, len(cols))
	pointers := make([]interface{}, len(cols))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		span.RecordError(err)
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to scan sample [%s]", id)
	}

	raw := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		raw[strings.ToLower(col)] = values[i]
	}
	row, err := DecodeRow(raw)
	if err != nil {
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to decode sample [%s]", id)
	}

	record := r.opts.Mapper.Map(id, row)
	return &record, nil
}

// GetArchivableIDs returns ids whose date column falls before the given day.
func (r *Relational) GetArchivableIDs(ctx context.Context, before time.Time) (model.IDSet, error) {
	ctx, span := otel.Tracer("Source").Start(ctx, "Fetching archivable lab sample ids")
	defer span.End()

	where, args := r.where([]string{r.opts.DateColumn + " < ?"}, []interface{}{before.Format(model.DateFormat)})
	ids, err := r.queryIDs(ctx, fmt.Sprintf("SELECT %s FROM %s%s", r.opts.IDColumn, r.opts.Table, where), args...)
	if err != nil {
		span.RecordError(err)
		return nil, syncerror.Wrap(syncerror.SourceRead, err, "failed to read archivable ids from lab database")
	}
	return ids, nil
}

func (r *Relational) Close() error {
	return r.conn.Close()
}

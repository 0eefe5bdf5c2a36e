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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/labsync/internal/apierror"
	"github.com/jerry-enebeli/labsync/internal/syncerror"
	"github.com/jerry-enebeli/labsync/model"
)

const sampleColumns = `sample_id, imported_on, resolved_on, patient_id, facility_code, collected_on,
	received_on, processed_on, result, result_detail, birthdate, child_age, sex, mother_age,
	health_worker, health_worker_title, verified, care_clinic_no, sync_status`

var windowClauses = map[model.ResultClass]string{
	model.ClassResolved:   "result IN ('positive', 'negative', 'rejected') AND resolved_on >= ?",
	model.ClassUnresolved: "result IN ('indeterminate', 'inconsistent') AND resolved_on >= ?",
	model.ClassUntested:   "result IS NULL AND imported_on >= ?",
}

type scanner interface {
	Scan(dest ...interface{}) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func scanSample(row scanner) (*model.SampleRecord, error) {
	s := &model.SampleRecord{}
	var result sql.NullString
	err := row.Scan(
		&s.SampleID, &s.ImportedOn, &s.ResolvedOn, &s.PatientID, &s.FacilityCode, &s.CollectedOn,
		&s.ReceivedOn, &s.ProcessedOn, &result, &s.ResultDetail, &s.Birthdate, &s.ChildAge, &s.Sex, &s.MotherAge,
		&s.HealthWorker, &s.HealthWorkerTitle, &s.Verified, &s.CareClinicNo, &s.SyncStatus,
	)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		s.Result = model.ResultPtr(model.Result(result.String))
	}
	return s, nil
}

func sampleArgs(s model.SampleRecord) []interface{} {
	var result interface{}
	if s.Result != nil {
		result = string(*s.Result)
	}
	return []interface{}{
		s.SampleID, s.ImportedOn, s.ResolvedOn, s.PatientID, s.FacilityCode, s.CollectedOn,
		s.ReceivedOn, s.ProcessedOn, result, s.ResultDetail, s.Birthdate, s.ChildAge, s.Sex, s.MotherAge,
		s.HealthWorker, s.HealthWorkerTitle, s.Verified, s.CareClinicNo, string(s.SyncStatus),
	}
}

func insertSample(ctx context.Context, ex execer, s model.SampleRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO samples (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sampleArgs(s)...)
	return err
}

func deleteSample(ctx context.Context, ex execer, id string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM samples WHERE sample_id = ?`, id)
	return err
}

func (d Datasource) queryIDs(ctx context.Context, query string, args ...interface{}) (model.IDSet, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(model.IDSet)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids.Add(id)
	}
	return ids, rows.Err()
}

// GetSampleIDs returns every staged id, historical placeholders included.
func (d Datasource) GetSampleIDs(ctx context.Context) (model.IDSet, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Fetching staged sample ids")
	defer span.End()

	ids, err := d.queryIDs(ctx, `SELECT sample_id FROM samples`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples.count", len(ids)))
	return ids, nil
}

func (d Datasource) GetSample(ctx context.Context, id string) (*model.SampleRecord, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Fetching staged sample")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE sample_id = ?`, id)
	s, err := scanSample(row)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("sample [%s] not found", id), err)
		}
		return nil, err
	}
	return s, nil
}

// GetWindowedSampleIDs returns non-historical ids of the window's class whose anchor
// date is on or after window.Since.
func (d Datasource) GetWindowedSampleIDs(ctx context.Context, window model.Window) (model.IDSet, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Fetching windowed sample ids")
	defer span.End()
	span.SetAttributes(attribute.String("window.class", string(window.Class)), attribute.String("window.since", window.Since.String()))

	clause, ok := windowClauses[window.Class]
	if !ok {
		return nil, fmt.Errorf("unknown result class %q", window.Class)
	}

	ids, err := d.queryIDs(ctx, `
		SELECT sample_id FROM samples
		WHERE `+clause+` AND sync_status != 'historical'
	`, window.Since.String())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

func (d Datasource) GetUnsyncedSamples(ctx context.Context) ([]model.SampleRecord, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Fetching unsynced samples")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+sampleColumns+` FROM samples
		WHERE sync_status IN ('new', 'update')
		ORDER BY sample_id
	`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	records := []model.SampleRecord{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		records = append(records, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples.count", len(records)))
	return records, nil
}

// ApplyReconciliation writes one reconciliation pass. Replaced records are deleted and
// re-inserted. Nothing is kept if any statement fails.
func (d Datasource) ApplyReconciliation(ctx context.Context, changes model.Changeset) error {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Applying reconciliation to staging")
	defer span.End()
	span.SetAttributes(
		attribute.Int("changes.deleted", len(changes.Deleted)),
		attribute.Int("changes.inserted", len(changes.Inserted)),
		attribute.Int("changes.replaced", len(changes.Replaced)),
	)

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return syncerror.Wrap(syncerror.StagingWrite, err, "failed to begin staging transaction")
	}

	fail := func(err error, format string, args ...interface{}) error {
		_ = tx.Rollback()
		span.RecordError(err)
		return syncerror.Wrap(syncerror.StagingWrite, err, format, args...)
	}

	for _, id := range changes.Deleted {
		if err := deleteSample(ctx, tx, id); err != nil {
			return fail(err, "failed to delete sample [%s]", id)
		}
	}
	for _, s := range changes.Inserted {
		if err := insertSample(ctx, tx, s); err != nil {
			return fail(err, "failed to insert sample [%s]", s.SampleID)
		}
	}
	for _, s := range changes.Replaced {
		if err := deleteSample(ctx, tx, s.SampleID); err != nil {
			return fail(err, "failed to delete sample [%s]", s.SampleID)
		}
		if err := insertSample(ctx, tx, s); err != nil {
			return fail(err, "failed to insert sample [%s]", s.SampleID)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return syncerror.Wrap(syncerror.StagingWrite, err, "failed to commit staging transaction")
	}
	return nil
}

// MarkSynced flags the given records synced, all or none.
func (d Datasource) MarkSynced(ctx context.Context, ids []string) error {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Marking samples synced")
	defer span.End()
	span.SetAttributes(attribute.Int("samples.count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return syncerror.Wrap(syncerror.SyncFlagUpdate, err, "failed to begin staging transaction")
	}
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `UPDATE samples SET sync_status = 'synced' WHERE sample_id = ?`, id)
		if err != nil {
			_ = tx.Rollback()
			span.RecordError(err)
			return syncerror.Wrap(syncerror.SyncFlagUpdate, err, "failed to update sync flag of sample [%s]", id)
		}
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return syncerror.Wrap(syncerror.SyncFlagUpdate, err, "failed to commit sync flag update")
	}
	return nil
}

// ArchiveSamples inserts historical placeholder rows so old lab records never show up
// as new. Ids already staged are left alone. It returns the number of rows inserted.
func (d Datasource) ArchiveSamples(ctx context.Context, ids []string) (int, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Archiving samples")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, syncerror.Wrap(syncerror.StagingWrite, err, "failed to begin staging transaction")
	}

	inserted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO samples (sample_id, sync_status) VALUES (?, 'historical')`, id)
		if err != nil {
			_ = tx.Rollback()
			span.RecordError(err)
			return 0, syncerror.Wrap(syncerror.StagingWrite, err, "failed to archive sample [%s]", id)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, syncerror.Wrap(syncerror.StagingWrite, err, "failed to commit archive")
	}
	span.SetAttributes(attribute.Int("samples.archived", inserted))
	return inserted, nil
}

func (d Datasource) GetSyncStats(ctx context.Context) (model.SyncStats, error) {
	ctx, span := otel.Tracer("Samples").Start(ctx, "Fetching sync stats")
	defer span.End()

	stats := model.SyncStats{ByStatus: map[model.SyncStatus]int{}}
	rows, err := d.Conn.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM samples GROUP BY sync_status`)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[model.SyncStatus(strings.TrimSpace(status))] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

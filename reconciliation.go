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
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/labsync/internal/metrics"
	"github.com/jerry-enebeli/labsync/internal/retry"
	"github.com/jerry-enebeli/labsync/internal/syncerror"
	"github.com/jerry-enebeli/labsync/model"
)

// ReconcileResult counts what one reconciliation pass wrote to staging.
type ReconcileResult struct {
	New     int
	Updated int
	Deleted int
}

// candidates is the read phase of a reconciliation: what changed and why each id was
// looked at.
type candidates struct {
	new        model.IDSet
	deleted    model.IDSet
	resolved   model.IDSet
	unresolved model.IDSet
	untested   model.IDSet
}

func (c candidates) interest() model.IDSet {
	return c.new.Union(c.resolved, c.unresolved, c.untested)
}

func (l *LabSync) today() model.Date {
	return model.NewDate(l.now())
}

// windows returns the three listening windows as of now.
func (l *LabSync) windows() []model.Window {
	now := l.now()
	return []model.Window{
		{Class: model.ClassResolved, Since: model.DaysAgo(now, l.config.Windows.Result)},
		{Class: model.ClassUnresolved, Since: model.DaysAgo(now, l.config.Windows.Unresolved)},
		{Class: model.ClassUntested, Since: model.DaysAgo(now, l.config.Windows.Testing)},
	}
}

func (l *LabSync) findCandidates(ctx context.Context) (candidates, error) {
	sourceIDs, err := l.source.GetSampleIDs(ctx)
	if err != nil {
		return candidates{}, err
	}
	stagedIDs, err := l.datasource.GetSampleIDs(ctx)
	if err != nil {
		return candidates{}, syncerror.Wrap(syncerror.StagingRead, err, "failed to read staged ids")
	}

	c := candidates{
		new:     sourceIDs.Minus(stagedIDs),
		deleted: stagedIDs.Minus(sourceIDs),
	}
	if len(c.deleted) > 0 {
		logrus.Warnf("records deleted from lab database! (%s)", strings.Join(c.deleted.Sorted(), ", "))
	}

	windowed := make([]model.IDSet, 0, 3)
	for _, w := range l.windows() {
		ids, err := l.datasource.GetWindowedSampleIDs(ctx, w)
		if err != nil {
			return candidates{}, syncerror.Wrap(syncerror.StagingRead, err, "failed to read %s window", w.Class)
		}
		windowed = append(windowed, ids.Minus(c.deleted))
	}
	c.resolved, c.unresolved, c.untested = windowed[0], windowed[1], windowed[2]
	return c, nil
}

// diffStaged compares a fresh lab record against its staged copy. It returns the record
// to write back, or nil when nothing changed.
func (l *LabSync) diffStaged(fresh, staged model.SampleRecord) *model.SampleRecord {
	changed := staged.Diff(fresh)
	if len(changed) == 0 {
		return nil
	}
	logrus.Infof("record [%s] updated: %s", fresh.SampleID, strings.Join(changed, ", "))

	fresh.SyncStatus = model.SyncStatusUpdate
	fresh.ImportedOn = staged.ImportedOn
	fresh.ResolvedOn = staged.ResolvedOn
	if slices.Contains(changed, "result") && model.ShouldResetResolved(staged.Result, fresh.Result) {
		fresh.ResolvedOn = model.NewDatePtr(l.now())
	}
	return &fresh
}

func (l *LabSync) inFacilityFilter(record model.SampleRecord) bool {
	if len(l.config.Facilities) == 0 {
		return true
	}
	return record.FacilityCode != nil && slices.Contains(l.config.Facilities, *record.FacilityCode)
}

// Reconcile pulls every record of interest from the lab database and mirrors it into
// staging. All lab reads finish before staging is touched, so a read failure leaves
// staging as it was; the writes land in a single transaction.
func (l *LabSync) Reconcile(ctx context.Context) (ReconcileResult, error) {
	ctx, span := otel.Tracer("labsync.reconcile").Start(ctx, "Reconcile")
	defer span.End()

	c, err := l.findCandidates(ctx)
	if err != nil {
		span.RecordError(err)
		return ReconcileResult{}, err
	}

	ids := c.interest()
	toDelete := ""
	if len(c.deleted) > 0 {
		toDelete = fmt.Sprintf(" (+ %d to delete)", len(c.deleted))
	}
	logrus.Infof("querying records of interest from lab: %d total%s; %d new; %d resolved; %d in limbo; %d untested",
		len(ids), toDelete, len(c.new), len(c.resolved), len(c.unresolved), len(c.untested))

	today := l.today()
	changes := model.Changeset{Deleted: c.deleted.Sorted()}
	newFiltered, updatedFiltered := 0, 0
	for _, id := range ids.Sorted() {
		fresh, err := l.source.GetSample(ctx, id)
		if err != nil {
			span.RecordError(err)
			return ReconcileResult{}, err
		}

		if c.new.Has(id) {
			imported := today
			fresh.ImportedOn = &imported
			fresh.SyncStatus = model.SyncStatusNew
			if fresh.HasResult() {
				resolved := today
				fresh.ResolvedOn = &resolved
			}
			changes.Inserted = append(changes.Inserted, *fresh)
			if l.inFacilityFilter(*fresh) {
				newFiltered++
			}
			continue
		}

		staged, err := l.datasource.GetSample(ctx, id)
		if err != nil {
			span.RecordError(err)
			return ReconcileResult{}, syncerror.Wrap(syncerror.StagingRead, err, "failed to read staged sample [%s]", id)
		}
		if updated := l.diffStaged(*fresh, *staged); updated != nil {
			changes.Replaced = append(changes.Replaced, *updated)
			if l.inFacilityFilter(*updated) {
				updatedFiltered++
			}
		}
	}

	if !changes.Empty() {
		if err := l.datasource.ApplyReconciliation(ctx, changes); err != nil {
			span.RecordError(err)
			return ReconcileResult{}, err
		}
	}

	result := ReconcileResult{New: len(changes.Inserted), Updated: len(changes.Replaced), Deleted: len(changes.Deleted)}
	if len(l.config.Facilities) > 0 {
		logrus.Infof("staging db: added %d (%d) new records, updated %d (%d) existing records, deleted %d records",
			result.New, newFiltered, result.Updated, updatedFiltered, result.Deleted)
	} else {
		logrus.Infof("staging db: added %d new records, updated %d existing records, deleted %d records",
			result.New, result.Updated, result.Deleted)
	}

	metrics.Reconciled.WithLabelValues("new").Add(float64(result.New))
	metrics.Reconciled.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.Reconciled.WithLabelValues("deleted").Add(float64(result.Deleted))
	span.SetAttributes(
		attribute.Int("reconcile.new", result.New),
		attribute.Int("reconcile.updated", result.Updated),
		attribute.Int("reconcile.deleted", result.Deleted),
	)
	return result, nil
}

// DBSyncTask is the retryable form of Reconcile.
type DBSyncTask struct {
	ctx    context.Context
	labs   *LabSync
	result ReconcileResult
}

func (t *DBSyncTask) Attempt() (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("unexpected error while syncing db: %v", rec)
			ok = false
		}
	}()

	result, err := t.labs.Reconcile(t.ctx)
	if err == nil {
		t.result = result
		return true
	}

	switch syncerror.KindOf(err) {
	case syncerror.SourceRead:
		logrus.Errorf("error accessing lab database (read-only); staging database not touched: %v", err)
	case syncerror.StagingWrite:
		logrus.Errorf("error syncing data to staging database; changes rolled back: %v", err)
	case syncerror.StagingRead:
		logrus.Errorf("error reading staging database; nothing written: %v", err)
	default:
		logrus.Errorf("unexpected error while syncing db: %+v", err)
	}
	return false
}

func (t *DBSyncTask) OnSuccess(attempt, _ int) {
	logrus.Infof("db sync successful on attempt %d", attempt)
}

func (t *DBSyncTask) OnExhausted(_ int) {
	logrus.Info("all db sync attempts failed")
}

func (t *DBSyncTask) OnRetry(attempt, maxAttempts int, wait time.Duration) {
	logrus.Infof("db sync attempt %d of %d failed; trying again in %d minutes", attempt, maxAttempts, int(wait.Minutes()))
}

func (t *DBSyncTask) Result(succeeded bool) ReconcileResult {
	if !succeeded {
		return ReconcileResult{}
	}
	return t.result
}

// SyncDatabases reconciles lab and staging, retrying on the db access schedule.
func (l *LabSync) SyncDatabases(ctx context.Context) (bool, ReconcileResult) {
	task := &DBSyncTask{ctx: ctx, labs: l}
	return retry.Run[ReconcileResult](task, retry.Minutes(l.config.Retries.DBAccess...), l.retryOpts...)
}

// InitStaging creates the staging schema and archives lab records older than the
// configured lookback as historical placeholders, so they are never reported.
func (l *LabSync) InitStaging(ctx context.Context, conn *sql.DB) error {
	n, err := Migrate(conn, migrate.Up)
	if err != nil {
		logrus.Errorf("error initializing app: %v", err)
		return err
	}
	logrus.Infof("applied %d staging migrations", n)

	lookback, err := l.config.LookbackDate()
	if err != nil {
		return err
	}
	if !lookback.IsZero() {
		ids, err := l.source.GetArchivableIDs(ctx, lookback)
		if err != nil {
			logrus.Errorf("error initializing app: %v", err)
			return err
		}
		logrus.Infof("archiving %d records", len(ids))
		if _, err := l.datasource.ArchiveSamples(ctx, ids.Sorted()); err != nil {
			logrus.Errorf("error initializing app: %v", err)
			return err
		}
	}

	logrus.Info("staging db initialized")
	return nil
}

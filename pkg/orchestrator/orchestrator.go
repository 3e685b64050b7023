// Package orchestrator runs one fetch, persist, read back and export cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrSnapshotVanished is returned when rows were persisted but none could be read back
var ErrSnapshotVanished = errors.New("persisted tariffs not found on read back")

// ErrRunPanicked wraps a panic recovered from a pipeline stage
var ErrRunPanicked = errors.New("sync run panicked")

type Fetcher interface {
	Fetch(ctx context.Context, date string) ([]models.RawTariffEntry, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, entries []models.RawTariffEntry, date time.Time) []models.TariffRecord
}

type Store interface {
	Upsert(ctx context.Context, records []models.TariffRecord) (int, error)
	ReadSorted(ctx context.Context, date time.Time) ([]models.TariffRecord, error)
}

type Publisher interface {
	PublishAll(ctx context.Context, records []models.TariffRecord) (exporter.Result, error)
}

type Recorder interface {
	Begin(trigger, date string) *models.SyncRun
	Complete(run *models.SyncRun, success bool, err error)
}

// RunNotifier is told about every finished run
type RunNotifier interface {
	NotifyRunCompleted(ctx context.Context, run models.SyncRun) error
}

type Config struct {
	// Location decides which calendar day is "today"
	Location *time.Location
	// OnTransition observes every state change
	OnTransition func(from, to State)
}

type Orchestrator struct {
	fetcher    Fetcher
	normalizer Normalizer
	store      Store
	publisher  Publisher
	recorder   Recorder
	notifier   RunNotifier
	cfg        Config
	now        func() time.Time
	logger     ectologger.Logger
}

func NewOrchestrator(
	cfg Config,
	fetcher Fetcher,
	normalizer Normalizer,
	store Store,
	publisher Publisher,
	recorder Recorder,
	logger ectologger.Logger,
) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Orchestrator{
		fetcher:    fetcher,
		normalizer: normalizer,
		store:      store,
		publisher:  publisher,
		recorder:   recorder,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// WithNotifier attaches a best-effort run notifier
func (o *Orchestrator) WithNotifier(notifier RunNotifier) *Orchestrator {
	o.notifier = notifier
	return o
}

// WithClock replaces the clock used to pick the business date
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Today returns the current calendar day in the configured location as UTC midnight
func (o *Orchestrator) Today() time.Time {
	local := o.now().In(o.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

type run struct {
	o     *Orchestrator
	state State
	rec   *models.SyncRun
}

func (r *run) moveTo(ctx context.Context, to State) {
	if !CanTransition(r.state, to) {
		r.o.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
			"from": string(r.state),
			"to":   string(to),
		})).Error("Illegal sync state transition")
	}
	from := r.state
	r.state = to
	if r.o.cfg.OnTransition != nil {
		r.o.cfg.OnTransition(from, to)
	}
}

// Run executes one sync for today's date. Failures are recorded before being returned.
// The returned SyncRun is the finalized record in both cases.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (models.SyncRun, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Run")
	defer span.End()

	date := o.Today()
	dateStr := date.Format(models.DateLayout)

	r := &run{o: o, state: StateIdle, rec: o.recorder.Begin(trigger, dateStr)}
	ctx = appctx.SetRunID(ctx, r.rec.ID.String())
	ctx = appctx.SetTrigger(ctx, trigger)

	o.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
		"date": dateStr,
	})).Info("Sync run started")

	err := o.safeExecute(ctx, r, date, dateStr)
	if err != nil {
		failedIn := r.state
		r.moveTo(ctx, StateFailed)
		err = fmt.Errorf("sync run failed while %s: %w", failedIn, err)
	}
	o.finish(ctx, r, err)

	return *r.rec, err
}

// safeExecute turns a panic in any stage into an error so the run is still finalized
func (o *Orchestrator) safeExecute(ctx context.Context, r *run, date time.Time, dateStr string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrRunPanicked, p)
			o.logger.WithContext(ctx).WithError(err).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
				"state": string(r.state),
			})).Error("Recovered from panic in sync run")
		}
	}()
	return o.execute(ctx, r, date, dateStr)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, date time.Time, dateStr string) error {
	r.moveTo(ctx, StateFetching)
	entries, err := o.fetcher.Fetch(ctx, dateStr)
	if err != nil {
		return err
	}
	r.rec.Fetched = len(entries)
	metrics.RecordTariffRecords("fetched", len(entries))

	records := o.normalizer.Normalize(ctx, entries, date)
	if len(records) == 0 {
		o.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
			"date":    dateStr,
			"fetched": len(entries),
		})).Info("No tariffs for date, nothing to sync")
		r.moveTo(ctx, StateCompleted)
		return nil
	}

	r.moveTo(ctx, StatePersisting)
	persisted, err := o.store.Upsert(ctx, records)
	if err != nil {
		return err
	}
	r.rec.Persisted = persisted
	metrics.RecordTariffRecords("persisted", persisted)

	r.moveTo(ctx, StateReadingBack)
	snapshot, err := o.store.ReadSorted(ctx, date)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 && persisted > 0 {
		return fmt.Errorf("%w: %d rows persisted for %s", ErrSnapshotVanished, persisted, dateStr)
	}

	r.moveTo(ctx, StateExporting)
	result, err := o.publisher.PublishAll(ctx, snapshot)
	r.rec.DestinationsSucceeded = result.Succeeded
	r.rec.DestinationsFailed = result.Failed
	if err != nil {
		return err
	}
	if result.Succeeded > 0 {
		r.rec.Exported = len(snapshot)
		metrics.RecordTariffRecords("exported", len(snapshot))
	}

	r.moveTo(ctx, StateCompleted)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, r *run, err error) {
	success := err == nil
	o.recorder.Complete(r.rec, success, err)

	status := "success"
	if !success {
		status = "failure"
	}
	var seconds float64
	if r.rec.Duration != nil {
		seconds = r.rec.Duration.Seconds()
	}
	metrics.RecordSyncRun(r.rec.Trigger, status, seconds)

	fields := appctx.LogFieldsWith(ctx, map[string]any{
		"date":                   r.rec.Date,
		"state":                  string(r.state),
		"fetched":                r.rec.Fetched,
		"persisted":              r.rec.Persisted,
		"exported":               r.rec.Exported,
		"destinations_succeeded": r.rec.DestinationsSucceeded,
		"destinations_failed":    r.rec.DestinationsFailed,
		"duration_ms":            r.rec.DurationMs,
	})
	if success {
		o.logger.WithContext(ctx).WithFields(fields).Info("Sync run completed")
	} else {
		o.logger.WithContext(ctx).WithError(err).WithFields(fields).Error("Sync run failed")
	}

	if o.notifier != nil {
		if notifyErr := o.notifier.NotifyRunCompleted(ctx, *r.rec); notifyErr != nil {
			o.logger.WithContext(ctx).WithError(notifyErr).WithFields(appctx.LogFields(ctx)).Warn("Failed to publish run event")
		}
	}
}

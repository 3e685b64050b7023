// Package exporter publishes a tariff snapshot to every registered destination.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// MinDestinationIDLength is the shortest id accepted as a plausible spreadsheet id
	MinDestinationIDLength = 20

	// DefaultConcurrency bounds concurrent destination writes
	DefaultConcurrency = 10
)

var destinationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Writer replaces a range of a destination with rows
type Writer interface {
	ReplaceValues(ctx context.Context, destinationID, rng string, rows [][]any) error
}

// DestinationLister lists the destinations currently registered
type DestinationLister interface {
	ListEnabled(ctx context.Context) ([]models.Destination, error)
}

type Config struct {
	Range       string
	MaxAttempts int
	RetryDelay  time.Duration
	Concurrency int
}

// Result summarises one PublishAll call
type Result struct {
	Destinations int             `json:"destinations"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	Failures     []*PublishError `json:"-"`
}

type Exporter struct {
	cfg          Config
	destinations DestinationLister
	writer       Writer
	logger       ectologger.Logger
}

func NewExporter(cfg Config, destinations DestinationLister, writer Writer, logger ectologger.Logger) *Exporter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Exporter{
		cfg:          cfg,
		destinations: destinations,
		writer:       writer,
		logger:       logger,
	}
}

// ValidateDestinationID checks that id is non-empty, long enough and uses the id alphabet
func ValidateDestinationID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if len(id) < MinDestinationIDLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidDestination, id, MinDestinationIDLength)
	}
	if !destinationIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q contains unexpected characters", ErrInvalidDestination, id)
	}
	return nil
}

// ListDestinations returns the ids of the enabled destinations, read fresh on every call
func (e *Exporter) ListDestinations(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.ListDestinations")
	defer span.End()

	destinations, err := e.destinations.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(destinations, func(d models.Destination) string {
		return d.ID
	}), nil
}

// Rows renders the header followed by one row per record, in the order given
func Rows(records []models.TariffRecord) [][]any {
	header := ectolinq.Map(models.ExportHeader, func(h string) any {
		return h
	})
	rows := make([][]any, 0, len(records)+1)
	rows = append(rows, header)
	for _, r := range records {
		rows = append(rows, r.ExportRow())
	}
	return rows
}

// Publish replaces the tariff range of one destination with the snapshot, retrying with
// linear backoff. Invalid, missing and forbidden destinations are not retried.
func (e *Exporter) Publish(ctx context.Context, destinationID string, records []models.TariffRecord) error {
	ctx, span := tracing.StartSpan(ctx, "Exporter.Publish")
	defer span.End()
	ctx = appctx.SetDestinationID(ctx, destinationID)

	if err := ValidateDestinationID(destinationID); err != nil {
		return &PublishError{DestinationID: destinationID, Attempts: 0, Err: err}
	}

	rows := Rows(records)
	policy := retry.Policy{
		MaxAttempts: e.cfg.MaxAttempts,
		Delay:       retry.Linear(e.cfg.RetryDelay),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			metrics.RecordRetry("destination_publish")
			e.logger.WithContext(ctx).WithError(err).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
				"attempt": attempt,
				"wait":    wait.String(),
			})).Warn("Destination publish attempt failed, retrying")
		},
	}

	start := time.Now()
	_, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, classify(e.writer.ReplaceValues(ctx, destinationID, e.cfg.Range, rows))
	})
	if err != nil {
		metrics.RecordDestinationPublish("failure", time.Since(start).Seconds())
		return &PublishError{DestinationID: destinationID, Attempts: attempts, Err: err}
	}

	metrics.RecordDestinationPublish("success", time.Since(start).Seconds())
	e.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
		"rows":     len(records),
		"attempts": attempts,
	})).Info("Published snapshot to destination")
	return nil
}

// classify maps writer status errors onto the exporter's conditions
func classify(err error) error {
	if err == nil || !httperror.IsHTTPError(err) {
		return err
	}
	switch httperror.GetStatusCode(err) {
	case http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %v", ErrDestinationNotFound, err))
	case http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
	case http.StatusBadRequest, http.StatusUnauthorized:
		return retry.Permanent(err)
	}
	return err
}

// PublishAll publishes records to every enabled destination concurrently and waits for all of
// them. It fails only when destinations exist and every one of them failed.
func (e *Exporter) PublishAll(ctx context.Context, records []models.TariffRecord) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.PublishAll")
	defer span.End()

	ids, err := e.ListDestinations(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list destinations: %w", err)
	}

	result := Result{Destinations: len(ids)}
	if len(ids) == 0 {
		e.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx)).Info("No destinations registered, skipping export")
		return result, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := e.Publish(ctx, id, records)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var publishErr *PublishError
				if !errors.As(err, &publishErr) {
					publishErr = &PublishError{DestinationID: id, Err: err}
				}
				result.Failures = append(result.Failures, publishErr)
				result.Failed++
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	// goroutines never return errors so one failure cannot cancel the others
	_ = g.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].DestinationID < result.Failures[j].DestinationID
	})

	for _, failure := range result.Failures {
		e.logger.WithContext(ctx).WithError(failure.Err).WithFields(appctx.LogFieldsWith(ctx, map[string]any{
			"destination_id": failure.DestinationID,
			"attempts":       failure.Attempts,
		})).Error("Destination publish failed")
	}

	fields := map[string]any{
		"destinations": result.Destinations,
		"succeeded":    result.Succeeded,
		"failed":       result.Failed,
	}
	if result.Succeeded == 0 {
		e.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, fields)).Error("Export failed for every destination")
		return result, &AggregateError{Failures: result.Failures}
	}
	if result.Failed > 0 {
		e.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, fields)).Warn("Export partially failed")
		return result, nil
	}

	e.logger.WithContext(ctx).WithFields(appctx.LogFieldsWith(ctx, fields)).Info("Export completed")
	return result, nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// UpsertChunkSize is the number of rows written per INSERT statement
const UpsertChunkSize = 500

type TariffRepository interface {
	Upsert(ctx context.Context, records []models.TariffRecord) (int, error)
	ReadSorted(ctx context.Context, date time.Time) ([]models.TariffRecord, error)
	LatestDate(ctx context.Context) (*time.Time, error)
	CountFor(ctx context.Context, date time.Time) (int, error)
}

type TariffRepo struct {
	db     database.DB
	logger ectologger.Logger
}

func NewTariffRepository(db database.DB, logger ectologger.Logger) *TariffRepo {
	return &TariffRepo{
		db:     db,
		logger: logger,
	}
}

// Upsert writes every record in one transaction, chunked into multi-row statements.
// Conflicts on (tariff_date, entity_name) overwrite every non-key column. Nothing is
// visible unless every chunk succeeds.
func (r *TariffRepo) Upsert(ctx context.Context, records []models.TariffRecord) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "TariffRepository.Upsert")
	defer span.End()

	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		metrics.RecordDatabaseQuery("tariffs_upsert", time.Since(start).Seconds())
	}()

	now := time.Now().UTC()
	rows := make([]any, 0, len(records))
	for _, record := range dedupe(records) {
		row := FromTariffRecord(record, now)
		rows = append(rows, &row)
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tariff upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, chunk := range database.Chunk(rows, UpsertChunkSize) {
		ib := tariffStruct.InsertInto(tariffTable, chunk...)
		ub := ib.OnConflict(tariffKey...)
		ub.Set(ub.AssignExcluded(tariffValueColumns...)...)

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"chunk":   i,
				"rows":    len(chunk),
				"records": len(records),
			}).Error("error upserting tariffs")
			return 0, fmt.Errorf("failed to upsert tariff chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit tariff upsert: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"records": len(rows),
	}).Info("Upserted tariffs")

	return len(rows), nil
}

// dedupe keeps the last record per (date, entity name); Postgres rejects a statement that
// updates the same conflicting row twice
func dedupe(records []models.TariffRecord) []models.TariffRecord {
	type key struct {
		date string
		name string
	}
	index := make(map[key]int, len(records))
	out := make([]models.TariffRecord, 0, len(records))
	for _, record := range records {
		k := key{date: record.Date.Format(models.DateLayout), name: record.EntityName}
		if i, ok := index[k]; ok {
			out[i] = record
			continue
		}
		index[k] = len(out)
		out = append(out, record)
	}
	return out
}

// ReadSorted returns the snapshot for date ordered by delivery coefficient with absent
// coefficients last, then by entity name
func (r *TariffRepo) ReadSorted(ctx context.Context, date time.Time) ([]models.TariffRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "TariffRepository.ReadSorted")
	defer span.End()

	sb := tariffStruct.SelectFrom(tariffTable)
	sb.Where(sb.Equal("tariff_date", calendarDay(date)))
	sb.OrderBy("delivery_coefficient ASC NULLS LAST", "entity_name ASC")

	query, args := sb.Build()

	var rows []TariffRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"date": date.Format(models.DateLayout),
		}).Error("error reading tariffs")
		return nil, fmt.Errorf("failed to read tariffs for %s: %w", date.Format(models.DateLayout), err)
	}

	records := make([]models.TariffRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ToTariffRecord(row))
	}
	return records, nil
}

// LatestDate returns the most recent stored tariff date, or nil when the table is empty
func (r *TariffRepo) LatestDate(ctx context.Context) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "TariffRepository.LatestDate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("MAX(tariff_date)").From(tariffTable)
	query, args := sb.Build()

	var latest sql.NullTime
	if err := r.db.GetContext(ctx, &latest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("error reading latest tariff date")
		return nil, fmt.Errorf("failed to read latest tariff date: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	day := calendarDay(latest.Time)
	return &day, nil
}

// CountFor returns the number of records stored for date
func (r *TariffRepo) CountFor(ctx context.Context, date time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "TariffRepository.CountFor")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(tariffTable)
	sb.Where(sb.Equal("tariff_date", calendarDay(date)))
	query, args := sb.Build()

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"date": date.Format(models.DateLayout),
		}).Error("error counting tariffs")
		return 0, fmt.Errorf("failed to count tariffs for %s: %w", date.Format(models.DateLayout), err)
	}
	return count, nil
}

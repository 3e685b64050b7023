package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type DestinationRepository interface {
	ListEnabled(ctx context.Context) ([]models.Destination, error)
	Register(ctx context.Context, destination models.Destination) error
}

type DestinationRepo struct {
	db     database.DB
	logger ectologger.Logger
}

func NewDestinationRepository(db database.DB, logger ectologger.Logger) *DestinationRepo {
	return &DestinationRepo{
		db:     db,
		logger: logger,
	}
}

// ListEnabled reads the enabled destinations on every call so registry changes apply on the next run
func (r *DestinationRepo) ListEnabled(ctx context.Context) ([]models.Destination, error) {
	ctx, span := tracing.StartSpan(ctx, "DestinationRepository.ListEnabled")
	defer span.End()

	sb := destinationStruct.SelectFrom(destinationTable)
	sb.Where(sb.Equal("enabled", true))
	sb.OrderBy("id ASC")
	query, args := sb.Build()

	var rows []DestinationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("error listing destinations")
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}

	return ectolinq.Map(rows, ToDestination), nil
}

// Register inserts a destination or updates its label and enabled flag
func (r *DestinationRepo) Register(ctx context.Context, destination models.Destination) error {
	ctx, span := tracing.StartSpan(ctx, "DestinationRepository.Register")
	defer span.End()

	if destination.CreatedAt.IsZero() {
		destination.CreatedAt = time.Now().UTC()
	}

	row := DestinationRow{
		ID:        destination.ID,
		Label:     destination.Label,
		Enabled:   destination.Enabled,
		CreatedAt: destination.CreatedAt,
	}
	ib := destinationStruct.InsertInto(destinationTable, &row)
	ub := ib.OnConflict("id")
	ub.Set(ub.AssignExcluded("label", "enabled")...)
	query, args := ib.Build()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"destination_id": destination.ID,
		}).Error("error registering destination")
		return fmt.Errorf("failed to register destination %s: %w", destination.ID, err)
	}

	return tx.Commit(ctx)
}

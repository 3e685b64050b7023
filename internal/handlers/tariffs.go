package handlers

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

// TariffSummaryReader reports the stored snapshots
type TariffSummaryReader interface {
	LatestDate(ctx context.Context) (*time.Time, error)
	CountFor(ctx context.Context, date time.Time) (int, error)
}

type TariffHandler struct {
	store  TariffSummaryReader
	logger ectologger.Logger
}

func NewTariffHandler(store TariffSummaryReader, logger ectologger.Logger) *TariffHandler {
	return &TariffHandler{
		store:  store,
		logger: logger,
	}
}

type LatestTariffsResponse struct {
	Date    string `json:"date"`
	Records int    `json:"records"`
}

// Latest returns the most recent stored date and its record count. ?date= selects a day.
// GET /api/v1/tariffs/latest
func (h *TariffHandler) Latest(c echo.Context) error {
	ctx := c.Request().Context()

	date, ok, err := ParseDateParam(c, "date")
	if err != nil {
		return err
	}

	if !ok {
		latest, err := h.store.LatestDate(ctx)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).Error("Failed to read latest tariff date")
			return err
		}
		if latest == nil {
			return NotFound("no tariffs stored yet")
		}
		date = *latest
	}

	count, err := h.store.CountFor(ctx, date)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to count tariffs")
		return err
	}

	return SuccessResponse(c, LatestTariffsResponse{
		Date:    date.Format(models.DateLayout),
		Records: count,
	})
}

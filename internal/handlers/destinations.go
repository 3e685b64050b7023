package handlers

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DestinationStore lists and registers export destinations
type DestinationStore interface {
	ListEnabled(ctx context.Context) ([]models.Destination, error)
	Register(ctx context.Context, destination models.Destination) error
}

type DestinationHandler struct {
	store  DestinationStore
	logger ectologger.Logger
}

func NewDestinationHandler(store DestinationStore, logger ectologger.Logger) *DestinationHandler {
	return &DestinationHandler{
		store:  store,
		logger: logger,
	}
}

type DestinationListResponse struct {
	Destinations []models.Destination `json:"destinations"`
	Count        int                  `json:"count"`
}

// List returns the enabled destinations
// GET /api/v1/destinations
func (h *DestinationHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	destinations, err := h.store.ListEnabled(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list destinations")
		return err
	}
	if destinations == nil {
		destinations = []models.Destination{}
	}

	return SuccessResponse(c, DestinationListResponse{
		Destinations: destinations,
		Count:        len(destinations),
	})
}

type RegisterDestinationRequest struct {
	ID      string  `json:"id"`
	Label   *string `json:"label"`
	Enabled *bool   `json:"enabled"`
}

// Register adds a destination or updates its label and enabled flag
// POST /api/v1/destinations
func (h *DestinationHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req RegisterDestinationRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	req.ID = strings.TrimSpace(req.ID)
	if err := exporter.ValidateDestinationID(req.ID); err != nil {
		return BadRequest(err.Error())
	}

	destination := models.Destination{
		ID:      req.ID,
		Label:   req.Label,
		Enabled: true,
	}
	if req.Enabled != nil {
		destination.Enabled = *req.Enabled
	}

	if err := h.store.Register(ctx, destination); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"destination_id": destination.ID,
		}).Error("Failed to register destination")
		return err
	}

	return CreatedResponse(c, destination)
}

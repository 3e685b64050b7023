package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/stats"
)

// SyncController is the part of the scheduler the sync endpoints drive
type SyncController interface {
	Status() scheduler.Status
	Trigger(ctx context.Context, trigger string) error
	RunNow(ctx context.Context) (models.SyncRun, error)
}

// RunHistory is the read side of the run recorder
type RunHistory interface {
	Last() (models.SyncRun, bool)
	Summarize(n int) stats.Summary
}

// SyncHandler serves the scheduler status, manual triggers and the run metrics view
type SyncHandler struct {
	scheduler SyncController
	history   RunHistory
	logger    ectologger.Logger
}

func NewSyncHandler(scheduler SyncController, history RunHistory, logger ectologger.Logger) *SyncHandler {
	return &SyncHandler{
		scheduler: scheduler,
		history:   history,
		logger:    logger,
	}
}

// SyncStatusResponse is the scheduler state plus the last finished run
type SyncStatusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	LastRun   *models.SyncRun  `json:"last_run,omitempty"`
}

// Status returns the scheduler status
// GET /api/v1/sync/status
func (h *SyncHandler) Status(c echo.Context) error {
	resp := SyncStatusResponse{Scheduler: h.scheduler.Status()}
	if last, ok := h.history.Last(); ok {
		resp.LastRun = &last
	}
	return SuccessResponse(c, resp)
}

// Run triggers a run. With ?wait=true the request blocks and returns the finished run.
// POST /api/v1/sync/run
func (h *SyncHandler) Run(c echo.Context) error {
	ctx := c.Request().Context()

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		run, err := h.scheduler.RunNow(ctx)
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return Conflict(err.Error())
		}
		if errors.Is(err, scheduler.ErrSchedulerStopped) {
			return Unavailable(err.Error())
		}
		// a failed run is still a finished run
		return SuccessResponse(c, run)
	}

	if err := h.scheduler.Trigger(ctx, scheduler.TriggerManual); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return Conflict(err.Error())
		}
		if errors.Is(err, scheduler.ErrSchedulerStopped) {
			return Unavailable(err.Error())
		}
		return err
	}

	h.logger.WithContext(ctx).Info("Manual sync run triggered")
	return AcceptedResponse(c, map[string]string{"status": "accepted"})
}

// Metrics returns success rate, average duration and the most recent runs
// GET /metrics
func (h *SyncHandler) Metrics(c echo.Context) error {
	n := 10
	if raw := c.QueryParam("recent"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return BadRequest("invalid recent: must be a non-negative integer")
		}
		n = parsed
	}
	return SuccessResponse(c, h.history.Summarize(n))
}

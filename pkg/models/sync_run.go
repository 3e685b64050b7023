package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncRun is one execution of the sync pipeline
type SyncRun struct {
	ID                    uuid.UUID      `json:"id"`
	Trigger               string         `json:"trigger,omitempty"`
	Date                  string         `json:"date,omitempty"`
	StartedAt             time.Time      `json:"started_at"`
	FinishedAt            *time.Time     `json:"finished_at,omitempty"`
	Duration              *time.Duration `json:"-"`
	DurationMs            int64          `json:"duration_ms"`
	Fetched               int            `json:"fetched"`
	Persisted             int            `json:"persisted"`
	Exported              int            `json:"exported"`
	DestinationsSucceeded int            `json:"destinations_succeeded"`
	DestinationsFailed    int            `json:"destinations_failed"`
	Success               bool           `json:"success"`
	Error                 *string        `json:"error,omitempty"`
}

// IsFinished reports whether the run has been completed
func (r *SyncRun) IsFinished() bool {
	return r.FinishedAt != nil
}

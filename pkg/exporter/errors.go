package exporter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDestination is returned for ids that cannot be a destination
	ErrInvalidDestination = errors.New("invalid destination id")
	// ErrDestinationNotFound is returned when the destination does not exist
	ErrDestinationNotFound = errors.New("destination not found")
	// ErrPermissionDenied is returned when the service account cannot write the destination
	ErrPermissionDenied = errors.New("destination permission denied")
	// ErrAllDestinationsFailed is matched by AggregateError
	ErrAllDestinationsFailed = errors.New("all destinations failed")
)

// PublishError is the final failure of one destination after all attempts
type PublishError struct {
	DestinationID string
	Attempts      int
	Err           error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed after %d attempt(s): %v", e.DestinationID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// AggregateError is returned by PublishAll when every destination failed
type AggregateError struct {
	Failures []*PublishError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s (%d): %s", ErrAllDestinationsFailed, len(e.Failures), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrAllDestinationsFailed)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

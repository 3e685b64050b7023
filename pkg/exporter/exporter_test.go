package exporter_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	sheetA = "1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sheetB = "1bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	sheetC = "1cccccccccccccccccccccccccccccccccccccccccc"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListEnabled(_ context.Context) ([]models.Destination, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Destination, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, models.Destination{ID: id, Enabled: true})
	}
	return out, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	calls   map[string]int
	written map[string][][]any
	// fail returns the error for a destination and attempt, nil for success
	fail func(id string, attempt int) error
}

func newFakeWriter(fail func(id string, attempt int) error) *fakeWriter {
	return &fakeWriter{calls: map[string]int{}, written: map[string][][]any{}, fail: fail}
}

func (f *fakeWriter) ReplaceValues(_ context.Context, id, _ string, rows [][]any) error {
	f.mu.Lock()
	f.calls[id]++
	attempt := f.calls[id]
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(id, attempt); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.written[id] = rows
	f.mu.Unlock()
	return nil
}

func newExporter(lister exporter.DestinationLister, writer exporter.Writer) *exporter.Exporter {
	return exporter.NewExporter(exporter.Config{
		Range:       "stocks_coefs",
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Concurrency: 4,
	}, lister, writer, testLogger())
}

func snapshot() []models.TariffRecord {
	three := 3
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []models.TariffRecord{
		{Date: date, EntityName: "B", Delivery: models.Rate{Coefficient: &three}},
		{Date: date, EntityName: "A"},
	}
}

func TestPublishAll_OneOfThreeFails(t *testing.T) {
	writer := newFakeWriter(func(id string, _ int) error {
		if id == sheetB {
			return errors.New("boom")
		}
		return nil
	})
	exp := newExporter(&fakeLister{ids: []string{sheetA, sheetB, sheetC}}, writer)

	result, err := exp.PublishAll(context.Background(), snapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Destinations)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, sheetB, result.Failures[0].DestinationID)
	assert.Equal(t, 3, result.Failures[0].Attempts)
	assert.Equal(t, 3, writer.calls[sheetB])
}

func TestPublishAll_AllFail(t *testing.T) {
	writer := newFakeWriter(func(string, int) error { return errors.New("boom") })
	exp := newExporter(&fakeLister{ids: []string{sheetA, sheetB}}, writer)

	result, err := exp.PublishAll(context.Background(), snapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, exporter.ErrAllDestinationsFailed)

	var agg *exporter.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Len(t, agg.Failures, 2)
	assert.Equal(t, 0, result.Succeeded)
}

func TestPublishAll_NoDestinations(t *testing.T) {
	writer := newFakeWriter(nil)
	result, err := newExporter(&fakeLister{}, writer).PublishAll(context.Background(), snapshot())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Destinations)
	assert.Empty(t, writer.calls)
}

func TestPublishAll_ListError(t *testing.T) {
	_, err := newExporter(&fakeLister{err: errors.New("db down")}, newFakeWriter(nil)).PublishAll(context.Background(), snapshot())
	assert.Error(t, err)
}

func TestPublish_WritesHeaderThenRowsInOrder(t *testing.T) {
	writer := newFakeWriter(nil)
	exp := newExporter(&fakeLister{}, writer)

	require.NoError(t, exp.Publish(context.Background(), sheetA, snapshot()))

	rows := writer.written[sheetA]
	require.Len(t, rows, 3)
	assert.Equal(t, "date", rows[0][0])
	assert.Equal(t, "B", rows[1][1])
	assert.Equal(t, 3, rows[1][5])
	assert.Equal(t, "A", rows[2][1])
	assert.Equal(t, "", rows[2][5])
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	writer := newFakeWriter(func(_ string, attempt int) error {
		if attempt < 3 {
			return httperror.NewHTTPError(http.StatusServiceUnavailable, "unavailable")
		}
		return nil
	})
	require.NoError(t, newExporter(&fakeLister{}, writer).Publish(context.Background(), sheetA, snapshot()))
	assert.Equal(t, 3, writer.calls[sheetA])
}

func TestPublish_NotFoundAndForbiddenAreNotRetried(t *testing.T) {
	cases := map[int]error{
		http.StatusNotFound:  exporter.ErrDestinationNotFound,
		http.StatusForbidden: exporter.ErrPermissionDenied,
	}
	for status, want := range cases {
		writer := newFakeWriter(func(string, int) error {
			return httperror.NewHTTPError(status, "nope")
		})
		err := newExporter(&fakeLister{}, writer).Publish(context.Background(), sheetA, snapshot())

		assert.ErrorIs(t, err, want)
		var publishErr *exporter.PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.Equal(t, 1, publishErr.Attempts)
		assert.Equal(t, 1, writer.calls[sheetA])
	}
}

func TestPublish_InvalidDestination(t *testing.T) {
	writer := newFakeWriter(nil)
	exp := newExporter(&fakeLister{}, writer)

	for _, id := range []string{"", "short", "1aaaaaaaaaaaaaaaaaaaaaaaaa/../x"} {
		err := exp.Publish(context.Background(), id, snapshot())
		assert.ErrorIs(t, err, exporter.ErrInvalidDestination, id)
	}
	assert.Empty(t, writer.calls)
}

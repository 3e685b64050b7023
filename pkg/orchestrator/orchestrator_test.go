package orchestrator_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/stats"
	"github.com/Ramsey-B/fern/pkg/tariffs"
)

const sheetID = "1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeFetcher struct {
	entries   []models.RawTariffEntry
	err       error
	dates     []string
	panicWith any
}

func (f *fakeFetcher) Fetch(_ context.Context, date string) ([]models.RawTariffEntry, error) {
	f.dates = append(f.dates, date)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.entries, f.err
}

// memoryStore keeps records keyed by day and entity and sorts like the database query
type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]models.TariffRecord
	writes    int
	upsertErr error
	hideRows  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]models.TariffRecord{}}
}

func (s *memoryStore) Upsert(_ context.Context, records []models.TariffRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) == 0 {
		return 0, nil
	}
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.writes++
	for _, r := range records {
		s.rows[r.Date.Format(models.DateLayout)+"|"+r.EntityName] = r
	}
	return len(records), nil
}

func (s *memoryStore) ReadSorted(_ context.Context, date time.Time) ([]models.TariffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideRows {
		return nil, nil
	}
	var out []models.TariffRecord
	for _, r := range s.rows {
		if r.Date.Equal(date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Delivery.Coefficient, out[j].Delivery.Coefficient
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].EntityName < out[j].EntityName
	})
	return out, nil
}

type fakeLister struct {
	ids []string
}

func (f *fakeLister) ListEnabled(_ context.Context) ([]models.Destination, error) {
	out := make([]models.Destination, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, models.Destination{ID: id, Enabled: true})
	}
	return out, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	rows map[string][][]any
	err  error
}

func (f *fakeWriter) ReplaceValues(_ context.Context, id, _ string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = map[string][][]any{}
	}
	f.rows[id] = rows
	return nil
}

type fakeNotifier struct {
	runs []models.SyncRun
}

func (f *fakeNotifier) NotifyRunCompleted(_ context.Context, run models.SyncRun) error {
	f.runs = append(f.runs, run)
	return errors.New("broker down")
}

type harness struct {
	fetcher  *fakeFetcher
	store    *memoryStore
	writer   *fakeWriter
	recorder *stats.Recorder
	states   *orchestrator.StateRecorder
	orch     *orchestrator.Orchestrator
}

var fixedNow = time.Date(2024, 4, 30, 22, 30, 0, 0, time.UTC) // 01:30 on May 1st in Moscow

func newHarness(t *testing.T, destinations ...string) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	h := &harness{
		fetcher:  &fakeFetcher{},
		store:    newMemoryStore(),
		writer:   &fakeWriter{},
		recorder: stats.NewRecorder(10),
		states:   orchestrator.NewStateRecorder(),
	}
	exp := exporter.NewExporter(exporter.Config{Range: "stocks_coefs", MaxAttempts: 1}, &fakeLister{ids: destinations}, h.writer, testLogger())
	h.orch = orchestrator.NewOrchestrator(
		orchestrator.Config{Location: loc, OnTransition: h.states.Record},
		h.fetcher,
		tariffs.NewNormalizer(testLogger()),
		h.store,
		exp,
		h.recorder,
		testLogger(),
	).WithClock(func() time.Time { return fixedNow })
	return h
}

func TestRun_ZeroEntriesIsSuccessfulNoop(t *testing.T) {
	h := newHarness(t, sheetID)

	run, err := h.orch.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.True(t, run.Success)
	assert.Equal(t, 0, run.Fetched)
	assert.Equal(t, 0, run.Persisted)
	assert.Equal(t, 0, run.Exported)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 0, h.store.writes)
	assert.Empty(t, h.writer.rows)
	assert.Equal(t, []string{"2024-05-01"}, h.fetcher.dates)
	assert.Equal(t, []orchestrator.State{orchestrator.StateFetching, orchestrator.StateCompleted}, h.states.Path())
	assert.Equal(t, 1, h.recorder.Len())
}

func TestRun_AbsentCoefficientSortsLast(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.entries = []models.RawTariffEntry{
		{WarehouseName: "A", BoxDeliveryCoefExpr: "-"},
		{WarehouseName: "B", BoxDeliveryCoefExpr: "3"},
	}

	run, err := h.orch.Run(context.Background(), "schedule")
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 2, run.Fetched)
	assert.Equal(t, 2, run.Persisted)
	assert.Equal(t, 2, run.Exported)
	assert.Equal(t, 1, run.DestinationsSucceeded)

	snapshot, err := h.store.ReadSorted(context.Background(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "B", snapshot[0].EntityName)
	require.NotNil(t, snapshot[0].Delivery.Coefficient)
	assert.Equal(t, 3, *snapshot[0].Delivery.Coefficient)
	assert.Equal(t, "A", snapshot[1].EntityName)
	assert.Nil(t, snapshot[1].Delivery.Coefficient)

	rows := h.writer.rows[sheetID]
	require.Len(t, rows, 3)
	assert.Equal(t, "B", rows[1][1])
	assert.Equal(t, "A", rows[2][1])

	assert.Equal(t, []orchestrator.State{
		orchestrator.StateFetching,
		orchestrator.StatePersisting,
		orchestrator.StateReadingBack,
		orchestrator.StateExporting,
		orchestrator.StateCompleted,
	}, h.states.Path())
}

func TestRun_FetchFailureIsRecorded(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.err = errors.New("upstream down")

	run, err := h.orch.Run(context.Background(), "schedule")
	require.Error(t, err)
	assert.ErrorIs(t, err, h.fetcher.err)
	assert.False(t, run.Success)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "upstream down")

	last, ok := h.recorder.Last()
	require.True(t, ok)
	assert.False(t, last.Success)
	assert.Equal(t, orchestrator.StateFailed, h.states.Path()[len(h.states.Path())-1])
}

func TestRun_PanicIsRecordedAsFailedRun(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.panicWith = "nil map write"

	var run models.SyncRun
	var err error
	require.NotPanics(t, func() {
		run, err = h.orch.Run(context.Background(), "schedule")
	})
	assert.ErrorIs(t, err, orchestrator.ErrRunPanicked)
	assert.False(t, run.Success)
	assert.NotNil(t, run.FinishedAt)

	last, ok := h.recorder.Last()
	require.True(t, ok)
	assert.Equal(t, run.ID, last.ID)
	require.NotNil(t, last.Error)
	assert.Contains(t, *last.Error, "nil map write")
	assert.Equal(t, orchestrator.StateFailed, h.states.Path()[len(h.states.Path())-1])
}

func TestRun_StorageFailureStopsBeforeExport(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.entries = []models.RawTariffEntry{{WarehouseName: "A"}}
	h.store.upsertErr = errors.New("tx aborted")

	run, err := h.orch.Run(context.Background(), "schedule")
	require.Error(t, err)
	assert.Equal(t, 1, run.Fetched)
	assert.Equal(t, 0, run.Persisted)
	assert.Empty(t, h.writer.rows)
}

func TestRun_VanishedSnapshotFails(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.entries = []models.RawTariffEntry{{WarehouseName: "A"}}
	h.store.hideRows = true

	_, err := h.orch.Run(context.Background(), "schedule")
	assert.ErrorIs(t, err, orchestrator.ErrSnapshotVanished)
	assert.Empty(t, h.writer.rows)
}

func TestRun_AllDestinationsFailedFailsRun(t *testing.T) {
	h := newHarness(t, sheetID)
	h.fetcher.entries = []models.RawTariffEntry{{WarehouseName: "A"}}
	h.writer.err = errors.New("sheets down")

	run, err := h.orch.Run(context.Background(), "schedule")
	assert.ErrorIs(t, err, exporter.ErrAllDestinationsFailed)
	assert.Equal(t, 1, run.Persisted)
	assert.Equal(t, 0, run.Exported)
	assert.Equal(t, 1, run.DestinationsFailed)
}

func TestRun_NoDestinationsStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.fetcher.entries = []models.RawTariffEntry{{WarehouseName: "A"}}

	run, err := h.orch.Run(context.Background(), "schedule")
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 1, run.Persisted)
	assert.Equal(t, 0, run.Exported)
}

func TestRun_NotifierFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, sheetID)
	notifier := &fakeNotifier{}
	h.orch.WithNotifier(notifier)

	run, err := h.orch.Run(context.Background(), "manual")
	require.NoError(t, err)
	require.Len(t, notifier.runs, 1)
	assert.Equal(t, run.ID, notifier.runs[0].ID)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, orchestrator.CanTransition(orchestrator.StateFetching, orchestrator.StateCompleted))
	assert.False(t, orchestrator.CanTransition(orchestrator.StatePersisting, orchestrator.StateCompleted))
	assert.False(t, orchestrator.CanTransition(orchestrator.StateCompleted, orchestrator.StateFailed))
	assert.True(t, orchestrator.StateFailed.IsTerminal())
}

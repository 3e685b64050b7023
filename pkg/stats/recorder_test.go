package stats_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/stats"
)

// stepClock advances by step on every call
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestRecorder_EmptyIsZero(t *testing.T) {
	r := stats.NewRecorder(10)
	assert.Equal(t, 0.0, r.SuccessRate())
	assert.Equal(t, 0.0, r.AverageDuration())
	assert.Empty(t, r.Recent(10))
	_, ok := r.Last()
	assert.False(t, ok)
}

func TestRecorder_CompleteSetsEndOnce(t *testing.T) {
	r := stats.NewRecorder(10).WithClock(stepClock(100 * time.Millisecond))

	run := r.Begin("manual", "2024-05-01")
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.Duration)

	r.Complete(run, false, errors.New("fetch failed"))
	require.NotNil(t, run.FinishedAt)
	first := *run.FinishedAt
	assert.Equal(t, int64(100), run.DurationMs)
	require.NotNil(t, run.Error)
	assert.Equal(t, "fetch failed", *run.Error)

	r.Complete(run, true, nil)
	assert.Equal(t, first, *run.FinishedAt)
	assert.False(t, run.Success)
	assert.Equal(t, 1, r.Len())
}

func TestRecorder_EvictsOldest(t *testing.T) {
	r := stats.NewRecorder(3)
	for _, trigger := range []string{"a", "b", "c", "d", "e"} {
		r.Complete(r.Begin(trigger, ""), true, nil)
	}

	recent := r.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Trigger)
	assert.Equal(t, "e", recent[2].Trigger)

	two := r.Recent(2)
	assert.Equal(t, "d", two[0].Trigger)
	assert.Equal(t, "e", two[1].Trigger)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "e", last.Trigger)
}

func TestRecorder_RateAndAverage(t *testing.T) {
	r := stats.NewRecorder(10).WithClock(stepClock(50 * time.Millisecond))

	r.Complete(r.Begin("schedule", ""), true, nil)
	r.Complete(r.Begin("schedule", ""), true, nil)
	r.Complete(r.Begin("schedule", ""), true, nil)
	r.Complete(r.Begin("schedule", ""), false, errors.New("x"))

	assert.InDelta(t, 75.0, r.SuccessRate(), 0.001)
	assert.InDelta(t, 50.0, r.AverageDuration(), 0.001)

	summary := r.Summarize(2)
	assert.Equal(t, 4, summary.TotalRuns)
	assert.Len(t, summary.Recent, 2)
	assert.False(t, summary.Recent[1].Success)
}

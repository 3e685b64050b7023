// Package stats keeps a bounded in-memory history of sync runs.
package stats

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultCapacity is the number of runs kept when no capacity is configured
const DefaultCapacity = 100

// Recorder is a fixed-capacity ring buffer of finished runs. The oldest run is evicted
// when a run is completed on a full buffer.
type Recorder struct {
	mu   sync.RWMutex
	runs []models.SyncRun
	head int // index of the oldest run
	size int
	now  func() time.Time
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		runs: make([]models.SyncRun, capacity),
		now:  time.Now,
	}
}

// WithClock replaces the clock used for start and end times
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Begin starts a run. The returned handle is owned by the caller until Complete.
func (r *Recorder) Begin(trigger, date string) *models.SyncRun {
	return &models.SyncRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Date:      date,
		StartedAt: r.now().UTC(),
	}
}

// Complete finalizes the run and appends it to the history. Completing the same handle
// twice is a no-op.
func (r *Recorder) Complete(run *models.SyncRun, success bool, err error) {
	if run == nil || run.IsFinished() {
		return
	}

	finished := r.now().UTC()
	duration := finished.Sub(run.StartedAt)
	if duration < 0 {
		duration = 0
	}
	run.FinishedAt = &finished
	run.Duration = &duration
	run.DurationMs = duration.Milliseconds()
	run.Success = success
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.runs)
	if r.size < capacity {
		r.runs[(r.head+r.size)%capacity] = *run
		r.size++
		return
	}
	r.runs[r.head] = *run
	r.head = (r.head + 1) % capacity
}

// Recent returns up to n of the latest runs, most recent last
func (r *Recorder) Recent(n int) []models.SyncRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.size == 0 {
		return []models.SyncRun{}
	}
	if n > r.size {
		n = r.size
	}

	capacity := len(r.runs)
	out := make([]models.SyncRun, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.runs[(r.head+i)%capacity])
	}
	return out
}

// Last returns the most recently completed run
func (r *Recorder) Last() (models.SyncRun, bool) {
	recent := r.Recent(1)
	if len(recent) == 0 {
		return models.SyncRun{}, false
	}
	return recent[0], true
}

// Len returns how many runs are held
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// SuccessRate is the percentage of held runs that succeeded, 0 when empty
func (r *Recorder) SuccessRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return 0
	}
	succeeded := 0
	r.each(func(run models.SyncRun) {
		if run.Success {
			succeeded++
		}
	})
	return float64(succeeded) * 100 / float64(r.size)
}

// AverageDuration is the mean run duration in milliseconds, 0 when empty
func (r *Recorder) AverageDuration() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return 0
	}
	var total time.Duration
	r.each(func(run models.SyncRun) {
		if run.Duration != nil {
			total += *run.Duration
		}
	})
	return float64(total.Microseconds()) / 1000 / float64(r.size)
}

// each visits held runs oldest first. Callers hold the lock.
func (r *Recorder) each(fn func(models.SyncRun)) {
	capacity := len(r.runs)
	for i := 0; i < r.size; i++ {
		fn(r.runs[(r.head+i)%capacity])
	}
}

// Summary is the JSON view served on /metrics
type Summary struct {
	SuccessRate       float64          `json:"success_rate"`
	AverageDurationMs float64          `json:"average_duration_ms"`
	TotalRuns         int              `json:"total_runs"`
	Recent            []models.SyncRun `json:"recent"`
}

// Summarize returns the rate, the average and the n most recent runs
func (r *Recorder) Summarize(n int) Summary {
	return Summary{
		SuccessRate:       r.SuccessRate(),
		AverageDurationMs: r.AverageDuration(),
		TotalRuns:         r.Len(),
		Recent:            r.Recent(n),
	}
}

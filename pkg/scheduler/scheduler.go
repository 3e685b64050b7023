package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

	// ErrRunInProgress is returned when a run is requested while another is executing
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrSchedulerStopped is returned when a run is requested after Stop
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

const (
	// DefaultInterval is the default time between scheduled runs
	DefaultInterval = time.Hour

	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

// Runner executes one sync run
type Runner interface {
	Run(ctx context.Context, trigger string) (models.SyncRun, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// Interval between runs, counted from local midnight in Location
	Interval time.Duration

	// Location the cadence is aligned to
	Location *time.Location

	// RunOnStart triggers one run as soon as the scheduler starts
	RunOnStart bool
}

// Status is a point-in-time view of the scheduler
type Status struct {
	ActiveTaskCount int        `json:"active_task_count"`
	RunInProgress   bool       `json:"run_in_progress"`
	Interval        string     `json:"interval"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
}

// Scheduler triggers the runner on a fixed cadence and never lets two runs overlap.
// Triggers that fire while a run is executing are dropped.
type Scheduler struct {
	runner Runner
	config Config
	logger ectologger.Logger

	inProgress atomic.Bool
	runs       sync.WaitGroup

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	stopping bool
	nextRun  *time.Time
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, config Config, logger ectologger.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	return &Scheduler{
		runner: runner,
		config: config,
		logger: logger,
	}
}

// NextTick returns the first instant after now on the grid local-midnight + k*interval
func NextTick(now time.Time, interval time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	steps := elapsed/interval + 1
	return midnight.Add(steps * interval)
}

// Start starts the trigger loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"interval":     s.config.Interval.String(),
		"timezone":     s.config.Location.String(),
		"run_on_start": s.config.RunOnStart,
	}).Info("Starting scheduler")

	go s.loop(context.WithoutCancel(ctx), s.stopCh, s.stoppedC)

	return nil
}

// Stop cancels pending triggers and refuses new runs with ErrSchedulerStopped. It does not
// interrupt a run already executing; use WaitIdle for that.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.nextRun = nil
	stopCh, stoppedC := s.stopCh, s.stoppedC
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(stopCh)

	select {
	case <-stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// WaitIdle blocks until no run is executing or ctx is done
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-progress run: %w", ctx.Err())
	}
}

// IsRunning returns whether the trigger loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status reports the registered trigger count and the in-progress flag
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		RunInProgress: s.inProgress.Load(),
		Interval:      s.config.Interval.String(),
	}
	if s.running {
		status.ActiveTaskCount = 1
	}
	if s.nextRun != nil {
		next := *s.nextRun
		status.NextRunAt = &next
	}
	return status
}

// RunNow executes a run synchronously. It returns ErrRunInProgress without running when
// another run is executing.
func (s *Scheduler) RunNow(ctx context.Context) (models.SyncRun, error) {
	if err := s.acquire(ctx, TriggerManual); err != nil {
		return models.SyncRun{}, err
	}
	defer s.release()

	return s.execute(context.WithoutCancel(ctx), TriggerManual)
}

// Trigger starts a run in the background. It returns ErrRunInProgress when another run
// is executing and ErrSchedulerStopped after Stop.
func (s *Scheduler) Trigger(ctx context.Context, trigger string) error {
	if err := s.acquire(ctx, trigger); err != nil {
		return err
	}

	go func() {
		defer s.release()
		_, _ = s.execute(context.WithoutCancel(ctx), trigger)
	}()
	return nil
}

// acquire sets the in-progress flag, or logs and drops the trigger when it is already set.
// It holds the read lock so no run can be added once Stop has returned.
func (s *Scheduler) acquire(ctx context.Context, trigger string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopping {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"trigger": trigger,
		}).Warn("Scheduler stopped, rejecting trigger")
		return ErrSchedulerStopped
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		metrics.RecordSkippedRun(trigger)
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"trigger": trigger,
		}).Warn("Sync run already in progress, skipping trigger")
		return ErrRunInProgress
	}
	s.runs.Add(1)
	metrics.SetRunInProgress(true)
	return nil
}

func (s *Scheduler) release() {
	metrics.SetRunInProgress(false)
	s.inProgress.Store(false)
	s.runs.Done()
}

func (s *Scheduler) execute(ctx context.Context, trigger string) (run models.SyncRun, err error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.execute")
	defer span.End()
	ctx = appctx.SetTrigger(ctx, trigger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync run panicked: %v", r)
			s.logger.WithContext(ctx).WithError(err).Error("Recovered from panic in sync run")
		}
	}()

	run, err = s.runner.Run(ctx, trigger)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"trigger": trigger,
			"run_id":  run.ID.String(),
		}).Error("Sync run failed, waiting for next trigger")
	}
	return run, err
}

func (s *Scheduler) setNextRun(next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.nextRun = &next
	}
}

// loop waits for each grid instant and triggers a run
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, stoppedC chan<- struct{}) {
	defer close(stoppedC)

	if s.config.RunOnStart {
		_ = s.Trigger(ctx, TriggerStartup)
	}

	for {
		next := NextTick(time.Now(), s.config.Interval, s.config.Location)
		s.setNextRun(next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-stopCh:
			timer.Stop()
			s.logger.WithContext(ctx).Debug("Scheduler loop stopping")
			return
		case <-timer.C:
			_ = s.Trigger(ctx, TriggerSchedule)
		}
	}
}

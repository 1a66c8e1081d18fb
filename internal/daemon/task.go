// Package daemon runs the reminder engine as a per-user background process.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
	"github.com/eliteGoblin/focusd/loc_remind/internal/usecase"
)

// CheckRunner runs one decision.
type CheckRunner interface {
	AddLocationNotificationIfNeeded(ctx context.Context) (usecase.RunResult, error)
}

type runningTask struct {
	params domain.JobParams
	cancel context.CancelFunc
	done   chan struct{}
}

// JobService is the single-flight task controller. At most one decision run
// is in flight; starting a second one while it runs is refused.
type JobService struct {
	runner      CheckRunner
	metrics     *observability.Metrics
	logger      *zap.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	task     *runningTask
	finisher domain.JobFinisher
	last     *usecase.RunResult
}

var _ domain.JobService = (*JobService)(nil)

// NewJobService creates a JobService. StopJob waits at most stopTimeout for
// the cancelled run to return.
func NewJobService(runner CheckRunner, stopTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *JobService {
	return &JobService{
		runner:      runner,
		metrics:     metrics,
		logger:      logger,
		stopTimeout: stopTimeout,
	}
}

// SetFinisher sets who is told when a run ends.
func (s *JobService) SetFinisher(f domain.JobFinisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finisher = f
}

// StartJob launches a decision run in the background. It returns false if a
// run is already in flight.
func (s *JobService) StartJob(params domain.JobParams) bool {
	s.mu.Lock()
	if s.task != nil {
		s.mu.Unlock()
		s.logger.Debug("location access check already running", zap.Int("job", params.JobID))
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &runningTask{params: params, cancel: cancel, done: make(chan struct{})}
	s.task = t
	s.mu.Unlock()

	go s.execute(ctx, t)
	return true
}

func (s *JobService) execute(ctx context.Context, t *runningTask) {
	defer t.cancel()

	res, err := s.runner.AddLocationNotificationIfNeeded(ctx)
	reschedule := errors.Is(err, context.Canceled)

	s.mu.Lock()
	if s.task == t {
		s.task = nil
	}
	s.last = &res
	finisher := s.finisher
	s.mu.Unlock()
	close(t.done)

	if finisher != nil {
		finisher.JobFinished(t.params, reschedule)
	}
}

// StopJob cancels the run started for params and waits for it to return.
// The wait is bounded by the stop timeout; a run that ignores cancellation
// past it is left to finish on its own. The result tells the caller to retry.
func (s *JobService) StopJob(params domain.JobParams) bool {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()
	if t == nil || t.params != params {
		return false
	}

	t.cancel()
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		s.logger.Warn("location access check did not stop in time",
			zap.Int("job", params.JobID),
			zap.Duration("timeout", s.stopTimeout))
	}
	return true
}

// Running reports whether a run is in flight.
func (s *JobService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}

// LastResult returns the result of the last finished run, if any.
func (s *JobService) LastResult() (usecase.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return usecase.RunResult{}, false
	}
	return *s.last, true
}

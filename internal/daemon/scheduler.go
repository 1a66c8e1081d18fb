package daemon

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

// ErrSchedulerStopped is returned by Schedule after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig holds the limits the scheduler enforces on started jobs.
type SchedulerConfig struct {
	MaxExecution      time.Duration // a job running longer is stopped
	RescheduleBackoff time.Duration // delay before a stopped one-shot job runs again
}

type scheduledJob struct {
	info  domain.JobInfo
	gen   uint64
	timer *time.Timer
	next  time.Time
}

type startedJob struct {
	params   domain.JobParams
	watchdog *time.Timer
}

// Scheduler is an in-process job scheduler. One-shot jobs fire once after
// their minimum latency. Periodic jobs fire once per interval, somewhere in
// the last flex of the interval.
type Scheduler struct {
	service domain.JobService
	config  SchedulerConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	rand    *rand.Rand
	now     func() time.Time
	gen     uint64
	jobs    map[int]*scheduledJob
	started map[int]*startedJob
	stopped bool
}

var (
	_ domain.JobScheduler = (*Scheduler)(nil)
	_ domain.JobFinisher  = (*Scheduler)(nil)
)

// NewScheduler creates a Scheduler that starts jobs on service.
func NewScheduler(service domain.JobService, config SchedulerConfig, metrics *observability.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		service: service,
		config:  config,
		metrics: metrics,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		jobs:    make(map[int]*scheduledJob),
		started: make(map[int]*startedJob),
	}
}

// Schedule registers info, replacing a pending job with the same id.
func (s *Scheduler) Schedule(info domain.JobInfo) error {
	if info.Periodic && info.Interval <= 0 {
		return fmt.Errorf("periodic job %d: interval must be positive", info.ID)
	}
	if info.MinLatency < 0 {
		info.MinLatency = 0
	}
	if info.Flex < 0 {
		info.Flex = 0
	}
	if info.Flex > info.Interval {
		info.Flex = info.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if old, ok := s.jobs[info.ID]; ok {
		old.timer.Stop()
	}
	s.armLocked(info, s.firstDelayLocked(info))
	return nil
}

func (s *Scheduler) firstDelayLocked(info domain.JobInfo) time.Duration {
	if info.Periodic {
		return s.periodDelayLocked(info)
	}
	return info.MinLatency
}

// periodDelayLocked picks a point in [interval-flex, interval].
func (s *Scheduler) periodDelayLocked(info domain.JobInfo) time.Duration {
	d := info.Interval - info.Flex
	if info.Flex > 0 {
		d += time.Duration(s.rand.Int63n(int64(info.Flex) + 1))
	}
	return d
}

func (s *Scheduler) armLocked(info domain.JobInfo, delay time.Duration) {
	s.gen++
	gen := s.gen
	job := &scheduledJob{info: info, gen: gen, next: s.now().Add(delay)}
	job.timer = time.AfterFunc(delay, func() { s.fire(info.ID, gen) })
	s.jobs[info.ID] = job
}

func (s *Scheduler) fire(id int, gen uint64) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	info := job.info
	if _, busy := s.started[id]; busy {
		// Previous execution of the same job is still running.
		s.rearmLocked(info)
		s.mu.Unlock()
		return
	}
	if info.Periodic {
		s.armLocked(info, s.periodDelayLocked(info))
	} else {
		delete(s.jobs, id)
	}
	params := domain.JobParams{JobID: id, Periodic: info.Periodic, StartedAt: s.now()}
	started := &startedJob{params: params}
	s.started[id] = started
	s.mu.Unlock()

	accepted := s.service.StartJob(params)
	s.metrics.JobStarted(id, accepted)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !accepted {
		if s.started[id] == started {
			delete(s.started, id)
		}
		s.logger.Debug("job not started", zap.Int("job", id))
		return
	}
	if s.started[id] == started && s.config.MaxExecution > 0 {
		started.watchdog = time.AfterFunc(s.config.MaxExecution, func() { s.expire(id, params) })
	}
}

func (s *Scheduler) rearmLocked(info domain.JobInfo) {
	if info.Periodic {
		s.armLocked(info, s.periodDelayLocked(info))
		return
	}
	s.armLocked(info, s.config.RescheduleBackoff)
}

// expire stops a job that ran past the maximum execution time.
func (s *Scheduler) expire(id int, params domain.JobParams) {
	s.mu.Lock()
	started, ok := s.started[id]
	if !ok || started.params != params {
		s.mu.Unlock()
		return
	}
	delete(s.started, id)
	s.mu.Unlock()

	s.logger.Warn("job exceeded max execution time, stopping",
		zap.Int("job", id),
		zap.Duration("max_execution", s.config.MaxExecution))
	if s.service.StopJob(params) {
		s.reschedule(params)
	}
}

// JobFinished is called by the JobService when a run ends. Results of runs
// the scheduler already stopped are ignored.
func (s *Scheduler) JobFinished(params domain.JobParams, reschedule bool) {
	s.mu.Lock()
	started, ok := s.started[params.JobID]
	if !ok || started.params != params {
		s.mu.Unlock()
		return
	}
	delete(s.started, params.JobID)
	if started.watchdog != nil {
		started.watchdog.Stop()
	}
	s.mu.Unlock()

	if reschedule {
		s.reschedule(params)
	}
}

// reschedule retries a one-shot job after the backoff. Periodic jobs retry
// at their next period.
func (s *Scheduler) reschedule(params domain.JobParams) {
	s.metrics.JobRescheduled(params.JobID)
	if params.Periodic {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, pending := s.jobs[params.JobID]; pending {
		return
	}
	s.logger.Info("rescheduling job", zap.Int("job", params.JobID), zap.Duration("backoff", s.config.RescheduleBackoff))
	s.armLocked(domain.JobInfo{ID: params.JobID, MinLatency: s.config.RescheduleBackoff}, s.config.RescheduleBackoff)
}

// Pending returns the registered job with id.
func (s *Scheduler) Pending(id int) (domain.JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.JobInfo{}, false
	}
	return job.info, true
}

// NextRun returns when the job with id fires next.
func (s *Scheduler) NextRun(id int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return job.next, true
}

// Cancel removes the job with id. A running execution is not stopped.
func (s *Scheduler) Cancel(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.timer.Stop()
		delete(s.jobs, id)
	}
}

// Stop cancels all jobs and stops running executions. Stopped executions
// are not rescheduled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, id)
	}
	var running []domain.JobParams
	for id, started := range s.started {
		if started.watchdog != nil {
			started.watchdog.Stop()
		}
		running = append(running, started.params)
		delete(s.started, id)
	}
	s.mu.Unlock()

	for _, params := range running {
		s.service.StopJob(params)
	}
}

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
	"github.com/eliteGoblin/focusd/loc_remind/internal/usecase"
)

// blockingRunner blocks every run until release is closed or the run is
// cancelled. With ignoreCancel set it waits for release only.
type blockingRunner struct {
	mu           sync.Mutex
	started      chan struct{}
	release      chan struct{}
	ignoreCancel bool
	calls        int
	finished     int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) AddLocationNotificationIfNeeded(ctx context.Context) (usecase.RunResult, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	r.started <- struct{}{}

	defer func() {
		r.mu.Lock()
		r.finished++
		r.mu.Unlock()
	}()

	if r.ignoreCancel {
		<-r.release
		return usecase.RunResult{RunID: runID(n), Outcome: observability.OutcomeNoCandidate}, nil
	}
	select {
	case <-r.release:
		return usecase.RunResult{RunID: runID(n), Outcome: observability.OutcomeNoCandidate}, nil
	case <-ctx.Done():
		return usecase.RunResult{RunID: runID(n), Outcome: observability.OutcomeCancelled}, ctx.Err()
	}
}

func (r *blockingRunner) finishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func runID(n int) string { return "run-" + strconv.Itoa(n) }

type finishCall struct {
	params     domain.JobParams
	reschedule bool
}

type recordingFinisher struct {
	calls chan finishCall
}

func newRecordingFinisher() *recordingFinisher {
	return &recordingFinisher{calls: make(chan finishCall, 16)}
}

func (f *recordingFinisher) JobFinished(params domain.JobParams, reschedule bool) {
	f.calls <- finishCall{params: params, reschedule: reschedule}
}

func waitFinish(t *testing.T, f *recordingFinisher) finishCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return finishCall{}
	}
}

// fakeJobService records start and stop requests.
type fakeJobService struct {
	mu      sync.Mutex
	accept  bool
	stopRet bool
	starts  chan domain.JobParams
	stops   []domain.JobParams
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{accept: true, stopRet: true, starts: make(chan domain.JobParams, 16)}
}

func (s *fakeJobService) StartJob(params domain.JobParams) bool {
	s.mu.Lock()
	accept := s.accept
	s.mu.Unlock()
	s.starts <- params
	return accept
}

func (s *fakeJobService) StopJob(params domain.JobParams) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, params)
	return s.stopRet
}

func (s *fakeJobService) stopCalls() []domain.JobParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobParams(nil), s.stops...)
}

func waitStart(t *testing.T, s *fakeJobService) domain.JobParams {
	t.Helper()
	select {
	case p := <-s.starts:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
		return domain.JobParams{}
	}
}

type fakeSettings struct {
	mu       sync.Mutex
	interval time.Duration
	delay    time.Duration
}

func (s *fakeSettings) CheckInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *fakeSettings) CheckDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *fakeSettings) QueryTimeout() time.Duration { return time.Minute }

// countingPlanner counts soon-after-grant requests.
type countingPlanner struct {
	mu    sync.Mutex
	calls int
	ok    bool
}

func (p *countingPlanner) CheckLocationAccessSoon() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.ok
}

func (p *countingPlanner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// shortTempDir returns a directory whose paths fit in a unix socket address.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lr")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Clean(dir)
}

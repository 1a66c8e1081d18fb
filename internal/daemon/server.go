package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
	"github.com/eliteGoblin/focusd/loc_remind/internal/usecase"
)

type jobView interface {
	Schedule(info domain.JobInfo) error
	Pending(id int) (domain.JobInfo, bool)
	NextRun(id int) (time.Time, bool)
}

type runView interface {
	Running() bool
	LastResult() (usecase.RunResult, bool)
}

// JobStatus describes a pending job.
type JobStatus struct {
	ID       int       `json:"id"`
	Periodic bool      `json:"periodic"`
	Interval string    `json:"interval,omitempty"`
	NextRun  time.Time `json:"next_run"`
}

// RunStatus describes the last finished decision run.
type RunStatus struct {
	RunID   string `json:"run_id"`
	Outcome string `json:"outcome"`
	Package string `json:"package,omitempty"`
	User    *int   `json:"user,omitempty"`
}

// StatusReport is returned by GET /v1/status.
type StatusReport struct {
	PID       int         `json:"pid"`
	StartedAt time.Time   `json:"started_at"`
	Version   string      `json:"version"`
	Running   bool        `json:"running"`
	LastRun   *RunStatus  `json:"last_run,omitempty"`
	Jobs      []JobStatus `json:"jobs"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ControlServer serves the control API of the daemon.
type ControlServer struct {
	daemon  domain.Daemon
	planner SoonChecker
	jobs    jobView
	runs    runView
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewControlServer creates a ControlServer.
func NewControlServer(d domain.Daemon, planner SoonChecker, jobs jobView, runs runView, metrics *observability.Metrics, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		daemon:  d,
		planner: planner,
		jobs:    jobs,
		runs:    runs,
		metrics: metrics,
		logger:  logger,
	}
}

// Router returns the HTTP routes.
func (s *ControlServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Post("/v1/check-soon", s.handleCheckSoon)
	r.Post("/v1/check", s.handleCheck)
	r.Get("/v1/status", s.handleStatus)
	return r
}

// ListenUnix listens on a unix socket at path, replacing a stale socket file.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve serves on ln until ctx is done.
func (s *ControlServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("control server listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("control server shutdown", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pid":    s.daemon.PID,
	})
}

func (s *ControlServer) handleCheckSoon(w http.ResponseWriter, _ *http.Request) {
	if !s.planner.CheckLocationAccessSoon() {
		respondError(w, http.StatusInternalServerError, "schedule_failed", "could not schedule location access check")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
}

func (s *ControlServer) handleCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.jobs.Schedule(domain.JobInfo{ID: domain.LocationAccessCheckJobID}); err != nil {
		respondError(w, http.StatusInternalServerError, "schedule_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.Status())
}

// Status builds the current StatusReport.
func (s *ControlServer) Status() StatusReport {
	report := StatusReport{
		PID:       s.daemon.PID,
		StartedAt: s.daemon.StartedAt,
		Version:   s.daemon.AppVersion,
		Running:   s.runs.Running(),
		Jobs:      []JobStatus{},
	}
	if res, ok := s.runs.LastResult(); ok {
		run := &RunStatus{RunID: res.RunID, Outcome: res.Outcome}
		if res.Posted != nil {
			user := int(res.Posted.User)
			run.Package = res.Posted.Package
			run.User = &user
		}
		report.LastRun = run
	}
	for _, id := range []int{domain.LocationAccessCheckJobID, domain.PeriodicLocationAccessCheckJobID} {
		info, ok := s.jobs.Pending(id)
		if !ok {
			continue
		}
		st := JobStatus{ID: id, Periodic: info.Periodic}
		if info.Periodic {
			st.Interval = info.Interval.String()
		}
		st.NextRun, _ = s.jobs.NextRun(id)
		report.Jobs = append(report.Jobs, st)
	}
	return report
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// ControlClient talks to a running daemon over its unix socket.
type ControlClient struct {
	http *http.Client
	base string
}

// NewControlClient creates a client for the daemon listening on socketPath.
func NewControlClient(socketPath string) *ControlClient {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return newControlClient(&http.Client{Transport: transport, Timeout: 10 * time.Second}, "http://locremind")
}

func newControlClient(c *http.Client, base string) *ControlClient {
	return &ControlClient{http: c, base: base}
}

// CheckSoon asks the daemon to schedule the soon-after-grant check.
func (c *ControlClient) CheckSoon(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/check-soon", nil)
}

// Check asks the daemon to run a check now.
func (c *ControlClient) Check(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/check", nil)
}

// Status fetches the daemon status.
func (c *ControlClient) Status(ctx context.Context) (*StatusReport, error) {
	var report StatusReport
	if err := c.do(ctx, http.MethodGet, "/v1/status", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *ControlClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s (%s)", e.Error, e.Code)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

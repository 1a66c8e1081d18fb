package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
	"github.com/eliteGoblin/focusd/loc_remind/internal/usecase"
)

// DaemonConfig holds daemon configuration.
type DaemonConfig struct {
	HeartbeatInterval  time.Duration // How often to update heartbeat
	SettingsInterval   time.Duration // How often to pick up a changed check interval
	PlistCheckInterval time.Duration // How often to check the LaunchAgent plist
	MaxExecution       time.Duration // A check running longer is stopped
	RescheduleBackoff  time.Duration // Delay before a stopped check runs again
	StopTimeout        time.Duration // How long stopping a check may block
	GrantDebounce      time.Duration // Quiet period after manifest changes
	SocketPath         string        // Control socket
	MetricsAddr        string        // Optional TCP address for the control API
}

// DefaultDaemonConfig returns default daemon configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		HeartbeatInterval:  30 * time.Second,
		SettingsInterval:   5 * time.Minute,
		PlistCheckInterval: 60 * time.Second,
		MaxExecution:       10 * time.Minute,
		RescheduleBackoff:  30 * time.Second,
		StopTimeout:        30 * time.Second,
		GrantDebounce:      500 * time.Millisecond,
	}
}

// Engine is the decision engine driven by the daemon.
type Engine interface {
	CheckRunner
	IsRunningInParentProfile() bool
}

// AgentDeps are the collaborators of an Agent.
type AgentDeps struct {
	Engine      Engine
	Settings    domain.Settings
	Grants      GrantSource
	Registry    domain.DaemonRegistry
	LaunchAgent domain.LaunchAgentManager // nil where login start is not managed
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// Agent is the per-user reminder daemon. It registers the triggers of the
// location access check, runs the checks they fire and serves the control API.
type Agent struct {
	config DaemonConfig
	deps   AgentDeps
	daemon domain.Daemon
	logger *zap.Logger

	jobs      *JobService
	scheduler *Scheduler
	planner   *usecase.Planner
	grants    *GrantWatcher
	server    *ControlServer
}

// NewAgent wires an Agent.
func NewAgent(config DaemonConfig, deps AgentDeps, d domain.Daemon) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		config: config,
		deps:   deps,
		daemon: d,
		logger: logger,
	}
	a.jobs = NewJobService(deps.Engine, config.StopTimeout, deps.Metrics, logger)
	a.scheduler = NewScheduler(a.jobs, SchedulerConfig{
		MaxExecution:      config.MaxExecution,
		RescheduleBackoff: config.RescheduleBackoff,
	}, deps.Metrics, logger)
	a.jobs.SetFinisher(a.scheduler)
	a.planner = usecase.NewPlanner(a.scheduler, deps.Settings, deps.Engine, logger)
	if deps.Grants != nil {
		a.grants = NewGrantWatcher(deps.Grants, a.planner, config.GrantDebounce, logger)
	}
	a.server = NewControlServer(d, a.planner, a.scheduler, a.jobs, deps.Metrics, logger)
	return a
}

// Planner returns the planner registering the check triggers.
func (a *Agent) Planner() *usecase.Planner { return a.planner }

// Scheduler returns the job scheduler.
func (a *Agent) Scheduler() *Scheduler { return a.scheduler }

// Jobs returns the task controller.
func (a *Agent) Jobs() *JobService { return a.jobs }

// Server returns the control server.
func (a *Agent) Server() *ControlServer { return a.server }

// Run starts the daemon loop.
// This blocks until context is canceled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.deps.Registry.Register(a.daemon); err != nil {
		a.logger.Error("failed to register daemon", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.deps.Registry.Clear(); err != nil {
			a.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	a.logger.Info("daemon started",
		zap.Int("pid", a.daemon.PID),
		zap.Int("user", int(a.daemon.User)),
		zap.String("version", a.daemon.AppVersion))

	a.planner.OnBoot()
	a.ensurePlistInstalled()

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		a.scheduler.Stop()
		wg.Wait()
	}()

	if a.grants != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.grants.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("grant watcher stopped", zap.Error(err))
			}
		}()
	}

	for _, ln := range a.listeners() {
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			if err := a.server.Serve(runCtx, ln); err != nil {
				a.logger.Error("control server stopped", zap.Error(err))
			}
		}(ln)
	}

	heartbeatTicker := time.NewTicker(a.config.HeartbeatInterval)
	settingsTicker := time.NewTicker(a.config.SettingsInterval)
	plistCheckTicker := time.NewTicker(a.config.PlistCheckInterval)
	defer func() {
		heartbeatTicker.Stop()
		settingsTicker.Stop()
		plistCheckTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon stopping")
			return ctx.Err()

		case <-heartbeatTicker.C:
			if err := a.deps.Registry.UpdateHeartbeat(); err != nil {
				a.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-settingsTicker.C:
			a.planner.RefreshPeriodicCheck()

		case <-plistCheckTicker.C:
			a.ensurePlistInstalled()
		}
	}
}

func (a *Agent) listeners() []net.Listener {
	var out []net.Listener
	if a.config.SocketPath != "" {
		ln, err := ListenUnix(a.config.SocketPath)
		if err != nil {
			a.logger.Error("failed to open control socket", zap.Error(err))
		} else {
			out = append(out, ln)
		}
	}
	if a.config.MetricsAddr != "" {
		ln, err := net.Listen("tcp", a.config.MetricsAddr)
		if err != nil {
			a.logger.Error("failed to listen for metrics", zap.String("addr", a.config.MetricsAddr), zap.Error(err))
		} else {
			out = append(out, ln)
		}
	}
	return out
}

// ensurePlistInstalled restores the LaunchAgent plist if it was deleted and
// rewrites it if it points at another binary.
func (a *Agent) ensurePlistInstalled() {
	if a.deps.LaunchAgent == nil {
		return
	}
	execPath, err := os.Executable()
	if err != nil {
		a.logger.Error("failed to get executable path", zap.Error(err))
		return
	}

	if !a.deps.LaunchAgent.IsInstalled() {
		a.logger.Info("LaunchAgent plist missing, restoring")
		if err := a.deps.LaunchAgent.Install(execPath); err != nil {
			a.logger.Error("failed to restore LaunchAgent plist", zap.Error(err))
		}
	} else if a.deps.LaunchAgent.NeedsUpdate(execPath) {
		a.logger.Info("LaunchAgent plist outdated, updating")
		if err := a.deps.LaunchAgent.Update(execPath); err != nil {
			a.logger.Error("failed to update LaunchAgent plist", zap.Error(err))
		}
	}
}

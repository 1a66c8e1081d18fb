package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

type profileRole interface {
	IsRunningInParentProfile() bool
}

// Planner registers the triggers of the location access check with the job
// scheduler. Registration failures are logged, never returned.
type Planner struct {
	scheduler domain.JobScheduler
	settings  domain.Settings
	role      profileRole
	logger    *zap.Logger
}

// NewPlanner creates a Planner. role decides whether this process may
// register the periodic check.
func NewPlanner(scheduler domain.JobScheduler, settings domain.Settings, role profileRole, logger *zap.Logger) *Planner {
	return &Planner{
		scheduler: scheduler,
		settings:  settings,
		role:      role,
		logger:    logger,
	}
}

// SoonAfterGrantJob is the one-shot trigger used after a package was granted
// background location.
func SoonAfterGrantJob(delay time.Duration) domain.JobInfo {
	return domain.JobInfo{
		ID:         domain.LocationAccessCheckJobID,
		MinLatency: delay,
	}
}

// PeriodicJob is the recurring trigger of the check.
func PeriodicJob(interval time.Duration) domain.JobInfo {
	return domain.JobInfo{
		ID:       domain.PeriodicLocationAccessCheckJobID,
		Periodic: true,
		Interval: interval,
		Flex:     FlexForPeriodicCheck(interval),
	}
}

// CheckLocationAccessSoon schedules a check after the configured delay,
// replacing any pending soon-after-grant check.
func (p *Planner) CheckLocationAccessSoon() bool {
	job := SoonAfterGrantJob(p.settings.CheckDelay())
	if err := p.scheduler.Schedule(job); err != nil {
		p.logger.Error("could not schedule location access check", zap.Error(err))
		return false
	}
	p.logger.Info("scheduled location access check", zap.Duration("delay", job.MinLatency))
	return true
}

// EnsurePeriodicCheck registers the periodic check unless it is already pending.
func (p *Planner) EnsurePeriodicCheck() bool {
	if _, pending := p.scheduler.Pending(domain.PeriodicLocationAccessCheckJobID); pending {
		return true
	}
	job := PeriodicJob(p.settings.CheckInterval())
	if err := p.scheduler.Schedule(job); err != nil {
		p.logger.Error("could not schedule periodic location access check", zap.Error(err))
		return false
	}
	p.logger.Info("scheduled periodic location access check",
		zap.Duration("interval", job.Interval),
		zap.Duration("flex", job.Flex))
	return true
}

// OnBoot sets up the periodic check. Managed profiles skip it; their parent
// checks on behalf of the whole group.
func (p *Planner) OnBoot() bool {
	if !p.role.IsRunningInParentProfile() {
		p.logger.Info("not the parent profile, skipping periodic check setup")
		return false
	}
	return p.EnsurePeriodicCheck()
}

// RefreshPeriodicCheck re-registers the periodic check when the interval
// setting no longer matches the pending job. It reports whether the job was
// replaced.
func (p *Planner) RefreshPeriodicCheck() bool {
	if !p.role.IsRunningInParentProfile() {
		return false
	}
	job := PeriodicJob(p.settings.CheckInterval())
	if pending, ok := p.scheduler.Pending(job.ID); ok && pending.Interval == job.Interval {
		return false
	}
	if err := p.scheduler.Schedule(job); err != nil {
		p.logger.Error("could not reschedule periodic location access check", zap.Error(err))
		return false
	}
	p.logger.Info("periodic location access check interval changed",
		zap.Duration("interval", job.Interval))
	return true
}

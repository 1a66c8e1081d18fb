// Package usecase contains the reminder decision engine.
package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

// maxLookback caps the access history window.
const maxLookback = 24 * time.Hour

// CheckerDeps are the collaborators of a Checker.
type CheckerDeps struct {
	Profiles    domain.ProfileManager
	Packages    domain.PackageResolver
	Permissions domain.PermissionChecker
	Access      domain.AccessHistorySource
	History     domain.HistoryStore
	State       domain.StateStore
	Settings    domain.Settings
	Surface     domain.NotificationSurface
	UI          domain.PermissionUI
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithRand sets the random source used to pick a candidate.
func WithRand(r *rand.Rand) CheckerOption {
	return func(c *Checker) { c.rand = r }
}

// WithClock sets the clock.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// WithStateLock adds a lock taken after the in-process mutex, typically a
// file lock shared with other processes working on the same data directory.
func WithStateLock(l sync.Locker) CheckerOption {
	return func(c *Checker) { c.stateLock = l }
}

// Checker owns the reminder state: the already-notified history, the last
// shown timestamp and the visible reminder. All of it is read and written
// with mu held, so two runs, or a run and a handler, never interleave their
// read-modify-write.
type Checker struct {
	deps    CheckerDeps
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	stateLock sync.Locker
	rand      *rand.Rand // guarded by mu
	now       func() time.Time
}

// NewChecker creates a Checker.
func NewChecker(deps CheckerDeps, opts ...CheckerOption) *Checker {
	c := &Checker{
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Checker) lock() {
	c.mu.Lock()
	if c.stateLock != nil {
		c.stateLock.Lock()
	}
}

func (c *Checker) unlock() {
	if c.stateLock != nil {
		c.stateLock.Unlock()
	}
	c.mu.Unlock()
}

// parentUser is the profile all operations run as: the parent of the
// current profile, or the current profile itself.
func (c *Checker) parentUser() domain.UserID {
	current := c.deps.Profiles.CurrentUser()
	if parent, ok := c.deps.Profiles.ProfileParent(current); ok {
		return parent
	}
	return current
}

// profileGroup returns the profiles reminders are coordinated across.
func (c *Checker) profileGroup() []domain.UserID {
	return c.deps.Profiles.Profiles(c.parentUser())
}

// IsRunningInParentProfile reports whether the current profile is the
// parent of its group. Only the parent registers the periodic check.
func (c *Checker) IsRunningInParentProfile() bool {
	current := c.deps.Profiles.CurrentUser()
	parent, ok := c.deps.Profiles.ProfileParent(current)
	return !ok || parent == current
}

// RunResult describes a finished decision run.
type RunResult struct {
	RunID   string
	Outcome string
	Posted  *domain.UserPackage
}

// AddLocationNotificationIfNeeded runs one decision: it posts a reminder for
// at most one package that accessed location in the background and was not
// reminded about yet.
//
// The lock is released while the access history is queried and taken again
// before candidates are selected. The only error returned is ctx.Err() when
// the run was cancelled; every other failure ends the run without a reminder.
func (c *Checker) AddLocationNotificationIfNeeded(ctx context.Context) (RunResult, error) {
	res := RunResult{RunID: uuid.NewString()}
	log := c.logger.With(zap.String("run_id", res.RunID))
	start := c.now()

	outcome, posted, err := c.run(ctx, log)
	res.Outcome = outcome
	res.Posted = posted

	c.metrics.ObserveRun(outcome, c.now().Sub(start))
	switch {
	case err != nil:
		log.Info("location access check cancelled", zap.Error(err))
	case posted != nil:
		log.Info("location access check posted reminder",
			zap.String("package", posted.Package),
			zap.Int("user", int(posted.User)))
	default:
		log.Debug("location access check finished", zap.String("outcome", outcome))
	}
	return res, err
}

func (c *Checker) run(ctx context.Context, log *zap.Logger) (string, *domain.UserPackage, error) {
	if err := ctx.Err(); err != nil {
		return observability.OutcomeCancelled, nil, err
	}

	c.lock()
	if outcome, ok := c.mayPostLocked(log); !ok {
		c.unlock()
		return outcome, nil, nil
	}
	c.unlock()

	ops, err := c.queryAccess(ctx, log)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return observability.OutcomeCancelled, nil, ctxErr
		}
		return observability.OutcomeFailed, nil, nil
	}

	c.lock()
	defer c.unlock()

	pick, info, err := c.selectCandidateLocked(ctx, ops, log)
	if err != nil {
		return observability.OutcomeCancelled, nil, err
	}
	if pick == nil {
		return observability.OutcomeNoCandidate, nil, nil
	}

	outcome, posted := c.postIfAllowedLocked(*pick, info, log)
	if !posted {
		return outcome, nil, nil
	}
	return observability.OutcomePosted, pick, nil
}

// queryAccess fetches background location accesses of the lookback window,
// bounded by the query timeout.
func (c *Checker) queryAccess(ctx context.Context, log *zap.Logger) ([]domain.AccessOp, error) {
	end := c.now()
	lookback := c.deps.Settings.CheckInterval()
	if lookback > maxLookback {
		lookback = maxLookback
	}
	begin := end.Add(-lookback)

	qctx, cancel := context.WithTimeout(ctx, c.deps.Settings.QueryTimeout())
	defer cancel()

	ops, err := c.deps.Access.HistoricalOps(qctx, domain.OpFineLocation, begin, end)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("access history query timed out",
				zap.Duration("timeout", c.deps.Settings.QueryTimeout()))
		} else if ctx.Err() == nil {
			log.Warn("access history query failed", zap.Error(err))
		}
		return nil, err
	}
	return ops, nil
}

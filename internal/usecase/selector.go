package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// locationUsers returns, in order of first appearance, the packages of the
// profile group that accessed location in the background. The platform
// itself and location providers are never reminded about.
func (c *Checker) locationUsers(ops []domain.AccessOp) []domain.UserPackage {
	group := make(map[domain.UserID]bool)
	for _, u := range c.profileGroup() {
		group[u] = true
	}

	seen := domain.NewPackageSet()
	var out []domain.UserPackage
	for _, op := range ops {
		if op.Package == domain.PlatformPackage || c.deps.Packages.IsLocationProvider(op.Package) {
			continue
		}
		user := domain.UserForUID(op.UID)
		if !group[user] {
			continue
		}
		if op.BackgroundCount <= 0 {
			continue
		}
		pkg := domain.UserPackage{Package: op.Package, User: user}
		if seen.Contains(pkg) {
			continue
		}
		seen.Add(pkg)
		out = append(out, pkg)
	}
	return out
}

// isBackgroundLocationGranted resolves pkg and checks its grant.
// Resolution failures count as not granted.
func (c *Checker) isBackgroundLocationGranted(pkg domain.UserPackage) (*domain.PackageInfo, bool) {
	info, err := c.deps.Packages.PackageInfo(pkg)
	if err != nil {
		return nil, false
	}
	return info, c.deps.Permissions.IsBackgroundLocationGranted(info)
}

// pruneHistoryLocked drops history entries that no longer hold background
// location and persists the result if anything was dropped. Cancellation is
// checked before each entry is resolved; a cancelled prune saves nothing.
func (c *Checker) pruneHistoryLocked(ctx context.Context, history domain.PackageSet, log *zap.Logger) error {
	removed := 0
	for _, pkg := range history.Sorted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, granted := c.isBackgroundLocationGranted(pkg); granted {
			continue
		}
		history.Remove(pkg)
		removed++
		log.Debug("forgetting package without background location",
			zap.String("package", pkg.Package),
			zap.Int("user", int(pkg.User)))
	}
	if removed > 0 {
		c.saveHistoryLocked(history, log)
		c.metrics.PrunedHistory(removed)
	}
	return nil
}

// selectCandidateLocked picks one package to remind about, or nil.
//
// Cancellation is checked after the history is loaded, before each history
// entry and each candidate is resolved, and after the pruned history is saved. A cancelled run keeps the pruning
// it already persisted and posts nothing.
func (c *Checker) selectCandidateLocked(ctx context.Context, ops []domain.AccessOp, log *zap.Logger) (*domain.UserPackage, *domain.PackageInfo, error) {
	candidates := c.locationUsers(ops)

	history := c.deps.History.Load()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if err := c.pruneHistoryLocked(ctx, history, log); err != nil {
		return nil, nil, err
	}
	c.metrics.SetHistorySize(len(history))
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	remaining := candidates[:0]
	for _, pkg := range candidates {
		if !history.Contains(pkg) {
			remaining = append(remaining, pkg)
		}
	}
	candidates = remaining

	// TODO: prefer the location history provider package once the platform reports it.
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(candidates) == 0 {
			return nil, nil, nil
		}

		i := c.rand.Intn(len(candidates))
		pkg := candidates[i]
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		info, err := c.deps.Packages.PackageInfo(pkg)
		if err != nil {
			if !errors.Is(err, domain.ErrPackageNotFound) {
				log.Warn("could not resolve package", zap.String("package", pkg.Package), zap.Error(err))
			}
			continue
		}
		if !c.deps.Permissions.IsBackgroundLocationGranted(info) {
			continue
		}
		return &pkg, info, nil
	}
}

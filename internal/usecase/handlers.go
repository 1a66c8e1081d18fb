package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// MarkAsNotified adds pkg to the history. Repeated calls are harmless.
func (c *Checker) MarkAsNotified(pkg domain.UserPackage) {
	c.lock()
	defer c.unlock()
	c.markAsNotifiedLocked(pkg)
}

func (c *Checker) markAsNotifiedLocked(pkg domain.UserPackage) {
	history := c.deps.History.Load()
	if history.Contains(pkg) {
		return
	}
	history.Add(pkg)
	c.saveHistoryLocked(history, c.logger)
}

// dismissLocked removes the reminder for pkg from the surface if it is the one shown.
func (c *Checker) dismissLocked(pkg domain.UserPackage) {
	shown, err := c.currentlyShownNotificationLocked()
	if err != nil {
		c.logger.Warn("could not read visible notifications", zap.Error(err))
		return
	}
	if shown == nil || shown.User != pkg.User || shown.Tag != pkg.Package {
		return
	}
	if err := c.deps.Surface.Cancel(pkg.User, pkg.Package, domain.LocationAccessCheckNotificationID); err != nil {
		c.logger.Warn("could not cancel reminder",
			zap.String("package", pkg.Package),
			zap.Error(err))
	}
}

// OnNotificationDeleted handles a reminder dismissed without action.
func (c *Checker) OnNotificationDeleted(pkg domain.UserPackage) {
	c.lock()
	defer c.unlock()
	c.logger.Info("reminder dismissed", zap.String("package", pkg.Package), zap.Int("user", int(pkg.User)))
	c.dismissLocked(pkg)
	c.markAsNotifiedLocked(pkg)
}

// OnNotificationClicked handles a tapped reminder: the package is marked as
// notified and the location permission screen of the package is opened.
func (c *Checker) OnNotificationClicked(pkg domain.UserPackage) error {
	c.lock()
	c.logger.Info("reminder clicked", zap.String("package", pkg.Package), zap.Int("user", int(pkg.User)))
	c.dismissLocked(pkg)
	c.markAsNotifiedLocked(pkg)
	c.unlock()

	if c.deps.UI == nil {
		return nil
	}
	if err := c.deps.UI.OpenAppPermission(pkg, domain.PermissionGroupLocation); err != nil {
		return fmt.Errorf("open permission settings for %s: %w", pkg, err)
	}
	return nil
}

// ForgetAboutPackage drops all state about pkg after it was uninstalled or
// its data was cleared. A visible reminder is cancelled only if it is for
// exactly pkg.
func (c *Checker) ForgetAboutPackage(pkg domain.UserPackage) {
	c.lock()
	defer c.unlock()

	c.logger.Info("reset package", zap.String("package", pkg.Package), zap.Int("user", int(pkg.User)))
	c.dismissLocked(pkg)

	history := c.deps.History.Load()
	history.Remove(pkg)
	c.saveHistoryLocked(history, c.logger)
}

// AlreadyNotified returns the persisted history.
func (c *Checker) AlreadyNotified() domain.PackageSet {
	c.lock()
	defer c.unlock()
	return c.deps.History.Load()
}

// CurrentReminder returns the visible reminder of the profile group, if any.
func (c *Checker) CurrentReminder() (*domain.Notification, error) {
	c.lock()
	defer c.unlock()
	return c.currentlyShownNotificationLocked()
}

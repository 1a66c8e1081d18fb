package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

const reminderText = "This app can always access your location. Open settings to change."

// currentlyShownNotificationLocked returns the visible reminder of the
// profile group, if any. Only one is ever shown per group.
func (c *Checker) currentlyShownNotificationLocked() (*domain.Notification, error) {
	for _, user := range c.profileGroup() {
		active, err := c.deps.Surface.Active(user)
		if err != nil {
			return nil, fmt.Errorf("list notifications of user %d: %w", user, err)
		}
		for i := range active {
			if active[i].ID == domain.LocationAccessCheckNotificationID {
				return &active[i], nil
			}
		}
	}
	return nil, nil
}

// mayPostLocked checks the rate limit and the visible reminder. Unreadable
// state counts as "may not post".
func (c *Checker) mayPostLocked(log *zap.Logger) (string, bool) {
	last, err := c.deps.State.LastNotificationShown()
	if err != nil {
		log.Warn("could not read last notification time", zap.Error(err))
		return observability.OutcomeFailed, false
	}
	if !MayNotifyNow(c.now(), last, c.deps.Settings.CheckInterval()) {
		return observability.OutcomeThrottled, false
	}

	shown, err := c.currentlyShownNotificationLocked()
	if err != nil {
		log.Warn("could not read visible notifications", zap.Error(err))
		return observability.OutcomeFailed, false
	}
	if shown != nil {
		return observability.OutcomeVisible, false
	}
	return "", true
}

// PostIfAllowed posts a reminder for pkg unless one is visible in the
// profile group or the rate limit forbids it.
func (c *Checker) PostIfAllowed(pkg domain.UserPackage, info *domain.PackageInfo) bool {
	c.lock()
	defer c.unlock()
	_, posted := c.postIfAllowedLocked(pkg, info, c.logger)
	return posted
}

// postIfAllowedLocked posts the reminder, records pkg in the history and
// stores the post time. The history and timestamp are only updated once the
// notification is on the surface.
func (c *Checker) postIfAllowedLocked(pkg domain.UserPackage, info *domain.PackageInfo, log *zap.Logger) (string, bool) {
	if outcome, ok := c.mayPostLocked(log); !ok {
		return outcome, false
	}

	now := c.now()
	label := pkg.Package
	if info != nil && info.Label != "" {
		label = info.Label
	}
	n := domain.Notification{
		User:     pkg.User,
		Tag:      pkg.Package,
		ID:       domain.LocationAccessCheckNotificationID,
		Channel:  domain.PermissionReminderChannel,
		Title:    fmt.Sprintf("%s accessed your location in the background", label),
		Text:     reminderText,
		Target:   pkg,
		Actions:  []domain.NotificationAction{domain.ActionDelete, domain.ActionClick},
		PostedAt: now,
	}
	if err := c.deps.Surface.Notify(n); err != nil {
		log.Error("failed to post reminder",
			zap.String("package", pkg.Package),
			zap.Error(err))
		return observability.OutcomeFailed, false
	}

	history := c.deps.History.Load()
	history.Add(pkg)
	c.saveHistoryLocked(history, log)

	if err := c.deps.State.SetLastNotificationShown(now); err != nil {
		log.Error("failed to store last notification time", zap.Error(err))
	}

	c.metrics.NotificationPosted()
	return observability.OutcomePosted, true
}

func (c *Checker) saveHistoryLocked(history domain.PackageSet, log *zap.Logger) {
	if err := c.deps.History.Save(history); err != nil {
		log.Error("could not write already notified packages", zap.Error(err))
	}
	c.metrics.SetHistorySize(len(history))
}

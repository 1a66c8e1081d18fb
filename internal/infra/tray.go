package infra

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// Tray implements domain.NotificationSurface. Live notifications are kept in
// the state database, so the visibility check survives daemon restarts; the
// renderer only shows them.
type Tray struct {
	db       *StateDB
	renderer Renderer
	logger   *zap.Logger
}

// NewTray creates a tray backed by db. renderer may be nil.
func NewTray(db *StateDB, renderer Renderer, logger *zap.Logger) *Tray {
	return &Tray{db: db, renderer: renderer, logger: logger}
}

// Notify stores n, replacing any notification with the same user, tag and id, and renders it.
// Rendering failures are logged; the notification stays active.
func (t *Tray) Notify(n domain.Notification) error {
	if err := t.db.putNotification(n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	if t.renderer != nil {
		if err := t.renderer.Render(n); err != nil {
			t.logger.Warn("failed to render notification",
				zap.String("tag", n.Tag),
				zap.Error(err))
		}
	}
	return nil
}

// Cancel removes a notification. Cancelling an absent notification is not an error.
func (t *Tray) Cancel(user domain.UserID, tag string, id int) error {
	if err := t.db.deleteNotification(user, tag, id); err != nil {
		return fmt.Errorf("failed to cancel notification: %w", err)
	}
	return nil
}

// Active returns the live notifications of user.
func (t *Tray) Active(user domain.UserID) ([]domain.Notification, error) {
	return t.db.listNotifications(user)
}

// Ensure Tray implements domain.NotificationSurface.
var _ domain.NotificationSurface = (*Tray)(nil)

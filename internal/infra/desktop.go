package infra

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Output executes a command and returns its stdout
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Renderer displays a posted reminder to the user.
type Renderer interface {
	Render(n domain.Notification) error
}

// NotificationActions receives what the user did with a reminder banner.
type NotificationActions interface {
	OnNotificationDeleted(pkg domain.UserPackage)
	OnNotificationClicked(pkg domain.UserPackage) error
}

const (
	linuxOpenAction   = "open"
	darwinOpenButton  = "Open Settings"
	darwinAlertExpiry = 4 * time.Hour
)

// BannerRenderer shows reminders as desktop banners:
// osascript on darwin, notify-send on linux, nothing elsewhere.
//
// With an action handler set, the banner is interactive and waits for the
// user on its own goroutine: opening it reports a click, closing it, letting
// it expire or failing to show it reports a delete. Without a handler the
// banner text names the CLI commands that do the same.
type BannerRenderer struct {
	runner CommandRunner
	goos   string
	logger *zap.Logger

	mu      sync.Mutex
	actions NotificationActions
}

// NewBannerRenderer creates a renderer for the running OS.
func NewBannerRenderer(logger *zap.Logger) *BannerRenderer {
	return NewBannerRendererWithDeps(&RealCommandRunner{}, runtime.GOOS, logger)
}

// NewBannerRendererWithDeps creates a renderer with injectable dependencies (for testing).
func NewBannerRendererWithDeps(runner CommandRunner, goos string, logger *zap.Logger) *BannerRenderer {
	return &BannerRenderer{runner: runner, goos: goos, logger: logger}
}

// SetActions sets the handler of banner actions. nil makes banners passive;
// answers to banners still on screen are then dropped.
func (r *BannerRenderer) SetActions(actions NotificationActions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = actions
}

func (r *BannerRenderer) currentActions() NotificationActions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actions
}

// Render displays n. Interactive banners return before the user answers.
func (r *BannerRenderer) Render(n domain.Notification) error {
	interactive := r.currentActions() != nil && len(n.Actions) > 0

	switch r.goos {
	case "darwin":
		if interactive {
			script := fmt.Sprintf(`display alert %s message %s buttons {"Dismiss", %s} default button %s giving up after %d`,
				appleScriptQuote(n.Title), appleScriptQuote(n.Text),
				appleScriptQuote(darwinOpenButton), appleScriptQuote(darwinOpenButton),
				int(darwinAlertExpiry.Seconds()))
			go r.await(n, func(out string) bool {
				return strings.Contains(out, "button returned:"+darwinOpenButton)
			}, "osascript", "-e", script)
			return nil
		}
		script := fmt.Sprintf(`display notification %s with title %s`,
			appleScriptQuote(passiveText(n)), appleScriptQuote(n.Title))
		return r.runner.Run("osascript", "-e", script)
	case "linux":
		if interactive {
			go r.await(n, func(out string) bool {
				return strings.TrimSpace(out) == linuxOpenAction
			}, "notify-send", "--app-name=locremind", "--urgency=normal",
				"--action="+linuxOpenAction+"=Open settings", "--wait", n.Title, n.Text)
			return nil
		}
		return r.runner.Run("notify-send", "--app-name=locremind", "--urgency=normal", n.Title, passiveText(n))
	default:
		r.logger.Debug("no banner support on this platform", zap.String("goos", r.goos))
		return nil
	}
}

// await runs an interactive banner until the user answers and reports the
// answer for n.Target.
func (r *BannerRenderer) await(n domain.Notification, clicked func(out string) bool, name string, args ...string) {
	out, err := r.runner.Output(name, args...)

	actions := r.currentActions()
	if actions == nil {
		r.logger.Debug("banner answered after actions were detached", zap.String("package", n.Target.Package))
		return
	}
	log := r.logger.With(zap.String("package", n.Target.Package), zap.Int("user", int(n.Target.User)))
	switch {
	case err != nil:
		log.Warn("reminder banner failed, treating it as dismissed", zap.Error(err))
		actions.OnNotificationDeleted(n.Target)
	case clicked(string(out)):
		log.Info("reminder banner opened")
		if err := actions.OnNotificationClicked(n.Target); err != nil {
			log.Warn("failed to handle reminder click", zap.Error(err))
		}
	default:
		log.Info("reminder banner dismissed")
		actions.OnNotificationDeleted(n.Target)
	}
}

// passiveText appends the CLI commands that act on n to its text.
func passiveText(n domain.Notification) string {
	if len(n.Actions) == 0 {
		return n.Text
	}
	return fmt.Sprintf("%s Run: locremind open --package %s --user %d (or dismiss)",
		n.Text, n.Target.Package, int(n.Target.User))
}

// appleScriptQuote returns s as an AppleScript string literal.
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// SystemSettingsUI implements domain.PermissionUI by opening the OS
// location privacy settings.
type SystemSettingsUI struct {
	runner CommandRunner
	goos   string
	logger *zap.Logger
}

// NewSystemSettingsUI creates a permission UI launcher for the running OS.
func NewSystemSettingsUI(logger *zap.Logger) *SystemSettingsUI {
	return NewSystemSettingsUIWithDeps(&RealCommandRunner{}, runtime.GOOS, logger)
}

// NewSystemSettingsUIWithDeps creates a launcher with injectable dependencies (for testing).
func NewSystemSettingsUIWithDeps(runner CommandRunner, goos string, logger *zap.Logger) *SystemSettingsUI {
	return &SystemSettingsUI{runner: runner, goos: goos, logger: logger}
}

// OpenAppPermission opens the permission screen of group for pkg.
func (u *SystemSettingsUI) OpenAppPermission(pkg domain.UserPackage, group string) error {
	u.logger.Info("opening permission settings",
		zap.String("package", pkg.Package),
		zap.Int("user", int(pkg.User)),
		zap.String("group", group))

	switch u.goos {
	case "darwin":
		return u.runner.Run("open", "x-apple.systempreferences:com.apple.preference.security?Privacy_LocationServices")
	case "linux":
		return u.runner.Run("gnome-control-center", "location")
	default:
		return fmt.Errorf("opening %s settings is not supported on %s", group, u.goos)
	}
}

// Ensure SystemSettingsUI implements domain.PermissionUI.
var _ domain.PermissionUI = (*SystemSettingsUI)(nil)

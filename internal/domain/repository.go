package domain

import (
	"context"
	"time"
)

// ProfileManager enumerates user profiles and resolves profile serials.
// Implementation: device manifest (YAML).
type ProfileManager interface {
	// CurrentUser returns the profile the process runs as.
	CurrentUser() UserID

	// ProfileParent returns the parent of a managed profile.
	// ok is false when the profile has no parent.
	ProfileParent(user UserID) (parent UserID, ok bool)

	// Profiles returns the profile group of user: its parent and all managed profiles.
	Profiles(user UserID) []UserID

	// UserForSerial resolves a profile serial. ok is false for removed profiles.
	UserForSerial(serial int64) (user UserID, ok bool)

	// SerialForUser returns the serial of a live profile.
	SerialForUser(user UserID) (int64, error)
}

// PackageResolver resolves package metadata.
type PackageResolver interface {
	// PackageInfo returns ErrPackageNotFound if the package is not installed for the user.
	PackageInfo(pkg UserPackage) (*PackageInfo, error)

	// IsLocationProvider reports whether pkg implements a location provider.
	IsLocationProvider(pkg string) bool
}

// PermissionChecker answers whether a capability is currently granted.
type PermissionChecker interface {
	// IsBackgroundLocationGranted reports whether fine location is granted in
	// the background. Any other state counts as not granted.
	IsBackgroundLocationGranted(pkg *PackageInfo) bool
}

// AccessHistorySource provides historical access counts.
// Implementation: JSON-lines access log.
type AccessHistorySource interface {
	// HistoricalOps returns per (uid, package, op) background access counts in [begin, end).
	// It blocks until the data is available or ctx is done.
	HistoricalOps(ctx context.Context, op string, begin, end time.Time) ([]AccessOp, error)
}

// HistoryStore persists the set of packages already notified about.
type HistoryStore interface {
	// Load returns the persisted set. Missing or unreadable state yields an empty set.
	Load() PackageSet

	// Save overwrites the persisted set.
	Save(pkgs PackageSet) error
}

// StateStore persists small scalar state.
// Implementation: SQLCipher encrypted database.
type StateStore interface {
	// LastNotificationShown returns the zero time if no notification was ever shown.
	LastNotificationShown() (time.Time, error)

	SetLastNotificationShown(t time.Time) error
}

// Settings exposes dynamic policy settings. Values must be read on each call.
type Settings interface {
	// CheckInterval is the period of the periodic check (default 1 day).
	CheckInterval() time.Duration

	// CheckDelay is the delay between a grant and the follow-up check (default 10 minutes).
	CheckDelay() time.Duration

	// QueryTimeout bounds the access history query.
	QueryTimeout() time.Duration
}

// NotificationSurface is where reminders are posted.
type NotificationSurface interface {
	// Notify posts n, replacing any notification with the same user, tag and id.
	Notify(n Notification) error

	// Cancel removes the notification with the given user, tag and id.
	Cancel(user UserID, tag string, id int) error

	// Active returns the live notifications of a profile.
	Active(user UserID) ([]Notification, error)
}

// PermissionUI hands off to the permission management surface.
type PermissionUI interface {
	OpenAppPermission(pkg UserPackage, group string) error
}

// JobScheduler registers triggers that eventually start the JobService.
type JobScheduler interface {
	// Schedule registers info, replacing any job with the same id.
	Schedule(info JobInfo) error

	// Pending returns the registered job with the given id.
	Pending(id int) (JobInfo, bool)

	// Cancel drops the job with the given id.
	Cancel(id int)
}

// JobService is started by the JobScheduler when a job fires.
type JobService interface {
	// StartJob returns false if the work could not be started.
	StartJob(params JobParams) bool

	// StopJob asks the running work to stop and waits for it.
	// It returns true if the job should be rescheduled.
	StopJob(params JobParams) bool
}

// JobFinisher is told when asynchronous job work completed.
type JobFinisher interface {
	JobFinished(params JobParams, reschedule bool)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
// Implementation: hidden JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the daemon's PID and control socket.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// IsAlive checks if the registered daemon is running via PID.
	IsAlive() (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes registry file (for clean restart).
	Clear() error

	// GetRegistryPath returns the hidden registry file path (for tests).
	GetRegistryPath() string
}

// LaunchAgentManager handles macOS LaunchAgent plist operations.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool

	// Update unloads, updates plist content, and reloads.
	Update(execPath string) error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

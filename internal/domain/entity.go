// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// UserID is the opaque handle of a user profile.
type UserID int

// NoUser marks the absence of a profile (e.g. a profile without a parent).
const NoUser UserID = -1

// PerUserRange is the span of uids reserved for one user profile.
const PerUserRange = 100000

// UserForUID returns the profile a uid belongs to.
func UserForUID(uid int) UserID {
	return UserID(uid / PerUserRange)
}

// UIDForUser composes a full uid from a profile and a per-profile app id.
func UIDForUser(user UserID, appID int) int {
	return int(user)*PerUserRange + appID%PerUserRange
}

const (
	// PlatformPackage is the package name reserved for the OS itself.
	PlatformPackage = "android"

	// OpFineLocation is the access-history tag of precise location access.
	OpFineLocation = "fine_location"

	// PermissionGroupLocation is the capability group shown by the permission UI.
	PermissionGroupLocation = "location"

	// LocationAccessCheckNotificationID is the fixed id of the reminder
	// notification. Together with the package name tag it identifies the
	// notification within a profile.
	LocationAccessCheckNotificationID = 0

	// PermissionReminderChannel is the channel reminders are posted to.
	PermissionReminderChannel = "permission_reminders"
)

// Job ids used with the JobScheduler. They must never collide.
const (
	LocationAccessCheckJobID         = 0
	PeriodicLocationAccessCheckJobID = 1
)

var (
	// ErrPackageNotFound is returned when a package cannot be resolved for a profile.
	ErrPackageNotFound = errors.New("package not found")

	// ErrProfileNotFound is returned when a profile handle or serial is unknown.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrAlreadyRunning is returned when a second daemon is started for the same data directory.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// UserPackage identifies an installed application instance within a profile.
// It is a comparable value type and can be used as a map key.
type UserPackage struct {
	Package string
	User    UserID
}

func (p UserPackage) String() string {
	return fmt.Sprintf("%s@%d", p.Package, p.User)
}

// PackageSet is a set of UserPackages.
type PackageSet map[UserPackage]struct{}

// NewPackageSet creates a set holding the given packages.
func NewPackageSet(pkgs ...UserPackage) PackageSet {
	s := make(PackageSet, len(pkgs))
	for _, p := range pkgs {
		s[p] = struct{}{}
	}
	return s
}

func (s PackageSet) Add(p UserPackage)    { s[p] = struct{}{} }
func (s PackageSet) Remove(p UserPackage) { delete(s, p) }

func (s PackageSet) Contains(p UserPackage) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members ordered by user, then package name.
func (s PackageSet) Sorted() []UserPackage {
	out := make([]UserPackage, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Package < out[j].Package
	})
	return out
}

// Profile is a user profile. Managed profiles point at their parent.
type Profile struct {
	ID     UserID
	Serial int64
	Parent UserID // NoUser for a parent profile
}

// LocationPermission is the location permission group of a package.
type LocationPermission struct {
	FineGranted         bool
	BackgroundRequested bool
	BackgroundGranted   bool
}

// PackageInfo is the resolved metadata of an installed package.
type PackageInfo struct {
	Name  string
	User  UserID
	UID   int
	Label string
	// Location is nil when the package has no location permissions at all.
	Location *LocationPermission
}

// UserPackage returns the identity of the package.
func (p PackageInfo) UserPackage() UserPackage {
	return UserPackage{Package: p.Name, User: UserForUID(p.UID)}
}

// AccessOp is the background access count of one (uid, package, op) triple
// within a queried window.
type AccessOp struct {
	UID             int
	Package         string
	Op              string
	BackgroundCount int
}

// NotificationAction is the payload attached to a notification action.
type NotificationAction string

const (
	ActionDelete NotificationAction = "delete"
	ActionClick  NotificationAction = "click"
)

// Notification is a reminder posted to the notification surface.
type Notification struct {
	User     UserID // profile the notification is posted for
	Tag      string // package name
	ID       int
	Channel  string
	Title    string
	Text     string
	Target   UserPackage // payload of both delete and click actions
	Actions  []NotificationAction
	PostedAt time.Time
}

// JobInfo describes a trigger handed to the JobScheduler.
type JobInfo struct {
	ID         int
	MinLatency time.Duration // one-shot jobs
	Periodic   bool
	Interval   time.Duration // periodic jobs
	Flex       time.Duration // periodic jobs
}

// JobParams is passed to the JobService when a job fires.
type JobParams struct {
	JobID     int
	Periodic  bool
	StartedAt time.Time
}

// Daemon represents the running daemon process.
type Daemon struct {
	PID        int
	StartedAt  time.Time
	AppVersion string
	User       UserID
	SocketPath string
}

// RegistryEntry stores the state of the daemon for discovery by the CLI.
// Persisted to a hidden file for cross-process communication.
type RegistryEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	User          int    `json:"user"`
	SocketPath    string `json:"socket_path"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}

package infra

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// manifestDoc is the on-disk device manifest.
//
//	current_user: 0
//	profiles:
//	  - {id: 0, serial: 5630633845}
//	  - {id: 10, serial: 5630633853, parent: 0}
//	location_providers: [com.android.location.fused]
//	packages:
//	  - name: com.example.app
//	    user: 0
//	    app_id: 10123
//	    label: Example
//	    location: {fine: true, background_requested: true, background: true}
type manifestDoc struct {
	CurrentUser       int               `yaml:"current_user"`
	Profiles          []manifestProfile `yaml:"profiles"`
	LocationProviders []string          `yaml:"location_providers"`
	Packages          []manifestPackage `yaml:"packages"`
}

type manifestProfile struct {
	ID     int   `yaml:"id"`
	Serial int64 `yaml:"serial"`
	Parent *int  `yaml:"parent,omitempty"`
}

type manifestPackage struct {
	Name     string            `yaml:"name"`
	User     int               `yaml:"user"`
	AppID    int               `yaml:"app_id"`
	Label    string            `yaml:"label,omitempty"`
	Location *manifestLocation `yaml:"location,omitempty"`
}

type manifestLocation struct {
	Fine                bool `yaml:"fine"`
	BackgroundRequested bool `yaml:"background_requested"`
	Background          bool `yaml:"background"`
}

// Manifest describes the device: profiles, installed packages and their
// location permission state. It implements domain.ProfileManager,
// domain.PackageResolver and domain.PermissionChecker.
//
// The file is re-read whenever its modification time or size changes, so
// permission edits are visible to the next lookup. If a reload fails the last
// good content is kept.
type Manifest struct {
	path   string
	logger *zap.Logger

	mu           sync.Mutex
	doc          manifestDoc
	modTime      time.Time
	size         int64
	loaded       bool
	userOverride *domain.UserID
}

// NewManifest creates a manifest reader for path. The file may not exist yet.
func NewManifest(path string, logger *zap.Logger) *Manifest {
	return &Manifest{path: path, logger: logger}
}

// Path returns the manifest path.
func (m *Manifest) Path() string {
	return m.path
}

// SetCurrentUser overrides current_user from the file.
func (m *Manifest) SetCurrentUser(user domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userOverride = &user
}

// Reload forces a re-read of the file.
func (m *Manifest) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	return m.refreshLocked()
}

// snapshot returns the current document, reloading it if the file changed.
func (m *Manifest) snapshot() manifestDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refreshLocked(); err != nil {
		m.logger.Warn("failed to load device manifest",
			zap.String("path", m.path),
			zap.Error(err))
	}
	doc := m.doc
	if m.userOverride != nil {
		doc.CurrentUser = int(*m.userOverride)
	}
	return doc
}

func (m *Manifest) refreshLocked() error {
	info, err := os.Stat(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.doc = manifestDoc{}
			m.loaded = true
			return nil
		}
		return err
	}
	if m.loaded && info.ModTime().Equal(m.modTime) && info.Size() == m.size {
		return nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	m.doc = doc
	m.modTime = info.ModTime()
	m.size = info.Size()
	m.loaded = true
	return nil
}

// --- domain.ProfileManager ---

// CurrentUser returns the profile the process runs as.
func (m *Manifest) CurrentUser() domain.UserID {
	return domain.UserID(m.snapshot().CurrentUser)
}

// ProfileParent returns the parent of a managed profile.
func (m *Manifest) ProfileParent(user domain.UserID) (domain.UserID, bool) {
	doc := m.snapshot()
	for _, p := range doc.Profiles {
		if domain.UserID(p.ID) == user && p.Parent != nil {
			return domain.UserID(*p.Parent), true
		}
	}
	return domain.NoUser, false
}

// Profiles returns the profile group of user, ordered by id.
func (m *Manifest) Profiles(user domain.UserID) []domain.UserID {
	doc := m.snapshot()

	root := user
	for _, p := range doc.Profiles {
		if domain.UserID(p.ID) == user && p.Parent != nil {
			root = domain.UserID(*p.Parent)
		}
	}

	var group []domain.UserID
	for _, p := range doc.Profiles {
		id := domain.UserID(p.ID)
		if id == root || (p.Parent != nil && domain.UserID(*p.Parent) == root) {
			group = append(group, id)
		}
	}
	sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
	return group
}

// UserForSerial resolves a profile serial.
func (m *Manifest) UserForSerial(serial int64) (domain.UserID, bool) {
	for _, p := range m.snapshot().Profiles {
		if p.Serial == serial {
			return domain.UserID(p.ID), true
		}
	}
	return domain.NoUser, false
}

// SerialForUser returns the serial of a live profile.
func (m *Manifest) SerialForUser(user domain.UserID) (int64, error) {
	for _, p := range m.snapshot().Profiles {
		if domain.UserID(p.ID) == user {
			return p.Serial, nil
		}
	}
	return 0, fmt.Errorf("user %d: %w", user, domain.ErrProfileNotFound)
}

// --- domain.PackageResolver ---

// PackageInfo resolves an installed package.
func (m *Manifest) PackageInfo(pkg domain.UserPackage) (*domain.PackageInfo, error) {
	for _, p := range m.snapshot().Packages {
		if p.Name != pkg.Package || domain.UserID(p.User) != pkg.User {
			continue
		}
		info := &domain.PackageInfo{
			Name:  p.Name,
			User:  pkg.User,
			UID:   domain.UIDForUser(pkg.User, p.AppID),
			Label: p.Label,
		}
		if info.Label == "" {
			info.Label = p.Name
		}
		if p.Location != nil {
			info.Location = &domain.LocationPermission{
				FineGranted:         p.Location.Fine,
				BackgroundRequested: p.Location.BackgroundRequested,
				BackgroundGranted:   p.Location.Background,
			}
		}
		return info, nil
	}
	return nil, fmt.Errorf("%s: %w", pkg, domain.ErrPackageNotFound)
}

// IsLocationProvider reports whether pkg is listed as a location provider.
func (m *Manifest) IsLocationProvider(pkg string) bool {
	for _, p := range m.snapshot().LocationProviders {
		if p == pkg {
			return true
		}
	}
	return false
}

// --- domain.PermissionChecker ---

// IsBackgroundLocationGranted requires fine location to be granted and the
// background variant to be both requested and granted. Packages without a
// location permission group count as not granted.
func (m *Manifest) IsBackgroundLocationGranted(info *domain.PackageInfo) bool {
	if info == nil || info.Location == nil {
		return false
	}
	loc := info.Location
	return loc.FineGranted && loc.BackgroundRequested && loc.BackgroundGranted
}

// BackgroundGrants returns every package currently holding background location.
func (m *Manifest) BackgroundGrants() domain.PackageSet {
	granted := domain.NewPackageSet()
	for _, p := range m.snapshot().Packages {
		if p.Location != nil && p.Location.Fine && p.Location.BackgroundRequested && p.Location.Background {
			granted.Add(domain.UserPackage{Package: p.Name, User: domain.UserID(p.User)})
		}
	}
	return granted
}

// Ensure Manifest implements the device interfaces.
var (
	_ domain.ProfileManager    = (*Manifest)(nil)
	_ domain.PackageResolver   = (*Manifest)(nil)
	_ domain.PermissionChecker = (*Manifest)(nil)
)

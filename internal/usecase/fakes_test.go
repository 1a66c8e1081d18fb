package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// fakeProfiles: user 0 is the parent of 10; user 20 is alone.
type fakeProfiles struct {
	current domain.UserID
	parents map[domain.UserID]domain.UserID
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{parents: map[domain.UserID]domain.UserID{10: 0}}
}

func (f *fakeProfiles) CurrentUser() domain.UserID { return f.current }

func (f *fakeProfiles) ProfileParent(user domain.UserID) (domain.UserID, bool) {
	p, ok := f.parents[user]
	return p, ok
}

func (f *fakeProfiles) Profiles(user domain.UserID) []domain.UserID {
	root := user
	if p, ok := f.parents[user]; ok {
		root = p
	}
	group := []domain.UserID{root}
	for child, parent := range f.parents {
		if parent == root {
			group = append(group, child)
		}
	}
	sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
	return group
}

func (f *fakeProfiles) UserForSerial(serial int64) (domain.UserID, bool) {
	return domain.UserID(serial), true
}

func (f *fakeProfiles) SerialForUser(user domain.UserID) (int64, error) {
	return int64(user), nil
}

// fakePackages resolves installed packages and checks their grant.
type fakePackages struct {
	mu        sync.Mutex
	installed map[domain.UserPackage]*domain.PackageInfo
	providers map[string]bool
	resolved  []domain.UserPackage
	onResolve func(domain.UserPackage)
}

func newFakePackages() *fakePackages {
	return &fakePackages{
		installed: make(map[domain.UserPackage]*domain.PackageInfo),
		providers: make(map[string]bool),
	}
}

func (f *fakePackages) install(pkg domain.UserPackage, background bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[pkg] = &domain.PackageInfo{
		Name:  pkg.Package,
		User:  pkg.User,
		UID:   domain.UIDForUser(pkg.User, 10000+len(f.installed)),
		Label: pkg.Package,
		Location: &domain.LocationPermission{
			FineGranted:         true,
			BackgroundRequested: true,
			BackgroundGranted:   background,
		},
	}
}

func (f *fakePackages) setBackground(pkg domain.UserPackage, granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[pkg].Location.BackgroundGranted = granted
}

func (f *fakePackages) uninstall(pkg domain.UserPackage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installed, pkg)
}

func (f *fakePackages) PackageInfo(pkg domain.UserPackage) (*domain.PackageInfo, error) {
	f.mu.Lock()
	hook := f.onResolve
	f.resolved = append(f.resolved, pkg)
	info, ok := f.installed[pkg]
	var cp domain.PackageInfo
	if ok {
		cp = *info
		loc := *info.Location
		cp.Location = &loc
	}
	f.mu.Unlock()

	if hook != nil {
		hook(pkg)
	}
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return &cp, nil
}

func (f *fakePackages) IsLocationProvider(pkg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers[pkg]
}

func (f *fakePackages) IsBackgroundLocationGranted(info *domain.PackageInfo) bool {
	return info != nil && info.Location != nil &&
		info.Location.FineGranted && info.Location.BackgroundRequested && info.Location.BackgroundGranted
}

// fakeAccess returns canned ops. If block is set the query waits for it.
type fakeAccess struct {
	mu         sync.Mutex
	ops        []domain.AccessOp
	err        error
	block      chan struct{}
	calls      int
	begin, end time.Time
	onQuery    func()
}

func (f *fakeAccess) HistoricalOps(ctx context.Context, op string, begin, end time.Time) ([]domain.AccessOp, error) {
	f.mu.Lock()
	f.calls++
	f.begin, f.end = begin, end
	ops, err, block, hook := f.ops, f.err, f.block, f.onQuery
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ops, err
}

func accessOp(pkg domain.UserPackage, background int) domain.AccessOp {
	return domain.AccessOp{
		UID:             domain.UIDForUser(pkg.User, 10000),
		Package:         pkg.Package,
		Op:              domain.OpFineLocation,
		BackgroundCount: background,
	}
}

// memHistory is an in-memory HistoryStore counting saves.
type memHistory struct {
	mu    sync.Mutex
	set   domain.PackageSet
	saves int
	err   error
}

func newMemHistory(pkgs ...domain.UserPackage) *memHistory {
	return &memHistory{set: domain.NewPackageSet(pkgs...)}
}

func (h *memHistory) Load() domain.PackageSet {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := domain.NewPackageSet()
	for p := range h.set {
		out.Add(p)
	}
	return out
}

func (h *memHistory) Save(pkgs domain.PackageSet) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saves++
	if h.err != nil {
		return h.err
	}
	h.set = domain.NewPackageSet()
	for p := range pkgs {
		h.set.Add(p)
	}
	return nil
}

func (h *memHistory) snapshot() domain.PackageSet { return h.Load() }

// memState is an in-memory StateStore.
type memState struct {
	mu   sync.Mutex
	last time.Time
	err  error
	sets int
}

func (s *memState) LastNotificationShown() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.err
}

func (s *memState) SetLastNotificationShown(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.last = t
	return nil
}

type fakeSettings struct {
	interval, delay, timeout time.Duration
}

func defaultFakeSettings() *fakeSettings {
	return &fakeSettings{interval: 24 * time.Hour, delay: 10 * time.Minute, timeout: time.Minute}
}

func (s *fakeSettings) CheckInterval() time.Duration { return s.interval }
func (s *fakeSettings) CheckDelay() time.Duration    { return s.delay }
func (s *fakeSettings) QueryTimeout() time.Duration  { return s.timeout }

// fakeSurface is an in-memory notification tray.
type fakeSurface struct {
	mu     sync.Mutex
	active map[domain.UserID][]domain.Notification
	posted []domain.Notification
	err    error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{active: make(map[domain.UserID][]domain.Notification)}
}

func (s *fakeSurface) Notify(n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.posted = append(s.posted, n)
	list := s.active[n.User][:0:0]
	for _, a := range s.active[n.User] {
		if a.Tag != n.Tag || a.ID != n.ID {
			list = append(list, a)
		}
	}
	s.active[n.User] = append(list, n)
	return nil
}

func (s *fakeSurface) Cancel(user domain.UserID, tag string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []domain.Notification
	for _, a := range s.active[user] {
		if a.Tag != tag || a.ID != id {
			list = append(list, a)
		}
	}
	s.active[user] = list
	return nil
}

func (s *fakeSurface) Active(user domain.UserID) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.active[user]...), nil
}

func (s *fakeSurface) visible() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, list := range s.active {
		out = append(out, list...)
	}
	return out
}

func (s *fakeSurface) postedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

type fakeUI struct {
	opened []domain.UserPackage
	groups []string
	err    error
}

func (u *fakeUI) OpenAppPermission(pkg domain.UserPackage, group string) error {
	u.opened = append(u.opened, pkg)
	u.groups = append(u.groups, group)
	return u.err
}

// fakeScheduler records scheduled jobs.
type fakeScheduler struct {
	jobs      map[int]domain.JobInfo
	scheduled []domain.JobInfo
	err       error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[int]domain.JobInfo)}
}

func (s *fakeScheduler) Schedule(info domain.JobInfo) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, info)
	s.jobs[info.ID] = info
	return nil
}

func (s *fakeScheduler) Pending(id int) (domain.JobInfo, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

func (s *fakeScheduler) Cancel(id int) { delete(s.jobs, id) }

// countingLocker counts Lock calls.
type countingLocker struct {
	mu    sync.Mutex
	locks int
	held  bool
}

func (l *countingLocker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks++
	l.held = true
}

func (l *countingLocker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

var errBoom = errors.New("boom")

// fixture wires a Checker to fakes.
type fixture struct {
	profiles *fakeProfiles
	packages *fakePackages
	access   *fakeAccess
	history  *memHistory
	state    *memState
	settings *fakeSettings
	surface  *fakeSurface
	ui       *fakeUI
	now      time.Time
	checker  *Checker
}

func newFixture(seed int64) *fixture {
	f := &fixture{
		profiles: newFakeProfiles(),
		packages: newFakePackages(),
		access:   &fakeAccess{},
		history:  newMemHistory(),
		state:    &memState{},
		settings: defaultFakeSettings(),
		surface:  newFakeSurface(),
		ui:       &fakeUI{},
		now:      time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	f.checker = NewChecker(CheckerDeps{
		Profiles:    f.profiles,
		Packages:    f.packages,
		Permissions: f.packages,
		Access:      f.access,
		History:     f.history,
		State:       f.state,
		Settings:    f.settings,
		Surface:     f.surface,
		UI:          f.ui,
		Logger:      zap.NewNop(),
	}, WithRand(rand.New(rand.NewSource(seed))), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// GrantSource reports which packages currently hold background location.
type GrantSource interface {
	Path() string
	Reload() error
	BackgroundGrants() domain.PackageSet
}

// SoonChecker registers the soon-after-grant check.
type SoonChecker interface {
	CheckLocationAccessSoon() bool
}

// GrantWatcher watches the device manifest and asks for a check soon after
// a package is newly granted background location.
type GrantWatcher struct {
	source   GrantSource
	planner  SoonChecker
	debounce time.Duration
	logger   *zap.Logger

	known  domain.PackageSet
	primed bool
}

// NewGrantWatcher creates a GrantWatcher. Bursts of file events within
// debounce are handled once.
func NewGrantWatcher(source GrantSource, planner SoonChecker, debounce time.Duration, logger *zap.Logger) *GrantWatcher {
	return &GrantWatcher{
		source:   source,
		planner:  planner,
		debounce: debounce,
		logger:   logger,
	}
}

// Run watches until ctx is done. The directory of the manifest is watched
// so that editors replacing the file are noticed.
func (w *GrantWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.source.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.Prime()
	w.logger.Info("grant watcher started",
		zap.String("manifest", w.source.Path()),
		zap.Int("granted", len(w.known)))

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	target := filepath.Clean(w.source.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manifest watcher error", zap.Error(err))

		case <-timerC:
			timerC = nil
			w.Sync()
		}
	}
}

// Prime records the current grants without scheduling anything.
func (w *GrantWatcher) Prime() {
	w.known = w.source.BackgroundGrants()
	w.primed = true
}

// Sync re-reads the manifest and schedules a check if a package gained
// background location since the last sync. It returns the new grants.
func (w *GrantWatcher) Sync() []domain.UserPackage {
	if err := w.source.Reload(); err != nil {
		w.logger.Warn("could not reload manifest", zap.Error(err))
	}
	current := w.source.BackgroundGrants()
	if !w.primed {
		w.known = current
		w.primed = true
		return nil
	}

	var granted []domain.UserPackage
	for _, pkg := range current.Sorted() {
		if !w.known.Contains(pkg) {
			granted = append(granted, pkg)
		}
	}
	w.known = current

	if len(granted) == 0 {
		return nil
	}
	for _, pkg := range granted {
		w.logger.Info("background location granted",
			zap.String("package", pkg.Package),
			zap.Int("user", int(pkg.User)))
	}
	w.planner.CheckLocationAccessSoon()
	return granted
}

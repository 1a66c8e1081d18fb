package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
	"github.com/eliteGoblin/focusd/loc_remind/internal/usecase"
)

// env holds the collaborators shared by the commands.
type env struct {
	paths    *infra.Paths
	logger   *zap.Logger
	db       *infra.StateDB
	manifest *infra.Manifest
	settings *infra.DBSettings
	history  *infra.FileHistoryStore
	access   *infra.AccessLog
	banner   *infra.BannerRenderer
	tray     *infra.Tray
	checker  *usecase.Checker
}

// openEnv opens the state of the data directory and wires the checker.
func openEnv(logger *zap.Logger, metrics *observability.Metrics) (*env, error) {
	paths := resolvePaths()
	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := infra.OpenStateDBWithKeyFile(paths.DataDir)
	if err != nil {
		return nil, err
	}

	m := infra.NewManifest(paths.Manifest, logger)
	if rootCmd.PersistentFlags().Changed("user") {
		m.SetCurrentUser(domain.UserID(userFlag))
	}

	banner := infra.NewBannerRenderer(logger)
	e := &env{
		paths:    paths,
		logger:   logger,
		db:       db,
		manifest: m,
		settings: infra.NewDBSettings(db, logger),
		history:  infra.NewFileHistoryStore(paths.DataDir, m, logger),
		access:   infra.NewAccessLog(paths.AccessLog, logger),
		banner:   banner,
		tray:     infra.NewTray(db, banner, logger),
	}
	e.checker = usecase.NewChecker(usecase.CheckerDeps{
		Profiles:    m,
		Packages:    m,
		Permissions: m,
		Access:      e.access,
		History:     e.history,
		State:       db,
		Settings:    e.settings,
		Surface:     e.tray,
		UI:          infra.NewSystemSettingsUI(logger),
		Metrics:     metrics,
		Logger:      logger,
	}, usecase.WithStateLock(infra.NewFileLock(paths.DataDir, logger)))
	return e, nil
}

func (e *env) Close() {
	e.banner.SetActions(nil)
	if err := e.db.Close(); err != nil {
		e.logger.Warn("failed to close state db", zap.Error(err))
	}
}

// targetPackage is the identity named by --package and --user.
func (e *env) targetPackage(name string) (domain.UserPackage, error) {
	if name == "" {
		return domain.UserPackage{}, fmt.Errorf("--package is required")
	}
	return domain.UserPackage{Package: name, User: e.manifest.CurrentUser()}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/daemon"
	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

// Hidden daemon command - used for self-exec when spawning the daemon
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reminder daemon",
	Long: `Starts the reminder daemon in the background.
On macOS this also installs a LaunchAgent to auto-start on login.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and reminder status",
	RunE:  runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one location access check in the foreground",
	RunE:  runCheck,
}

var checkSoonCmd = &cobra.Command{
	Use:   "check-soon",
	Short: "Ask the daemon to check soon, after an app was granted background location",
	RunE:  runCheckSoon,
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss",
	Short: "Dismiss the reminder about a package",
	RunE:  runDismiss,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Act on the reminder about a package: open its location settings",
	RunE:  runOpen,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget a package after it was uninstalled or its data cleared",
	RunE:  runReset,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List packages already reminded about",
	RunE:  runHistory,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append a location access to the access log",
	RunE:  runRecord,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change check settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <duration>",
	Short: "Change a setting; values are clamped to the allowed range",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore the default of a setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigReset,
}

var (
	packageName      string
	recordForeground bool
)

func init() {
	for _, c := range []*cobra.Command{dismissCmd, openCmd, resetCmd, recordCmd} {
		c.Flags().StringVar(&packageName, "package", "", "Package name")
	}
	recordCmd.Flags().BoolVar(&recordForeground, "foreground", false, "Record a foreground access")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := createDaemonLogger(paths)
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics()
	e, err := openEnv(logger, metrics)
	if err != nil {
		logger.Error("failed to open state", zap.Error(err))
		return err
	}
	defer e.Close()
	// The daemon outlives its banners, so they report back to the checker.
	e.banner.SetActions(e.checker)

	pm := infra.NewProcessManager()
	d := domain.Daemon{
		PID:        pm.GetCurrentPID(),
		StartedAt:  time.Now(),
		AppVersion: Version,
		User:       e.manifest.CurrentUser(),
		SocketPath: paths.Socket,
	}

	config := daemon.DefaultDaemonConfig()
	config.SocketPath = paths.Socket
	config.MetricsAddr = metricsAddr

	deps := daemon.AgentDeps{
		Engine:   e.checker,
		Settings: e.settings,
		Grants:   e.manifest,
		Registry: infra.NewFileRegistry(paths.DataDir, pm),
		Metrics:  metrics,
		Logger:   logger,
	}
	if runtime.GOOS == "darwin" {
		deps.LaunchAgent = infra.NewLaunchAgentManager(paths)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	agent := daemon.NewAgent(config, deps, d)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(paths.DataDir, pm)

	if alive, _ := registry.IsAlive(); alive {
		fmt.Println("locremind is already running")
		return nil
	}

	if runtime.GOOS == "darwin" {
		launchAgent := infra.NewLaunchAgentManager(paths)
		if !launchAgent.IsInstalled() {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to get executable path: %w", err)
			}
			if err := launchAgent.Install(execPath); err != nil {
				fmt.Printf("Warning: Could not install LaunchAgent: %v\n", err)
				fmt.Println("         (locremind will still run, but won't auto-start)")
			} else {
				fmt.Println("Installed LaunchAgent for auto-start on login")
			}
		}
	}

	var extra []string
	if manifest != "" {
		extra = append(extra, "--manifest", manifest)
	}
	if accessLog != "" {
		extra = append(extra, "--access-log", accessLog)
	}
	if metricsAddr != "" {
		extra = append(extra, "--metrics-addr", metricsAddr)
	}
	if rootCmd.PersistentFlags().Changed("user") {
		extra = append(extra, "--user", fmt.Sprint(userFlag))
	}
	if err := daemon.StartDaemon(paths.DataDir, extra...); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait a moment for the daemon to register
	time.Sleep(500 * time.Millisecond)
	if alive, _ := registry.IsAlive(); !alive {
		return fmt.Errorf("daemon did not come up, see %s", paths.ErrorLogPath())
	}
	fmt.Println("locremind started")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(paths.DataDir, pm)

	fmt.Println("\n=== locremind Status ===")

	entry, err := registry.GetAll()
	switch {
	case err != nil:
		fmt.Printf("Status: UNKNOWN (%v)\n", err)
	case entry == nil || !pm.IsRunning(entry.PID):
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'locremind start' to enable reminders.")
	default:
		fmt.Println("Status: RUNNING")
		if info, err := pm.Describe(entry.PID); err == nil {
			fmt.Printf("Process: %s (pid %d, up %s)\n", info.Name, info.PID, time.Since(info.StartedAt).Round(time.Second))
		}
		if entry.LastHeartbeat > 0 {
			lastBeat := time.Unix(entry.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
		printDaemonStatus(cmd.Context(), entry.SocketPath)
	}

	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()
	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if last, err := e.db.LastNotificationShown(); err == nil && !last.IsZero() {
		fmt.Printf("Last reminder: %s\n", last.Local().Format(time.RFC1123))
	} else {
		fmt.Println("Last reminder: never")
	}
	if n, err := e.checker.CurrentReminder(); err == nil && n != nil {
		fmt.Printf("Visible reminder: %s (user %d)\n", n.Tag, n.User)
	}
	fmt.Printf("Packages reminded about: %d\n", len(e.checker.AlreadyNotified()))

	fmt.Println("\nSettings:")
	for _, bounds := range infra.AllSettings() {
		fmt.Printf("  %s = %s\n", bounds.Key, e.settings.Get(bounds.Key))
	}
	fmt.Println("========================")
	return nil
}

func printDaemonStatus(ctx context.Context, socket string) {
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := daemon.NewControlClient(socket).Status(ctx)
	if err != nil {
		fmt.Printf("Control socket: unreachable (%v)\n", err)
		return
	}
	if report.Running {
		fmt.Println("Check: running")
	}
	if report.LastRun != nil {
		fmt.Printf("Last check: %s\n", report.LastRun.Outcome)
	}
	for _, job := range report.Jobs {
		kind := "soon"
		if job.Periodic {
			kind = "periodic every " + job.Interval
		}
		fmt.Printf("Next check (%s): %s\n", kind, job.NextRun.Local().Format(time.RFC1123))
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	res, err := e.checker.AddLocationNotificationIfNeeded(ctx)
	if err != nil {
		return fmt.Errorf("check cancelled: %w", err)
	}
	if res.Posted != nil {
		fmt.Printf("Reminded about %s (user %d)\n", res.Posted.Package, res.Posted.User)
		return nil
	}
	fmt.Printf("No reminder posted: %s\n", res.Outcome)
	return nil
}

func runCheckSoon(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := daemon.NewControlClient(paths.Socket).CheckSoon(ctx); err != nil {
		return err
	}
	fmt.Println("Location access check scheduled")
	return nil
}

// withTarget opens the environment and resolves --package and --user.
func withTarget(fn func(e *env, pkg domain.UserPackage) error) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	pkg, err := e.targetPackage(packageName)
	if err != nil {
		return err
	}
	return fn(e, pkg)
}

func runDismiss(cmd *cobra.Command, args []string) error {
	return withTarget(func(e *env, pkg domain.UserPackage) error {
		e.checker.OnNotificationDeleted(pkg)
		fmt.Printf("Dismissed %s\n", pkg)
		return nil
	})
}

func runOpen(cmd *cobra.Command, args []string) error {
	return withTarget(func(e *env, pkg domain.UserPackage) error {
		return e.checker.OnNotificationClicked(pkg)
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withTarget(func(e *env, pkg domain.UserPackage) error {
		e.checker.ForgetAboutPackage(pkg)
		fmt.Printf("Forgot %s\n", pkg)
		return nil
	})
}

func runRecord(cmd *cobra.Command, args []string) error {
	return withTarget(func(e *env, pkg domain.UserPackage) error {
		info, err := e.manifest.PackageInfo(pkg)
		if err != nil {
			return err
		}
		return e.access.Append(infra.AccessRecord{
			Time:       time.Now(),
			UID:        info.UID,
			Package:    pkg.Package,
			Op:         domain.OpFineLocation,
			Background: !recordForeground,
		})
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	history := e.checker.AlreadyNotified()
	if len(history) == 0 {
		fmt.Println("No package reminded about yet")
		return nil
	}
	for _, pkg := range history.Sorted() {
		fmt.Printf("%s\t%d\n", pkg.Package, pkg.User)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, bounds := range infra.AllSettings() {
		if len(args) == 1 && args[0] != bounds.Key {
			continue
		}
		fmt.Printf("%s = %s (default %s, range %s..%s)\n",
			bounds.Key, e.settings.Get(bounds.Key), bounds.Default, bounds.Min, bounds.Max)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := e.settings.Set(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", args[0], d)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	e, err := openEnv(logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.settings.Reset(args[0])
}

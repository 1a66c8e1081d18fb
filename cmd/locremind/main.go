// Package main is the CLI entry point for locremind.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "locremind",
	Short: "Background location access reminder",
	Long: `locremind runs in the background and reminds you, at most once per
check interval, about an app that used your location in the background.
Each app is reminded about once; the reminder opens its location settings.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Global flags
var (
	dataDir     string
	manifest    string
	accessLog   string
	metricsAddr string
	userFlag    int
	verbose     bool
	jsonOutput  bool
)

func init() {
	defaults := infra.DetectPaths()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dataDir, "data-dir", defaults.DataDir, "Directory holding history, state and logs")
	flags.StringVar(&manifest, "manifest", "", "Device manifest (default <data-dir>/"+infra.ManifestFileName+")")
	flags.StringVar(&accessLog, "access-log", "", "Access history log (default <data-dir>/"+infra.AccessLogFileName+")")
	flags.StringVar(&metricsAddr, "metrics-addr", infra.GetEnvOrDefault(infra.EnvMetricsAddr, ""), "TCP address serving the control API and /metrics")
	flags.IntVar(&userFlag, "user", 0, "Profile id (default: current_user of the manifest)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(checkSoonCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvePaths applies the path flags.
func resolvePaths() *infra.Paths {
	p := infra.PathsForDataDir(dataDir)
	if manifest != "" {
		p.Manifest = manifest
	}
	if accessLog != "" {
		p.AccessLog = accessLog
	}
	return p
}

// createDaemonLogger logs to files in the data directory.
func createDaemonLogger(paths *infra.Paths) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{paths.LogPath()}
	config.ErrorOutputPaths = []string{paths.ErrorLogPath()}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// createCLILogger only shows warnings unless --verbose is set.
func createCLILogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"go":         runtime.Version(),
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("locremind %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}

// Package infra implements infrastructure concerns.
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// Environment overrides for the static daemon configuration.
const (
	EnvDataDir     = "LOCREMIND_DATA_DIR"
	EnvMetricsAddr = "LOCREMIND_METRICS_ADDR"
)

// LaunchdLabel is the label of the login LaunchAgent.
const LaunchdLabel = "com.locremind.agent"

// File names inside the data directory.
const (
	ManifestFileName  = "device.yaml"
	AccessLogFileName = "access.jsonl"
	SocketFileName    = "locremind.sock"
	LogFileName       = "locremind.log"
	ErrorLogFileName  = "locremind.error.log"
)

// Paths holds the on-disk locations used by the daemon and the CLI.
type Paths struct {
	DataDir   string // history, state db, key, lock, logs
	Manifest  string // device manifest (profiles, packages, grants)
	AccessLog string // JSON-lines access history
	Socket    string // control socket
	PlistDir  string
	PlistPath string
}

// DetectPaths derives the default paths for the invoking user.
// LOCREMIND_DATA_DIR overrides the data directory.
func DetectPaths() *Paths {
	dataDir := GetEnvOrDefault(EnvDataDir, filepath.Join(GetRealUserHome(), ".locremind"))
	return PathsForDataDir(dataDir)
}

// PathsForDataDir lays out all paths under dataDir.
func PathsForDataDir(dataDir string) *Paths {
	home := GetRealUserHome()
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	return &Paths{
		DataDir:   dataDir,
		Manifest:  filepath.Join(dataDir, ManifestFileName),
		AccessLog: filepath.Join(dataDir, AccessLogFileName),
		Socket:    filepath.Join(dataDir, SocketFileName),
		PlistDir:  plistDir,
		PlistPath: filepath.Join(plistDir, LaunchdLabel+".plist"),
	}
}

// LogPath returns the daemon log file path.
func (p *Paths) LogPath() string { return filepath.Join(p.DataDir, LogFileName) }

// ErrorLogPath returns the daemon error log file path.
func (p *Paths) ErrorLogPath() string { return filepath.Join(p.DataDir, ErrorLogFileName) }

// GetEnvOrDefault returns the environment variable key, or fallback if it is unset or empty.
func GetEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns the root home, so SUDO_USER is consulted first.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

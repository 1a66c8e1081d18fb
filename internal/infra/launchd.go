package infra

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// LaunchAgent plist template. The daemon runs in the user's GUI session so it
// can post banners.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>daemon</string>
        <string>--data-dir</string>
        <string>{{.DataDir}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	LogPath        string
	ErrorLogPath   string
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for the login agent.
type LaunchdManagerImpl struct {
	paths  *Paths
	runner CommandRunner
}

// NewLaunchAgentManager creates a LaunchAgent manager for paths.
func NewLaunchAgentManager(paths *Paths) *LaunchdManagerImpl {
	return NewLaunchAgentManagerWithRunner(paths, &RealCommandRunner{})
}

// NewLaunchAgentManagerWithRunner creates a manager with an injectable command runner (for testing).
func NewLaunchAgentManagerWithRunner(paths *Paths, runner CommandRunner) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{paths: paths, runner: runner}
}

// generatePlistContent creates plist content for the given exec path.
func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		DataDir:        m.paths.DataDir,
		LogPath:        m.paths.LogPath(),
		ErrorLogPath:   m.paths.ErrorLogPath(),
	}

	tmpl, err := template.New("plist").Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and loads the plist.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := m.write(execPath); err != nil {
		return err
	}
	return m.runner.Run("launchctl", "load", m.paths.PlistPath)
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	// Not loaded is fine.
	_ = m.runner.Run("launchctl", "unload", m.paths.PlistPath)
	if err := os.Remove(m.paths.PlistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the plist exists.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.paths.PlistPath)
	return err == nil
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.paths.PlistPath
}

// NeedsUpdate checks if the installed plist differs from the expected content.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.paths.PlistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update unloads, rewrites and reloads the plist.
func (m *LaunchdManagerImpl) Update(execPath string) error {
	_ = m.runner.Run("launchctl", "unload", m.paths.PlistPath)
	return m.Install(execPath)
}

func (m *LaunchdManagerImpl) write(execPath string) error {
	if err := os.MkdirAll(m.paths.PlistDir, 0755); err != nil {
		return err
	}
	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	return atomicWriteFile(m.paths.PlistPath, content, 0644)
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)

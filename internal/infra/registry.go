package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

const (
	registryFileName = ".daemon.json"
	registryVersion  = 1
)

// FileRegistry implements domain.DaemonRegistry using a hidden JSON file in
// the data directory. There is at most one daemon per data directory.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register records daemon as the live daemon of the data directory.
// It fails with domain.ErrAlreadyRunning if another live process is registered.
func (r *FileRegistry) Register(daemon domain.Daemon) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	// Serialize concurrent starts.
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if existing, _ := r.GetAll(); existing != nil &&
		existing.PID != daemon.PID && r.processManager.IsRunning(existing.PID) {
		return fmt.Errorf("pid %d: %w", existing.PID, domain.ErrAlreadyRunning)
	}

	now := time.Now()
	startedAt := daemon.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	return r.write(&domain.RegistryEntry{
		Version:       registryVersion,
		PID:           daemon.PID,
		User:          int(daemon.User),
		SocketPath:    daemon.SocketPath,
		StartedAt:     startedAt.Unix(),
		LastHeartbeat: now.Unix(),
		AppVersion:    daemon.AppVersion,
	})
}

// UpdateHeartbeat refreshes the liveness timestamp.
func (r *FileRegistry) UpdateHeartbeat() error {
	entry, err := r.GetAll()
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.New("daemon not registered")
	}
	entry.LastHeartbeat = time.Now().Unix()
	return r.write(entry)
}

// IsAlive reports whether the registered daemon process is running.
func (r *FileRegistry) IsAlive() (bool, error) {
	entry, err := r.GetAll()
	if err != nil {
		return false, err
	}
	if entry == nil || entry.PID == 0 {
		return false, nil
	}
	return r.processManager.IsRunning(entry.PID), nil
}

// GetAll returns the registry entry, or nil if no daemon was registered.
func (r *FileRegistry) GetAll() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return &entry, nil
}

// Clear removes the registry file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *FileRegistry) write(entry *domain.RegistryEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(r.path, data, 0600)
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)

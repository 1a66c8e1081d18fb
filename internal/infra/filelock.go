package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
)

// StateLockFileName guards the persisted history and timestamp across processes.
const StateLockFileName = ".state.lock"

// FileLock is an advisory exclusive lock on a file (flock).
// It implements sync.Locker so it can be layered under an in-process mutex;
// failures are logged and the caller proceeds with the in-process lock only.
type FileLock struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// NewFileLock creates a lock on dataDir/.state.lock.
func NewFileLock(dataDir string, logger *zap.Logger) *FileLock {
	return &FileLock{
		path:   filepath.Join(dataDir, StateLockFileName),
		logger: logger,
	}
}

// Lock blocks until the exclusive lock is held.
func (l *FileLock) Lock() {
	if err := l.lock(); err != nil {
		l.logger.Warn("failed to acquire state lock", zap.String("path", l.path), zap.Error(err))
	}
}

func (l *FileLock) lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.file = f
	return nil
}

// Unlock releases the lock if it is held.
func (l *FileLock) Unlock() {
	if l.file == nil {
		return
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.logger.Warn("failed to release state lock", zap.String("path", l.path), zap.Error(err))
	}
	l.file.Close()
	l.file = nil
}

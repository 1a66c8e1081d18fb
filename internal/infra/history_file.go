package infra

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// AlreadyNotifiedFileName is the file holding the packages a reminder was shown for.
const AlreadyNotifiedFileName = "already_notified_location_access_packages"

// FileHistoryStore implements domain.HistoryStore using a line oriented file.
//
// The format of the file is <package> <serial of user>, e.g.
//
//	com.one.package 5630633845
//	com.two.package 5630633853
//
// Serials are used instead of profile ids because ids are recycled.
type FileHistoryStore struct {
	path     string
	profiles domain.ProfileManager
	logger   *zap.Logger
}

// NewFileHistoryStore creates a history store in dataDir.
func NewFileHistoryStore(dataDir string, profiles domain.ProfileManager, logger *zap.Logger) *FileHistoryStore {
	return NewFileHistoryStoreWithPath(filepath.Join(dataDir, AlreadyNotifiedFileName), profiles, logger)
}

// NewFileHistoryStoreWithPath creates a history store at a specific path (for testing).
func NewFileHistoryStoreWithPath(path string, profiles domain.ProfileManager, logger *zap.Logger) *FileHistoryStore {
	return &FileHistoryStore{
		path:     path,
		profiles: profiles,
		logger:   logger,
	}
}

// Path returns the history file path.
func (s *FileHistoryStore) Path() string {
	return s.path
}

// Load reads the persisted set. A missing file is a first run; any other
// failure loses the history rather than failing the caller.
func (s *FileHistoryStore) Load() domain.PackageSet {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewPackageSet()
		}
		s.logger.Warn("could not read already notified packages",
			zap.String("path", s.path),
			zap.Error(err))
		return domain.NewPackageSet()
	}
	defer f.Close()

	pkgs, err := s.parse(f)
	if err != nil {
		s.logger.Warn("could not read already notified packages",
			zap.String("path", s.path),
			zap.Error(err))
		return domain.NewPackageSet()
	}
	return pkgs
}

func (s *FileHistoryStore) parse(r io.Reader) (domain.PackageSet, error) {
	pkgs := domain.NewPackageSet()

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNum, len(fields))
		}

		serial, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid user serial: %w", lineNum, err)
		}

		user, ok := s.profiles.UserForSerial(serial)
		if !ok {
			s.logger.Info("not restoring state as user is unknown",
				zap.String("line", line))
			continue
		}
		pkgs.Add(domain.UserPackage{Package: fields[0], User: user})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// Save overwrites the file with pkgs.
// Packages of profiles that no longer exist are skipped.
func (s *FileHistoryStore) Save(pkgs domain.PackageSet) error {
	var buf bytes.Buffer
	for _, p := range pkgs.Sorted() {
		serial, err := s.profiles.SerialForUser(p.User)
		if err != nil {
			s.logger.Info("not persisting state as user is unknown",
				zap.String("package", p.Package),
				zap.Int("user", int(p.User)))
			continue
		}
		fmt.Fprintf(&buf, "%s %d\n", p.Package, serial)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := atomicWriteFile(s.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", AlreadyNotifiedFileName, err)
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the same directory, syncs it and
// renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}

// Ensure FileHistoryStore implements domain.HistoryStore.
var _ domain.HistoryStore = (*FileHistoryStore)(nil)

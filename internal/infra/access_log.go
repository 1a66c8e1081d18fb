package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// AccessRecord is one line of the access log.
type AccessRecord struct {
	Time       time.Time `json:"time"`
	UID        int       `json:"uid"`
	Package    string    `json:"package"`
	Op         string    `json:"op"`
	Background bool      `json:"background"`
}

// AccessLog implements domain.AccessHistorySource over a JSON-lines file
// appended to by the platform's access auditing.
type AccessLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex // serializes Append
}

// NewAccessLog creates an access log reader/writer for path.
func NewAccessLog(path string, logger *zap.Logger) *AccessLog {
	return &AccessLog{path: path, logger: logger}
}

// Path returns the log path.
func (l *AccessLog) Path() string {
	return l.path
}

// Append adds rec to the log.
func (l *AccessLog) Append(rec AccessRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create access log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

type opsResult struct {
	ops []domain.AccessOp
	err error
}

// HistoricalOps scans the log on a separate goroutine and returns the
// background access count of every (uid, package, op) triple seen for op in
// [begin, end), in order of first occurrence. It returns ctx.Err() if ctx is
// done first; the scan then finishes in the background and is discarded.
func (l *AccessLog) HistoricalOps(ctx context.Context, op string, begin, end time.Time) ([]domain.AccessOp, error) {
	done := make(chan opsResult, 1)
	go func() {
		ops, err := l.scan(op, begin, end)
		done <- opsResult{ops: ops, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.ops, res.err
	}
}

type opKey struct {
	uid int
	pkg string
	op  string
}

func (l *AccessLog) scan(op string, begin, end time.Time) ([]domain.AccessOp, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	defer f.Close()

	index := make(map[opKey]int)
	var ops []domain.AccessOp
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec AccessRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		if rec.Op != op || rec.Time.Before(begin) || !rec.Time.Before(end) {
			continue
		}

		k := opKey{uid: rec.UID, pkg: rec.Package, op: rec.Op}
		i, ok := index[k]
		if !ok {
			i = len(ops)
			index[k] = i
			ops = append(ops, domain.AccessOp{UID: rec.UID, Package: rec.Package, Op: rec.Op})
		}
		if rec.Background {
			ops[i].BackgroundCount++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}
	if skipped > 0 {
		l.logger.Debug("skipped malformed access log lines", zap.Int("count", skipped))
	}
	return ops, nil
}

// Ensure AccessLog implements domain.AccessHistorySource.
var _ domain.AccessHistorySource = (*AccessLog)(nil)

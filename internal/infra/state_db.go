package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	stateDBName = "state.db"

	// metaLastNotificationShown stores the unix millis of the last posted reminder.
	metaLastNotificationShown = "last_location_access_notification_shown"
)

// StateDB holds the daemon's small mutable state in a SQLCipher encrypted
// SQLite database: the last shown timestamp, dynamic settings and the
// notification tray.
type StateDB struct {
	db     *sql.DB
	dbPath string
}

// OpenStateDB opens (or creates) the encrypted state database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenStateDB(dataDir string, key []byte) (*StateDB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &StateDB{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *StateDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		user_id INTEGER NOT NULL,
		tag TEXT NOT NULL,
		id INTEGER NOT NULL,
		channel TEXT NOT NULL,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		target_package TEXT NOT NULL,
		target_user INTEGER NOT NULL,
		actions TEXT NOT NULL,
		posted_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, tag, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *StateDB) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *StateDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- domain.StateStore implementation ---

// LastNotificationShown returns the time the last reminder was posted.
func (s *StateDB) LastNotificationShown() (time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLastNotificationShown).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", metaLastNotificationShown, err)
	}
	return time.UnixMilli(millis), nil
}

// SetLastNotificationShown records the time a reminder was posted.
func (s *StateDB) SetLastNotificationShown(t time.Time) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaLastNotificationShown, strconv.FormatInt(t.UnixMilli(), 10))
	return err
}

// --- settings ---

// GetSetting returns the raw value of a setting. ok is false if unset.
func (s *StateDB) GetSetting(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting stores the raw value of a setting.
func (s *StateDB) PutSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// DeleteSetting resets a setting to its default.
func (s *StateDB) DeleteSetting(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// --- notification tray ---

func (s *StateDB) putNotification(n domain.Notification) error {
	actions := make([]string, len(n.Actions))
	for i, a := range n.Actions {
		actions[i] = string(a)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO notifications
			(user_id, tag, id, channel, title, text, target_package, target_user, actions, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(n.User), n.Tag, n.ID, n.Channel, n.Title, n.Text,
		n.Target.Package, int(n.Target.User), strings.Join(actions, ","), n.PostedAt.UnixMilli(),
	)
	return err
}

func (s *StateDB) deleteNotification(user domain.UserID, tag string, id int) error {
	_, err := s.db.Exec(`DELETE FROM notifications WHERE user_id = ? AND tag = ? AND id = ?`,
		int(user), tag, id)
	return err
}

func (s *StateDB) listNotifications(user domain.UserID) ([]domain.Notification, error) {
	rows, err := s.db.Query(`
		SELECT tag, id, channel, title, text, target_package, target_user, actions, posted_at
		FROM notifications WHERE user_id = ? ORDER BY posted_at`, int(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n          domain.Notification
			targetUser int
			actions    string
			postedAt   int64
		)
		if err := rows.Scan(&n.Tag, &n.ID, &n.Channel, &n.Title, &n.Text,
			&n.Target.Package, &targetUser, &actions, &postedAt); err != nil {
			return nil, err
		}
		n.User = user
		n.Target.User = domain.UserID(targetUser)
		n.PostedAt = time.UnixMilli(postedAt)
		for _, a := range strings.Split(actions, ",") {
			if a != "" {
				n.Actions = append(n.Actions, domain.NotificationAction(a))
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Ensure StateDB implements domain.StateStore.
var _ domain.StateStore = (*StateDB)(nil)

package infra

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// Setting keys.
const (
	SettingCheckInterval = "location_access_check_interval"
	SettingCheckDelay    = "location_access_check_delay"
	SettingQueryTimeout  = "location_access_query_timeout"
)

// SettingBounds bounds a duration setting.
type SettingBounds struct {
	Key     string
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

// Clamp limits d to [Min, Max].
func (s SettingBounds) Clamp(d time.Duration) time.Duration {
	if d < s.Min {
		return s.Min
	}
	if d > s.Max {
		return s.Max
	}
	return d
}

var knownSettings = map[string]SettingBounds{
	SettingCheckInterval: {Key: SettingCheckInterval, Default: 24 * time.Hour, Min: 15 * time.Minute, Max: 30 * 24 * time.Hour},
	SettingCheckDelay:    {Key: SettingCheckDelay, Default: 10 * time.Minute, Min: 0, Max: 24 * time.Hour},
	SettingQueryTimeout:  {Key: SettingQueryTimeout, Default: 2 * time.Minute, Min: time.Second, Max: time.Hour},
}

// SettingSpecs returns all known settings ordered by key.
func AllSettings() []SettingBounds {
	out := make([]SettingBounds, 0, len(knownSettings))
	for _, s := range knownSettings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DBSettings implements domain.Settings on top of the state database.
// Every accessor reads the database so edits apply to the next evaluation.
type DBSettings struct {
	db     *StateDB
	logger *zap.Logger
}

// NewDBSettings creates settings backed by db.
func NewDBSettings(db *StateDB, logger *zap.Logger) *DBSettings {
	return &DBSettings{db: db, logger: logger}
}

func (s *DBSettings) CheckInterval() time.Duration { return s.Get(SettingCheckInterval) }
func (s *DBSettings) CheckDelay() time.Duration    { return s.Get(SettingCheckDelay) }
func (s *DBSettings) QueryTimeout() time.Duration  { return s.Get(SettingQueryTimeout) }

// Get returns the effective value of key. Unknown keys yield 0.
// Missing or unparsable values fall back to the default.
func (s *DBSettings) Get(key string) time.Duration {
	bounds, ok := knownSettings[key]
	if !ok {
		return 0
	}
	raw, found, err := s.db.GetSetting(key)
	if err != nil {
		s.logger.Warn("failed to read setting, using default",
			zap.String("key", key),
			zap.Error(err))
		return bounds.Default
	}
	if !found {
		return bounds.Default
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		s.logger.Warn("invalid setting value, using default",
			zap.String("key", key),
			zap.String("value", raw))
		return bounds.Default
	}
	return bounds.Clamp(d)
}

// Set validates and stores value for key. The stored value is clamped.
func (s *DBSettings) Set(key, value string) (time.Duration, error) {
	bounds, ok := knownSettings[key]
	if !ok {
		return 0, fmt.Errorf("unknown setting %q", key)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	d = bounds.Clamp(d)
	if err := s.db.PutSetting(key, d.String()); err != nil {
		return 0, fmt.Errorf("failed to store %s: %w", key, err)
	}
	return d, nil
}

// Reset drops the stored value of key.
func (s *DBSettings) Reset(key string) error {
	if _, ok := knownSettings[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	return s.db.DeleteSetting(key)
}

// Ensure DBSettings implements domain.Settings.
var _ domain.Settings = (*DBSettings)(nil)

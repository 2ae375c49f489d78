package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "UTC"
	defaultWeekStart = "monday"
	defaultRefresh   = "*/15 * * * *"
	defaultLogLevel  = "info"
	defaultCachePath = "./var/calmirror.db"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig selects where the mirror is persisted.
type CacheConfig struct {
	// Backend is one of "sqlite" (default), "file" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite database file or the file store directory.
	Path string `yaml:"path" json:"path"`
	// EventTTL is how long a synced event set is served without refetching.
	EventTTL time.Duration `yaml:"event_ttl" json:"event_ttl"`
}

// SyncConfig tunes how responses are classified.
type SyncConfig struct {
	// Classifier is "heuristic", "token" or "full". Empty picks one that
	// fits the source kind.
	Classifier string `yaml:"classifier" json:"classifier"`
	// FullThreshold is the item count above which the heuristic classifier
	// treats a response as a full snapshot.
	FullThreshold int `yaml:"full_threshold" json:"full_threshold"`
}

// RecommendationsConfig sets the per-kind lifetimes of cached
// recommendation payloads.
type RecommendationsConfig struct {
	WeekTTL     time.Duration `yaml:"week_ttl" json:"week_ttl"`
	TomorrowTTL time.Duration `yaml:"tomorrow_ttl" json:"tomorrow_ttl"`
	GeneralTTL  time.Duration `yaml:"general_ttl" json:"general_ttl"`
}

// SourceConfig describes the remote calendar.
type SourceConfig struct {
	// Kind is "google" or "ics". Empty disables syncing.
	Kind string `yaml:"kind" json:"kind"`

	// CalendarID, CredentialsFile and TokenFile apply to google.
	CalendarID      string `yaml:"calendar_id,omitempty" json:"calendar_id,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	TokenFile       string `yaml:"token_file,omitempty" json:"token_file,omitempty"`

	// URL applies to ics.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone date-only events and day buckets are
	// interpreted in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron schedule of background syncs in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Cache           CacheConfig           `yaml:"cache" json:"cache"`
	Sync            SyncConfig            `yaml:"sync" json:"sync"`
	Recommendations RecommendationsConfig `yaml:"recommendations" json:"recommendations"`
	Source          SourceConfig          `yaml:"source" json:"source"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	switch c.Cache.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		c.Cache.Backend = BackendSQLite
	}
	if c.Cache.Path == "" && c.Cache.Backend != BackendMemory {
		if c.Cache.Backend == BackendFile {
			c.Cache.Path = "./var/cache"
		} else {
			c.Cache.Path = defaultCachePath
		}
	}
	if c.Cache.EventTTL <= 0 {
		c.Cache.EventTTL = 5 * time.Minute
	}

	if c.Sync.FullThreshold <= 0 {
		c.Sync.FullThreshold = 20
	}

	if c.Recommendations.WeekTTL <= 0 {
		c.Recommendations.WeekTTL = 7 * 24 * time.Hour
	}
	if c.Recommendations.TomorrowTTL <= 0 {
		c.Recommendations.TomorrowTTL = 24 * time.Hour
	}
	if c.Recommendations.GeneralTTL <= 0 {
		c.Recommendations.GeneralTTL = 24 * time.Hour
	}

	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	if c.Source.Kind == SourceGoogle && c.Source.CalendarID == "" {
		c.Source.CalendarID = "primary"
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	switch c.Sync.Classifier {
	case "", "heuristic", "token", "full":
	default:
		return fmt.Errorf("sync.classifier %q: want heuristic, token or full", c.Sync.Classifier)
	}
	switch c.Source.Kind {
	case "":
	case SourceGoogle:
		if c.Source.CredentialsFile == "" {
			return errors.New("source.credentials_file is required for google")
		}
	case SourceICS:
		if c.Source.URL == "" {
			return errors.New("source.url is required for ics")
		}
	default:
		return fmt.Errorf("source.kind %q: want google or ics", c.Source.Kind)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStartDay maps WeekStart onto a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmirror-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

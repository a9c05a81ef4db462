// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tasknest/backend"
	"tasknest/internal/notification"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Config represents the application configuration
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Cache        CacheConfig        `yaml:"cache"`
	Account      AccountConfig      `yaml:"account"`
	Reminder     ReminderConfig     `yaml:"reminder"`
	Alarm        AlarmConfig        `yaml:"alarm"`
	Notification NotificationConfig `yaml:"notification"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Update       UpdateConfig       `yaml:"update"`
	History      HistoryConfig      `yaml:"history"`
	Logging      LoggingConfig      `yaml:"logging"`
	NoPrompt     bool               `yaml:"no_prompt"`
	OutputFormat string             `yaml:"output_format"`
}

// StoreConfig locates the document store database
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig locates the local key/value cache
type CacheConfig struct {
	Path string `yaml:"path"`
}

// AccountConfig identifies the signed-in account. An empty uid means
// signed out.
type AccountConfig struct {
	UID         string `yaml:"uid"`
	DisplayName string `yaml:"display_name"`
	PhotoURL    string `yaml:"photo_url"`
}

// ReminderConfig holds reminder delivery settings
type ReminderConfig struct {
	Native string `yaml:"native"` // auto, off
}

// AlarmConfig holds alarm playback settings
type AlarmConfig struct {
	Duration     string `yaml:"duration"`
	Player       string `yaml:"player"`
	DefaultSound string `yaml:"default_sound"`
}

// NotificationConfig holds reminder notification channel settings
type NotificationConfig struct {
	OS       OSNotificationConfig       `yaml:"os"`
	Log      LogNotificationConfig      `yaml:"log"`
	Terminal TerminalNotificationConfig `yaml:"terminal"`
}

// OSNotificationConfig controls desktop notifications
type OSNotificationConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Urgency string `yaml:"urgency"`
}

// LogNotificationConfig controls the notification log file
type LogNotificationConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// TerminalNotificationConfig controls the terminal banner
type TerminalNotificationConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// DaemonConfig holds settings of the long-running run command
type DaemonConfig struct {
	StatusAddr       string `yaml:"status_addr"`
	FileWatcher      *bool  `yaml:"file_watcher"`
	DebounceMs       int    `yaml:"debounce_ms"`
	RolloverSchedule string `yaml:"rollover_schedule"`
}

// UpdateConfig holds the minimum-version check settings
type UpdateConfig struct {
	URL      string `yaml:"url"`
	Schedule string `yaml:"schedule"`
}

// HistoryConfig controls the delivered-reminder history
type HistoryConfig struct {
	Enabled       *bool  `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose           bool  `yaml:"verbose"`
	BackgroundEnabled *bool `yaml:"background_enabled"` // background log file for the daemon (default: true)
}

// Defaults for unset fields.
const (
	DefaultStatusAddr       = "127.0.0.1:7787"
	DefaultDebounceMs       = 250
	DefaultRolloverSchedule = "0 0 * * *"
	DefaultUpdateSchedule   = "@every 6h"
	DefaultAlarmDuration    = 5 * time.Second
	DefaultLogMaxSizeMB     = 10
	DefaultHistoryRetention = 30
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{
		Account: AccountConfig{UID: "local"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(GetDataDir(), "tasknest.db")
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(GetCacheDir(), "cache.db")
	}
	if c.Reminder.Native == "" {
		c.Reminder.Native = "auto"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "text"
	}
	c.Store.Path = ExpandPath(c.Store.Path)
	c.Cache.Path = ExpandPath(c.Cache.Path)
	c.Alarm.DefaultSound = ExpandPath(c.Alarm.DefaultSound)
	c.Notification.Log.Path = ExpandPath(c.Notification.Log.Path)
	c.History.Path = ExpandPath(c.History.Path)
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the embedded sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults for unset fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// save writes the embedded sample configuration to path
func save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	if c.Reminder.Native != "auto" && c.Reminder.Native != "off" {
		return fmt.Errorf("invalid reminder.native: %q (must be 'auto' or 'off')", c.Reminder.Native)
	}

	if c.Alarm.Duration != "" {
		d, err := time.ParseDuration(c.Alarm.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration for alarm.duration: %q", c.Alarm.Duration)
		}
		if d < 5*time.Second || d > 10*time.Second {
			return fmt.Errorf("alarm.duration must be between 5s and 10s, got %q", c.Alarm.Duration)
		}
	}

	switch c.Alarm.Player {
	case "", "paplay", "ffplay", "aplay", "bell":
	default:
		return fmt.Errorf("unknown alarm.player: %q", c.Alarm.Player)
	}

	switch c.Notification.OS.Urgency {
	case "", "low", "normal", "critical":
	default:
		return fmt.Errorf("invalid notification.os.urgency: %q", c.Notification.OS.Urgency)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.GetRolloverSchedule()); err != nil {
		return fmt.Errorf("invalid daemon.rollover_schedule: %w", err)
	}
	if _, err := parser.Parse(c.GetUpdateSchedule()); err != nil {
		return fmt.Errorf("invalid update.schedule: %w", err)
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative, got %d", c.History.RetentionDays)
	}

	if c.Update.URL != "" {
		u, err := url.Parse(c.Update.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid update.url: %q", c.Update.URL)
		}
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(noPrompt, verbose bool, outputFormat string) {
	if noPrompt {
		c.NoPrompt = true
	}
	if verbose {
		c.Logging.Verbose = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// GetAccount returns the configured account. UID is empty when signed out.
func (c *Config) GetAccount() backend.Account {
	return backend.Account{
		UID:         c.Account.UID,
		DisplayName: c.Account.DisplayName,
		PhotoURL:    c.Account.PhotoURL,
	}
}

// IsNativeSchedulingAllowed returns false when native scheduling is
// disabled in configuration.
func (c *Config) IsNativeSchedulingAllowed() bool {
	return c.Reminder.Native != "off"
}

// GetAlarmDuration returns the playback bound.
// Returns 5s if not configured or invalid.
func (c *Config) GetAlarmDuration() time.Duration {
	d, err := time.ParseDuration(c.Alarm.Duration)
	if err != nil || d <= 0 {
		return DefaultAlarmDuration
	}
	return d
}

// GetStatusAddr returns the status server listen address. "off" disables it.
func (c *Config) GetStatusAddr() string {
	if c.Daemon.StatusAddr == "" {
		return DefaultStatusAddr
	}
	return c.Daemon.StatusAddr
}

// IsStatusServerEnabled reports whether the daemon serves its status API.
func (c *Config) IsStatusServerEnabled() bool {
	return !strings.EqualFold(c.GetStatusAddr(), "off")
}

// IsFileWatcherEnabled returns true (default) unless the watcher is disabled.
func (c *Config) IsFileWatcherEnabled() bool {
	return boolOr(c.Daemon.FileWatcher, true)
}

// GetDaemonDebounce returns the watcher debounce duration.
// Returns 250ms if not configured.
func (c *Config) GetDaemonDebounce() time.Duration {
	if c.Daemon.DebounceMs <= 0 {
		return DefaultDebounceMs * time.Millisecond
	}
	return time.Duration(c.Daemon.DebounceMs) * time.Millisecond
}

// GetRolloverSchedule returns the cron spec of the day-rollover rebuild.
func (c *Config) GetRolloverSchedule() string {
	if c.Daemon.RolloverSchedule == "" {
		return DefaultRolloverSchedule
	}
	return c.Daemon.RolloverSchedule
}

// GetUpdateSchedule returns the cron spec of the minimum-version check.
func (c *Config) GetUpdateSchedule() string {
	if c.Update.Schedule == "" {
		return DefaultUpdateSchedule
	}
	return c.Update.Schedule
}

// IsBackgroundLoggingEnabled returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	return boolOr(c.Logging.BackgroundEnabled, true)
}

// GetBackgroundLogPath returns the daemon log file path.
func (c *Config) GetBackgroundLogPath() string {
	return filepath.Join(GetCacheDir(), "daemon.log")
}

// IsHistoryEnabled returns true (default) if not configured.
func (c *Config) IsHistoryEnabled() bool {
	return boolOr(c.History.Enabled, true)
}

// GetHistoryPath returns the delivery history database path.
func (c *Config) GetHistoryPath() string {
	if c.History.Path == "" {
		return filepath.Join(GetDataDir(), "history.db")
	}
	return c.History.Path
}

// GetHistoryRetentionDays returns how many days of history are kept.
// Returns 30 if not configured.
func (c *Config) GetHistoryRetentionDays() int {
	if c.History.RetentionDays <= 0 {
		return DefaultHistoryRetention
	}
	return c.History.RetentionDays
}

// NotificationSettings converts the notification section into the
// notification manager's configuration. Channels default to enabled.
func (c *Config) NotificationSettings() *notification.Config {
	logPath := c.Notification.Log.Path
	if logPath == "" {
		logPath = filepath.Join(GetDataDir(), "notifications.log")
	}
	maxSize := c.Notification.Log.MaxSizeMB
	if maxSize <= 0 {
		maxSize = DefaultLogMaxSizeMB
	}
	urgency := c.Notification.OS.Urgency
	if urgency == "" {
		urgency = "normal"
	}

	return &notification.Config{
		Enabled: true,
		OSNotification: notification.OSNotificationConfig{
			Enabled:          boolOr(c.Notification.OS.Enabled, true),
			OnReminder:       true,
			OnUpdateRequired: true,
			Urgency:          urgency,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   boolOr(c.Notification.Log.Enabled, true),
			Path:      logPath,
			MaxSizeMB: maxSize,
		},
		Terminal: notification.TerminalConfig{
			Enabled:     boolOr(c.Notification.Terminal.Enabled, true),
			AccentColor: backend.DefaultAccentColor,
		},
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "tasknest")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "tasknest")
	}
	return filepath.Join(home, fallbackPath, "tasknest")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following XDG spec
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func setXDG(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("HOME", tmpDir)
	return tmpDir
}

// TestConfigAutoCreate verifies first run creates the config file at the
// XDG path from the embedded sample.
func TestConfigAutoCreate(t *testing.T) {
	tmpDir := setXDG(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, "config", "tasknest", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not created at %s: %v", configPath, err)
	}
	if string(data) != GetSampleConfig() {
		t.Error("created config should be the embedded sample")
	}

	if want := filepath.Join(tmpDir, "data", "tasknest", "tasknest.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	if want := filepath.Join(tmpDir, "cache", "tasknest", "cache.db"); cfg.Cache.Path != want {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, want)
	}
	if cfg.Account.UID != "local" {
		t.Errorf("Account.UID = %q, want local", cfg.Account.UID)
	}
	if cfg.OutputFormat != "text" || cfg.NoPrompt {
		t.Errorf("unexpected output defaults: %q %v", cfg.OutputFormat, cfg.NoPrompt)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config should validate: %v", err)
	}
}

func TestSampleConfigIsValidYAML(t *testing.T) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(GetSampleConfig()), &raw); err != nil {
		t.Fatalf("sample config is not valid YAML: %v", err)
	}
	for _, section := range []string{"store", "cache", "account", "reminder", "alarm", "notification", "daemon", "update", "logging"} {
		if _, ok := raw[section]; !ok {
			t.Errorf("sample config is missing section %q", section)
		}
	}
}

// TestConfigCustomPath verifies --config uses the specified file.
func TestConfigCustomPath(t *testing.T) {
	tmpDir := setXDG(t)
	path := filepath.Join(tmpDir, "custom.yaml")
	content := `
store:
  path: ~/tasks/store.db
account:
  uid: u-42
  display_name: Ada
reminder:
  native: "off"
alarm:
  duration: 8s
  player: bell
no_prompt: true
output_format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if want := filepath.Join(tmpDir, "tasks", "store.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	acct := cfg.GetAccount()
	if acct.UID != "u-42" || acct.DisplayName != "Ada" {
		t.Errorf("GetAccount() = %+v", acct)
	}
	if cfg.IsNativeSchedulingAllowed() {
		t.Error("native scheduling should be disabled")
	}
	if cfg.GetAlarmDuration() != 8*time.Second {
		t.Errorf("GetAlarmDuration() = %s", cfg.GetAlarmDuration())
	}
	if !cfg.NoPrompt || cfg.OutputFormat != "json" {
		t.Errorf("unexpected flags: %v %q", cfg.NoPrompt, cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("store: [unclosed")); err == nil {
		t.Error("expected an error for invalid YAML")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"defaults", ``, ""},
		{"bad output format", "output_format: xml", "output_format"},
		{"bad native mode", "reminder:\n  native: always", "reminder.native"},
		{"unparseable duration", "alarm:\n  duration: soon", "alarm.duration"},
		{"duration too short", "alarm:\n  duration: 2s", "between 5s and 10s"},
		{"duration too long", "alarm:\n  duration: 30s", "between 5s and 10s"},
		{"unknown player", "alarm:\n  player: vlc", "alarm.player"},
		{"bad urgency", "notification:\n  os:\n    urgency: extreme", "urgency"},
		{"bad rollover", "daemon:\n  rollover_schedule: every midnight", "rollover_schedule"},
		{"descriptor schedule", "update:\n  schedule: \"@daily\"", ""},
		{"bad update url", "update:\n  url: ftp://example.com/v.json", "update.url"},
		{"https update url", "update:\n  url: https://example.com/version-control.json", ""},
		{"negative retention", "history:\n  retention_days: -1", "retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigGetters(t *testing.T) {
	setXDG(t)
	cfg := DefaultConfig()

	if cfg.GetStatusAddr() != DefaultStatusAddr || !cfg.IsStatusServerEnabled() {
		t.Errorf("status addr default = %q", cfg.GetStatusAddr())
	}
	if !cfg.IsFileWatcherEnabled() {
		t.Error("file watcher should default to enabled")
	}
	if cfg.GetDaemonDebounce() != 250*time.Millisecond {
		t.Errorf("debounce = %s", cfg.GetDaemonDebounce())
	}
	if cfg.GetRolloverSchedule() != "0 0 * * *" || cfg.GetUpdateSchedule() != "@every 6h" {
		t.Errorf("schedules = %q %q", cfg.GetRolloverSchedule(), cfg.GetUpdateSchedule())
	}
	if cfg.GetAlarmDuration() != DefaultAlarmDuration {
		t.Errorf("alarm duration = %s", cfg.GetAlarmDuration())
	}
	if !cfg.IsBackgroundLoggingEnabled() {
		t.Error("background logging should default to enabled")
	}
	if !cfg.IsNativeSchedulingAllowed() {
		t.Error("native scheduling should default to auto")
	}
	if !cfg.IsHistoryEnabled() || cfg.GetHistoryRetentionDays() != DefaultHistoryRetention {
		t.Errorf("history defaults = %v, %d", cfg.IsHistoryEnabled(), cfg.GetHistoryRetentionDays())
	}
	if filepath.Base(cfg.GetHistoryPath()) != "history.db" {
		t.Errorf("history path = %q", cfg.GetHistoryPath())
	}

	off := false
	cfg.Daemon.StatusAddr = "off"
	cfg.Daemon.FileWatcher = &off
	cfg.Logging.BackgroundEnabled = &off
	if cfg.IsStatusServerEnabled() || cfg.IsFileWatcherEnabled() || cfg.IsBackgroundLoggingEnabled() {
		t.Error("explicit false values should be honored")
	}
}

func TestApplyFlags(t *testing.T) {
	setXDG(t)
	cfg := DefaultConfig()
	cfg.ApplyFlags(false, false, "")
	if cfg.NoPrompt || cfg.Logging.Verbose || cfg.OutputFormat != "text" {
		t.Error("empty flags should not change the config")
	}
	cfg.ApplyFlags(true, true, "json")
	if !cfg.NoPrompt || !cfg.Logging.Verbose || cfg.OutputFormat != "json" {
		t.Error("flags should override the config")
	}
}

func TestNotificationSettings(t *testing.T) {
	tmpDir := setXDG(t)
	cfg, err := Parse([]byte("notification:\n  os:\n    enabled: false\n  log:\n    max_size_mb: 2\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	n := cfg.NotificationSettings()
	if !n.Enabled {
		t.Error("notifications should be enabled")
	}
	if n.OSNotification.Enabled {
		t.Error("OS channel should be disabled")
	}
	if !n.OSNotification.OnReminder || n.OSNotification.Urgency != "normal" {
		t.Errorf("OS channel defaults = %+v", n.OSNotification)
	}
	if !n.LogNotification.Enabled || n.LogNotification.MaxSizeMB != 2 {
		t.Errorf("log channel = %+v", n.LogNotification)
	}
	if want := filepath.Join(tmpDir, "data", "tasknest", "notifications.log"); n.LogNotification.Path != want {
		t.Errorf("log path = %q, want %q", n.LogNotification.Path, want)
	}
	if !n.Terminal.Enabled {
		t.Error("terminal channel should default to enabled")
	}
}

func TestExpandPath(t *testing.T) {
	tmpDir := setXDG(t)
	t.Setenv("TASKNEST_TEST_DIR", "/srv/data")

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"~/x.db", filepath.Join(tmpDir, "x.db")},
		{"$TASKNEST_TEST_DIR/x.db", "/srv/data/x.db"},
		{"/abs/x.db", "/abs/x.db"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tasknest/internal/cache"
	"tasknest/internal/capability"
	"tasknest/internal/config"
	"tasknest/internal/daemon"
	"tasknest/internal/history"
	"tasknest/internal/native"
	"tasknest/internal/notification"
	"tasknest/internal/reminder"
	"tasknest/internal/utils"
	"tasknest/internal/versioncheck"
)

// newRunCmd creates the 'run' subcommand hosting the reminder core
func newRunCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep reminders armed until stopped",
		Long: "Attach the configured account, keep the reminder schedule in sync with the task list, " +
			"re-arm at midnight and serve the status API until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()
			c := s.cfg

			bl, err := utils.NewBackgroundLogger(c.GetBackgroundLogPath(), c.IsBackgroundLoggingEnabled())
			if err != nil {
				utils.Warnf("background log disabled: %v", err)
			}
			defer bl.Close()
			if bl.IsEnabled() {
				utils.GetLogger().SetOutput(io.MultiWriter(stderr, bl.Writer()))
				defer utils.GetLogger().SetOutput(stderr)
			}

			caps := capability.Probe(ctx, !c.IsNativeSchedulingAllowed())
			exe, err := os.Executable()
			if err != nil {
				caps.NativeScheduling = false
			}
			var perms capability.PermissionSystem
			if caps.Permissions {
				perms = capability.NewDesktopPermissions(config.GetDataDir())
			}

			notifier, err := notification.NewManager(c.NotificationSettings(), notification.WithTerminalOutput(stdout))
			if err != nil {
				return err
			}
			defer func() { _ = notifier.Close() }()

			hist := openHistory(c)
			defer func() { _ = hist.Close() }()

			var updates *versioncheck.Checker
			if c.Update.URL != "" {
				updates = versioncheck.New(c.Update.URL, Version)
			}

			dcfg := daemon.Config{
				Account:          c.GetAccount(),
				Version:          Version,
				Debounce:         c.GetDaemonDebounce(),
				RolloverSchedule: c.GetRolloverSchedule(),
				UpdateSchedule:   c.GetUpdateSchedule(),
				HistoryRetention: c.GetHistoryRetentionDays(),
			}
			dcfg.PIDPath, _ = cmd.Flags().GetString("pid-file")
			if c.IsStatusServerEnabled() {
				dcfg.StatusAddr = c.GetStatusAddr()
			}
			if addr, _ := cmd.Flags().GetString("status-addr"); addr != "" {
				dcfg.StatusAddr = addr
			}
			if c.IsFileWatcherEnabled() {
				dcfg.WatchPath = c.Store.Path
			}

			d := daemon.New(dcfg, daemon.Deps{
				Engine:      s.engine,
				Refresher:   s.store,
				Caps:        caps,
				Native:      native.New(exe, native.WithConfigPath(cfg.ConfigPath)),
				Permissions: perms,
				Dispatcher:  newDispatcher(c),
				Notifier:    notifier,
				Updates:     updates,
				History:     hist,
			})
			_, _ = fmt.Fprintf(stdout, "tasknest %s running, reminders via %s. Press Ctrl+C to stop.\n",
				Version, d.Scheduler().BackendName())
			if err := d.Run(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Stopped.")
			return nil
		},
	}
	cmd.Flags().String("pid-file", daemon.GetPIDPath(), "PID file guarding against a second instance")
	cmd.Flags().String("status-addr", "", "Status API listen address (overrides the config)")
	return cmd
}

// newFireCmd creates the hidden 'fire' subcommand run by native timers
func newFireCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "fire",
		Short:  "Deliver a scheduled reminder",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, _ := cmd.Flags().GetString("payload")
			p, err := native.DecodePayload(encoded)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			notifier, err := notification.NewManager(s.cfg.NotificationSettings(), notification.WithTerminalOutput(stdout))
			if err != nil {
				return err
			}
			defer func() { _ = notifier.Close() }()

			// The running core mirrors preferences into the cache, so a
			// fired reminder needs no store round trip.
			prefs := cache.LoadPreferences(s.cache)
			disp := newDispatcher(s.cfg)
			now := cfg.now()
			sound, notifyErr := daemon.Deliver(notifier, disp, p, prefs, now)

			hist := openHistory(s.cfg)
			daemon.Record(hist, p, history.SourceNative, now, sound, notifyErr)
			_ = hist.Close()

			disp.Wait()
			return nil
		},
	}
	cmd.Flags().String("payload", "", "Encoded reminder payload")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// openHistory opens the delivery history. A failure disables recording.
func openHistory(c *config.Config) *history.Log {
	h, err := history.Open(c.GetHistoryPath(), history.IsEnabledFromEnv(c.IsHistoryEnabled()))
	if err != nil {
		utils.Warnf("delivery history disabled: %v", err)
		return nil
	}
	return h
}

// newHistoryCmd creates the 'history' subcommand
func newHistoryCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently delivered reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			h, err := history.Open(c.GetHistoryPath(), true)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()

			if prune, _ := cmd.Flags().GetBool("prune"); prune {
				n, err := h.Cleanup(c.GetHistoryRetentionDays(), cfg.now())
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				if cfg.jsonOutput() {
					return writeJSON(stdout, actionResponse{Action: "prune", Count: int(n), Result: ResultActionCompleted})
				}
				completed(stdout, cfg, "Removed %d entries older than %d days", n, c.GetHistoryRetentionDays())
				return nil
			}

			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")
			since := cfg.now().AddDate(0, 0, -days)
			entries, err := h.Since(cmd.Context(), since, limit)
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				if entries == nil {
					entries = []history.Delivery{}
				}
				return writeJSON(stdout, struct {
					Deliveries []history.Delivery `json:"deliveries"`
					Count      int                `json:"count"`
					Result     string             `json:"result"`
				}{entries, len(entries), ResultInfoOnly})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintf(stdout, "No reminders delivered in the last %d days.\n", days)
				return nil
			}
			for _, d := range entries {
				notes := []string{d.Source}
				if d.Sound {
					notes = append(notes, "sound")
				}
				if !d.Notified {
					notes = append(notes, "notification failed: "+d.ErrorType)
				}
				_, _ = fmt.Fprintf(stdout, "%s  %s  (%s)\n", d.At.Local().Format("2006-01-02 15:04"), d.Title, strings.Join(notes, ", "))
			}
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "How many days back to show")
	cmd.Flags().Int("limit", 0, "Show at most this many entries")
	cmd.Flags().Bool("prune", false, "Remove entries older than history.retention_days")
	return cmd
}

// newNotificationsCmd creates the 'notifications' subcommand
func newNotificationsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the latest entries of the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			logCfg := c.NotificationSettings().LogNotification
			if !logCfg.Enabled {
				return utils.WrapWithSuggestion(fmt.Errorf("the notification log is disabled"), "Set notification.log.enabled: true")
			}
			entries, err := notification.ReadLog(logCfg.Path)
			if err != nil {
				return fmt.Errorf("failed to read notification log: %w", err)
			}
			if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			if cfg.jsonOutput() {
				if entries == nil {
					entries = []notification.LogEntry{}
				}
				return writeJSON(stdout, struct {
					Notifications []notification.LogEntry `json:"notifications"`
					Count         int                     `json:"count"`
					Result        string                  `json:"result"`
				}{entries, len(entries), ResultInfoOnly})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(stdout, "No notifications logged.")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(stdout, "%s  %s - %s", e.At.Local().Format("2006-01-02 15:04"), e.Title, e.Message)
				if e.Channel != "" {
					_, _ = fmt.Fprintf(stdout, "  [%s]", e.Channel)
				}
				_, _ = fmt.Fprintln(stdout)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Show at most this many of the latest entries (0 for all)")
	return cmd
}

// newStatusCmd creates the 'status' subcommand
func newStatusCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running core",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			if !c.IsStatusServerEnabled() {
				return fmt.Errorf("the status API is disabled (daemon.status_addr: off)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			client := daemon.NewClient(c.GetStatusAddr())
			st, err := client.State(ctx)
			if err != nil {
				return utils.WrapWithSuggestion(err, "Start it with 'tasknest run'")
			}
			entries, _, err := client.Reminders(ctx)
			if err != nil {
				return err
			}

			if cfg.jsonOutput() {
				return writeJSON(stdout, struct {
					State     any              `json:"state"`
					Reminders []reminder.Entry `json:"reminders"`
					Result    string           `json:"result"`
				}{st, entries, ResultInfoOnly})
			}
			_, _ = fmt.Fprintf(stdout, "Version:   %s (up since %s)\n", st.Version, st.StartedAt.Local().Format(time.DateTime))
			_, _ = fmt.Fprintf(stdout, "Account:   %s (attached: %v, observed: %v)\n", st.Account, st.Attached, st.Observed)
			_, _ = fmt.Fprintf(stdout, "Tasks:     %d open of %d, %d goals\n", st.OpenTasks, st.Tasks, st.Goals)
			_, _ = fmt.Fprintf(stdout, "Reminders: %s, %d armed via %s\n", onOff(st.RemindersEnabled), st.Armed, st.Backend)
			printEntries(stdout, entries)
			return nil
		},
	}
}

func printEntries(stdout io.Writer, entries []reminder.Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintf(stdout, "  %s  %s  %s\n", e.At.Local().Format("15:04"), e.Title, e.Body)
	}
}

// newScheduleCmd creates the 'schedule' subcommand
func newScheduleCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Preview the reminders that would be armed now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			snap := s.engine.Snapshot()
			entries := reminder.Plan(snap.Tasks, snap.Preferences, cfg.now())
			if cfg.jsonOutput() {
				if entries == nil {
					entries = []reminder.Entry{}
				}
				return writeJSON(stdout, struct {
					Reminders []reminder.Entry `json:"reminders"`
					Count     int              `json:"count"`
					Result    string           `json:"result"`
				}{entries, len(entries), ResultInfoOnly})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(stdout, "No reminders left for today.")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "%d reminders for today:\n", len(entries))
			printEntries(stdout, entries)
			return nil
		},
	}
}

// newVersionCmd creates the 'version' subcommand
func newVersionCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose-info")
			platform := runtime.GOOS + "/" + runtime.GOARCH

			if cfg.jsonOutput() {
				return writeJSON(stdout, map[string]string{
					"version":    Version,
					"commit":     Commit,
					"build_date": BuildDate,
					"go_version": runtime.Version(),
					"platform":   platform,
				})
			}
			_, _ = fmt.Fprintf(stdout, "Version: %s\n", Version)
			_, _ = fmt.Fprintf(stdout, "Commit: %s\n", Commit)
			_, _ = fmt.Fprintf(stdout, "Built: %s\n", BuildDate)
			if verbose {
				_, _ = fmt.Fprintf(stdout, "Go Version: %s\n", runtime.Version())
				_, _ = fmt.Fprintf(stdout, "Platform: %s\n", platform)
			}
			return nil
		},
	}
	versionCmd.Flags().BoolP("verbose-info", "v", false, "Show extended build information")
	versionCmd.AddCommand(newVersionCheckCmd(stdout, cfg))
	return versionCmd
}

// newVersionCheckCmd creates the 'version check' subcommand
func newVersionCheckCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether this version is still supported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			if c.Update.URL == "" {
				return fmt.Errorf("no update.url configured")
			}

			checker := versioncheck.New(c.Update.URL, Version)
			info, err := checker.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			evalErr := checker.Evaluate(info)
			if cfg.jsonOutput() {
				return writeJSON(stdout, map[string]any{
					"current":         Version,
					"min_version":     info.MinVersion,
					"latest_version":  info.LatestVersion,
					"update_required": evalErr != nil,
					"download_url":    info.DownloadURL,
				})
			}
			if evalErr != nil {
				return evalErr
			}
			_, _ = fmt.Fprintf(stdout, "Version %s is supported (minimum %s", Version, info.MinVersion)
			if info.LatestVersion != "" {
				_, _ = fmt.Fprintf(stdout, ", latest %s", info.LatestVersion)
			}
			_, _ = fmt.Fprintln(stdout, ")")
			return nil
		},
	}
}

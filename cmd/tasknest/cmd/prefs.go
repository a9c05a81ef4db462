package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tasknest/backend"
	"tasknest/internal/alarm"
	"tasknest/internal/cache"
	"tasknest/internal/capability"
	"tasknest/internal/config"
	"tasknest/internal/daemon"
	"tasknest/internal/native"
)

// newPrefsCmd creates the 'prefs' command group
func newPrefsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()
			return printPreferences(stdout, cfg, s.engine.Snapshot().Preferences)
		},
	}
	prefsCmd.AddCommand(newPrefsSetCmd(stdout, cfg))
	return prefsCmd
}

func printPreferences(stdout io.Writer, cfg *Config, p backend.Preferences) error {
	if cfg.jsonOutput() {
		return writeJSON(stdout, p)
	}
	sound := "(platform default)"
	if !p.AlarmSound.IsZero() {
		sound = fmt.Sprintf("%s (%s)", p.AlarmSound.Name, p.AlarmSound.URI)
	}
	_, _ = fmt.Fprintf(stdout, "Name:       %s\n", p.Profile.Name)
	_, _ = fmt.Fprintf(stdout, "Photo:      %s\n", p.Profile.Photo)
	_, _ = fmt.Fprintf(stdout, "Reminders:  %s\n", onOff(p.RemindersEnabled))
	_, _ = fmt.Fprintf(stdout, "Dark mode:  %s\n", onOff(p.DarkMode))
	_, _ = fmt.Fprintf(stdout, "Accent:     %s\n", p.AccentColor)
	_, _ = fmt.Fprintf(stdout, "Alarm:      %s\n", sound)
	_, _ = fmt.Fprintf(stdout, "Premium:    %s\n", onOff(p.Premium))
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q: use on or off", s)
}

// newPrefsSetCmd creates the 'prefs set' subcommand
func newPrefsSetCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var doc backend.PreferencesDoc

			if flags.Changed("reminders") {
				v, _ := flags.GetString("reminders")
				on, err := parseOnOff(v)
				if err != nil {
					return err
				}
				doc.RemindersEnabled = &on
			}
			if flags.Changed("dark-mode") {
				v, _ := flags.GetString("dark-mode")
				on, err := parseOnOff(v)
				if err != nil {
					return err
				}
				doc.DarkMode = &on
			}
			if flags.Changed("accent") {
				v, _ := flags.GetString("accent")
				doc.AccentColor = &v
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if flags.Changed("name") || flags.Changed("photo") {
				profile := s.engine.Snapshot().Preferences.Profile
				if flags.Changed("name") {
					profile.Name, _ = flags.GetString("name")
				}
				if flags.Changed("photo") {
					profile.Photo, _ = flags.GetString("photo")
				}
				doc.Profile = &profile
			}
			if doc == (backend.PreferencesDoc{}) {
				return fmt.Errorf("nothing to change: pass at least one preference flag")
			}

			what, err := s.engine.UpdatePreferences(ctx, doc)
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return printPreferences(stdout, cfg, s.engine.Snapshot().Preferences)
			}
			if what == 0 {
				completed(stdout, cfg, "Preferences unchanged")
				return nil
			}
			completed(stdout, cfg, "Updated preferences: %s", what)
			return nil
		},
	}
	cmd.Flags().String("reminders", "", "Reminders on or off")
	cmd.Flags().String("dark-mode", "", "Dark mode on or off")
	cmd.Flags().String("accent", "", "Accent color (#rrggbb)")
	cmd.Flags().String("name", "", "Profile name")
	cmd.Flags().String("photo", "", "Profile photo URL")
	return cmd
}

// newDispatcher builds the alarm dispatcher from configuration.
func newDispatcher(c *config.Config) *alarm.Dispatcher {
	return alarm.NewDispatcher(
		alarm.NewPlayer(c.Alarm.Player),
		alarm.WithDuration(c.GetAlarmDuration()),
		alarm.WithDefaultSound(c.Alarm.DefaultSound),
	)
}

// newSoundCmd creates the 'sound' command group
func newSoundCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	soundCmd := &cobra.Command{
		Use:   "sound",
		Short: "Select and test the alarm sound",
	}

	setCmd := &cobra.Command{
		Use:   "set <file>",
		Short: "Select a custom alarm sound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(config.ExpandPath(args[0]))
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("sound file not available: %w", err)
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			return doSelectSound(cmd.Context(), cfg, stdout, path, name)
		},
	}
	setCmd.Flags().String("name", "", "Display name (default: file name)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Go back to the platform default sound",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSelectSound(cmd.Context(), cfg, stdout, "", "")
		},
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Play the selected custom sound once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			prefs := cache.LoadPreferences(s.cache)
			disp := newDispatcher(s.cfg)
			if err := disp.TestSound(prefs.AlarmSound); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Playing %s for %s...\n", prefs.AlarmSound.Name, disp.Duration())
			disp.Wait()
			completed(stdout, cfg, "Done")
			return nil
		},
	}

	soundCmd.AddCommand(setCmd, clearCmd, testCmd)
	return soundCmd
}

func doSelectSound(ctx context.Context, cfg *Config, stdout io.Writer, uri, name string) error {
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	sound, err := s.engine.SelectAlarmSound(ctx, uri, name)
	if err != nil {
		return err
	}
	if cfg.jsonOutput() {
		return writeJSON(stdout, sound)
	}
	if sound.IsZero() {
		completed(stdout, cfg, "Alarm sound reset to the platform default")
		return nil
	}
	completed(stdout, cfg, "Alarm sound: %s (channel %s)", sound.Name, sound.ChannelID)
	return nil
}

// newPremiumCmd creates the 'premium' subcommand
func newPremiumCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:       "premium <on|off>",
		Short:     "Record the premium subscription state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.SetPremium(ctx, on); err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return writeJSON(stdout, map[string]any{"premium": on, "result": ResultActionCompleted})
			}
			completed(stdout, cfg, "Premium: %s", onOff(on))
			return nil
		},
	}
}

// newSignoutCmd creates the 'signout' subcommand
func newSignoutCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Detach the account, clear its cached preferences and cancel its reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.Detach(); err != nil {
				return err
			}
			caps := capability.Probe(ctx, !s.cfg.IsNativeSchedulingAllowed())
			if exe, err := os.Executable(); err == nil && caps.NativeScheduling {
				if err := native.New(exe).CancelAll(ctx); err != nil {
					_, _ = fmt.Fprintf(stdout, "Note: could not cancel scheduled reminders: %v\n", err)
				}
			}
			running := runningDaemonAccount(ctx, s.cfg)
			if cfg.jsonOutput() {
				return writeJSON(stdout, map[string]any{"signed_out": true, "daemon_attached": running, "result": ResultActionCompleted})
			}
			if running != "" {
				_, _ = fmt.Fprintf(stdout, "Note: a running 'tasknest run' is still attached to %s and will re-arm its reminders. Stop it to finish signing out.\n", running)
			}
			completed(stdout, cfg, "Signed out. Clear account.uid in the config file to stay signed out.")
			return nil
		},
	}
}

// runningDaemonAccount returns the account a reachable 'tasknest run' is
// attached to, or "" when none answers.
func runningDaemonAccount(ctx context.Context, c *config.Config) string {
	if !c.IsStatusServerEnabled() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := daemon.NewClient(c.GetStatusAddr()).State(ctx)
	if err != nil || !st.Attached {
		return ""
	}
	return st.Account
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tasknest/internal/utils"
)

// Build information, set at build time
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds the per-invocation CLI settings. Tests inject paths, input
// and a clock through it.
type Config struct {
	NoPrompt     bool
	Verbose      bool
	OutputFormat string
	ConfigPath   string           // empty uses the XDG default
	Stdin        io.Reader        // defaults to os.Stdin
	Now          func() time.Time // defaults to time.Now
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Config) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Config) jsonOutput() bool {
	return c.OutputFormat == "json"
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{}
	}
	rootCmd := NewTaskNest(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) || cfg.jsonOutput() {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			var ews *utils.ErrorWithSuggestion
			if errors.As(err, &ews) && ews.Suggestion != "" {
				_, _ = fmt.Fprintln(stderr, "Hint:", ews.Suggestion)
			}
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewTaskNest creates the root command with injectable IO
func NewTaskNest(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "tasknest",
		Short:   "Tasks, goals and reminders",
		Long:    "tasknest keeps tasks and goals in sync and fires time-based reminders with an alarm sound.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("no-prompt"); v {
				cfg.NoPrompt = true
			}
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				cfg.Verbose = true
			}
			if v, _ := cmd.Flags().GetBool("json"); v {
				cfg.OutputFormat = "json"
			}
			if v, _ := cmd.Flags().GetString("config"); v != "" {
				cfg.ConfigPath = v
			}
			utils.SetVerboseMode(cfg.Verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to the config file")

	cmd.AddCommand(newTaskCmd(stdout, cfg))
	cmd.AddCommand(newGoalCmd(stdout, cfg))
	cmd.AddCommand(newPrefsCmd(stdout, cfg))
	cmd.AddCommand(newSoundCmd(stdout, cfg))
	cmd.AddCommand(newPremiumCmd(stdout, cfg))
	cmd.AddCommand(newSignoutCmd(stdout, cfg))
	cmd.AddCommand(newScheduleCmd(stdout, cfg))
	cmd.AddCommand(newRunCmd(stdout, stderr, cfg))
	cmd.AddCommand(newFireCmd(stdout, cfg))
	cmd.AddCommand(newStatusCmd(stdout, cfg))
	cmd.AddCommand(newHistoryCmd(stdout, cfg))
	cmd.AddCommand(newNotificationsCmd(stdout, cfg))
	cmd.AddCommand(newVersionCmd(stdout, cfg))

	return cmd
}

type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
	Result     string `json:"result"`
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}
	var ews *utils.ErrorWithSuggestion
	if errors.As(err, &ews) {
		response.Suggestion = ews.Suggestion
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// writeJSON prints v as a single JSON line.
func writeJSON(stdout io.Writer, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
	return nil
}

// completed prints a confirmation line, plus the result code in no-prompt
// mode.
func completed(stdout io.Writer, cfg *Config, format string, args ...any) {
	_, _ = fmt.Fprintf(stdout, format+"\n", args...)
	if cfg.NoPrompt {
		_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
	}
}

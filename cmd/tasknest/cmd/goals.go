package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// newGoalCmd creates the 'goal' command group
func newGoalCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	goalCmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage recurring goals (premium)",
	}
	goalCmd.AddCommand(newGoalAddCmd(stdout, cfg))
	goalCmd.AddCommand(newGoalListCmd(stdout, cfg))
	goalCmd.AddCommand(newGoalDeleteCmd(stdout, cfg))
	return goalCmd
}

// newGoalAddCmd creates the 'goal add' subcommand
func newGoalAddCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a goal and create its tasks for the next 30 days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			daysStr, _ := cmd.Flags().GetString("days")
			days, err := utils.ParseWeekdays(daysStr)
			if err != nil {
				return err
			}
			if len(days) == 0 {
				return fmt.Errorf("--days is required")
			}
			hours, _ := cmd.Flags().GetStringSlice("hours")
			frequency, _ := cmd.Flags().GetInt("frequency")

			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			goal, n, err := s.engine.AddGoal(ctx, backend.Goal{
				Title:     args[0],
				Days:      days,
				Hours:     hours,
				Frequency: frequency,
			})
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return writeJSON(stdout, struct {
					Action string        `json:"action"`
					Goal   *backend.Goal `json:"goal"`
					Tasks  int           `json:"tasks"`
					Result string        `json:"result"`
				}{"add", goal, n, ResultActionCompleted})
			}
			completed(stdout, cfg, "Added goal %s with %d tasks", goal.Title, n)
			return nil
		},
	}
	cmd.Flags().String("days", "", "Weekdays, e.g. tue,thu or 2,4 (0 = Sunday)")
	cmd.Flags().StringSlice("hours", nil, "Times of day (HH:MM), comma-separated")
	cmd.Flags().Int("frequency", 0, "Times per day (default: number of hours)")
	return cmd
}

// newGoalListCmd creates the 'goal list' subcommand
func newGoalListCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List goals with their progress",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			goals := s.engine.Snapshot().Goals
			if cfg.jsonOutput() {
				if goals == nil {
					goals = []backend.Goal{}
				}
				return writeJSON(stdout, struct {
					Goals  []backend.Goal `json:"goals"`
					Count  int            `json:"count"`
					Result string         `json:"result"`
				}{goals, len(goals), ResultInfoOnly})
			}
			if len(goals) == 0 {
				_, _ = fmt.Fprintln(stdout, "No goals.")
			}
			for _, g := range goals {
				_, _ = fmt.Fprintf(stdout, "%-24s %3d%%  days %s at %s\n",
					g.Title, g.Progress, formatWeekdays(g.Days), strings.Join(g.Hours, ", "))
			}
			return nil
		},
	}
}

var weekdayAbbrev = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func formatWeekdays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(weekdayAbbrev) {
			names = append(names, weekdayAbbrev[d])
		}
	}
	return strings.Join(names, ",")
}

// newGoalDeleteCmd creates the 'goal delete' subcommand
func newGoalDeleteCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <goal>",
		Aliases: []string{"rm"},
		Short:   "Delete a goal and its tasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			goal, err := s.engine.ResolveGoal(args[0])
			if err != nil {
				return err
			}
			linked := 0
			for _, t := range s.engine.Snapshot().Tasks {
				if t.GoalID == goal.ID {
					linked++
				}
			}
			if err := s.engine.DeleteGoal(ctx, goal.ID); err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return writeJSON(stdout, actionResponse{Action: "delete-goal", Count: linked, Result: ResultActionCompleted})
			}
			completed(stdout, cfg, "Deleted goal %s and %d linked tasks", goal.Title, linked)
			return nil
		},
	}
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

var (
	runsTarget string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Deployment history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent deployment runs",
	Long: `List recent deployment runs, newest first.

Examples:
  hostdeckctl runs list
  hostdeckctl runs list --target shop --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		var runs []*models.DeploymentRun
		if runsTarget != "" {
			t, err := resolveTarget(ctx, store.Targets(), runsTarget, "")
			if err != nil {
				return err
			}
			runs, err = store.Deployments().ListByTarget(ctx, t.ID, runsLimit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
		} else {
			runs, err = store.Deployments().List(ctx, runsLimit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
		}

		if jsonOutput() {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No deployment runs found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-36s  %-10s  %-10s  %-16s  %s\n",
			"ID", "TARGET", "STATUS", "COMMIT", "STARTED", "DURATION")
		fmt.Println(strings.Repeat("-", 125))
		for _, r := range runs {
			fmt.Printf("%-36s  %-36s  %-10s  %-10s  %-16s  %s\n",
				r.ID, r.TargetID, r.Status, truncate(deref(r.CommitHash), 10),
				r.StartedAt.Format("2006-01-02 15:04"), r.Duration().Round(time.Second))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a deployment run with its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.Deployments().GetByID(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run not found: %s", args[0])
		}
		if jsonOutput() {
			return printJSON(run)
		}

		fmt.Printf("\nRun: %s\n", run.ID)
		fmt.Printf("  Target:  %s\n", run.TargetID)
		fmt.Printf("  Status:  %s\n", run.Status)
		fmt.Printf("  Commit:  %s\n", deref(run.CommitHash))
		fmt.Printf("  Message: %s\n", deref(run.CommitMessage))
		fmt.Printf("  Author:  %s\n", deref(run.Author))
		fmt.Printf("  Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
		if run.CompletedAt != nil {
			fmt.Printf("  Took:    %s\n", run.Duration())
		}
		if run.ErrorMessage != "" {
			fmt.Printf("  Error:   %s\n", run.ErrorMessage)
		}
		if run.Output != "" {
			fmt.Printf("\n%s\n", run.Output)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)

	runsListCmd.Flags().StringVar(&runsTarget, "target", "", "only runs of this target (name)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
}

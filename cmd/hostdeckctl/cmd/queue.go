package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var queueLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Job queue administration",
	Long: `Inspect and repair the job queue.

Pass --redis (or set ` + envRedisAddr + `) when the server runs the redis
backend. Failed jobs are always kept in the database.`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		stats := q.Statistics(cmd.Context())
		if jsonOutput() {
			return printJSON(stats)
		}

		fmt.Printf("Pending jobs:       %d\n", stats.PendingJobs)
		fmt.Printf("Failed jobs:        %d\n", stats.FailedJobs)
		fmt.Printf("Failed (last 24h):  %d\n", stats.RecentFailed)
		names := make([]string, 0, len(stats.JobsByQueue))
		for name := range stats.JobsByQueue {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-18s%d\n", name+":", stats.JobsByQueue[name])
		}
		return nil
	},
}

var queuePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		jobs, err := q.ListPending(cmd.Context(), queueLimit)
		if err != nil {
			return fmt.Errorf("list pending jobs: %w", err)
		}
		if jsonOutput() {
			return printJSON(jobs)
		}
		if len(jobs) == 0 {
			fmt.Println("No pending jobs.")
			return nil
		}

		fmt.Printf("\n%-36s  %-12s  %-30s  %-8s  %s\n", "ID", "QUEUE", "JOB", "ATTEMPTS", "AVAILABLE")
		fmt.Println(strings.Repeat("-", 110))
		for _, j := range jobs {
			fmt.Printf("%-36s  %-12s  %-30s  %-8d  %s\n",
				j.ID, j.Queue, truncate(j.DisplayName, 30), j.Attempts, j.AvailableAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		jobs, err := q.ListFailed(cmd.Context(), queueLimit)
		if err != nil {
			return fmt.Errorf("list failed jobs: %w", err)
		}
		if jsonOutput() {
			return printJSON(jobs)
		}
		if len(jobs) == 0 {
			fmt.Println("No failed jobs.")
			return nil
		}

		fmt.Printf("\n%-36s  %-12s  %-24s  %-16s  %s\n", "UUID", "QUEUE", "JOB", "FAILED", "ERROR")
		fmt.Println(strings.Repeat("-", 130))
		for _, j := range jobs {
			firstLine, _, _ := strings.Cut(j.Exception, "\n")
			fmt.Printf("%-36s  %-12s  %-24s  %-16s  %s\n",
				j.UUID, j.Queue, truncate(j.DisplayName, 24), j.FailedAt.Format("2006-01-02 15:04"), truncate(firstLine, 40))
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <uuid>",
	Short: "Push a failed job back onto its queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		ok, err := q.Retry(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		if !ok {
			return fmt.Errorf("failed job not found: %s", args[0])
		}
		fmt.Printf("Failed job %s pushed back onto the queue.\n", args[0])
		return nil
	},
}

var queueRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Push every failed job back onto its queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		n, err := q.RetryAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("retry jobs: %w", err)
		}
		fmt.Printf("%d failed job(s) pushed back onto the queue.\n", n)
		return nil
	},
}

var queueClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Delete all failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		n, err := q.ClearFailed(cmd.Context())
		if err != nil {
			return fmt.Errorf("clear failed jobs: %w", err)
		}
		fmt.Printf("%d failed job(s) deleted.\n", n)
		return nil
	},
}

var queueForgetCmd = &cobra.Command{
	Use:   "forget <uuid>",
	Short: "Delete one failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		q, closeQueue := openQueue(store)
		defer closeQueue()

		ok, err := q.DeleteFailed(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("delete failed job: %w", err)
		}
		if !ok {
			return fmt.Errorf("failed job not found: %s", args[0])
		}
		fmt.Printf("Failed job %s deleted.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatsCmd, queuePendingCmd, queueFailedCmd, queueRetryCmd,
		queueRetryAllCmd, queueClearFailedCmd, queueForgetCmd)

	queuePendingCmd.Flags().IntVar(&queueLimit, "limit", 50, "maximum number of jobs")
	queueFailedCmd.Flags().IntVar(&queueLimit, "limit", 50, "maximum number of jobs")
}

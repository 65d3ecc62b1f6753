package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status, counters and log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "create", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Controller.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "create", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Controller.Cancel(ctx, args[0]); err != nil {
			return err
		}
		job, err := env.Controller.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"job_id": job.ID, "status": job.Status, "cancel_requested": job.CancelRequested})
	},
}

var (
	listStatus string
	listPool   string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter, err := jobFilter(listStatus, listPool, listLimit)
		if err != nil {
			return err
		}
		env, err := initApp(ctx, "create", false)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Controller.List(ctx, filter)
		if err != nil {
			return err
		}
		out := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, map[string]any{
				"id":         j.ID,
				"pool_id":    j.PoolID,
				"status":     j.Status,
				"counters":   j.Counters,
				"created_at": j.CreatedAt,
			})
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func jobFilter(status, poolID string, limit int) (store.JobFilter, error) {
	f := store.JobFilter{Status: model.JobStatus(status), PoolID: poolID, Limit: limit}
	if status != "" && !f.Status.Valid() {
		return f, eris.Errorf("unknown job status %q", status)
	}
	if limit < 0 {
		return f, eris.New("limit must be >= 0")
	}
	return f, nil
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (queued, running, completed, failed, partial)")
	listCmd.Flags().StringVar(&listPool, "pool", "", "filter by pool ID")
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "max jobs to list")
	rootCmd.AddCommand(statusCmd, cancelCmd, listCmd)
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/leadgen"
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a queued job to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "run", true)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := args[0]
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-done:
				return
			case <-ctx.Done():
			}
			// Interrupted: stop admitting work and let the job finish with
			// what it has.
			if err := env.Controller.Cancel(context.WithoutCancel(ctx), jobID); err != nil {
				zap.L().Warn("cancel on interrupt failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}()

		job, err := env.Controller.Run(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var workOnce bool

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Poll the store and run queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "run", true)
		if err != nil {
			return err
		}
		defer env.Close()

		w := newWorker(env.Controller)
		if workOnce {
			n, err := w.RunOnce(ctx)
			zap.L().Info("work: drained queue", zap.Int("jobs", n))
			return err
		}
		return w.Run(ctx)
	},
}

func newWorker(ctrl *leadgen.Controller) *leadgen.Worker {
	return leadgen.NewWorker(ctrl,
		time.Duration(cfg.Worker.PollIntervalSecs)*time.Second,
		cfg.Worker.MaxConcurrentJobs,
	)
}

func init() {
	workCmd.Flags().BoolVar(&workOnce, "once", false, "run every queued job once and exit")
	rootCmd.AddCommand(runCmd, workCmd)
}

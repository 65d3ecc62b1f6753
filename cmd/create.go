package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadgen/internal/leadgen"
)

var (
	createICPPath string
	createRun     bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a lead pool and queue a discovery job from an ICP file",
	Example: `  leadgen create --icp fintech.yaml
  leadgen create --icp fintech.yaml --run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := readRequest(createICPPath)
		if err != nil {
			return err
		}

		mode := "create"
		if createRun {
			mode = "run"
		}
		env, err := initApp(ctx, mode, createRun)
		if err != nil {
			return err
		}
		defer env.Close()

		poolID, jobID, err := env.Controller.CreateJob(ctx, req)
		if err != nil {
			return err
		}
		zap.L().Info("job created", zap.String("pool_id", poolID), zap.String("job_id", jobID))

		if !createRun {
			return printJSON(cmd.OutOrStdout(), map[string]string{"pool_id": poolID, "job_id": jobID})
		}
		job, err := env.Controller.Run(ctx, jobID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

// readRequest loads a job creation request from a YAML file.
func readRequest(path string) (leadgen.CreateRequest, error) {
	var req leadgen.CreateRequest
	if path == "" {
		return req, eris.New("--icp is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return req, eris.Wrap(err, "read icp file")
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, eris.Wrapf(err, "parse icp file %s", path)
	}
	return req, nil
}

func init() {
	createCmd.Flags().StringVar(&createICPPath, "icp", "", "path to a YAML job request (pool_name, icp, providers, templates)")
	createCmd.Flags().BoolVar(&createRun, "run", false, "run the job immediately instead of leaving it for a worker")
	rootCmd.AddCommand(createCmd)
}

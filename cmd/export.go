package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/model"
)

var (
	exportOut      string
	exportMinScore float64
	exportStatuses []string
)

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's leads to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts, err := exportOptions(exportMinScore, exportStatuses)
		if err != nil {
			return err
		}
		env, err := initApp(ctx, "create", false)
		if err != nil {
			return err
		}
		defer env.Close()

		companies, contacts, err := env.Controller.Leads(ctx, args[0])
		if err != nil {
			return err
		}
		if err := export.SaveXLSX(exportOut, companies, contacts, opts); err != nil {
			return err
		}
		zap.L().Info("leads exported",
			zap.String("job_id", args[0]),
			zap.String("path", exportOut),
			zap.Int("companies", len(companies)),
			zap.Int("contacts", len(contacts)),
		)
		return nil
	},
}

func exportOptions(minScore float64, statuses []string) (export.Options, error) {
	opts := export.Options{MinScore: minScore}
	for _, s := range statuses {
		st, err := model.ParseVerificationStatus(s)
		if err != nil {
			return opts, err
		}
		opts.Statuses = append(opts.Statuses, st)
	}
	return opts, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "leads.xlsx", "output workbook path")
	exportCmd.Flags().Float64Var(&exportMinScore, "min-score", 0, "drop contacts scoring below this")
	exportCmd.Flags().StringSliceVar(&exportStatuses, "status", nil, "keep only these verification statuses (valid, risky, ...)")
	rootCmd.AddCommand(exportCmd)
}

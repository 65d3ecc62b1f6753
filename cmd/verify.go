package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/leadgen"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/verify"
)

var verifyNoCache bool

var verifyCmd = &cobra.Command{
	Use:   "verify <email>...",
	Short: "Run the verification stages against one or more addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("verify"); err != nil {
			return err
		}

		var cache verify.Cache = verify.NewMemoryCache()
		if !verifyNoCache {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			cache = st
		}

		stager, err := leadgen.NewStager(cfg.Verification, cache)
		if err != nil {
			return err
		}
		results := make([]model.VerificationResult, 0, len(args))
		for _, addr := range args {
			results = append(results, stager.Verify(ctx, addr))
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyNoCache, "no-cache", false, "use an in-memory cache instead of the store's verification cache")
	rootCmd.AddCommand(verifyCmd)
}

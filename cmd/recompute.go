package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearcost/tbm-engine/internal/model"
)

var (
	recomputeCompany string
	recomputePeriod  string
	recomputeAll     bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild derived costs and the ROI snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		period, err := model.ParsePeriod(recomputePeriod)
		if err != nil {
			return eris.Wrap(err, "parse period")
		}
		if !recomputeAll && recomputeCompany == "" {
			return eris.New("either --company or --all is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng, err := initEngine(st)
		if err != nil {
			return err
		}

		if recomputeAll {
			results, err := eng.RecomputeAll(ctx, period)
			if err != nil {
				return eris.Wrap(err, "recompute all")
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					zap.L().Error("company recompute failed",
						zap.String("company", r.CompanyID), zap.Error(r.Err))
				}
			}
			zap.L().Info("recompute complete",
				zap.Int("companies", len(results)),
				zap.Int("failed", failed),
			)
			if failed > 0 {
				return eris.Errorf("%d of %d companies failed", failed, len(results))
			}
			return nil
		}

		snap, err := eng.Recompute(ctx, recomputeCompany, period)
		if err != nil {
			return eris.Wrap(err, "recompute")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeCompany, "company", "", "company ID")
	recomputeCmd.Flags().StringVar(&recomputePeriod, "period", "", "period, YYYY-MM (required)")
	recomputeCmd.Flags().BoolVar(&recomputeAll, "all", false, "recompute every company with data in the period")
	_ = recomputeCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(recomputeCmd)
}

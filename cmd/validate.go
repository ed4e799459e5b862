package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clearcost/tbm-engine/internal/engine"
	"github.com/clearcost/tbm-engine/internal/model"
)

var (
	validateCompany string
	validatePeriod  string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check stored weight groups for a company and period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		period, err := model.ParsePeriod(validatePeriod)
		if err != nil {
			return eris.Wrap(err, "parse period")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		towerWeights, err := st.LoadTowerWeights(ctx, validateCompany, period)
		if err != nil {
			return eris.Wrap(err, "load tower weights")
		}
		benefitWeights, err := st.LoadBenefitWeights(ctx, validateCompany, period)
		if err != nil {
			return eris.Wrap(err, "load benefit weights")
		}

		failed := false
		if err := engine.ValidateTowerWeights(towerWeights, cfg.Engine.Tolerance); err != nil {
			failed = true
			fmt.Printf("tower weights: %v\n", err)
		} else {
			fmt.Printf("tower weights: ok (%d rows)\n", len(towerWeights))
		}
		if err := engine.ValidateBenefitWeights(benefitWeights, cfg.Engine.Tolerance); err != nil {
			failed = true
			fmt.Printf("benefit weights: %v\n", err)
		} else {
			fmt.Printf("benefit weights: ok (%d rows)\n", len(benefitWeights))
		}

		if failed {
			return eris.New("validation failed")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateCompany, "company", "", "company ID (required)")
	validateCmd.Flags().StringVar(&validatePeriod, "period", "", "period, YYYY-MM (required)")
	_ = validateCmd.MarkFlagRequired("company")
	_ = validateCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(validateCmd)
}

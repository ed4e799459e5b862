package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearcost/tbm-engine/internal/importer"
	"github.com/clearcost/tbm-engine/internal/model"
)

var (
	importKind    string
	importCompany string
	importPeriod  string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load allocation inputs from a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		period, err := model.ParsePeriod(importPeriod)
		if err != nil {
			return eris.Wrap(err, "parse period")
		}

		kind := importer.Kind(importKind)
		known := false
		for _, k := range importer.Kinds() {
			if k == kind {
				known = true
				break
			}
		}
		if !known {
			return eris.Errorf("unknown kind %q, expected one of: %s", importKind, kindList())
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		header, rows, err := importer.ReadFile(args[0])
		if err != nil {
			return err
		}

		im := importer.New(st, cfg.Engine.Tolerance)
		res, err := im.Import(ctx, kind, importCompany, period, header, rows)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		for _, warn := range res.Warnings {
			zap.L().Warn("row skipped", zap.String("file", args[0]), zap.String("reason", warn))
		}
		fmt.Printf("imported %d rows (%d skipped)\n", res.Imported, len(res.Warnings))
		return nil
	},
}

func kindList() string {
	var names []string
	for _, k := range importer.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func init() {
	importCmd.Flags().StringVar(&importKind, "kind", "", "input kind: "+kindList()+" (required)")
	importCmd.Flags().StringVar(&importCompany, "company", "", "company ID (required)")
	importCmd.Flags().StringVar(&importPeriod, "period", "", "period, YYYY-MM (required)")
	_ = importCmd.MarkFlagRequired("kind")
	_ = importCmd.MarkFlagRequired("company")
	_ = importCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(importCmd)
}

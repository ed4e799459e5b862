package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/clearcost/tbm-engine/internal/model"
	"github.com/clearcost/tbm-engine/internal/store"
)

var (
	snapshotCompany string
	snapshotPeriod  string
	snapshotFrom    string
	snapshotTo      string
	snapshotLimit   int
	snapshotOffset  int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect stored ROI snapshots",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one ROI snapshot as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		period, err := model.ParsePeriod(snapshotPeriod)
		if err != nil {
			return eris.Wrap(err, "parse period")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := st.GetRoiSnapshot(ctx, snapshotCompany, period)
		if err != nil {
			return eris.Wrap(err, "get snapshot")
		}
		if snap == nil {
			return eris.Errorf("no snapshot for %s %s", snapshotCompany, snapshotPeriod)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ROI snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter := store.SnapshotFilter{
			CompanyID: snapshotCompany,
			Limit:     snapshotLimit,
			Offset:    snapshotOffset,
		}
		if snapshotFrom != "" {
			from, err := model.ParsePeriod(snapshotFrom)
			if err != nil {
				return eris.Wrap(err, "parse --from")
			}
			filter.From = &from
		}
		if snapshotTo != "" {
			to, err := model.ParsePeriod(snapshotTo)
			if err != nil {
				return eris.Wrap(err, "parse --to")
			}
			filter.To = &to
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snaps, err := st.ListRoiSnapshots(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list snapshots")
		}

		p := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		p.Fprintln(w, "COMPANY\tPERIOD\tCOST\tBENEFIT\tNET\tROI%")
		for _, s := range snaps {
			p.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.CompanyID, s.Period.Format("2006-01"),
				money(p, s.TotalCost), money(p, s.TotalBenefit), money(p, s.Net),
				s.RoiPct.StringFixed(2))
		}
		return w.Flush()
	},
}

// money renders a decimal amount with locale-aware thousands grouping.
// The whole part is formatted from the decimal's own digits, so large
// amounts keep their precision.
func money(p *message.Printer, d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	s := strings.TrimPrefix(fixed, "-")
	dot := strings.IndexByte(s, '.')
	whole, err := strconv.ParseInt(s[:dot], 10, 64)
	if err != nil {
		return fixed
	}
	out := p.Sprintf("%d", whole) + s[dot:]
	if len(s) != len(fixed) {
		out = "-" + out
	}
	return out
}

func init() {
	snapshotShowCmd.Flags().StringVar(&snapshotCompany, "company", "", "company ID (required)")
	snapshotShowCmd.Flags().StringVar(&snapshotPeriod, "period", "", "period, YYYY-MM (required)")
	_ = snapshotShowCmd.MarkFlagRequired("company")
	_ = snapshotShowCmd.MarkFlagRequired("period")

	snapshotListCmd.Flags().StringVar(&snapshotCompany, "company", "", "filter by company ID")
	snapshotListCmd.Flags().StringVar(&snapshotFrom, "from", "", "earliest period, YYYY-MM")
	snapshotListCmd.Flags().StringVar(&snapshotTo, "to", "", "latest period, YYYY-MM")
	snapshotListCmd.Flags().IntVar(&snapshotLimit, "limit", 50, "maximum rows")
	snapshotListCmd.Flags().IntVar(&snapshotOffset, "offset", 0, "rows to skip")

	snapshotCmd.AddCommand(snapshotShowCmd, snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// Package importer loads raw allocation inputs from CSV and XLSX
// files into the store. Files are header-mapped, so column order does
// not matter; bad lines are collected as warnings instead of aborting
// the whole file.
package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/model"
	"github.com/clearcost/tbm-engine/internal/store"
)

// Kind identifies which input table a file feeds.
type Kind string

const (
	KindOperationalInputs Kind = "operational-inputs"
	KindTowerWeights      Kind = "tower-weights"
	KindBenefitWeights    Kind = "benefit-weights"
	KindAssumptions       Kind = "assumptions"
	KindSpend             Kind = "spend"
	KindPoolRules         Kind = "pool-rules"
	KindTowerRules        Kind = "tower-rules"
	KindSolutions         Kind = "solutions"
)

// Kinds lists all importable kinds in stable order.
func Kinds() []Kind {
	return []Kind{
		KindOperationalInputs, KindTowerWeights, KindBenefitWeights,
		KindAssumptions, KindSpend, KindPoolRules, KindTowerRules, KindSolutions,
	}
}

// Result summarizes one import: rows written and per-line warnings
// for rows that were skipped.
type Result struct {
	Imported int
	Warnings []string
}

// Importer parses tabular files and writes the rows through the store.
type Importer struct {
	store     store.Store
	tolerance float64
}

func New(st store.Store, tolerance float64) *Importer {
	return &Importer{store: st, tolerance: tolerance}
}

// Import parses header+rows as the given kind, scoped to one company
// and period, and upserts the parsed rows.
func (im *Importer) Import(ctx context.Context, kind Kind, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	period = model.NormalizePeriod(period)

	switch kind {
	case KindOperationalInputs:
		return im.importOperationalInputs(ctx, companyID, period, header, rows)
	case KindTowerWeights:
		return im.importTowerWeights(ctx, companyID, period, header, rows)
	case KindBenefitWeights:
		return im.importBenefitWeights(ctx, companyID, period, header, rows)
	case KindAssumptions:
		return im.importAssumptions(ctx, companyID, period, header, rows)
	case KindSpend:
		return im.importSpend(ctx, companyID, period, header, rows)
	case KindPoolRules:
		return im.importRules(ctx, model.RuleCostPoolToTower, companyID, period, header, rows)
	case KindTowerRules:
		return im.importRules(ctx, model.RuleTowerToSolution, companyID, period, header, rows)
	case KindSolutions:
		return im.importSolutions(ctx, companyID, period, header, rows)
	}
	return nil, eris.Errorf("importer: unknown kind %q", kind)
}

func (im *Importer) importOperationalInputs(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header, "department", "employees", "budget")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.OperationalInput
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		dept := get("department")
		if dept == "" {
			res.warnf(line, "empty department")
			continue
		}
		employees, err := strconv.Atoi(get("employees"))
		if err != nil || employees < 0 {
			res.warnf(line, "bad employees %q", get("employees"))
			continue
		}
		budget, err := parseAmount(get("budget"))
		if err != nil {
			res.warnf(line, "bad budget %q", get("budget"))
			continue
		}
		out = append(out, model.OperationalInput{
			CompanyID: companyID, Period: period,
			Department: dept, Employees: employees, Budget: budget,
		})
	}
	if err := im.store.UpsertOperationalInputs(ctx, out); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (im *Importer) importTowerWeights(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header, "department", "tower", "weight_pct")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.TowerWeight
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		dept, tower := get("department"), get("tower")
		if dept == "" || tower == "" {
			res.warnf(line, "empty department or tower")
			continue
		}
		weight, err := parsePct(get("weight_pct"))
		if err != nil {
			res.warnf(line, "bad weight_pct %q", get("weight_pct"))
			continue
		}
		out = append(out, model.TowerWeight{
			CompanyID: companyID, Period: period,
			Department: dept, Tower: tower, WeightPct: weight,
		})
	}
	if err := im.store.UpsertTowerWeights(ctx, out, im.tolerance); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (im *Importer) importBenefitWeights(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header, "category", "weight_pct")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.BenefitWeight
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		category := model.BenefitCategory(strings.ToUpper(get("category")))
		if !category.Valid() {
			res.warnf(line, "unknown category %q", get("category"))
			continue
		}
		weight, err := parsePct(get("weight_pct"))
		if err != nil {
			res.warnf(line, "bad weight_pct %q", get("weight_pct"))
			continue
		}
		out = append(out, model.BenefitWeight{
			CompanyID: companyID, Period: period,
			Category: category, WeightPct: weight,
		})
	}
	if err := im.store.UpsertBenefitWeights(ctx, out, im.tolerance); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (im *Importer) importAssumptions(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header,
		"revenue_uplift", "productivity_gain_hours", "avg_loaded_rate", "risk_avoided_value", "cost_avoided")
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, eris.Errorf("importer: assumptions file must contain exactly one row, got %d", len(rows))
	}

	get := fieldGetter(rows[0], index)
	var a model.BenefitAssumptions
	for _, f := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"revenue_uplift", &a.RevenueUplift},
		{"productivity_gain_hours", &a.ProductivityGainHours},
		{"avg_loaded_rate", &a.AvgLoadedRate},
		{"risk_avoided_value", &a.RiskAvoidedValue},
		{"cost_avoided", &a.CostAvoided},
	} {
		v, err := parseAmount(get(f.key))
		if err != nil {
			return nil, eris.Wrapf(err, "importer: bad %s", f.key)
		}
		*f.dst = v
	}

	if err := im.store.UpsertBenefitAssumptions(ctx, companyID, period, a); err != nil {
		return nil, err
	}
	return &Result{Imported: 1}, nil
}

func (im *Importer) importSpend(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header, "department_id", "cost_pool_id", "amount")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.CostPoolSpend
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		dept, pool := get("department_id"), get("cost_pool_id")
		if dept == "" || pool == "" {
			res.warnf(line, "empty department_id or cost_pool_id")
			continue
		}
		amount, err := parseAmount(get("amount"))
		if err != nil {
			res.warnf(line, "bad amount %q", get("amount"))
			continue
		}
		out = append(out, model.CostPoolSpend{
			CompanyID: companyID, Period: period,
			DepartmentID: dept, CostPoolID: pool, Amount: amount,
		})
	}
	if err := im.store.UpsertCostPoolSpend(ctx, out); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (im *Importer) importRules(ctx context.Context, stage model.RuleStage, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	// Cost-pool rules are keyed on (department, pool); without a
	// department the rule can never match any spend row.
	required := []string{"source_id", "target_id", "percent"}
	if stage == model.RuleCostPoolToTower {
		required = append(required, "department_id")
	}
	index, err := requireHeaders(header, required...)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.AllocationRule
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		source, target := get("source_id"), get("target_id")
		if source == "" || target == "" {
			res.warnf(line, "empty source_id or target_id")
			continue
		}
		if stage == model.RuleCostPoolToTower && get("department_id") == "" {
			res.warnf(line, "empty department_id")
			continue
		}
		percent, err := parsePct(get("percent"))
		if err != nil || percent < 0 || percent > 1 {
			res.warnf(line, "bad percent %q", get("percent"))
			continue
		}
		out = append(out, model.AllocationRule{
			CompanyID: companyID, Period: period,
			DepartmentID: get("department_id"),
			SourceID:     source, TargetID: target, Percent: percent,
		})
	}
	if err := im.store.UpsertAllocationRules(ctx, stage, out); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (im *Importer) importSolutions(ctx context.Context, companyID string, period time.Time, header []string, rows [][]string) (*Result, error) {
	index, err := requireHeaders(header, "solution_id", "owner_department")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var out []model.Solution
	for i, record := range rows {
		get := fieldGetter(record, index)
		line := i + 2

		id, owner := get("solution_id"), get("owner_department")
		if id == "" || owner == "" {
			res.warnf(line, "empty solution_id or owner_department")
			continue
		}
		out = append(out, model.Solution{
			CompanyID: companyID, Period: period,
			SolutionID: id, Name: get("name"),
			OwnerDept: owner, BusinessTag: get("business_tag"),
		})
	}
	if err := im.store.UpsertSolutions(ctx, out); err != nil {
		return nil, err
	}
	res.Imported = len(out)
	return res, nil
}

func (r *Result) warnf(line int, format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("line %d: ", line)+fmt.Sprintf(format, args...))
}

func mapHeaders(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		index[key] = i
	}
	return index
}

func requireHeaders(header []string, required ...string) (map[string]int, error) {
	index := mapHeaders(header)
	var missing []string
	for _, key := range required {
		if _, ok := index[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("importer: missing required headers: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func fieldGetter(record []string, index map[string]int) func(string) string {
	return func(key string) string {
		pos, ok := index[key]
		if !ok || pos >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[pos])
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parsePct(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

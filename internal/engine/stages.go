package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/model"
)

// DefaultCostPool is the implicit cost pool that holds each
// department's operational budget. Tower weight rows act as its
// allocation rules, so the simple budget path and the extended
// cost-pool ledger path flow through the same propagator.
const DefaultCostPool = "DEPARTMENT_BUDGET"

// Inputs bundles every raw table for one (company, period). Loaded by
// the orchestrator in one pass so each stage is a pure function.
type Inputs struct {
	CompanyID      string
	Period         time.Time
	Operational    []model.OperationalInput
	TowerWeights   []model.TowerWeight
	BenefitWeights []model.BenefitWeight
	Assumptions    *model.BenefitAssumptions
	Spend          []model.CostPoolSpend
	CpToRt         []model.AllocationRule
	RtToSolution   []model.AllocationRule
	Solutions      []model.Solution
}

// BuildTowerCosts runs stage 1 (cost pool → resource tower) in
// Overwrite mode. Department budgets are synthesized as spend at the
// default cost pool with their tower weight group as rules.
func BuildTowerCosts(in Inputs, defaultPool string) ([]model.TowerCost, []SpendRow, error) {
	if defaultPool == "" {
		defaultPool = DefaultCostPool
	}

	var spend []SpendRow
	for _, op := range in.Operational {
		if op.Budget.IsZero() {
			continue
		}
		spend = append(spend, SpendRow{
			Key:    JoinKey(op.Department, defaultPool),
			Amount: op.Budget,
		})
	}
	for _, s := range in.Spend {
		spend = append(spend, SpendRow{
			Key:    JoinKey(s.DepartmentID, s.CostPoolID),
			Amount: s.Amount,
		})
	}

	var rules []RuleRow
	for _, w := range in.TowerWeights {
		rules = append(rules, RuleRow{
			SourceKey: JoinKey(w.Department, defaultPool),
			TargetKey: JoinKey(w.Tower, w.Department),
			Percent:   w.WeightPct,
		})
	}
	for _, r := range in.CpToRt {
		rules = append(rules, RuleRow{
			SourceKey: JoinKey(r.DepartmentID, r.SourceID),
			TargetKey: JoinKey(r.TargetID, r.DepartmentID),
			Percent:   r.Percent,
		})
	}

	out, unmatched, err := Propagate(spend, rules, Overwrite)
	if err != nil {
		return nil, nil, err
	}

	costs := make([]model.TowerCost, 0, len(out))
	for _, key := range SortedKeys(out) {
		parts := SplitKey(key)
		costs = append(costs, model.TowerCost{
			CompanyID:  in.CompanyID,
			Period:     in.Period,
			Tower:      parts[0],
			Department: parts[1],
			Amount:     out[key],
		})
	}
	return costs, unmatched, nil
}

// BuildSolutionCosts runs stage 2 (resource tower → solution) in
// Accumulate mode over the persisted stage-1 output.
func BuildSolutionCosts(in Inputs, towerCosts []model.TowerCost) ([]model.SolutionCost, []SpendRow, error) {
	spend := make([]SpendRow, 0, len(towerCosts))
	for _, tc := range towerCosts {
		spend = append(spend, SpendRow{Key: tc.Tower, Amount: tc.Amount})
	}

	rules := make([]RuleRow, 0, len(in.RtToSolution))
	for _, r := range in.RtToSolution {
		rules = append(rules, RuleRow{SourceKey: r.SourceID, TargetKey: r.TargetID, Percent: r.Percent})
	}

	out, unmatched, err := Propagate(spend, rules, Accumulate)
	if err != nil {
		return nil, nil, err
	}

	costs := make([]model.SolutionCost, 0, len(out))
	for _, key := range SortedKeys(out) {
		costs = append(costs, model.SolutionCost{
			CompanyID:  in.CompanyID,
			Period:     in.Period,
			SolutionID: key,
			Amount:     out[key],
		})
	}
	return costs, unmatched, nil
}

// BuildBusinessCosts runs stage 3 (solution → business tag) in
// Accumulate mode. Each solution rolls up in full to its owner
// department's business tag; tagOverrides remaps department → tag.
func BuildBusinessCosts(in Inputs, solutionCosts []model.SolutionCost, tagOverrides map[string]string) ([]model.BusinessCost, []SpendRow, error) {
	spend := make([]SpendRow, 0, len(solutionCosts))
	for _, sc := range solutionCosts {
		spend = append(spend, SpendRow{Key: sc.SolutionID, Amount: sc.Amount})
	}

	rules := make([]RuleRow, 0, len(in.Solutions))
	for _, sol := range in.Solutions {
		tag := sol.BusinessTag
		if tag == "" {
			tag = sol.OwnerDept
		}
		if override, ok := tagOverrides[sol.OwnerDept]; ok {
			tag = override
		}
		rules = append(rules, RuleRow{
			SourceKey: sol.SolutionID,
			TargetKey: JoinKey(sol.OwnerDept, tag),
			Percent:   1,
		})
	}

	out, unmatched, err := Propagate(spend, rules, Accumulate)
	if err != nil {
		return nil, nil, err
	}

	costs := make([]model.BusinessCost, 0, len(out))
	for _, key := range SortedKeys(out) {
		parts := SplitKey(key)
		costs = append(costs, model.BusinessCost{
			CompanyID:   in.CompanyID,
			Period:      in.Period,
			Department:  parts[0],
			BusinessTag: parts[1],
			Amount:      out[key],
		})
	}
	return costs, unmatched, nil
}

// TotalTowerCost sums stage-1 output. This is the totalCost fed into
// the ROI snapshot; it equals the total input budget when every
// weight group is valid and complete.
func TotalTowerCost(costs []model.TowerCost) decimal.Decimal {
	total := decimal.Zero
	for _, c := range costs {
		total = total.Add(c.Amount)
	}
	return total
}

// SumUnmatched totals the amounts of spend rows dropped for lack of a
// matching rule.
func SumUnmatched(rows []SpendRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

// TotalEmployees sums headcount across operational inputs.
func TotalEmployees(rows []model.OperationalInput) int {
	var n int
	for _, r := range rows {
		n += r.Employees
	}
	return n
}

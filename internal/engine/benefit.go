package engine

import (
	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/model"
)

// BenefitResult is the synthesized benefit for one company/period.
type BenefitResult struct {
	Total       decimal.Decimal
	PerCategory map[model.BenefitCategory]decimal.Decimal
}

// CategoryBases derives the per-category monetary base from the
// user-supplied assumptions. OTHER has no base and always yields 0.
func CategoryBases(a model.BenefitAssumptions) map[model.BenefitCategory]decimal.Decimal {
	return map[model.BenefitCategory]decimal.Decimal{
		model.CategoryRevenueUplift: a.RevenueUplift,
		model.CategoryProductivity:  a.ProductivityGainHours.Mul(a.AvgLoadedRate),
		model.CategoryRiskAvoidance: a.RiskAvoidedValue,
		model.CategoryCostAvoidance: a.CostAvoided,
		model.CategoryOther:         decimal.Zero,
	}
}

// Synthesize dots the validated category weights with their monetary
// bases. Categories with no weight row contribute 0 implicitly. Pure;
// no persistence side effects.
func Synthesize(weights []model.BenefitWeight, a model.BenefitAssumptions, tolerance float64) (*BenefitResult, error) {
	if len(weights) == 0 {
		return nil, &MissingDataError{Key: "benefit-weights", What: "benefit weight rows"}
	}
	if err := ValidateBenefitWeights(weights, tolerance); err != nil {
		return nil, err
	}

	bases := CategoryBases(a)
	result := &BenefitResult{
		Total:       decimal.Zero,
		PerCategory: make(map[model.BenefitCategory]decimal.Decimal, len(weights)),
	}
	for _, w := range weights {
		contribution := bases[w.Category].Mul(decimal.NewFromFloat(w.WeightPct))
		result.PerCategory[w.Category] = contribution
		result.Total = result.Total.Add(contribution)
	}
	return result, nil
}

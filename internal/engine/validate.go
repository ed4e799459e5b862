package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/clearcost/tbm-engine/internal/model"
)

// DefaultTolerance is the shared weight-sum tolerance for both tower
// and benefit weight groups.
const DefaultTolerance = 0.0001

// ValidateGroup checks that weights sum to 1.0 within tolerance. An
// empty group is not a validation failure: it means "not ready to
// compute" and callers distinguish it by checking length themselves.
func ValidateGroup(group string, weights []float64, tolerance float64) error {
	if len(weights) == 0 {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > tolerance {
		return &WeightSumError{Group: group, ActualSum: sum, Tolerance: tolerance}
	}
	return nil
}

// ValidateTowerWeights validates every per-department tower weight
// group, returning the first failing group's error.
func ValidateTowerWeights(rows []model.TowerWeight, tolerance float64) error {
	byDept := make(map[string][]float64)
	for _, r := range rows {
		byDept[r.Department] = append(byDept[r.Department], r.WeightPct)
	}
	for _, dept := range sortedKeys(byDept) {
		if err := ValidateGroup(fmt.Sprintf("tower-weights/%s", dept), byDept[dept], tolerance); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBenefitWeights validates the single benefit weight group
// for a company/period and rejects unknown categories.
func ValidateBenefitWeights(rows []model.BenefitWeight, tolerance float64) error {
	weights := make([]float64, 0, len(rows))
	for _, r := range rows {
		if !r.Category.Valid() {
			return fmt.Errorf("unknown benefit category %q", r.Category)
		}
		weights = append(weights, r.WeightPct)
	}
	return ValidateGroup("benefit-weights", weights, tolerance)
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcost/tbm-engine/internal/model"
)

func baseAssumptions() model.BenefitAssumptions {
	return model.BenefitAssumptions{
		RevenueUplift:         dec("100000"),
		ProductivityGainHours: dec("400"),
		AvgLoadedRate:         dec("50"),
	}
}

func TestSynthesizeWeightedBenefit(t *testing.T) {
	weights := []model.BenefitWeight{
		{Category: model.CategoryProductivity, WeightPct: 0.6},
		{Category: model.CategoryRevenueUplift, WeightPct: 0.4},
	}

	res, err := Synthesize(weights, baseAssumptions(), DefaultTolerance)
	require.NoError(t, err)

	// productivity base 400h x 50 = 20,000; 20,000x0.6 + 100,000x0.4
	assert.True(t, dec("52000").Equal(res.Total), "got %s", res.Total)
	assert.True(t, dec("12000").Equal(res.PerCategory[model.CategoryProductivity]))
	assert.True(t, dec("40000").Equal(res.PerCategory[model.CategoryRevenueUplift]))
}

func TestSynthesizeNoWeightsIsMissingData(t *testing.T) {
	_, err := Synthesize(nil, baseAssumptions(), DefaultTolerance)

	var missing *MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "benefit-weights", missing.Key)
}

func TestSynthesizeInvalidGroupRejected(t *testing.T) {
	weights := []model.BenefitWeight{
		{Category: model.CategoryProductivity, WeightPct: 0.6},
		{Category: model.CategoryRevenueUplift, WeightPct: 0.2},
	}

	_, err := Synthesize(weights, baseAssumptions(), DefaultTolerance)
	var wsErr *WeightSumError
	require.ErrorAs(t, err, &wsErr)
	assert.InDelta(t, 0.8, wsErr.ActualSum, 1e-9)
}

func TestSynthesizeOtherCategoryContributesZero(t *testing.T) {
	weights := []model.BenefitWeight{
		{Category: model.CategoryOther, WeightPct: 0.5},
		{Category: model.CategoryRevenueUplift, WeightPct: 0.5},
	}

	res, err := Synthesize(weights, baseAssumptions(), DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, dec("50000").Equal(res.Total))
	assert.True(t, res.PerCategory[model.CategoryOther].IsZero())
}

func TestSynthesizeMonotonicInAssumptions(t *testing.T) {
	weights := []model.BenefitWeight{
		{Category: model.CategoryProductivity, WeightPct: 0.6},
		{Category: model.CategoryRevenueUplift, WeightPct: 0.4},
	}

	small, err := Synthesize(weights, baseAssumptions(), DefaultTolerance)
	require.NoError(t, err)

	bigger := baseAssumptions()
	bigger.RevenueUplift = dec("200000")
	large, err := Synthesize(weights, bigger, DefaultTolerance)
	require.NoError(t, err)

	assert.True(t, large.Total.GreaterThan(small.Total))
}

func TestCategoryBasesCoverAllCategories(t *testing.T) {
	bases := CategoryBases(model.BenefitAssumptions{
		RevenueUplift:    dec("10"),
		RiskAvoidedValue: dec("20"),
		CostAvoided:      dec("30"),
	})
	for _, c := range model.Categories() {
		_, ok := bases[c]
		assert.True(t, ok, "category %s has no base", c)
	}
	assert.True(t, bases[model.CategoryOther].IsZero())
}

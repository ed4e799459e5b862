package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcost/tbm-engine/internal/model"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestBuildSnapshotNegativeROI(t *testing.T) {
	snap, err := BuildSnapshot("acme", model.NormalizePeriod(testNow),
		dec("200000"), dec("52000"), baseAssumptions(), 0, ROIStrict, testNow)
	require.NoError(t, err)

	assert.True(t, dec("-148000").Equal(snap.Net), "got %s", snap.Net)
	assert.True(t, dec("-74").Equal(snap.RoiPct), "got %s", snap.RoiPct)
	assert.Nil(t, snap.CostPerEmployee, "no headcount, no per-employee metrics")
	assert.Nil(t, snap.BenefitPerEmployee)
}

func TestBuildSnapshotAuditRetainsAssumptions(t *testing.T) {
	a := baseAssumptions()
	snap, err := BuildSnapshot("acme", testNow, dec("100"), dec("150"), a, 0, ROIStrict, testNow)
	require.NoError(t, err)

	assert.True(t, a.RevenueUplift.Equal(snap.Assumptions.RevenueUplift))
	assert.True(t, snap.Net.Equal(snap.Assumptions.Net))
	assert.True(t, snap.RoiPct.Equal(snap.Assumptions.RoiPct))
	assert.Equal(t, testNow, snap.CreatedAt)
	assert.Equal(t, testNow, snap.UpdatedAt)
}

func TestBuildSnapshotStrictZeroCost(t *testing.T) {
	_, err := BuildSnapshot("acme", testNow, decimal.Zero, dec("52000"), baseAssumptions(), 10, ROIStrict, testNow)

	var dbz *DivisionByZeroError
	require.ErrorAs(t, err, &dbz)
	assert.True(t, dbz.TotalCost.IsZero())
}

func TestBuildSnapshotPermissiveZeroCost(t *testing.T) {
	snap, err := BuildSnapshot("acme", testNow, decimal.Zero, dec("52000"), baseAssumptions(), 10, ROIPermissive, testNow)
	require.NoError(t, err)

	assert.True(t, snap.RoiPct.IsZero())
	assert.True(t, dec("52000").Equal(snap.Net))
}

func TestBuildSnapshotUnknownPolicy(t *testing.T) {
	_, err := BuildSnapshot("acme", testNow, dec("1"), dec("1"), baseAssumptions(), 0, "lenient", testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown roi policy")
}

func TestBuildSnapshotPerEmployeeMetrics(t *testing.T) {
	snap, err := BuildSnapshot("acme", testNow, dec("200000"), dec("52000"), baseAssumptions(), 40, ROIStrict, testNow)
	require.NoError(t, err)

	require.NotNil(t, snap.CostPerEmployee)
	require.NotNil(t, snap.BenefitPerEmployee)
	assert.True(t, dec("5000").Equal(*snap.CostPerEmployee), "got %s", snap.CostPerEmployee)
	assert.True(t, dec("1300").Equal(*snap.BenefitPerEmployee), "got %s", snap.BenefitPerEmployee)
}

func TestBuildSnapshotPaybackMonths(t *testing.T) {
	// 120,000 cost against 60,000 annual benefit pays back in 24 months.
	snap, err := BuildSnapshot("acme", testNow, dec("120000"), dec("60000"), baseAssumptions(), 0, ROIStrict, testNow)
	require.NoError(t, err)

	require.NotNil(t, snap.PaybackMonths)
	assert.True(t, dec("24").Equal(*snap.PaybackMonths), "got %s", snap.PaybackMonths)
}

func TestBuildSnapshotNoPaybackWithoutBenefit(t *testing.T) {
	snap, err := BuildSnapshot("acme", testNow, dec("100"), decimal.Zero, baseAssumptions(), 0, ROIStrict, testNow)
	require.NoError(t, err)
	assert.Nil(t, snap.PaybackMonths)
}

func TestBuildSnapshotRoundsToTwoPlaces(t *testing.T) {
	snap, err := BuildSnapshot("acme", testNow, dec("3"), dec("4"), baseAssumptions(), 0, ROIStrict, testNow)
	require.NoError(t, err)

	// (4-3)/3 x 100 = 33.333... rounds to 33.33
	assert.True(t, dec("33.33").Equal(snap.RoiPct), "got %s", snap.RoiPct)
}

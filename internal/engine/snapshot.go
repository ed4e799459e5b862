package engine

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/model"
)

// ROIPolicy selects the zero-cost behavior of the snapshot builder.
// Exactly one policy is in force per deployment; the default is
// strict (division by zero is a programming error, not a business
// outcome).
type ROIPolicy string

const (
	// ROIStrict fails with DivisionByZeroError when totalCost <= 0.
	ROIStrict ROIPolicy = "strict"
	// ROIPermissive reports roiPct = 0 when totalCost <= 0.
	ROIPermissive ROIPolicy = "permissive"
)

var twelve = decimal.NewFromInt(12)
var hundred = decimal.NewFromInt(100)

// BuildSnapshot combines total propagated cost and total synthesized
// benefit into the persisted ROI snapshot. Pure: the store layer
// handles the idempotent upsert.
func BuildSnapshot(companyID string, period time.Time, totalCost, totalBenefit decimal.Decimal, a model.BenefitAssumptions, employees int, policy ROIPolicy, now time.Time) (*model.RoiSnapshot, error) {
	net := totalBenefit.Sub(totalCost)

	var roiPct decimal.Decimal
	switch policy {
	case ROIPermissive:
		if totalCost.IsPositive() {
			roiPct = net.Div(totalCost).Mul(hundred).Round(2)
		}
	case ROIStrict, "":
		if !totalCost.IsPositive() {
			return nil, &DivisionByZeroError{TotalCost: totalCost}
		}
		roiPct = net.Div(totalCost).Mul(hundred).Round(2)
	default:
		return nil, eris.Errorf("engine: unknown roi policy %q", policy)
	}

	snap := &model.RoiSnapshot{
		CompanyID:    companyID,
		Period:       period,
		TotalCost:    totalCost,
		TotalBenefit: totalBenefit,
		Net:          net,
		RoiPct:       roiPct,
		Assumptions: model.SnapshotAudit{
			BenefitAssumptions: a,
			Net:                net,
			RoiPct:             roiPct,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if employees > 0 {
		emp := decimal.NewFromInt(int64(employees))
		cpe := totalCost.Div(emp).Round(2)
		bpe := totalBenefit.Div(emp).Round(2)
		snap.CostPerEmployee = &cpe
		snap.BenefitPerEmployee = &bpe
	}
	if totalBenefit.IsPositive() {
		payback := totalCost.Div(totalBenefit.Div(twelve)).Round(2)
		snap.PaybackMonths = &payback
	}

	return snap, nil
}

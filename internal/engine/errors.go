package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Stage names the orchestrator's pipeline stages. A failed run
// reports the stage it died in so callers can tell "fix your weights"
// from "finish data entry" from "try again".
type Stage string

const (
	StageValidating          Stage = "validating"
	StagePropagatingCost     Stage = "propagating_cost"
	StageSynthesizingBenefit Stage = "synthesizing_benefit"
	StageBuildingSnapshot    Stage = "building_snapshot"
	StageDone                Stage = "done"
)

// WeightSumError reports a weight group that does not sum to 1 within
// tolerance. Never auto-corrected; surfaced to the caller verbatim.
type WeightSumError struct {
	Group     string
	ActualSum float64
	Tolerance float64
}

func (e *WeightSumError) Error() string {
	return fmt.Sprintf("weight group %s sums to %.4f, expected 1.0 ±%g", e.Group, e.ActualSum, e.Tolerance)
}

// MissingDataError reports an absent upstream row set. This is "not
// ready to compute", distinct from invalid data.
type MissingDataError struct {
	Key  string
	What string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing %s for %s", e.What, e.Key)
}

// DivisionByZeroError is returned by the strict ROI policy when total
// cost is not positive.
type DivisionByZeroError struct {
	TotalCost decimal.Decimal
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("cannot compute ROI with total cost %s", e.TotalCost)
}

// StageError wraps a pipeline failure with the stage it occurred in.
// The orchestrator performs no further writes once one is raised.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("recompute failed in %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

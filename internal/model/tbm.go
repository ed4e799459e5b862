package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BenefitCategory is the closed set of benefit buckets a company can
// weight. Categories with no weight row contribute zero benefit.
type BenefitCategory string

const (
	CategoryProductivity  BenefitCategory = "PRODUCTIVITY"
	CategoryRevenueUplift BenefitCategory = "REVENUE_UPLIFT"
	CategoryRiskAvoidance BenefitCategory = "RISK_AVOIDANCE"
	CategoryCostAvoidance BenefitCategory = "COST_AVOIDANCE"
	CategoryOther         BenefitCategory = "OTHER"
)

// Categories lists all benefit categories in stable order.
func Categories() []BenefitCategory {
	return []BenefitCategory{
		CategoryProductivity,
		CategoryRevenueUplift,
		CategoryRiskAvoidance,
		CategoryCostAvoidance,
		CategoryOther,
	}
}

// Valid reports whether c is a known benefit category.
func (c BenefitCategory) Valid() bool {
	switch c {
	case CategoryProductivity, CategoryRevenueUplift, CategoryRiskAvoidance, CategoryCostAvoidance, CategoryOther:
		return true
	}
	return false
}

// OperationalInput is one department's headcount and budget for a
// period. Upserted by input collectors; never deleted.
type OperationalInput struct {
	CompanyID  string          `json:"company_id"`
	Period     time.Time       `json:"period"`
	Department string          `json:"department"`
	Employees  int             `json:"employees"`
	Budget     decimal.Decimal `json:"budget"`
}

// TowerWeight spreads one department's budget across resource towers.
// The rows sharing (company, period, department) form a weight group
// that must sum to 1 within tolerance before use.
type TowerWeight struct {
	CompanyID  string    `json:"company_id"`
	Period     time.Time `json:"period"`
	Department string    `json:"department"`
	Tower      string    `json:"tower"`
	WeightPct  float64   `json:"weight_pct"`
}

// BenefitWeight weights one benefit category for a company/period.
// The rows sharing (company, period) form a weight group.
type BenefitWeight struct {
	CompanyID string          `json:"company_id"`
	Period    time.Time       `json:"period"`
	Category  BenefitCategory `json:"category"`
	WeightPct float64         `json:"weight_pct"`
}

// BenefitAssumptions are the user-supplied monetary bases for benefit
// synthesis. Retained verbatim on the snapshot for audit.
type BenefitAssumptions struct {
	RevenueUplift         decimal.Decimal `json:"revenue_uplift"`
	ProductivityGainHours decimal.Decimal `json:"productivity_gain_hours"`
	AvgLoadedRate         decimal.Decimal `json:"avg_loaded_rate"`
	RiskAvoidedValue      decimal.Decimal `json:"risk_avoided_value"`
	CostAvoided           decimal.Decimal `json:"cost_avoided"`
}

// CostPoolSpend is a raw ledger entry: what a department spent into a
// named cost pool in a period.
type CostPoolSpend struct {
	CompanyID    string          `json:"company_id"`
	Period       time.Time       `json:"period"`
	DepartmentID string          `json:"department_id"`
	CostPoolID   string          `json:"cost_pool_id"`
	Amount       decimal.Decimal `json:"amount"`
}

// AllocationRule fans spend out from a source node to a target node.
// For the cost-pool stage the source is (department, cost pool) and
// the target a resource tower; for the tower stage the source is a
// resource tower and the target a solution.
type AllocationRule struct {
	CompanyID    string    `json:"company_id"`
	Period       time.Time `json:"period"`
	DepartmentID string    `json:"department_id,omitempty"`
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	Percent      float64   `json:"percent"`
}

// Solution is an IT offering that tower cost allocates into. Its
// owner department determines the business tag the cost rolls up to;
// an empty BusinessTag defaults to the owner department name.
type Solution struct {
	CompanyID   string    `json:"company_id"`
	Period      time.Time `json:"period"`
	SolutionID  string    `json:"solution_id"`
	Name        string    `json:"name"`
	OwnerDept   string    `json:"owner_department"`
	BusinessTag string    `json:"business_tag,omitempty"`
}

// TowerCost is derived stage-1 output: cost landed on a resource
// tower for a department. Rebuilt in full on every recomputation.
type TowerCost struct {
	CompanyID  string          `json:"company_id"`
	Period     time.Time       `json:"period"`
	Tower      string          `json:"tower"`
	Department string          `json:"department"`
	Amount     decimal.Decimal `json:"amount"`
}

// SolutionCost is derived stage-2 output, accumulated across all
// contributing tower costs.
type SolutionCost struct {
	CompanyID  string          `json:"company_id"`
	Period     time.Time       `json:"period"`
	SolutionID string          `json:"solution_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// BusinessCost is derived stage-3 output: solution cost rolled up to
// the final attribution bucket.
type BusinessCost struct {
	CompanyID   string          `json:"company_id"`
	Period      time.Time       `json:"period"`
	Department  string          `json:"department"`
	BusinessTag string          `json:"business_tag"`
	Amount      decimal.Decimal `json:"amount"`
}

// RoiSnapshot is the persisted point-in-time result for one
// (company, period). It is a rebuildable cache: rerunning the
// pipeline with identical inputs reproduces identical values, with
// only UpdatedAt moving.
type RoiSnapshot struct {
	CompanyID          string             `json:"company_id"`
	Period             time.Time          `json:"period"`
	TotalCost          decimal.Decimal    `json:"total_cost"`
	TotalBenefit       decimal.Decimal    `json:"total_benefit"`
	Net                decimal.Decimal    `json:"net"`
	RoiPct             decimal.Decimal    `json:"roi_pct"`
	CostPerEmployee    *decimal.Decimal   `json:"cost_per_employee,omitempty"`
	BenefitPerEmployee *decimal.Decimal   `json:"benefit_per_employee,omitempty"`
	PaybackMonths      *decimal.Decimal   `json:"payback_months,omitempty"`
	Assumptions        SnapshotAudit      `json:"assumptions"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// SnapshotAudit retains the benefit-model inputs plus the derived
// net/roiPct so a snapshot can be audited without replaying the run.
type SnapshotAudit struct {
	BenefitAssumptions
	Net    decimal.Decimal `json:"net"`
	RoiPct decimal.Decimal `json:"roi_pct"`
}

// RuleStage identifies which pipeline stage an allocation rule
// belongs to.
type RuleStage string

const (
	RuleCostPoolToTower RuleStage = "cp_to_rt"
	RuleTowerToSolution RuleStage = "rt_to_solution"
)

// RunStatus is the lifecycle state of one recomputation run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// RecomputeRun records one orchestrator run: which stage it reached,
// how it ended, and how much spend was dropped by missing rules.
// A run stuck in "running" or ended "failed" signals that derived
// rows for its (company, period) may be mid-rebuild.
type RecomputeRun struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"company_id"`
	Period       time.Time       `json:"period"`
	Stage        string          `json:"stage"`
	Status       RunStatus       `json:"status"`
	Error        string          `json:"error,omitempty"`
	DroppedSpend decimal.Decimal `json:"dropped_spend"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

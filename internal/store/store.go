package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/model"
)

// SnapshotFilter specifies criteria for listing ROI snapshots.
type SnapshotFilter struct {
	CompanyID string     `json:"company_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Store is the persistence boundary of the engine. All reads and
// writes are scoped to one (company, period); multi-tenant isolation
// is enforced by key scoping on every query.
type Store interface {
	// Raw input reads.
	LoadOperationalInputs(ctx context.Context, companyID string, period time.Time) ([]model.OperationalInput, error)
	LoadTowerWeights(ctx context.Context, companyID string, period time.Time) ([]model.TowerWeight, error)
	LoadBenefitWeights(ctx context.Context, companyID string, period time.Time) ([]model.BenefitWeight, error)
	LoadBenefitAssumptions(ctx context.Context, companyID string, period time.Time) (*model.BenefitAssumptions, error)
	LoadCostPoolSpend(ctx context.Context, companyID string, period time.Time) ([]model.CostPoolSpend, error)
	LoadAllocationRules(ctx context.Context, companyID string, period time.Time, stage model.RuleStage) ([]model.AllocationRule, error)
	LoadSolutions(ctx context.Context, companyID string, period time.Time) ([]model.Solution, error)
	ListCompanies(ctx context.Context, period time.Time) ([]string, error)

	// Raw input writes. Weight upserts re-validate every affected
	// group inside the transaction and roll back on WeightSumError.
	UpsertOperationalInputs(ctx context.Context, rows []model.OperationalInput) error
	UpsertTowerWeights(ctx context.Context, rows []model.TowerWeight, tolerance float64) error
	UpsertBenefitWeights(ctx context.Context, rows []model.BenefitWeight, tolerance float64) error
	UpsertBenefitAssumptions(ctx context.Context, companyID string, period time.Time, a model.BenefitAssumptions) error
	UpsertCostPoolSpend(ctx context.Context, rows []model.CostPoolSpend) error
	UpsertAllocationRules(ctx context.Context, stage model.RuleStage, rows []model.AllocationRule) error
	UpsertSolutions(ctx context.Context, rows []model.Solution) error

	// Derived rows, rebuilt in full per (company, period) each run.
	ReplaceTowerCosts(ctx context.Context, companyID string, period time.Time, rows []model.TowerCost) error
	ReplaceSolutionCosts(ctx context.Context, companyID string, period time.Time, rows []model.SolutionCost) error
	ReplaceBusinessCosts(ctx context.Context, companyID string, period time.Time, rows []model.BusinessCost) error

	// Snapshots.
	UpsertRoiSnapshot(ctx context.Context, snap *model.RoiSnapshot) (*model.RoiSnapshot, error)
	GetRoiSnapshot(ctx context.Context, companyID string, period time.Time) (*model.RoiSnapshot, error)
	ListRoiSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RoiSnapshot, error)

	// Run records.
	CreateRun(ctx context.Context, companyID string, period time.Time) (*model.RecomputeRun, error)
	UpdateRunStage(ctx context.Context, runID, stage string) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, stage, errMsg string, droppedSpend decimal.Decimal) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

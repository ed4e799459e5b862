package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearcost/tbm-engine/internal/model"
)

// Store is the persistence surface the engine drives. Implemented by
// the store package; kept here so the pure core has no dependency on
// any particular backend.
type Store interface {
	LoadOperationalInputs(ctx context.Context, companyID string, period time.Time) ([]model.OperationalInput, error)
	LoadTowerWeights(ctx context.Context, companyID string, period time.Time) ([]model.TowerWeight, error)
	LoadBenefitWeights(ctx context.Context, companyID string, period time.Time) ([]model.BenefitWeight, error)
	LoadBenefitAssumptions(ctx context.Context, companyID string, period time.Time) (*model.BenefitAssumptions, error)
	LoadCostPoolSpend(ctx context.Context, companyID string, period time.Time) ([]model.CostPoolSpend, error)
	LoadAllocationRules(ctx context.Context, companyID string, period time.Time, stage model.RuleStage) ([]model.AllocationRule, error)
	LoadSolutions(ctx context.Context, companyID string, period time.Time) ([]model.Solution, error)
	ListCompanies(ctx context.Context, period time.Time) ([]string, error)

	ReplaceTowerCosts(ctx context.Context, companyID string, period time.Time, rows []model.TowerCost) error
	ReplaceSolutionCosts(ctx context.Context, companyID string, period time.Time, rows []model.SolutionCost) error
	ReplaceBusinessCosts(ctx context.Context, companyID string, period time.Time, rows []model.BusinessCost) error
	UpsertRoiSnapshot(ctx context.Context, snap *model.RoiSnapshot) (*model.RoiSnapshot, error)

	CreateRun(ctx context.Context, companyID string, period time.Time) (*model.RecomputeRun, error)
	UpdateRunStage(ctx context.Context, runID, stage string) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, stage, errMsg string, droppedSpend decimal.Decimal) error
}

// Config tunes the recomputation engine.
type Config struct {
	// Tolerance is the shared weight-sum tolerance for tower and
	// benefit weight groups.
	Tolerance float64
	// ROIPolicy selects the zero-cost behavior (strict by default).
	ROIPolicy ROIPolicy
	// MaxParallel bounds concurrent company runs in RecomputeAll.
	MaxParallel int
	// Pipeline holds optional propagation tuning.
	Pipeline *PipelineConfig
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		Tolerance:   DefaultTolerance,
		ROIPolicy:   ROIStrict,
		MaxParallel: 4,
		Pipeline:    &PipelineConfig{DefaultCostPool: DefaultCostPool},
	}
}

// Engine sequences the recomputation pipeline for one company/period:
// Validating → PropagatingCost → SynthesizingBenefit →
// BuildingSnapshot → Done, persisting each stage's output before the
// next stage reads it. Failed(stage, error) is reachable from any
// non-terminal state and stops all further writes for the run.
type Engine struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New creates an Engine over the given store.
func New(st Store, cfg Config) *Engine {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.ROIPolicy == "" {
		cfg.ROIPolicy = ROIStrict
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = &PipelineConfig{DefaultCostPool: DefaultCostPool}
	}
	return &Engine{store: st, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	e.now = fn
	return e
}

// CompanyResult is one company's outcome from RecomputeAll.
type CompanyResult struct {
	CompanyID string
	Snapshot  *model.RoiSnapshot
	Err       error
}

// Recompute runs the full pipeline for one (company, period). It is
// re-entrant: rerunning after input edits is the normal way users
// recompute, and rerunning with unchanged inputs reproduces identical
// snapshot values.
func (e *Engine) Recompute(ctx context.Context, companyID string, period time.Time) (*model.RoiSnapshot, error) {
	period = model.NormalizePeriod(period)
	log := zap.L().With(
		zap.String("company_id", companyID),
		zap.Time("period", period),
	)

	run, err := e.store.CreateRun(ctx, companyID, period)
	if err != nil {
		return nil, &StageError{Stage: StageValidating, Err: eris.Wrap(err, "engine: create run")}
	}

	snap, dropped, runErr := e.runPipeline(ctx, log, run, companyID, period)
	if runErr != nil {
		stage := StageValidating
		var se *StageError
		if eris.As(runErr, &se) {
			stage = se.Stage
		}
		if cerr := e.store.CompleteRun(ctx, run.ID, model.RunFailed, string(stage), runErr.Error(), dropped); cerr != nil {
			log.Warn("engine: record run failure", zap.Error(cerr))
		}
		return nil, runErr
	}

	if err := e.store.CompleteRun(ctx, run.ID, model.RunDone, string(StageDone), "", dropped); err != nil {
		log.Warn("engine: record run completion", zap.Error(err))
	}

	log.Info("engine: recompute complete",
		zap.String("total_cost", snap.TotalCost.String()),
		zap.String("total_benefit", snap.TotalBenefit.String()),
		zap.String("roi_pct", snap.RoiPct.String()),
		zap.String("dropped_spend", dropped.String()),
	)
	return snap, nil
}

func (e *Engine) runPipeline(ctx context.Context, log *zap.Logger, run *model.RecomputeRun, companyID string, period time.Time) (*model.RoiSnapshot, decimal.Decimal, error) {
	dropped := decimal.Zero

	// Validating.
	in, err := e.loadInputs(ctx, companyID, period)
	if err != nil {
		return nil, dropped, &StageError{Stage: StageValidating, Err: err}
	}
	if err := e.validate(in); err != nil {
		return nil, dropped, &StageError{Stage: StageValidating, Err: err}
	}

	// PropagatingCost: three propagation calls, each persisted
	// before the next stage reads its output, so a partial pipeline
	// can be inspected and resumed.
	if err := e.advance(ctx, run.ID, StagePropagatingCost); err != nil {
		return nil, dropped, err
	}

	towerCosts, unmatched, err := BuildTowerCosts(*in, e.cfg.Pipeline.DefaultCostPool)
	if err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: err}
	}
	dropped = dropped.Add(e.warnUnmatched(log, "cost-pool spend", unmatched))
	if err := e.store.ReplaceTowerCosts(ctx, companyID, period, towerCosts); err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: eris.Wrap(err, "engine: persist tower costs")}
	}

	solutionCosts, unmatched, err := BuildSolutionCosts(*in, towerCosts)
	if err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: err}
	}
	dropped = dropped.Add(e.warnUnmatched(log, "tower cost", unmatched))
	if err := e.store.ReplaceSolutionCosts(ctx, companyID, period, solutionCosts); err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: eris.Wrap(err, "engine: persist solution costs")}
	}

	businessCosts, unmatched, err := BuildBusinessCosts(*in, solutionCosts, e.cfg.Pipeline.BusinessTags)
	if err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: err}
	}
	dropped = dropped.Add(e.warnUnmatched(log, "solution cost", unmatched))
	if err := e.store.ReplaceBusinessCosts(ctx, companyID, period, businessCosts); err != nil {
		return nil, dropped, &StageError{Stage: StagePropagatingCost, Err: eris.Wrap(err, "engine: persist business costs")}
	}

	totalCost := TotalTowerCost(towerCosts)

	// SynthesizingBenefit.
	if err := e.advance(ctx, run.ID, StageSynthesizingBenefit); err != nil {
		return nil, dropped, err
	}
	benefit, err := Synthesize(in.BenefitWeights, *in.Assumptions, e.cfg.Tolerance)
	if err != nil {
		return nil, dropped, &StageError{Stage: StageSynthesizingBenefit, Err: err}
	}

	// BuildingSnapshot.
	if err := e.advance(ctx, run.ID, StageBuildingSnapshot); err != nil {
		return nil, dropped, err
	}
	snap, err := BuildSnapshot(companyID, period, totalCost, benefit.Total, *in.Assumptions,
		TotalEmployees(in.Operational), e.cfg.ROIPolicy, e.now().UTC())
	if err != nil {
		return nil, dropped, &StageError{Stage: StageBuildingSnapshot, Err: err}
	}
	stored, err := e.store.UpsertRoiSnapshot(ctx, snap)
	if err != nil {
		return nil, dropped, &StageError{Stage: StageBuildingSnapshot, Err: eris.Wrap(err, "engine: persist snapshot")}
	}

	return stored, dropped, nil
}

// RecomputeAll fans the pipeline out across every company with input
// data for the period. Runs for different companies share no mutable
// state, so they execute in parallel up to MaxParallel.
func (e *Engine) RecomputeAll(ctx context.Context, period time.Time) ([]CompanyResult, error) {
	period = model.NormalizePeriod(period)

	companies, err := e.store.ListCompanies(ctx, period)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list companies")
	}

	results := make([]CompanyResult, len(companies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for i, companyID := range companies {
		g.Go(func() error {
			snap, err := e.Recompute(gctx, companyID, period)
			results[i] = CompanyResult{CompanyID: companyID, Snapshot: snap, Err: err}
			// Per-company failures are reported, not fatal to the batch.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "engine: recompute all")
	}
	return results, nil
}

func (e *Engine) loadInputs(ctx context.Context, companyID string, period time.Time) (*Inputs, error) {
	in := &Inputs{CompanyID: companyID, Period: period}
	var err error

	if in.Operational, err = e.store.LoadOperationalInputs(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load operational inputs")
	}
	if in.TowerWeights, err = e.store.LoadTowerWeights(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load tower weights")
	}
	if in.BenefitWeights, err = e.store.LoadBenefitWeights(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load benefit weights")
	}
	if in.Assumptions, err = e.store.LoadBenefitAssumptions(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load benefit assumptions")
	}
	if in.Spend, err = e.store.LoadCostPoolSpend(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load cost pool spend")
	}
	if in.CpToRt, err = e.store.LoadAllocationRules(ctx, companyID, period, model.RuleCostPoolToTower); err != nil {
		return nil, eris.Wrap(err, "engine: load cp->rt rules")
	}
	if in.RtToSolution, err = e.store.LoadAllocationRules(ctx, companyID, period, model.RuleTowerToSolution); err != nil {
		return nil, eris.Wrap(err, "engine: load rt->solution rules")
	}
	if in.Solutions, err = e.store.LoadSolutions(ctx, companyID, period); err != nil {
		return nil, eris.Wrap(err, "engine: load solutions")
	}
	return in, nil
}

// validate runs every readiness and weight-sum check before any
// derived row is written. A failure here leaves the previous run's
// derived rows untouched.
func (e *Engine) validate(in *Inputs) error {
	key := in.CompanyID

	hasBudget := false
	for _, op := range in.Operational {
		if !op.Budget.IsZero() {
			hasBudget = true
			break
		}
	}
	if !hasBudget && len(in.Spend) == 0 {
		return &MissingDataError{Key: key, What: "operational budgets or cost pool spend"}
	}
	if len(in.BenefitWeights) == 0 {
		return &MissingDataError{Key: key, What: "benefit weight rows"}
	}
	if in.Assumptions == nil {
		return &MissingDataError{Key: key, What: "benefit assumptions"}
	}

	if err := ValidateTowerWeights(in.TowerWeights, e.cfg.Tolerance); err != nil {
		return err
	}
	return ValidateBenefitWeights(in.BenefitWeights, e.cfg.Tolerance)
}

func (e *Engine) advance(ctx context.Context, runID string, stage Stage) error {
	if err := e.store.UpdateRunStage(ctx, runID, string(stage)); err != nil {
		return &StageError{Stage: stage, Err: eris.Wrapf(err, "engine: advance run to %s", stage)}
	}
	return nil
}

func (e *Engine) warnUnmatched(log *zap.Logger, what string, rows []SpendRow) decimal.Decimal {
	if len(rows) == 0 {
		return decimal.Zero
	}
	total := SumUnmatched(rows)
	log.Warn("engine: spend dropped by missing rules",
		zap.String("input", what),
		zap.Int("rows", len(rows)),
		zap.String("amount", total.String()),
	)
	return total
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcost/tbm-engine/internal/model"
)

// fakeStore is an in-memory Store for orchestrator tests. Load methods
// serve per-company fixtures; writes are recorded for inspection.
type fakeStore struct {
	mu sync.Mutex

	inputs map[string]Inputs // keyed by company ID

	towerCosts    map[string][]model.TowerCost
	solutionCosts map[string][]model.SolutionCost
	businessCosts map[string][]model.BusinessCost
	snapshots     map[string]*model.RoiSnapshot

	runs      []*model.RecomputeRun
	stages    map[string][]string
	completed map[string]model.RunStatus
	runErrs   map[string]string
	dropped   map[string]decimal.Decimal

	replaceCalls int
	failReplace  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inputs:        map[string]Inputs{},
		towerCosts:    map[string][]model.TowerCost{},
		solutionCosts: map[string][]model.SolutionCost{},
		businessCosts: map[string][]model.BusinessCost{},
		snapshots:     map[string]*model.RoiSnapshot{},
		stages:        map[string][]string{},
		completed:     map[string]model.RunStatus{},
		runErrs:       map[string]string{},
		dropped:       map[string]decimal.Decimal{},
	}
}

func (f *fakeStore) LoadOperationalInputs(_ context.Context, companyID string, _ time.Time) ([]model.OperationalInput, error) {
	return f.inputs[companyID].Operational, nil
}

func (f *fakeStore) LoadTowerWeights(_ context.Context, companyID string, _ time.Time) ([]model.TowerWeight, error) {
	return f.inputs[companyID].TowerWeights, nil
}

func (f *fakeStore) LoadBenefitWeights(_ context.Context, companyID string, _ time.Time) ([]model.BenefitWeight, error) {
	return f.inputs[companyID].BenefitWeights, nil
}

func (f *fakeStore) LoadBenefitAssumptions(_ context.Context, companyID string, _ time.Time) (*model.BenefitAssumptions, error) {
	return f.inputs[companyID].Assumptions, nil
}

func (f *fakeStore) LoadCostPoolSpend(_ context.Context, companyID string, _ time.Time) ([]model.CostPoolSpend, error) {
	return f.inputs[companyID].Spend, nil
}

func (f *fakeStore) LoadAllocationRules(_ context.Context, companyID string, _ time.Time, stage model.RuleStage) ([]model.AllocationRule, error) {
	if stage == model.RuleCostPoolToTower {
		return f.inputs[companyID].CpToRt, nil
	}
	return f.inputs[companyID].RtToSolution, nil
}

func (f *fakeStore) LoadSolutions(_ context.Context, companyID string, _ time.Time) ([]model.Solution, error) {
	return f.inputs[companyID].Solutions, nil
}

func (f *fakeStore) ListCompanies(_ context.Context, _ time.Time) ([]string, error) {
	var ids []string
	for id := range f.inputs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) ReplaceTowerCosts(_ context.Context, companyID string, _ time.Time, rows []model.TowerCost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReplace {
		return fmt.Errorf("replace refused")
	}
	f.replaceCalls++
	f.towerCosts[companyID] = rows
	return nil
}

func (f *fakeStore) ReplaceSolutionCosts(_ context.Context, companyID string, _ time.Time, rows []model.SolutionCost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	f.solutionCosts[companyID] = rows
	return nil
}

func (f *fakeStore) ReplaceBusinessCosts(_ context.Context, companyID string, _ time.Time, rows []model.BusinessCost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	f.businessCosts[companyID] = rows
	return nil
}

func (f *fakeStore) UpsertRoiSnapshot(_ context.Context, snap *model.RoiSnapshot) (*model.RoiSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.snapshots[snap.CompanyID]; ok {
		snap.CreatedAt = prev.CreatedAt
	}
	f.snapshots[snap.CompanyID] = snap
	return snap, nil
}

func (f *fakeStore) CreateRun(_ context.Context, companyID string, period time.Time) (*model.RecomputeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.RecomputeRun{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		CompanyID: companyID,
		Period:    period,
		Stage:     string(StageValidating),
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeStore) UpdateRunStage(_ context.Context, runID, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages[runID] = append(f.stages[runID], stage)
	return nil
}

func (f *fakeStore) CompleteRun(_ context.Context, runID string, status model.RunStatus, stage, errMsg string, droppedSpend decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[runID] = status
	f.stages[runID] = append(f.stages[runID], stage)
	f.runErrs[runID] = errMsg
	f.dropped[runID] = droppedSpend
	return nil
}

func readyInputs() Inputs {
	in := stageInputs()
	in.BenefitWeights = []model.BenefitWeight{
		{Category: model.CategoryProductivity, WeightPct: 0.6},
		{Category: model.CategoryRevenueUplift, WeightPct: 0.4},
	}
	a := baseAssumptions()
	in.Assumptions = &a
	return in
}

func newTestEngine(st *fakeStore) *Engine {
	return New(st, DefaultConfig()).WithNow(func() time.Time { return testNow })
}

func TestRecomputeHappyPath(t *testing.T) {
	st := newFakeStore()
	st.inputs["acme"] = readyInputs()
	eng := newTestEngine(st)

	snap, err := eng.Recompute(context.Background(), "acme", stagePeriod())
	require.NoError(t, err)

	assert.True(t, dec("250000").Equal(snap.TotalCost), "got %s", snap.TotalCost)
	assert.True(t, dec("52000").Equal(snap.TotalBenefit))
	assert.True(t, dec("-198000").Equal(snap.Net))
	assert.True(t, dec("-79.2").Equal(snap.RoiPct), "got %s", snap.RoiPct)

	// All three derived tables rebuilt, snapshot stored.
	assert.Len(t, st.towerCosts["acme"], 3)
	assert.Len(t, st.solutionCosts["acme"], 2)
	assert.Len(t, st.businessCosts["acme"], 2)
	require.Len(t, st.runs, 1)
	assert.Equal(t, model.RunDone, st.completed["run-1"])
	assert.Equal(t, string(StageDone), st.stages["run-1"][len(st.stages["run-1"])-1])
}

func TestRecomputeIdempotent(t *testing.T) {
	st := newFakeStore()
	st.inputs["acme"] = readyInputs()

	laterNow := testNow.Add(time.Hour)
	first, err := newTestEngine(st).Recompute(context.Background(), "acme", stagePeriod())
	require.NoError(t, err)
	second, err := New(st, DefaultConfig()).
		WithNow(func() time.Time { return laterNow }).
		Recompute(context.Background(), "acme", stagePeriod())
	require.NoError(t, err)

	assert.True(t, first.TotalCost.Equal(second.TotalCost))
	assert.True(t, first.TotalBenefit.Equal(second.TotalBenefit))
	assert.True(t, first.RoiPct.Equal(second.RoiPct))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestRecomputeInvalidWeightsWritesNothing(t *testing.T) {
	st := newFakeStore()
	in := readyInputs()
	in.TowerWeights = []model.TowerWeight{
		{Department: "Eng", Tower: "APP_DEV", WeightPct: 0.5},
		{Department: "Eng", Tower: "CLOUD", WeightPct: 0.3},
		{Department: "Eng", Tower: "END_USER", WeightPct: 0.1},
	}
	st.inputs["acme"] = in

	_, err := newTestEngine(st).Recompute(context.Background(), "acme", stagePeriod())

	var wsErr *WeightSumError
	require.ErrorAs(t, err, &wsErr)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageValidating, se.Stage)

	assert.Zero(t, st.replaceCalls, "validation failure must leave derived rows untouched")
	assert.Empty(t, st.snapshots)
	assert.Equal(t, model.RunFailed, st.completed["run-1"])
	assert.Equal(t, string(StageValidating), st.stages["run-1"][len(st.stages["run-1"])-1])
}

func TestRecomputeMissingAssumptions(t *testing.T) {
	st := newFakeStore()
	in := readyInputs()
	in.Assumptions = nil
	st.inputs["acme"] = in

	_, err := newTestEngine(st).Recompute(context.Background(), "acme", stagePeriod())

	var missing *MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, st.replaceCalls)
}

func TestRecomputeRecordsDroppedSpend(t *testing.T) {
	st := newFakeStore()
	in := readyInputs()
	in.Spend = []model.CostPoolSpend{
		{DepartmentID: "Eng", CostPoolID: "ORPHAN_POOL", Amount: dec("777")},
	}
	st.inputs["acme"] = in

	snap, err := newTestEngine(st).Recompute(context.Background(), "acme", stagePeriod())
	require.NoError(t, err, "unmatched spend is dropped with a warning, not fatal")
	assert.True(t, dec("250000").Equal(snap.TotalCost), "dropped spend never lands on a tower")
	assert.True(t, dec("777").Equal(st.dropped["run-1"]))
}

func TestRecomputePersistFailureReportsStage(t *testing.T) {
	st := newFakeStore()
	st.inputs["acme"] = readyInputs()
	st.failReplace = true

	_, err := newTestEngine(st).Recompute(context.Background(), "acme", stagePeriod())

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePropagatingCost, se.Stage)
	assert.Equal(t, model.RunFailed, st.completed["run-1"])
}

func TestRecomputeNormalizesPeriod(t *testing.T) {
	st := newFakeStore()
	st.inputs["acme"] = readyInputs()

	midMonth := time.Date(2026, 3, 19, 16, 45, 0, 0, time.UTC)
	snap, err := newTestEngine(st).Recompute(context.Background(), "acme", midMonth)
	require.NoError(t, err)
	assert.Equal(t, stagePeriod(), snap.Period)
}

func TestRecomputeAllIsolatesFailures(t *testing.T) {
	st := newFakeStore()
	st.inputs["acme"] = readyInputs()
	broken := readyInputs()
	broken.BenefitWeights = nil
	st.inputs["globex"] = broken

	results, err := newTestEngine(st).RecomputeAll(context.Background(), stagePeriod())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]CompanyResult{}
	for _, r := range results {
		byID[r.CompanyID] = r
	}
	assert.NoError(t, byID["acme"].Err)
	assert.NotNil(t, byID["acme"].Snapshot)
	assert.Error(t, byID["globex"].Err, "one broken company must not sink the batch")
	assert.Nil(t, byID["globex"].Snapshot)
}

package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcost/tbm-engine/internal/engine"
	"github.com/clearcost/tbm-engine/internal/model"
	"github.com/clearcost/tbm-engine/internal/store"
)

var period = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestImporter(t *testing.T) (*Importer, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, engine.DefaultTolerance), st
}

func mustCSV(t *testing.T, text string) ([]string, [][]string) {
	t.Helper()
	header, rows, err := ReadCSV(strings.NewReader(text))
	require.NoError(t, err)
	return header, rows
}

func TestImportOperationalInputs(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department,employees,budget\nEng,30,200000\nSales,10,\"50,000\"\n")

	res, err := im.Import(context.Background(), KindOperationalInputs, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Empty(t, res.Warnings)

	stored, err := st.LoadOperationalInputs(context.Background(), "acme", period)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Eng", stored[0].Department)
	assert.Equal(t, 30, stored[0].Employees)
	assert.Equal(t, "200000", stored[0].Budget.String())
	assert.Equal(t, "50000", stored[1].Budget.String(), "thousands separators are stripped")
}

func TestImportOperationalInputsBadRowsSkipped(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department,employees,budget\nEng,thirty,200000\n,5,100\nOps,5,100\n")

	res, err := im.Import(context.Background(), KindOperationalInputs, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "line 2")
	assert.Contains(t, res.Warnings[1], "line 3")

	stored, err := st.LoadOperationalInputs(context.Background(), "acme", period)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestImportHeaderOrderIrrelevant(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "BUDGET,department,Employees\n1000,Eng,3\n")

	_, err := im.Import(context.Background(), KindOperationalInputs, "acme", period, header, rows)
	require.NoError(t, err)

	stored, err := st.LoadOperationalInputs(context.Background(), "acme", period)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1000", stored[0].Budget.String())
}

func TestImportMissingHeaders(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t, "department,budget\nEng,1000\n")

	_, err := im.Import(context.Background(), KindOperationalInputs, "acme", period, header, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required headers: employees")
}

func TestImportTowerWeightsValidGroup(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department,tower,weight_pct\nEng,APP_DEV,0.7\nEng,CLOUD,0.3\n")

	res, err := im.Import(context.Background(), KindTowerWeights, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	stored, err := st.LoadTowerWeights(context.Background(), "acme", period)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestImportTowerWeightsInvalidGroupRolledBack(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department,tower,weight_pct\nEng,APP_DEV,0.5\nEng,CLOUD,0.3\nEng,END_USER,0.1\n")

	_, err := im.Import(context.Background(), KindTowerWeights, "acme", period, header, rows)

	var wsErr *engine.WeightSumError
	require.ErrorAs(t, err, &wsErr)

	stored, err := st.LoadTowerWeights(context.Background(), "acme", period)
	require.NoError(t, err)
	assert.Empty(t, stored, "a rejected group must not leave partial rows behind")
}

func TestImportBenefitWeights(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "category,weight_pct\nproductivity,0.6\nREVENUE_UPLIFT,0.4\n")

	res, err := im.Import(context.Background(), KindBenefitWeights, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported, "category names are case folded")

	stored, err := st.LoadBenefitWeights(context.Background(), "acme", period)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.CategoryProductivity, stored[0].Category)
}

func TestImportBenefitWeightsUnknownCategory(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t, "category,weight_pct\nSYNERGY,0.5\nOTHER,0.5\n")

	res, err := im.Import(context.Background(), KindBenefitWeights, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "SYNERGY")
}

func TestImportAssumptions(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t,
		"revenue_uplift,productivity_gain_hours,avg_loaded_rate,risk_avoided_value,cost_avoided\n100000,400,50,0,0\n")

	res, err := im.Import(context.Background(), KindAssumptions, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	a, err := st.LoadBenefitAssumptions(context.Background(), "acme", period)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "100000", a.RevenueUplift.String())
	assert.Equal(t, "400", a.ProductivityGainHours.String())
}

func TestImportAssumptionsRequiresOneRow(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t,
		"revenue_uplift,productivity_gain_hours,avg_loaded_rate,risk_avoided_value,cost_avoided\n1,2,3,4,5\n6,7,8,9,10\n")

	_, err := im.Import(context.Background(), KindAssumptions, "acme", period, header, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one row")
}

func TestImportSpend(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department_id,cost_pool_id,amount\nEng,CLOUD_SPEND,1000.50\n")

	res, err := im.Import(context.Background(), KindSpend, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	stored, err := st.LoadCostPoolSpend(context.Background(), "acme", period)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1000.5", stored[0].Amount.String())
}

func TestImportRulesBothStages(t *testing.T) {
	im, st := newTestImporter(t)

	header, rows := mustCSV(t, "department_id,source_id,target_id,percent\nEng,CLOUD_SPEND,CLOUD,1\n")
	_, err := im.Import(context.Background(), KindPoolRules, "acme", period, header, rows)
	require.NoError(t, err)

	header, rows = mustCSV(t, "source_id,target_id,percent\nCLOUD,CRM,0.5\nCLOUD,DATA_PLATFORM,0.5\n")
	_, err = im.Import(context.Background(), KindTowerRules, "acme", period, header, rows)
	require.NoError(t, err)

	poolRules, err := st.LoadAllocationRules(context.Background(), "acme", period, model.RuleCostPoolToTower)
	require.NoError(t, err)
	assert.Len(t, poolRules, 1)
	assert.Equal(t, "Eng", poolRules[0].DepartmentID)

	towerRules, err := st.LoadAllocationRules(context.Background(), "acme", period, model.RuleTowerToSolution)
	require.NoError(t, err)
	assert.Len(t, towerRules, 2)
}

func TestImportPoolRulesRequireDepartmentHeader(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t, "source_id,target_id,percent\nCLOUD_SPEND,CLOUD,1\n")

	_, err := im.Import(context.Background(), KindPoolRules, "acme", period, header, rows)
	require.Error(t, err, "cost-pool rules without a department column can never match spend")
	assert.Contains(t, err.Error(), "missing required headers: department_id")
}

func TestImportPoolRulesEmptyDepartmentSkipped(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "department_id,source_id,target_id,percent\n,CLOUD_SPEND,CLOUD,1\nEng,CLOUD_SPEND,CLOUD,1\n")

	res, err := im.Import(context.Background(), KindPoolRules, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "empty department_id")

	stored, err := st.LoadAllocationRules(context.Background(), "acme", period, model.RuleCostPoolToTower)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Eng", stored[0].DepartmentID)
}

func TestImportTowerRulesDepartmentOptional(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t, "source_id,target_id,percent\nCLOUD,CRM,1\n")

	res, err := im.Import(context.Background(), KindTowerRules, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Empty(t, res.Warnings)
}

func TestImportRulesBadPercent(t *testing.T) {
	im, _ := newTestImporter(t)
	header, rows := mustCSV(t, "source_id,target_id,percent\nCLOUD,CRM,1.5\nCLOUD,CRM,abc\n")

	res, err := im.Import(context.Background(), KindTowerRules, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	assert.Len(t, res.Warnings, 2)
}

func TestImportSolutions(t *testing.T) {
	im, st := newTestImporter(t)
	header, rows := mustCSV(t, "solution_id,name,owner_department,business_tag\nCRM,Customer CRM,Sales,\nDATA,Warehouse,Eng,Analytics\n")

	res, err := im.Import(context.Background(), KindSolutions, "acme", period, header, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	stored, err := st.LoadSolutions(context.Background(), "acme", period)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Analytics", stored[1].BusinessTag)
}

func TestImportUnknownKind(t *testing.T) {
	im, _ := newTestImporter(t)
	_, err := im.Import(context.Background(), Kind("bogus"), "acme", period, []string{"a"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestReadCSVEmpty(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}

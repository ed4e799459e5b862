package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearcost/tbm-engine/internal/db"
	"github.com/clearcost/tbm-engine/internal/engine"
	"github.com/clearcost/tbm-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tbm_operational_inputs (
	company_id TEXT NOT NULL,
	period     DATE NOT NULL,
	department TEXT NOT NULL,
	employees  INTEGER NOT NULL DEFAULT 0 CHECK (employees >= 0),
	budget     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (budget >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, period, department)
);

CREATE TABLE IF NOT EXISTS tbm_tower_weights (
	company_id TEXT NOT NULL,
	period     DATE NOT NULL,
	department TEXT NOT NULL,
	tower      TEXT NOT NULL,
	weight_pct DOUBLE PRECISION NOT NULL CHECK (weight_pct >= 0 AND weight_pct <= 1),
	PRIMARY KEY (company_id, period, department, tower)
);

CREATE TABLE IF NOT EXISTS tbm_benefit_weights (
	company_id TEXT NOT NULL,
	period     DATE NOT NULL,
	category   TEXT NOT NULL,
	weight_pct DOUBLE PRECISION NOT NULL CHECK (weight_pct >= 0 AND weight_pct <= 1),
	PRIMARY KEY (company_id, period, category)
);

CREATE TABLE IF NOT EXISTS tbm_benefit_assumptions (
	company_id              TEXT NOT NULL,
	period                  DATE NOT NULL,
	revenue_uplift          NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (revenue_uplift >= 0),
	productivity_gain_hours NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (productivity_gain_hours >= 0),
	avg_loaded_rate         NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (avg_loaded_rate >= 0),
	risk_avoided_value      NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (risk_avoided_value >= 0),
	cost_avoided            NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (cost_avoided >= 0),
	PRIMARY KEY (company_id, period)
);

CREATE TABLE IF NOT EXISTS tbm_cost_pool_spend (
	company_id    TEXT NOT NULL,
	period        DATE NOT NULL,
	department_id TEXT NOT NULL,
	cost_pool_id  TEXT NOT NULL,
	amount        NUMERIC(18,2) NOT NULL CHECK (amount >= 0),
	PRIMARY KEY (company_id, period, department_id, cost_pool_id)
);

CREATE TABLE IF NOT EXISTS tbm_allocation_rules (
	company_id    TEXT NOT NULL,
	period        DATE NOT NULL,
	stage         TEXT NOT NULL,
	department_id TEXT NOT NULL DEFAULT '',
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	percent       DOUBLE PRECISION NOT NULL CHECK (percent >= 0 AND percent <= 1),
	PRIMARY KEY (company_id, period, stage, department_id, source_id, target_id)
);

CREATE TABLE IF NOT EXISTS tbm_solutions (
	company_id       TEXT NOT NULL,
	period           DATE NOT NULL,
	solution_id      TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	owner_department TEXT NOT NULL,
	business_tag     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (company_id, period, solution_id)
);

CREATE TABLE IF NOT EXISTS tbm_tower_costs (
	company_id TEXT NOT NULL,
	period     DATE NOT NULL,
	tower      TEXT NOT NULL,
	department TEXT NOT NULL,
	amount     NUMERIC(18,2) NOT NULL,
	PRIMARY KEY (company_id, period, tower, department)
);

CREATE TABLE IF NOT EXISTS tbm_solution_costs (
	company_id  TEXT NOT NULL,
	period      DATE NOT NULL,
	solution_id TEXT NOT NULL,
	amount      NUMERIC(18,2) NOT NULL,
	PRIMARY KEY (company_id, period, solution_id)
);

CREATE TABLE IF NOT EXISTS tbm_business_costs (
	company_id   TEXT NOT NULL,
	period       DATE NOT NULL,
	department   TEXT NOT NULL,
	business_tag TEXT NOT NULL,
	amount       NUMERIC(18,2) NOT NULL,
	PRIMARY KEY (company_id, period, department, business_tag)
);

CREATE TABLE IF NOT EXISTS tbm_roi_snapshots (
	company_id           TEXT NOT NULL,
	period               DATE NOT NULL,
	total_cost           NUMERIC(18,2) NOT NULL,
	total_benefit        NUMERIC(18,2) NOT NULL,
	net                  NUMERIC(18,2) NOT NULL,
	roi_pct              NUMERIC(10,2) NOT NULL,
	cost_per_employee    NUMERIC(18,2),
	benefit_per_employee NUMERIC(18,2),
	payback_months       NUMERIC(10,2),
	assumptions          JSONB NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, period)
);

CREATE TABLE IF NOT EXISTS tbm_runs (
	id            TEXT PRIMARY KEY,
	company_id    TEXT NOT NULL,
	period        DATE NOT NULL,
	stage         TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	error         TEXT NOT NULL DEFAULT '',
	dropped_spend NUMERIC(18,2) NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tbm_runs_company_period ON tbm_runs(company_id, period);
CREATE INDEX IF NOT EXISTS idx_tbm_runs_status ON tbm_runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) LoadOperationalInputs(ctx context.Context, companyID string, period time.Time) ([]model.OperationalInput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT department, employees, budget::text FROM tbm_operational_inputs
		 WHERE company_id = $1 AND period = $2 ORDER BY department`,
		companyID, period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load operational inputs")
	}
	defer rows.Close()

	var out []model.OperationalInput
	for rows.Next() {
		r := model.OperationalInput{CompanyID: companyID, Period: period}
		var budget string
		if err := rows.Scan(&r.Department, &r.Employees, &budget); err != nil {
			return nil, eris.Wrap(err, "postgres: scan operational input")
		}
		if r.Budget, err = decimal.NewFromString(budget); err != nil {
			return nil, eris.Wrap(err, "postgres: parse budget")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate operational inputs")
}

func (s *PostgresStore) LoadTowerWeights(ctx context.Context, companyID string, period time.Time) ([]model.TowerWeight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT department, tower, weight_pct FROM tbm_tower_weights
		 WHERE company_id = $1 AND period = $2 ORDER BY department, tower`,
		companyID, period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load tower weights")
	}
	defer rows.Close()

	var out []model.TowerWeight
	for rows.Next() {
		r := model.TowerWeight{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.Department, &r.Tower, &r.WeightPct); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tower weight")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate tower weights")
}

func (s *PostgresStore) LoadBenefitWeights(ctx context.Context, companyID string, period time.Time) ([]model.BenefitWeight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, weight_pct FROM tbm_benefit_weights
		 WHERE company_id = $1 AND period = $2 ORDER BY category`,
		companyID, period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load benefit weights")
	}
	defer rows.Close()

	var out []model.BenefitWeight
	for rows.Next() {
		r := model.BenefitWeight{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.Category, &r.WeightPct); err != nil {
			return nil, eris.Wrap(err, "postgres: scan benefit weight")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate benefit weights")
}

func (s *PostgresStore) LoadBenefitAssumptions(ctx context.Context, companyID string, period time.Time) (*model.BenefitAssumptions, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT revenue_uplift::text, productivity_gain_hours::text, avg_loaded_rate::text,
		        risk_avoided_value::text, cost_avoided::text
		 FROM tbm_benefit_assumptions WHERE company_id = $1 AND period = $2`,
		companyID, period)

	var ru, pg, alr, rav, ca string
	if err := row.Scan(&ru, &pg, &alr, &rav, &ca); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: load benefit assumptions")
	}
	a, err := parseAssumptions(ru, pg, alr, rav, ca)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse benefit assumptions")
	}
	return a, nil
}

func (s *PostgresStore) LoadCostPoolSpend(ctx context.Context, companyID string, period time.Time) ([]model.CostPoolSpend, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT department_id, cost_pool_id, amount::text FROM tbm_cost_pool_spend
		 WHERE company_id = $1 AND period = $2 ORDER BY department_id, cost_pool_id`,
		companyID, period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load cost pool spend")
	}
	defer rows.Close()

	var out []model.CostPoolSpend
	for rows.Next() {
		r := model.CostPoolSpend{CompanyID: companyID, Period: period}
		var amount string
		if err := rows.Scan(&r.DepartmentID, &r.CostPoolID, &amount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost pool spend")
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "postgres: parse spend amount")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate cost pool spend")
}

func (s *PostgresStore) LoadAllocationRules(ctx context.Context, companyID string, period time.Time, stage model.RuleStage) ([]model.AllocationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT department_id, source_id, target_id, percent FROM tbm_allocation_rules
		 WHERE company_id = $1 AND period = $2 AND stage = $3
		 ORDER BY department_id, source_id, target_id`,
		companyID, period, string(stage))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load allocation rules")
	}
	defer rows.Close()

	var out []model.AllocationRule
	for rows.Next() {
		r := model.AllocationRule{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.DepartmentID, &r.SourceID, &r.TargetID, &r.Percent); err != nil {
			return nil, eris.Wrap(err, "postgres: scan allocation rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate allocation rules")
}

func (s *PostgresStore) LoadSolutions(ctx context.Context, companyID string, period time.Time) ([]model.Solution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT solution_id, name, owner_department, business_tag FROM tbm_solutions
		 WHERE company_id = $1 AND period = $2 ORDER BY solution_id`,
		companyID, period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load solutions")
	}
	defer rows.Close()

	var out []model.Solution
	for rows.Next() {
		r := model.Solution{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.SolutionID, &r.Name, &r.OwnerDept, &r.BusinessTag); err != nil {
			return nil, eris.Wrap(err, "postgres: scan solution")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate solutions")
}

func (s *PostgresStore) ListCompanies(ctx context.Context, period time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT company_id FROM tbm_operational_inputs WHERE period = $1
		 UNION SELECT DISTINCT company_id FROM tbm_cost_pool_spend WHERE period = $1
		 ORDER BY company_id`,
		period)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func (s *PostgresStore) UpsertOperationalInputs(ctx context.Context, rows []model.OperationalInput) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.Department, r.Employees, r.Budget.String(), time.Now().UTC()})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tbm_operational_inputs",
		Columns:      []string{"company_id", "period", "department", "employees", "budget", "updated_at"},
		ConflictKeys: []string{"company_id", "period", "department"},
	}, data)
	return eris.Wrap(err, "postgres: upsert operational inputs")
}

// UpsertTowerWeights writes a batch of weight rows and re-validates
// each affected group inside the transaction. A group that no longer
// sums to 1 rolls the batch back and surfaces the WeightSumError.
func (s *PostgresStore) UpsertTowerWeights(ctx context.Context, rows []model.TowerWeight, tolerance float64) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tower weight upsert")
	}
	defer tx.Rollback(ctx)

	touched := map[[3]string]model.TowerWeight{}
	for _, row := range rows {
		_, err = tx.Exec(ctx,
			`INSERT INTO tbm_tower_weights (company_id, period, department, tower, weight_pct)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (company_id, period, department, tower) DO UPDATE SET weight_pct = EXCLUDED.weight_pct`,
			row.CompanyID, row.Period, row.Department, row.Tower, row.WeightPct)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert tower weight")
		}
		touched[[3]string{row.CompanyID, row.Period.Format("2006-01-02"), row.Department}] = row
	}

	// Re-validate every department group touched by this batch; any
	// failure rolls the whole batch back.
	for _, row := range touched {
		groupRows, err := tx.Query(ctx,
			`SELECT weight_pct FROM tbm_tower_weights
			 WHERE company_id = $1 AND period = $2 AND department = $3`,
			row.CompanyID, row.Period, row.Department)
		if err != nil {
			return eris.Wrap(err, "postgres: reload tower weight group")
		}
		weights, err := scanWeights(groupRows)
		if err != nil {
			return err
		}
		if err := engine.ValidateGroup("tower-weights/"+row.Department, weights, tolerance); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit tower weight upsert")
}

// UpsertBenefitWeights mirrors UpsertTowerWeights for the per-company
// benefit weight group.
func (s *PostgresStore) UpsertBenefitWeights(ctx context.Context, rows []model.BenefitWeight, tolerance float64) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin benefit weight upsert")
	}
	defer tx.Rollback(ctx)

	touched := map[[2]string]model.BenefitWeight{}
	for _, row := range rows {
		_, err = tx.Exec(ctx,
			`INSERT INTO tbm_benefit_weights (company_id, period, category, weight_pct)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (company_id, period, category) DO UPDATE SET weight_pct = EXCLUDED.weight_pct`,
			row.CompanyID, row.Period, string(row.Category), row.WeightPct)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert benefit weight")
		}
		touched[[2]string{row.CompanyID, row.Period.Format("2006-01-02")}] = row
	}

	for _, row := range touched {
		groupRows, err := tx.Query(ctx,
			`SELECT weight_pct FROM tbm_benefit_weights WHERE company_id = $1 AND period = $2`,
			row.CompanyID, row.Period)
		if err != nil {
			return eris.Wrap(err, "postgres: reload benefit weight group")
		}
		weights, err := scanWeights(groupRows)
		if err != nil {
			return err
		}
		if err := engine.ValidateGroup("benefit-weights", weights, tolerance); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit benefit weight upsert")
}

func (s *PostgresStore) UpsertBenefitAssumptions(ctx context.Context, companyID string, period time.Time, a model.BenefitAssumptions) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tbm_benefit_assumptions
		 (company_id, period, revenue_uplift, productivity_gain_hours, avg_loaded_rate, risk_avoided_value, cost_avoided)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (company_id, period) DO UPDATE SET
		   revenue_uplift = EXCLUDED.revenue_uplift,
		   productivity_gain_hours = EXCLUDED.productivity_gain_hours,
		   avg_loaded_rate = EXCLUDED.avg_loaded_rate,
		   risk_avoided_value = EXCLUDED.risk_avoided_value,
		   cost_avoided = EXCLUDED.cost_avoided`,
		companyID, period,
		a.RevenueUplift.String(), a.ProductivityGainHours.String(), a.AvgLoadedRate.String(),
		a.RiskAvoidedValue.String(), a.CostAvoided.String())
	return eris.Wrap(err, "postgres: upsert benefit assumptions")
}

func (s *PostgresStore) UpsertCostPoolSpend(ctx context.Context, rows []model.CostPoolSpend) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.DepartmentID, r.CostPoolID, r.Amount.String()})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tbm_cost_pool_spend",
		Columns:      []string{"company_id", "period", "department_id", "cost_pool_id", "amount"},
		ConflictKeys: []string{"company_id", "period", "department_id", "cost_pool_id"},
	}, data)
	return eris.Wrap(err, "postgres: upsert cost pool spend")
}

func (s *PostgresStore) UpsertAllocationRules(ctx context.Context, stage model.RuleStage, rows []model.AllocationRule) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, string(stage), r.DepartmentID, r.SourceID, r.TargetID, r.Percent})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tbm_allocation_rules",
		Columns:      []string{"company_id", "period", "stage", "department_id", "source_id", "target_id", "percent"},
		ConflictKeys: []string{"company_id", "period", "stage", "department_id", "source_id", "target_id"},
	}, data)
	return eris.Wrap(err, "postgres: upsert allocation rules")
}

func (s *PostgresStore) UpsertSolutions(ctx context.Context, rows []model.Solution) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.SolutionID, r.Name, r.OwnerDept, r.BusinessTag})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tbm_solutions",
		Columns:      []string{"company_id", "period", "solution_id", "name", "owner_department", "business_tag"},
		ConflictKeys: []string{"company_id", "period", "solution_id"},
	}, data)
	return eris.Wrap(err, "postgres: upsert solutions")
}

// replaceDerived rebuilds one derived table's (company, period) slice
// inside a single transaction: delete the old rows, COPY in the new.
func (s *PostgresStore) replaceDerived(ctx context.Context, table string, columns []string, companyID string, period time.Time, data [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin replace %s", table)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM "+table+" WHERE company_id = $1 AND period = $2",
		companyID, period); err != nil {
		return eris.Wrapf(err, "postgres: clear %s", table)
	}
	if len(data) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(data)); err != nil {
			return eris.Wrapf(err, "postgres: COPY into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit replace %s", table)
}

func (s *PostgresStore) ReplaceTowerCosts(ctx context.Context, companyID string, period time.Time, rows []model.TowerCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.Tower, r.Department, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_tower_costs",
		[]string{"company_id", "period", "tower", "department", "amount"},
		companyID, period, data)
}

func (s *PostgresStore) ReplaceSolutionCosts(ctx context.Context, companyID string, period time.Time, rows []model.SolutionCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.SolutionID, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_solution_costs",
		[]string{"company_id", "period", "solution_id", "amount"},
		companyID, period, data)
}

func (s *PostgresStore) ReplaceBusinessCosts(ctx context.Context, companyID string, period time.Time, rows []model.BusinessCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, r.Period, r.Department, r.BusinessTag, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_business_costs",
		[]string{"company_id", "period", "department", "business_tag", "amount"},
		companyID, period, data)
}

// UpsertRoiSnapshot writes the snapshot idempotently: created_at
// survives conflicts, updated_at always moves.
func (s *PostgresStore) UpsertRoiSnapshot(ctx context.Context, snap *model.RoiSnapshot) (*model.RoiSnapshot, error) {
	audit, err := json.Marshal(snap.Assumptions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal snapshot assumptions")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO tbm_roi_snapshots
		 (company_id, period, total_cost, total_benefit, net, roi_pct,
		  cost_per_employee, benefit_per_employee, payback_months, assumptions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (company_id, period) DO UPDATE SET
		   total_cost = EXCLUDED.total_cost,
		   total_benefit = EXCLUDED.total_benefit,
		   net = EXCLUDED.net,
		   roi_pct = EXCLUDED.roi_pct,
		   cost_per_employee = EXCLUDED.cost_per_employee,
		   benefit_per_employee = EXCLUDED.benefit_per_employee,
		   payback_months = EXCLUDED.payback_months,
		   assumptions = EXCLUDED.assumptions,
		   updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		snap.CompanyID, snap.Period,
		snap.TotalCost.String(), snap.TotalBenefit.String(), snap.Net.String(), snap.RoiPct.String(),
		decimalPtrString(snap.CostPerEmployee), decimalPtrString(snap.BenefitPerEmployee), decimalPtrString(snap.PaybackMonths),
		audit, snap.CreatedAt, snap.UpdatedAt)

	stored := *snap
	if err := row.Scan(&stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert roi snapshot")
	}
	return &stored, nil
}

func (s *PostgresStore) GetRoiSnapshot(ctx context.Context, companyID string, period time.Time) (*model.RoiSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT company_id, period, total_cost::text, total_benefit::text, net::text, roi_pct::text,
		        cost_per_employee::text, benefit_per_employee::text, payback_months::text,
		        assumptions, created_at, updated_at
		 FROM tbm_roi_snapshots WHERE company_id = $1 AND period = $2`,
		companyID, period)

	snap, err := scanSnapshot(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get roi snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) ListRoiSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RoiSnapshot, error) {
	q := psql.Select(
		"company_id", "period", "total_cost::text", "total_benefit::text", "net::text", "roi_pct::text",
		"cost_per_employee::text", "benefit_per_employee::text", "payback_months::text",
		"assumptions", "created_at", "updated_at").
		From("tbm_roi_snapshots").
		OrderBy("company_id", "period DESC")

	if filter.CompanyID != "" {
		q = q.Where(sq.Eq{"company_id": filter.CompanyID})
	}
	if filter.From != nil {
		q = q.Where(sq.GtOrEq{"period": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(sq.LtOrEq{"period": *filter.To})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build snapshot query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list roi snapshots")
	}
	defer rows.Close()

	var out []model.RoiSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan roi snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate roi snapshots")
}

func (s *PostgresStore) CreateRun(ctx context.Context, companyID string, period time.Time) (*model.RecomputeRun, error) {
	run := &model.RecomputeRun{
		ID:           uuid.New().String(),
		CompanyID:    companyID,
		Period:       period,
		Stage:        "validating",
		Status:       model.RunRunning,
		DroppedSpend: decimal.Zero,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tbm_runs (id, company_id, period, stage, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.CompanyID, run.Period, run.Stage, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunStage(ctx context.Context, runID, stage string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tbm_runs SET stage = $1 WHERE id = $2`, stage, runID)
	return eris.Wrap(err, "postgres: update run stage")
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stage, errMsg string, droppedSpend decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tbm_runs SET status = $1, stage = $2, error = $3, dropped_spend = $4, finished_at = $5 WHERE id = $6`,
		string(status), stage, errMsg, droppedSpend.String(), time.Now().UTC(), runID)
	return eris.Wrap(err, "postgres: complete run")
}

// scanWeights drains a weight_pct query into a float slice, closing
// the rows.
func scanWeights(rows pgx.Rows) ([]float64, error) {
	defer rows.Close()
	var weights []float64
	for rows.Next() {
		var w float64
		if err := rows.Scan(&w); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weight")
		}
		weights = append(weights, w)
	}
	return weights, eris.Wrap(rows.Err(), "postgres: iterate weights")
}

func scanSnapshot(row pgx.Row) (*model.RoiSnapshot, error) {
	var snap model.RoiSnapshot
	var totalCost, totalBenefit, net, roiPct string
	var cpe, bpe, payback *string
	var audit []byte

	err := row.Scan(&snap.CompanyID, &snap.Period, &totalCost, &totalBenefit, &net, &roiPct,
		&cpe, &bpe, &payback, &audit, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if snap.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, eris.Wrap(err, "postgres: parse total cost")
	}
	if snap.TotalBenefit, err = decimal.NewFromString(totalBenefit); err != nil {
		return nil, eris.Wrap(err, "postgres: parse total benefit")
	}
	if snap.Net, err = decimal.NewFromString(net); err != nil {
		return nil, eris.Wrap(err, "postgres: parse net")
	}
	if snap.RoiPct, err = decimal.NewFromString(roiPct); err != nil {
		return nil, eris.Wrap(err, "postgres: parse roi pct")
	}
	if snap.CostPerEmployee, err = parseDecimalPtr(cpe); err != nil {
		return nil, err
	}
	if snap.BenefitPerEmployee, err = parseDecimalPtr(bpe); err != nil {
		return nil, err
	}
	if snap.PaybackMonths, err = parseDecimalPtr(payback); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audit, &snap.Assumptions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot assumptions")
	}
	return &snap, nil
}

func parseAssumptions(ru, pg, alr, rav, ca string) (*model.BenefitAssumptions, error) {
	var a model.BenefitAssumptions
	var err error
	if a.RevenueUplift, err = decimal.NewFromString(ru); err != nil {
		return nil, err
	}
	if a.ProductivityGainHours, err = decimal.NewFromString(pg); err != nil {
		return nil, err
	}
	if a.AvgLoadedRate, err = decimal.NewFromString(alr); err != nil {
		return nil, err
	}
	if a.RiskAvoidedValue, err = decimal.NewFromString(rav); err != nil {
		return nil, err
	}
	if a.CostAvoided, err = decimal.NewFromString(ca); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse decimal")
	}
	return &d, nil
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

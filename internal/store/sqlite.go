package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/clearcost/tbm-engine/internal/engine"
	"github.com/clearcost/tbm-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local
// single-user setups without a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteDateLayout = "2006-01-02"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tbm_operational_inputs (
	company_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	department TEXT NOT NULL,
	employees  INTEGER NOT NULL DEFAULT 0,
	budget     TEXT NOT NULL DEFAULT '0',
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company_id, period, department)
);

CREATE TABLE IF NOT EXISTS tbm_tower_weights (
	company_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	department TEXT NOT NULL,
	tower      TEXT NOT NULL,
	weight_pct REAL NOT NULL,
	PRIMARY KEY (company_id, period, department, tower)
);

CREATE TABLE IF NOT EXISTS tbm_benefit_weights (
	company_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	category   TEXT NOT NULL,
	weight_pct REAL NOT NULL,
	PRIMARY KEY (company_id, period, category)
);

CREATE TABLE IF NOT EXISTS tbm_benefit_assumptions (
	company_id              TEXT NOT NULL,
	period                  TEXT NOT NULL,
	revenue_uplift          TEXT NOT NULL DEFAULT '0',
	productivity_gain_hours TEXT NOT NULL DEFAULT '0',
	avg_loaded_rate         TEXT NOT NULL DEFAULT '0',
	risk_avoided_value      TEXT NOT NULL DEFAULT '0',
	cost_avoided            TEXT NOT NULL DEFAULT '0',
	PRIMARY KEY (company_id, period)
);

CREATE TABLE IF NOT EXISTS tbm_cost_pool_spend (
	company_id    TEXT NOT NULL,
	period        TEXT NOT NULL,
	department_id TEXT NOT NULL,
	cost_pool_id  TEXT NOT NULL,
	amount        TEXT NOT NULL,
	PRIMARY KEY (company_id, period, department_id, cost_pool_id)
);

CREATE TABLE IF NOT EXISTS tbm_allocation_rules (
	company_id    TEXT NOT NULL,
	period        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	department_id TEXT NOT NULL DEFAULT '',
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	percent       REAL NOT NULL,
	PRIMARY KEY (company_id, period, stage, department_id, source_id, target_id)
);

CREATE TABLE IF NOT EXISTS tbm_solutions (
	company_id       TEXT NOT NULL,
	period           TEXT NOT NULL,
	solution_id      TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	owner_department TEXT NOT NULL,
	business_tag     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (company_id, period, solution_id)
);

CREATE TABLE IF NOT EXISTS tbm_tower_costs (
	company_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	tower      TEXT NOT NULL,
	department TEXT NOT NULL,
	amount     TEXT NOT NULL,
	PRIMARY KEY (company_id, period, tower, department)
);

CREATE TABLE IF NOT EXISTS tbm_solution_costs (
	company_id  TEXT NOT NULL,
	period      TEXT NOT NULL,
	solution_id TEXT NOT NULL,
	amount      TEXT NOT NULL,
	PRIMARY KEY (company_id, period, solution_id)
);

CREATE TABLE IF NOT EXISTS tbm_business_costs (
	company_id   TEXT NOT NULL,
	period       TEXT NOT NULL,
	department   TEXT NOT NULL,
	business_tag TEXT NOT NULL,
	amount       TEXT NOT NULL,
	PRIMARY KEY (company_id, period, department, business_tag)
);

CREATE TABLE IF NOT EXISTS tbm_roi_snapshots (
	company_id           TEXT NOT NULL,
	period               TEXT NOT NULL,
	total_cost           TEXT NOT NULL,
	total_benefit        TEXT NOT NULL,
	net                  TEXT NOT NULL,
	roi_pct              TEXT NOT NULL,
	cost_per_employee    TEXT,
	benefit_per_employee TEXT,
	payback_months       TEXT,
	assumptions          TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	PRIMARY KEY (company_id, period)
);

CREATE TABLE IF NOT EXISTS tbm_runs (
	id            TEXT PRIMARY KEY,
	company_id    TEXT NOT NULL,
	period        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	error         TEXT NOT NULL DEFAULT '',
	dropped_spend TEXT NOT NULL DEFAULT '0',
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_tbm_runs_company_period ON tbm_runs(company_id, period);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteDate(period time.Time) string {
	return period.Format(sqliteDateLayout)
}

func (s *SQLiteStore) LoadOperationalInputs(ctx context.Context, companyID string, period time.Time) ([]model.OperationalInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT department, employees, budget FROM tbm_operational_inputs
		 WHERE company_id = ? AND period = ? ORDER BY department`,
		companyID, sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load operational inputs")
	}
	defer rows.Close()

	var out []model.OperationalInput
	for rows.Next() {
		r := model.OperationalInput{CompanyID: companyID, Period: period}
		var budget string
		if err := rows.Scan(&r.Department, &r.Employees, &budget); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan operational input")
		}
		if r.Budget, err = decimal.NewFromString(budget); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse budget")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate operational inputs")
}

func (s *SQLiteStore) LoadTowerWeights(ctx context.Context, companyID string, period time.Time) ([]model.TowerWeight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT department, tower, weight_pct FROM tbm_tower_weights
		 WHERE company_id = ? AND period = ? ORDER BY department, tower`,
		companyID, sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load tower weights")
	}
	defer rows.Close()

	var out []model.TowerWeight
	for rows.Next() {
		r := model.TowerWeight{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.Department, &r.Tower, &r.WeightPct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tower weight")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate tower weights")
}

func (s *SQLiteStore) LoadBenefitWeights(ctx context.Context, companyID string, period time.Time) ([]model.BenefitWeight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, weight_pct FROM tbm_benefit_weights
		 WHERE company_id = ? AND period = ? ORDER BY category`,
		companyID, sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load benefit weights")
	}
	defer rows.Close()

	var out []model.BenefitWeight
	for rows.Next() {
		r := model.BenefitWeight{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.Category, &r.WeightPct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan benefit weight")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate benefit weights")
}

func (s *SQLiteStore) LoadBenefitAssumptions(ctx context.Context, companyID string, period time.Time) (*model.BenefitAssumptions, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT revenue_uplift, productivity_gain_hours, avg_loaded_rate, risk_avoided_value, cost_avoided
		 FROM tbm_benefit_assumptions WHERE company_id = ? AND period = ?`,
		companyID, sqliteDate(period))

	var ru, pg, alr, rav, ca string
	if err := row.Scan(&ru, &pg, &alr, &rav, &ca); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: load benefit assumptions")
	}
	a, err := parseAssumptions(ru, pg, alr, rav, ca)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse benefit assumptions")
	}
	return a, nil
}

func (s *SQLiteStore) LoadCostPoolSpend(ctx context.Context, companyID string, period time.Time) ([]model.CostPoolSpend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT department_id, cost_pool_id, amount FROM tbm_cost_pool_spend
		 WHERE company_id = ? AND period = ? ORDER BY department_id, cost_pool_id`,
		companyID, sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load cost pool spend")
	}
	defer rows.Close()

	var out []model.CostPoolSpend
	for rows.Next() {
		r := model.CostPoolSpend{CompanyID: companyID, Period: period}
		var amount string
		if err := rows.Scan(&r.DepartmentID, &r.CostPoolID, &amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost pool spend")
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse spend amount")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate cost pool spend")
}

func (s *SQLiteStore) LoadAllocationRules(ctx context.Context, companyID string, period time.Time, stage model.RuleStage) ([]model.AllocationRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT department_id, source_id, target_id, percent FROM tbm_allocation_rules
		 WHERE company_id = ? AND period = ? AND stage = ?
		 ORDER BY department_id, source_id, target_id`,
		companyID, sqliteDate(period), string(stage))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load allocation rules")
	}
	defer rows.Close()

	var out []model.AllocationRule
	for rows.Next() {
		r := model.AllocationRule{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.DepartmentID, &r.SourceID, &r.TargetID, &r.Percent); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan allocation rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate allocation rules")
}

func (s *SQLiteStore) LoadSolutions(ctx context.Context, companyID string, period time.Time) ([]model.Solution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT solution_id, name, owner_department, business_tag FROM tbm_solutions
		 WHERE company_id = ? AND period = ? ORDER BY solution_id`,
		companyID, sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load solutions")
	}
	defer rows.Close()

	var out []model.Solution
	for rows.Next() {
		r := model.Solution{CompanyID: companyID, Period: period}
		if err := rows.Scan(&r.SolutionID, &r.Name, &r.OwnerDept, &r.BusinessTag); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan solution")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate solutions")
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, period time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT company_id FROM tbm_operational_inputs WHERE period = ?
		 UNION SELECT DISTINCT company_id FROM tbm_cost_pool_spend WHERE period = ?
		 ORDER BY company_id`,
		sqliteDate(period), sqliteDate(period))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLiteStore) UpsertOperationalInputs(ctx context.Context, rows []model.OperationalInput) error {
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tbm_operational_inputs (company_id, period, department, employees, budget, updated_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT (company_id, period, department) DO UPDATE SET
			   employees = excluded.employees, budget = excluded.budget, updated_at = excluded.updated_at`,
			r.CompanyID, sqliteDate(r.Period), r.Department, r.Employees, r.Budget.String())
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert operational input")
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertTowerWeights(ctx context.Context, rows []model.TowerWeight, tolerance float64) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tower weight upsert")
	}
	defer tx.Rollback()

	touched := map[[3]string]model.TowerWeight{}
	for _, row := range rows {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tbm_tower_weights (company_id, period, department, tower, weight_pct)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, period, department, tower) DO UPDATE SET weight_pct = excluded.weight_pct`,
			row.CompanyID, sqliteDate(row.Period), row.Department, row.Tower, row.WeightPct)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert tower weight")
		}
		touched[[3]string{row.CompanyID, sqliteDate(row.Period), row.Department}] = row
	}

	for _, row := range touched {
		weights, err := s.groupWeights(ctx, tx,
			`SELECT weight_pct FROM tbm_tower_weights WHERE company_id = ? AND period = ? AND department = ?`,
			row.CompanyID, sqliteDate(row.Period), row.Department)
		if err != nil {
			return err
		}
		if err := engine.ValidateGroup("tower-weights/"+row.Department, weights, tolerance); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tower weight upsert")
}

func (s *SQLiteStore) UpsertBenefitWeights(ctx context.Context, rows []model.BenefitWeight, tolerance float64) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin benefit weight upsert")
	}
	defer tx.Rollback()

	touched := map[[2]string]model.BenefitWeight{}
	for _, row := range rows {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tbm_benefit_weights (company_id, period, category, weight_pct)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (company_id, period, category) DO UPDATE SET weight_pct = excluded.weight_pct`,
			row.CompanyID, sqliteDate(row.Period), string(row.Category), row.WeightPct)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert benefit weight")
		}
		touched[[2]string{row.CompanyID, sqliteDate(row.Period)}] = row
	}

	for _, row := range touched {
		weights, err := s.groupWeights(ctx, tx,
			`SELECT weight_pct FROM tbm_benefit_weights WHERE company_id = ? AND period = ?`,
			row.CompanyID, sqliteDate(row.Period))
		if err != nil {
			return err
		}
		if err := engine.ValidateGroup("benefit-weights", weights, tolerance); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit benefit weight upsert")
}

func (s *SQLiteStore) groupWeights(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]float64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reload weight group")
	}
	defer rows.Close()

	var weights []float64
	for rows.Next() {
		var w float64
		if err := rows.Scan(&w); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan weight")
		}
		weights = append(weights, w)
	}
	return weights, eris.Wrap(rows.Err(), "sqlite: iterate weights")
}

func (s *SQLiteStore) UpsertBenefitAssumptions(ctx context.Context, companyID string, period time.Time, a model.BenefitAssumptions) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbm_benefit_assumptions
		 (company_id, period, revenue_uplift, productivity_gain_hours, avg_loaded_rate, risk_avoided_value, cost_avoided)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, period) DO UPDATE SET
		   revenue_uplift = excluded.revenue_uplift,
		   productivity_gain_hours = excluded.productivity_gain_hours,
		   avg_loaded_rate = excluded.avg_loaded_rate,
		   risk_avoided_value = excluded.risk_avoided_value,
		   cost_avoided = excluded.cost_avoided`,
		companyID, sqliteDate(period),
		a.RevenueUplift.String(), a.ProductivityGainHours.String(), a.AvgLoadedRate.String(),
		a.RiskAvoidedValue.String(), a.CostAvoided.String())
	return eris.Wrap(err, "sqlite: upsert benefit assumptions")
}

func (s *SQLiteStore) UpsertCostPoolSpend(ctx context.Context, rows []model.CostPoolSpend) error {
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tbm_cost_pool_spend (company_id, period, department_id, cost_pool_id, amount)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, period, department_id, cost_pool_id) DO UPDATE SET amount = excluded.amount`,
			r.CompanyID, sqliteDate(r.Period), r.DepartmentID, r.CostPoolID, r.Amount.String())
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert cost pool spend")
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertAllocationRules(ctx context.Context, stage model.RuleStage, rows []model.AllocationRule) error {
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tbm_allocation_rules (company_id, period, stage, department_id, source_id, target_id, percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, period, stage, department_id, source_id, target_id) DO UPDATE SET percent = excluded.percent`,
			r.CompanyID, sqliteDate(r.Period), string(stage), r.DepartmentID, r.SourceID, r.TargetID, r.Percent)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert allocation rule")
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertSolutions(ctx context.Context, rows []model.Solution) error {
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tbm_solutions (company_id, period, solution_id, name, owner_department, business_tag)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, period, solution_id) DO UPDATE SET
			   name = excluded.name, owner_department = excluded.owner_department, business_tag = excluded.business_tag`,
			r.CompanyID, sqliteDate(r.Period), r.SolutionID, r.Name, r.OwnerDept, r.BusinessTag)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert solution")
		}
	}
	return nil
}

func (s *SQLiteStore) replaceDerived(ctx context.Context, table, insertSQL string, companyID string, period time.Time, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin replace %s", table)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE company_id = ? AND period = ?",
		companyID, sqliteDate(period)); err != nil {
		return eris.Wrapf(err, "sqlite: clear %s", table)
	}
	for _, args := range rows {
		if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit replace %s", table)
}

func (s *SQLiteStore) ReplaceTowerCosts(ctx context.Context, companyID string, period time.Time, rows []model.TowerCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, sqliteDate(r.Period), r.Tower, r.Department, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_tower_costs",
		`INSERT INTO tbm_tower_costs (company_id, period, tower, department, amount) VALUES (?, ?, ?, ?, ?)`,
		companyID, period, data)
}

func (s *SQLiteStore) ReplaceSolutionCosts(ctx context.Context, companyID string, period time.Time, rows []model.SolutionCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, sqliteDate(r.Period), r.SolutionID, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_solution_costs",
		`INSERT INTO tbm_solution_costs (company_id, period, solution_id, amount) VALUES (?, ?, ?, ?)`,
		companyID, period, data)
}

func (s *SQLiteStore) ReplaceBusinessCosts(ctx context.Context, companyID string, period time.Time, rows []model.BusinessCost) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CompanyID, sqliteDate(r.Period), r.Department, r.BusinessTag, r.Amount.String()})
	}
	return s.replaceDerived(ctx, "tbm_business_costs",
		`INSERT INTO tbm_business_costs (company_id, period, department, business_tag, amount) VALUES (?, ?, ?, ?, ?)`,
		companyID, period, data)
}

func (s *SQLiteStore) UpsertRoiSnapshot(ctx context.Context, snap *model.RoiSnapshot) (*model.RoiSnapshot, error) {
	audit, err := json.Marshal(snap.Assumptions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal snapshot assumptions")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tbm_roi_snapshots
		 (company_id, period, total_cost, total_benefit, net, roi_pct,
		  cost_per_employee, benefit_per_employee, payback_months, assumptions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, period) DO UPDATE SET
		   total_cost = excluded.total_cost,
		   total_benefit = excluded.total_benefit,
		   net = excluded.net,
		   roi_pct = excluded.roi_pct,
		   cost_per_employee = excluded.cost_per_employee,
		   benefit_per_employee = excluded.benefit_per_employee,
		   payback_months = excluded.payback_months,
		   assumptions = excluded.assumptions,
		   updated_at = excluded.updated_at`,
		snap.CompanyID, sqliteDate(snap.Period),
		snap.TotalCost.String(), snap.TotalBenefit.String(), snap.Net.String(), snap.RoiPct.String(),
		decimalPtrString(snap.CostPerEmployee), decimalPtrString(snap.BenefitPerEmployee), decimalPtrString(snap.PaybackMonths),
		string(audit), snap.CreatedAt.Format(time.RFC3339Nano), snap.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert roi snapshot")
	}

	return s.GetRoiSnapshot(ctx, snap.CompanyID, snap.Period)
}

func (s *SQLiteStore) GetRoiSnapshot(ctx context.Context, companyID string, period time.Time) (*model.RoiSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT company_id, period, total_cost, total_benefit, net, roi_pct,
		        cost_per_employee, benefit_per_employee, payback_months, assumptions, created_at, updated_at
		 FROM tbm_roi_snapshots WHERE company_id = ? AND period = ?`,
		companyID, sqliteDate(period))

	snap, err := scanSQLiteSnapshot(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get roi snapshot")
	}
	return snap, nil
}

func (s *SQLiteStore) ListRoiSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RoiSnapshot, error) {
	query := `SELECT company_id, period, total_cost, total_benefit, net, roi_pct,
	                 cost_per_employee, benefit_per_employee, payback_months, assumptions, created_at, updated_at
	          FROM tbm_roi_snapshots`
	var conds []string
	var args []any
	if filter.CompanyID != "" {
		conds = append(conds, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.From != nil {
		conds = append(conds, "period >= ?")
		args = append(args, sqliteDate(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "period <= ?")
		args = append(args, sqliteDate(*filter.To))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY company_id, period DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list roi snapshots")
	}
	defer rows.Close()

	var out []model.RoiSnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan roi snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate roi snapshots")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, companyID string, period time.Time) (*model.RecomputeRun, error) {
	run := &model.RecomputeRun{
		ID:           uuid.New().String(),
		CompanyID:    companyID,
		Period:       period,
		Stage:        "validating",
		Status:       model.RunRunning,
		DroppedSpend: decimal.Zero,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbm_runs (id, company_id, period, stage, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CompanyID, sqliteDate(run.Period), run.Stage, string(run.Status), run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunStage(ctx context.Context, runID, stage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tbm_runs SET stage = ? WHERE id = ?`, stage, runID)
	return eris.Wrap(err, "sqlite: update run stage")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stage, errMsg string, droppedSpend decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tbm_runs SET status = ?, stage = ?, error = ?, dropped_spend = ?, finished_at = ? WHERE id = ?`,
		string(status), stage, errMsg, droppedSpend.String(), time.Now().UTC().Format(time.RFC3339Nano), runID)
	return eris.Wrap(err, "sqlite: complete run")
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row scanner) (*model.RoiSnapshot, error) {
	var snap model.RoiSnapshot
	var periodStr, totalCost, totalBenefit, net, roiPct, audit, createdAt, updatedAt string
	var cpe, bpe, payback *string

	err := row.Scan(&snap.CompanyID, &periodStr, &totalCost, &totalBenefit, &net, &roiPct,
		&cpe, &bpe, &payback, &audit, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if snap.Period, err = time.Parse(sqliteDateLayout, periodStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse period")
	}
	if snap.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse total cost")
	}
	if snap.TotalBenefit, err = decimal.NewFromString(totalBenefit); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse total benefit")
	}
	if snap.Net, err = decimal.NewFromString(net); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse net")
	}
	if snap.RoiPct, err = decimal.NewFromString(roiPct); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse roi pct")
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
	if err := json.Unmarshal([]byte(audit), &snap.Assumptions); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot assumptions")
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	return &snap, nil
}

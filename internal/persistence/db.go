// Package persistence archives simulation runs and their metric histories
// in SQLite. It stores results only; economies are never resumed from it.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/macrosim/internal/metrics"
)

// ErrRunNotFound is returned for run IDs the archive does not hold.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Run is one archived simulation.
type Run struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Seed       int64  `db:"seed" json:"seed"`
	Scenario   string `db:"scenario" json:"scenario,omitempty"`
	ConfigJSON string `db:"config_json" json:"-"`
	CreatedAt  int64  `db:"created_at" json:"created_at"` // unix nanoseconds
	Steps      int    `db:"steps" json:"steps"`
}

// Created returns CreatedAt as a time.
func (r Run) Created() time.Time { return time.Unix(0, r.CreatedAt) }

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		scenario TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		step INTEGER NOT NULL,
		gdp REAL NOT NULL,
		unemployment REAL NOT NULL,
		inflation REAL NOT NULL,
		gini REAL NOT NULL,
		avg_wage REAL NOT NULL,
		avg_price REAL NOT NULL,
		cpi REAL NOT NULL,
		govt_debt REAL NOT NULL,
		budget_balance REAL NOT NULL,
		tax_revenue REAL NOT NULL,
		welfare_paid REAL NOT NULL,
		govt_spending REAL NOT NULL,
		govt_purchases REAL NOT NULL,
		interest_rate REAL NOT NULL,
		money_supply REAL NOT NULL,
		employment REAL NOT NULL,
		total_demand REAL NOT NULL,
		total_supply REAL NOT NULL,
		units_sold REAL NOT NULL,
		narrative TEXT NOT NULL DEFAULT '',
		extensions_json TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, step)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun records a new run. An empty ID is filled with a fresh UUID and
// CreatedAt with the current time.
func (db *DB) CreateRun(r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}
	if r.ConfigJSON == "" {
		r.ConfigJSON = "{}"
	}
	r.Steps = 0

	_, err := db.conn.NamedExec(`INSERT INTO runs
		(id, name, seed, scenario, config_json, created_at)
		VALUES (:id, :name, :seed, :scenario, :config_json, :created_at)`, r)
	if err != nil {
		return Run{}, fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return r, nil
}

const runColumns = `r.id, r.name, r.seed, r.scenario, r.config_json, r.created_at,
	(SELECT COUNT(*) FROM snapshots s WHERE s.run_id = r.id) AS steps`

// GetRun loads one run with its snapshot count.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT "+runColumns+" FROM runs r WHERE r.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT "+runColumns+" FROM runs r ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type snapshotRow struct {
	RunID          string  `db:"run_id"`
	Step           int     `db:"step"`
	GDP            float64 `db:"gdp"`
	Unemployment   float64 `db:"unemployment"`
	Inflation      float64 `db:"inflation"`
	Gini           float64 `db:"gini"`
	AvgWage        float64 `db:"avg_wage"`
	AvgPrice       float64 `db:"avg_price"`
	CPI            float64 `db:"cpi"`
	GovtDebt       float64 `db:"govt_debt"`
	BudgetBalance  float64 `db:"budget_balance"`
	TaxRevenue     float64 `db:"tax_revenue"`
	WelfarePaid    float64 `db:"welfare_paid"`
	GovtSpending   float64 `db:"govt_spending"`
	GovtPurchases  float64 `db:"govt_purchases"`
	InterestRate   float64 `db:"interest_rate"`
	MoneySupply    float64 `db:"money_supply"`
	Employment     float64 `db:"employment"`
	TotalDemand    float64 `db:"total_demand"`
	TotalSupply    float64 `db:"total_supply"`
	UnitsSold      float64 `db:"units_sold"`
	Narrative      string  `db:"narrative"`
	ExtensionsJSON string  `db:"extensions_json"`
}

func toRow(runID string, s metrics.Snapshot) (snapshotRow, error) {
	row := snapshotRow{
		RunID: runID, Step: s.Step,
		GDP: s.GDP, Unemployment: s.Unemployment, Inflation: s.Inflation,
		Gini: s.Gini, AvgWage: s.AvgWage, AvgPrice: s.AvgPrice, CPI: s.CPI,
		GovtDebt: s.GovtDebt, BudgetBalance: s.BudgetBalance,
		TaxRevenue: s.TaxRevenue, WelfarePaid: s.WelfarePaid,
		GovtSpending: s.GovtSpending, GovtPurchases: s.GovtPurchases,
		InterestRate: s.InterestRate, MoneySupply: s.MoneySupply,
		Employment: s.Employment, TotalDemand: s.TotalDemand,
		TotalSupply: s.TotalSupply, UnitsSold: s.UnitsSold,
		Narrative: s.Narrative,
	}
	if len(s.Extensions) > 0 {
		b, err := json.Marshal(s.Extensions)
		if err != nil {
			return row, err
		}
		row.ExtensionsJSON = string(b)
	}
	return row, nil
}

func (row snapshotRow) snapshot() (metrics.Snapshot, error) {
	s := metrics.Snapshot{
		Step: row.Step,
		GDP:  row.GDP, Unemployment: row.Unemployment, Inflation: row.Inflation,
		Gini: row.Gini, AvgWage: row.AvgWage, AvgPrice: row.AvgPrice, CPI: row.CPI,
		GovtDebt: row.GovtDebt, BudgetBalance: row.BudgetBalance,
		TaxRevenue: row.TaxRevenue, WelfarePaid: row.WelfarePaid,
		GovtSpending: row.GovtSpending, GovtPurchases: row.GovtPurchases,
		InterestRate: row.InterestRate, MoneySupply: row.MoneySupply,
		Employment: row.Employment, TotalDemand: row.TotalDemand,
		TotalSupply: row.TotalSupply, UnitsSold: row.UnitsSold,
		Narrative: row.Narrative,
	}
	if row.ExtensionsJSON != "" {
		if err := json.Unmarshal([]byte(row.ExtensionsJSON), &s.Extensions); err != nil {
			return s, err
		}
	}
	return s, nil
}

// SaveSnapshots appends snapshots to a run. A snapshot for a step already
// archived replaces it.
func (db *DB) SaveSnapshots(runID string, snaps []metrics.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.Get(&exists, "SELECT COUNT(*) FROM runs WHERE id = ?", runID); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	stmt, err := tx.PrepareNamed(`INSERT OR REPLACE INTO snapshots
		(run_id, step, gdp, unemployment, inflation, gini, avg_wage, avg_price, cpi,
		 govt_debt, budget_balance, tax_revenue, welfare_paid, govt_spending,
		 govt_purchases, interest_rate, money_supply, employment, total_demand,
		 total_supply, units_sold, narrative, extensions_json)
		VALUES (:run_id, :step, :gdp, :unemployment, :inflation, :gini, :avg_wage,
		 :avg_price, :cpi, :govt_debt, :budget_balance, :tax_revenue, :welfare_paid,
		 :govt_spending, :govt_purchases, :interest_rate, :money_supply, :employment,
		 :total_demand, :total_supply, :units_sold, :narrative, :extensions_json)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snaps {
		row, err := toRow(runID, s)
		if err != nil {
			return fmt.Errorf("encode step %d: %w", s.Step, err)
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert step %d: %w", s.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("snapshots archived", "run", runID, "count", len(snaps))
	return nil
}

// LoadHistory returns a run's snapshots in step order.
func (db *DB) LoadHistory(runID string) ([]metrics.Snapshot, error) {
	if _, err := db.GetRun(runID); err != nil {
		return nil, err
	}

	var rows []snapshotRow
	if err := db.conn.Select(&rows,
		"SELECT * FROM snapshots WHERE run_id = ? ORDER BY step", runID,
	); err != nil {
		return nil, fmt.Errorf("load history %s: %w", runID, err)
	}

	out := make([]metrics.Snapshot, len(rows))
	for i, row := range rows {
		s, err := row.snapshot()
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", row.Step, err)
		}
		out[i] = s
	}
	return out, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

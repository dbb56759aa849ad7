// Package pgstore is the durable persisted-state layer mirroring the
// in-process Historical Store (C3) and Schedule Store (C7): a Postgres
// table per store. Periods are written with the same delete-then-upsert
// transaction shape the teacher uses for its own decision log and read
// back a day at a time; schedule runs are upserted one at a time and read
// back latest-first. Nothing in this module loads these tables back into
// the manager at startup, so a restart begins with empty stores.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/devskill-org/bess-scheduler/bess/store"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

// Store is the Postgres-backed durable mirror of store.Historical and
// store.Schedule.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to the given Postgres DSN and returns a Store. Callers
// should call EnsureSchema once before first use.
func Open(dsn string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS bess_periods (
	day DATE NOT NULL,
	period_index INT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	data_source SMALLINT NOT NULL,
	solar_production DOUBLE PRECISION NOT NULL,
	home_consumption DOUBLE PRECISION NOT NULL,
	grid_imported DOUBLE PRECISION NOT NULL,
	grid_exported DOUBLE PRECISION NOT NULL,
	battery_charged DOUBLE PRECISION NOT NULL,
	battery_discharged DOUBLE PRECISION NOT NULL,
	battery_soe_start DOUBLE PRECISION NOT NULL,
	battery_soe_end DOUBLE PRECISION NOT NULL,
	buy_price DOUBLE PRECISION NOT NULL,
	sell_price DOUBLE PRECISION NOT NULL,
	hourly_cost DOUBLE PRECISION NOT NULL,
	hourly_savings DOUBLE PRECISION NOT NULL,
	strategic_intent TEXT NOT NULL,
	battery_action_kw DOUBLE PRECISION NOT NULL,
	cost_basis DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (day, period_index)
);

CREATE TABLE IF NOT EXISTS bess_schedule_runs (
	day DATE NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	optimization_period INT NOT NULL,
	scenario TEXT NOT NULL,
	result_json JSONB NOT NULL,
	PRIMARY KEY (day, timestamp)
);
`

// EnsureSchema creates both tables if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

// SavePeriods replaces today's persisted periods with the given set, in one
// transaction: delete today's rows, then upsert each period. Mirrors the
// teacher's saveMPCDecisions delete-then-upsert shape.
func (s *Store) SavePeriods(ctx context.Context, day time.Time, periods []*types.PeriodData) error {
	if len(periods) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bess_periods WHERE day = $1`, dateOnly(day)); err != nil {
		return fmt.Errorf("pgstore: delete existing periods: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bess_periods (
			day, period_index, timestamp, data_source,
			solar_production, home_consumption, grid_imported, grid_exported,
			battery_charged, battery_discharged, battery_soe_start, battery_soe_end,
			buy_price, sell_price, hourly_cost, hourly_savings,
			strategic_intent, battery_action_kw, cost_basis
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (day, period_index) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			data_source = EXCLUDED.data_source,
			solar_production = EXCLUDED.solar_production,
			home_consumption = EXCLUDED.home_consumption,
			grid_imported = EXCLUDED.grid_imported,
			grid_exported = EXCLUDED.grid_exported,
			battery_charged = EXCLUDED.battery_charged,
			battery_discharged = EXCLUDED.battery_discharged,
			battery_soe_start = EXCLUDED.battery_soe_start,
			battery_soe_end = EXCLUDED.battery_soe_end,
			buy_price = EXCLUDED.buy_price,
			sell_price = EXCLUDED.sell_price,
			hourly_cost = EXCLUDED.hourly_cost,
			hourly_savings = EXCLUDED.hourly_savings,
			strategic_intent = EXCLUDED.strategic_intent,
			battery_action_kw = EXCLUDED.battery_action_kw,
			cost_basis = EXCLUDED.cost_basis
	`)
	if err != nil {
		return fmt.Errorf("pgstore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range periods {
		if p == nil {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			dateOnly(day), p.PeriodIndex, p.Timestamp, int(p.DataSource),
			p.Energy.SolarProduction, p.Energy.HomeConsumption, p.Energy.GridImported, p.Energy.GridExported,
			p.Energy.BatteryCharged, p.Energy.BatteryDischarged, p.Energy.BatterySOEStart, p.Energy.BatterySOEEnd,
			p.Economic.BuyPrice, p.Economic.SellPrice, p.Economic.HourlyCost, p.Economic.HourlySavings,
			p.Decision.StrategicIntent.String(), p.Decision.BatteryActionKW, p.Decision.CostBasis,
		)
		if err != nil {
			return fmt.Errorf("pgstore: insert period %d: %w", p.PeriodIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("pgstore: saved %d periods for %s", len(periods), dateOnly(day))
	}
	return nil
}

// LoadPeriods reads every row persisted for day, keyed by period index.
func (s *Store) LoadPeriods(ctx context.Context, day time.Time) (map[int]types.PeriodData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_index, timestamp, data_source,
			solar_production, home_consumption, grid_imported, grid_exported,
			battery_charged, battery_discharged, battery_soe_start, battery_soe_end,
			buy_price, sell_price, hourly_cost, hourly_savings,
			strategic_intent, battery_action_kw, cost_basis
		FROM bess_periods WHERE day = $1 ORDER BY period_index ASC
	`, dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("pgstore: query periods: %w", err)
	}
	defer rows.Close()

	out := make(map[int]types.PeriodData)
	for rows.Next() {
		var p types.PeriodData
		var dataSource int
		var intentStr string
		if err := rows.Scan(
			&p.PeriodIndex, &p.Timestamp, &dataSource,
			&p.Energy.SolarProduction, &p.Energy.HomeConsumption, &p.Energy.GridImported, &p.Energy.GridExported,
			&p.Energy.BatteryCharged, &p.Energy.BatteryDischarged, &p.Energy.BatterySOEStart, &p.Energy.BatterySOEEnd,
			&p.Economic.BuyPrice, &p.Economic.SellPrice, &p.Economic.HourlyCost, &p.Economic.HourlySavings,
			&intentStr, &p.Decision.BatteryActionKW, &p.Decision.CostBasis,
		); err != nil {
			return nil, fmt.Errorf("pgstore: scan period: %w", err)
		}
		p.DataSource = types.DataSource(dataSource)
		intent, err := types.ParseStrategicIntent(intentStr)
		if err != nil {
			return nil, fmt.Errorf("pgstore: parse strategic intent: %w", err)
		}
		p.Decision.StrategicIntent = intent
		out[p.PeriodIndex] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate periods: %w", err)
	}
	return out, nil
}

// SaveScheduleRun appends one optimization run to the durable log, storing
// its full result as JSON (the result tree is deep and read back whole, so
// there is no per-field query need the way there is for periods).
func (s *Store) SaveScheduleRun(ctx context.Context, day time.Time, entry store.StoredSchedule) error {
	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("pgstore: marshal optimization result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bess_schedule_runs (day, timestamp, optimization_period, scenario, result_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day, timestamp) DO UPDATE SET
			optimization_period = EXCLUDED.optimization_period,
			scenario = EXCLUDED.scenario,
			result_json = EXCLUDED.result_json
	`, dateOnly(day), entry.Timestamp, entry.OptimizationPeriod, entry.Scenario.String(), payload)
	if err != nil {
		return fmt.Errorf("pgstore: insert schedule run: %w", err)
	}
	return nil
}

// LoadLatestScheduleRun returns the most recent optimization run persisted
// for day, if any.
func (s *Store) LoadLatestScheduleRun(ctx context.Context, day time.Time) (store.StoredSchedule, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, optimization_period, scenario, result_json
		FROM bess_schedule_runs WHERE day = $1
		ORDER BY timestamp DESC LIMIT 1
	`, dateOnly(day))

	var entry store.StoredSchedule
	var scenarioStr string
	var payload []byte
	if err := row.Scan(&entry.Timestamp, &entry.OptimizationPeriod, &scenarioStr, &payload); err != nil {
		if err == sql.ErrNoRows {
			return store.StoredSchedule{}, false, nil
		}
		return store.StoredSchedule{}, false, fmt.Errorf("pgstore: scan schedule run: %w", err)
	}
	if scenarioStr == "next_day" {
		entry.Scenario = store.ScenarioNextDay
	} else {
		entry.Scenario = store.ScenarioHourlyUpdate
	}
	if err := json.Unmarshal(payload, &entry.Result); err != nil {
		return store.StoredSchedule{}, false, fmt.Errorf("pgstore: unmarshal optimization result: %w", err)
	}
	return entry, true, nil
}

func dateOnly(t time.Time) string {
	return t.Format("2006-01-02")
}

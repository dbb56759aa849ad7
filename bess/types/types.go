// Package types holds the shared value types that cross package boundaries:
// the closed strategic-intent and battery-mode enums, and the per-period
// record types built from them (spec §3). Keeping these in one leaf package
// avoids import cycles between dispatch, store, dailyview, tou and manager.
package types

import (
	"fmt"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/flows"
)

// StrategicIntent is a closed enum describing why the optimizer chose a
// period's action (spec §4.5). Design note: "dynamic dispatch on strings" is
// replaced by this closed type; string conversion happens only at the
// serialization/device boundary (String method, device adapters).
type StrategicIntent int

const (
	IntentUnspecified StrategicIntent = iota
	IntentIdle
	IntentGridCharging
	IntentSolarStorage
	IntentLoadSupport
	IntentExportArbitrage
)

func (i StrategicIntent) String() string {
	switch i {
	case IntentIdle:
		return "IDLE"
	case IntentGridCharging:
		return "GRID_CHARGING"
	case IntentSolarStorage:
		return "SOLAR_STORAGE"
	case IntentLoadSupport:
		return "LOAD_SUPPORT"
	case IntentExportArbitrage:
		return "EXPORT_ARBITRAGE"
	default:
		return "UNSPECIFIED"
	}
}

// IsValid reports whether i is one of the five documented labels.
func (i StrategicIntent) IsValid() bool {
	switch i {
	case IntentIdle, IntentGridCharging, IntentSolarStorage, IntentLoadSupport, IntentExportArbitrage:
		return true
	default:
		return false
	}
}

// ParseStrategicIntent is the only place a string is turned back into the
// enum; used when reading a persisted or device-reported value.
func ParseStrategicIntent(s string) (StrategicIntent, error) {
	switch s {
	case "IDLE":
		return IntentIdle, nil
	case "GRID_CHARGING":
		return IntentGridCharging, nil
	case "SOLAR_STORAGE":
		return IntentSolarStorage, nil
	case "LOAD_SUPPORT":
		return IntentLoadSupport, nil
	case "EXPORT_ARBITRAGE":
		return IntentExportArbitrage, nil
	default:
		return IntentUnspecified, fmt.Errorf("types: unknown strategic intent %q", s)
	}
}

// BatteryMode is the closed enum for inverter TOU operating modes (spec §9,
// replacing "string-typed TOU battery modes").
type BatteryMode int

const (
	ModeLoadFirst BatteryMode = iota
	ModeBatteryFirst
	ModeGridFirst
)

func (m BatteryMode) String() string {
	switch m {
	case ModeBatteryFirst:
		return "battery-first"
	case ModeGridFirst:
		return "grid-first"
	default:
		return "load-first"
	}
}

// DataSource marks whether a period's record reflects what actually
// happened or a prediction (spec §3 PeriodData).
type DataSource int

const (
	SourceActual DataSource = iota
	SourcePredicted
)

func (d DataSource) String() string {
	if d == SourceActual {
		return "actual"
	}
	return "predicted"
}

// DecisionData is the per-period decision record (spec §3).
type DecisionData struct {
	StrategicIntent StrategicIntent
	BatteryActionKW float64 // signed: + charging, - discharging
	CostBasis       float64 // currency/kWh weighted-average cost of stored energy
}

// EconomicData is the per-period cost accounting record (spec §3).
type EconomicData struct {
	BuyPrice         float64
	SellPrice        float64
	GridCost         float64
	BatteryCycleCost float64
	HourlyCost       float64
	BaseCaseCost     float64
	HourlySavings    float64
}

// PeriodData is one period's complete record (spec §3).
type PeriodData struct {
	PeriodIndex int
	Timestamp   time.Time
	DataSource  DataSource
	Energy      flows.EnergyData
	Economic    EconomicData
	Decision    DecisionData
}

// EconomicSummary aggregates the three cost scenarios over a horizon (spec §4.6).
type EconomicSummary struct {
	GridOnlyCost        float64
	SolarOnlyCost       float64
	BatterySolarCost    float64
	BaseToSolarSavings  float64
	SolarToBatterySolar float64
	BaseToBatterySolar  float64
	// BaseToBatterySolarPercent is BaseToBatterySolar as a percentage of GridOnlyCost.
	BaseToBatterySolarPercent float64
}

// OptimizationResult is the output of one DP optimizer run (spec §3).
type OptimizationResult struct {
	InputSnapshot  InputSnapshot
	PeriodData     []PeriodData
	EconomicSummary EconomicSummary
}

// InputSnapshot records the inputs a run was computed from, for audit.
type InputSnapshot struct {
	StartPeriod     int
	InitialSOEKWh   float64
	InitialCostBasis float64
	GeneratedAt     time.Time
}

// TOUInterval is one hardware-level time-of-use segment (spec §3).
type TOUInterval struct {
	SegmentID int
	BattMode  BatteryMode
	Start     time.Time
	End       time.Time
	Enabled   bool
}

// HourlySetting is what the hardware is told for one hour (spec §4.9).
type HourlySetting struct {
	Hour                 int
	Intent               StrategicIntent
	GridCharge           bool
	ChargeRatePercent    float64
	DischargeRatePercent float64
}

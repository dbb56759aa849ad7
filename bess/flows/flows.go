// Package flows implements the seven-flow energy decomposition shared by the
// DP optimizer's reward function (spec §4.4) and the Energy Flow Decomposer
// component C6. It is deliberately a single pure constructor: callers derive
// detailed flows once and read the already-computed fields afterward (design
// note "lazy recalculation of detailed flows").
package flows

// MinConsumption is the floor applied to any reconstructed or forecast
// HomeConsumption before it reaches the optimizer, so a meter glitch or a
// thin forecast slot reporting near-zero load can't produce a degenerate
// cost-scenario comparison (division-adjacent terms in the reward math).
const MinConsumption = 0.1

// EnergyData is the per-period physical record described in spec §3. All
// fields are non-negative kWh except the SOE bookends.
type EnergyData struct {
	SolarProduction   float64
	HomeConsumption   float64
	GridImported      float64
	GridExported      float64
	BatteryCharged    float64
	BatteryDischarged float64
	BatterySOEStart   float64
	BatterySOEEnd     float64

	SolarToHome    float64
	SolarToBattery float64
	SolarToGrid    float64
	GridToHome     float64
	GridToBattery  float64
	BatteryToHome  float64
	BatteryToGrid  float64
}

// Decompose derives the seven directed sub-flows and the two grid aggregates
// from the core flows, following the fixed priority allocation of spec §4.4:
//  1. solar_to_home = min(solar, home)
//  2. solar_to_battery = min(solar - solar_to_home, battery_charged)
//  3. solar_to_grid = solar - solar_to_home - solar_to_battery
//  4. battery_to_home = min(battery_discharged, home - solar_to_home)
//  5. battery_to_grid = battery_discharged - battery_to_home
//  6. grid_to_home = home - solar_to_home - battery_to_home
//  7. grid_to_battery = battery_charged - solar_to_battery
func Decompose(solar, home, batteryCharged, batteryDischarged, soeStart, soeEnd float64) EnergyData {
	solarToHome := min(solar, home)
	solarToBattery := min(solar-solarToHome, batteryCharged)
	solarToGrid := solar - solarToHome - solarToBattery
	batteryToHome := min(batteryDischarged, home-solarToHome)
	batteryToGrid := batteryDischarged - batteryToHome
	gridToHome := home - solarToHome - batteryToHome
	gridToBattery := batteryCharged - solarToBattery

	return EnergyData{
		SolarProduction:   solar,
		HomeConsumption:   home,
		GridImported:      gridToHome + gridToBattery,
		GridExported:      solarToGrid + batteryToGrid,
		BatteryCharged:    batteryCharged,
		BatteryDischarged: batteryDischarged,
		BatterySOEStart:   soeStart,
		BatterySOEEnd:     soeEnd,
		SolarToHome:       solarToHome,
		SolarToBattery:    solarToBattery,
		SolarToGrid:       solarToGrid,
		GridToHome:        gridToHome,
		GridToBattery:     gridToBattery,
		BatteryToHome:     batteryToHome,
		BatteryToGrid:     batteryToGrid,
	}
}

// ClampConsumption re-decomposes e with HomeConsumption raised to
// MinConsumption if it falls short, keeping the seven sub-flows consistent
// with the floored value. e is returned unchanged when already at or above
// the floor.
func ClampConsumption(e EnergyData) EnergyData {
	if e.HomeConsumption >= MinConsumption {
		return e
	}
	return Decompose(e.SolarProduction, MinConsumption, e.BatteryCharged, e.BatteryDischarged, e.BatterySOEStart, e.BatterySOEEnd)
}

// BalanceError returns the absolute discrepancy between total sources and
// total sinks (spec §8's overall energy balance invariant). Callers compare
// against a tolerance (0.2 kWh for actuals, 0.01 for synthesized periods) and
// treat a violation as a warning, never a rejection.
func (e EnergyData) BalanceError() float64 {
	sources := e.SolarProduction + e.GridImported + e.BatteryDischarged
	sinks := e.HomeConsumption + e.GridExported + e.BatteryCharged
	d := sources - sinks
	if d < 0 {
		d = -d
	}
	return d
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Package collector implements the Sensor Collector (C4, spec §4.3): it
// turns one completed period's raw device readings into the EnergyData
// record the Historical Store persists. It is side-effect-free — a reading
// in, an EnergyData (or nothing, if the reading is incomplete) out.
package collector

import "github.com/devskill-org/bess-scheduler/bess/flows"

// Reading is the raw per-period telemetry a device controller reports for a
// period that has already elapsed.
type Reading struct {
	SolarProducedKWh     float64
	HomeConsumedKWh      float64
	BatteryChargedKWh    float64
	BatteryDischargedKWh float64
	SOEStartKWh          float64
	SOEEndKWh            float64
	Complete             bool // false when the device has no data yet for this period
}

// DeviceController is the narrow read side of the device adapter the
// collector depends on; the manager supplies the concrete Modbus-backed
// implementation (spec §6.2).
type DeviceController interface {
	ReadCompletedPeriod(periodIndex int) (Reading, error)
}

// Collect reconstructs the seven-flow energy decomposition for one period.
// The bool return is false when the reading isn't complete yet (the device
// hasn't finished the period) or fails basic sanity checks; callers should
// treat that as "try again next tick", not an error.
func Collect(periodIndex int, dc DeviceController) (flows.EnergyData, bool, error) {
	r, err := dc.ReadCompletedPeriod(periodIndex)
	if err != nil {
		return flows.EnergyData{}, false, err
	}
	if !r.Complete {
		return flows.EnergyData{}, false, nil
	}
	if r.SolarProducedKWh < 0 || r.HomeConsumedKWh < 0 ||
		r.BatteryChargedKWh < 0 || r.BatteryDischargedKWh < 0 ||
		r.SOEStartKWh < 0 || r.SOEEndKWh < 0 {
		return flows.EnergyData{}, false, nil
	}

	ed := flows.Decompose(
		r.SolarProducedKWh,
		r.HomeConsumedKWh,
		r.BatteryChargedKWh,
		r.BatteryDischargedKWh,
		r.SOEStartKWh,
		r.SOEEndKWh,
	)
	return flows.ClampConsumption(ed), true, nil
}

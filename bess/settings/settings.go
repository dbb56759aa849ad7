// Package settings holds the immutable-per-run configuration for the battery,
// home electrics, and price adjustments used by the rest of the bess packages.
package settings

import "fmt"

// Battery describes the physical battery and the economics of cycling it.
type Battery struct {
	TotalCapacityKWh         float64 // usable energy capacity
	MinSOC                   float64 // percent, 0..100
	MaxSOC                   float64 // percent, 0..100
	MaxChargePowerKW         float64
	MaxDischargePowerKW      float64
	EfficiencyCharge         float64 // (0,1]
	EfficiencyDischarge      float64 // (0,1]
	CycleCostPerKWh          float64 // currency/kWh through-battery wear
	MinActionProfitThreshold float64 // currency/period
	ChargingPowerRate        float64 // default % of max charge power targeted
}

// MinSOEKWh is the derived minimum state of energy.
func (b Battery) MinSOEKWh() float64 {
	return b.TotalCapacityKWh * b.MinSOC / 100
}

// MaxSOEKWh is the derived maximum state of energy.
func (b Battery) MaxSOEKWh() float64 {
	return b.TotalCapacityKWh * b.MaxSOC / 100
}

func (b Battery) validate() error {
	if b.TotalCapacityKWh <= 0 {
		return fmt.Errorf("battery: total_capacity_kwh must be positive, got %v", b.TotalCapacityKWh)
	}
	if b.MinSOC < 0 || b.MinSOC > 100 {
		return fmt.Errorf("battery: min_soc must be in [0,100], got %v", b.MinSOC)
	}
	if b.MaxSOC < 0 || b.MaxSOC > 100 {
		return fmt.Errorf("battery: max_soc must be in [0,100], got %v", b.MaxSOC)
	}
	if b.MinSOC > b.MaxSOC {
		return fmt.Errorf("battery: min_soc (%v) must be <= max_soc (%v)", b.MinSOC, b.MaxSOC)
	}
	if b.MaxChargePowerKW <= 0 {
		return fmt.Errorf("battery: max_charge_power_kw must be positive, got %v", b.MaxChargePowerKW)
	}
	if b.MaxDischargePowerKW <= 0 {
		return fmt.Errorf("battery: max_discharge_power_kw must be positive, got %v", b.MaxDischargePowerKW)
	}
	if b.EfficiencyCharge <= 0 || b.EfficiencyCharge > 1 {
		return fmt.Errorf("battery: efficiency_charge must be in (0,1], got %v", b.EfficiencyCharge)
	}
	if b.EfficiencyDischarge <= 0 || b.EfficiencyDischarge > 1 {
		return fmt.Errorf("battery: efficiency_discharge must be in (0,1], got %v", b.EfficiencyDischarge)
	}
	if b.CycleCostPerKWh < 0 {
		return fmt.Errorf("battery: cycle_cost_per_kwh must be >= 0, got %v", b.CycleCostPerKWh)
	}
	if b.MinActionProfitThreshold < 0 {
		return fmt.Errorf("battery: min_action_profit_threshold must be >= 0, got %v", b.MinActionProfitThreshold)
	}
	if b.ChargingPowerRate < 0 || b.ChargingPowerRate > 100 {
		return fmt.Errorf("battery: charging_power_rate must be in [0,100], got %v", b.ChargingPowerRate)
	}
	return nil
}

// Price carries the markup/VAT/fee knobs applied to raw spot prices by the
// price model, plus the bidding-zone area used by the price source adapter.
type Price struct {
	MarkupRate      float64
	VATMultiplier   float64
	AdditionalCosts float64
	TaxReduction    float64
	UseActualPrice  bool
	// Area is the bidding-zone code passed to the price source (e.g. "SE4").
	// Validated against AllowedAreas at construction time rather than a closed
	// enum, since the set of zones a deployment cares about is operator-owned.
	Area         string
	AllowedAreas []string
}

func (p Price) validate() error {
	if p.VATMultiplier <= 0 {
		return fmt.Errorf("price: vat_multiplier must be positive, got %v", p.VATMultiplier)
	}
	if p.Area != "" && len(p.AllowedAreas) > 0 {
		ok := false
		for _, a := range p.AllowedAreas {
			if a == p.Area {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("price: area %q is not in allowed areas %v", p.Area, p.AllowedAreas)
		}
	}
	return nil
}

// Home describes the electrical service the battery is wired into.
type Home struct {
	MaxFuseCurrentA float64
	VoltageV        float64
	SafetyMargin    float64 // (0,1]
}

// PhaseSafePowerKW is the derived per-phase power ceiling under the safety margin.
func (h Home) PhaseSafePowerKW() float64 {
	return h.VoltageV * h.MaxFuseCurrentA * h.SafetyMargin / 1000
}

func (h Home) validate() error {
	if h.MaxFuseCurrentA <= 0 {
		return fmt.Errorf("home: max_fuse_current_a must be positive, got %v", h.MaxFuseCurrentA)
	}
	if h.VoltageV <= 0 {
		return fmt.Errorf("home: voltage_v must be positive, got %v", h.VoltageV)
	}
	if h.SafetyMargin <= 0 || h.SafetyMargin > 1 {
		return fmt.Errorf("home: safety_margin must be in (0,1], got %v", h.SafetyMargin)
	}
	return nil
}

// Horizon describes the period grid the rest of the system operates on.
// N is the number of periods covering one day; DTHours is the length of a
// period in hours (N=24,DT=1 or N=96,DT=0.25 are the supported shapes, but
// neither is hardcoded past this struct, per the "quarter vs hour" design
// note).
type Horizon struct {
	N       int
	DTHours float64
}

func (h Horizon) validate() error {
	if h.N != 23 && h.N != 24 && h.N != 25 && h.N != 92 && h.N != 96 && h.N != 100 {
		return fmt.Errorf("horizon: N=%d is not an accepted DST-adjusted hourly (23/24/25) or quarterly (92/96/100) period count", h.N)
	}
	if h.DTHours <= 0 {
		return fmt.Errorf("horizon: dt_hours must be positive, got %v", h.DTHours)
	}
	return nil
}

// Settings is the immutable-per-run configuration. Construct with New; it is
// never mutated in place afterward. Updates go through an explicit
// replace-the-whole-value API at the manager layer (spec §6.4), never a
// setter on this type.
type Settings struct {
	Battery Battery
	Price   Price
	Home    Home
	Horizon Horizon
}

// New validates each block and returns an immutable Settings value.
func New(battery Battery, price Price, home Home, horizon Horizon) (Settings, error) {
	if err := battery.validate(); err != nil {
		return Settings{}, err
	}
	if err := price.validate(); err != nil {
		return Settings{}, err
	}
	if err := home.validate(); err != nil {
		return Settings{}, err
	}
	if err := horizon.validate(); err != nil {
		return Settings{}, err
	}
	return Settings{Battery: battery, Price: price, Home: home, Horizon: horizon}, nil
}

// MaxActionPowerKW is the widest magnitude of battery power the optimizer may
// consider in either direction, used to size the action grid (spec §4.4).
func (s Settings) MaxActionPowerKW() float64 {
	if s.Battery.MaxChargePowerKW > s.Battery.MaxDischargePowerKW {
		return s.Battery.MaxChargePowerKW
	}
	return s.Battery.MaxDischargePowerKW
}

package limiter

import (
	"math"
	"testing"

	"github.com/devskill-org/bess-scheduler/bess/settings"
)

func TestAvailablePercentSeedScenario(t *testing.T) {
	// Seed scenario: L1=6.7A, L2=6.3A, L3=8.0A, fuse=25A, 230V, margin=0.95,
	// max_charge=15kW, target=98% -> expected ~72.45% charge power.
	home := settings.Home{MaxFuseCurrentA: 25, VoltageV: 230, SafetyMargin: 0.95}
	battery := settings.Battery{MaxChargePowerKW: 15}
	load := PhaseCurrents{L1: 6.7, L2: 6.3, L3: 8.0}

	got := AvailablePercent(load, home, battery)

	want := 72.45
	if math.Abs(got-want) > 0.1 {
		t.Fatalf("expected ~%.2f%%, got %.4f%%", want, got)
	}
}

func TestTickRampsTowardAvailableAtStepSize(t *testing.T) {
	home := settings.Home{MaxFuseCurrentA: 25, VoltageV: 230, SafetyMargin: 0.95}
	battery := settings.Battery{MaxChargePowerKW: 15}
	load := PhaseCurrents{L1: 6.7, L2: 6.3, L3: 8.0} // avail_pct ~= 72.45

	l := New(5) // step_size = 5 percentage points per tick
	rate, changed := l.Tick(load, home, battery, 98, true)
	if !changed {
		t.Fatalf("expected the first tick to move the rate")
	}
	if math.Abs(rate-5) > 1e-9 {
		t.Fatalf("expected the first tick to move exactly one step (0 -> 5), got %v", rate)
	}

	// Repeated ticks should monotonically approach ~72.45 without overshooting.
	for i := 0; i < 20; i++ {
		rate, _ = l.Tick(load, home, battery, 98, true)
		if rate > 72.45+1e-9 {
			t.Fatalf("rate overshot the available ceiling: %v", rate)
		}
	}
	if math.Abs(rate-72.45) > 0.5 {
		t.Fatalf("expected convergence near 72.45%%, got %v", rate)
	}
}

func TestTickDoesNothingWhenGridChargeDisabled(t *testing.T) {
	home := settings.Home{MaxFuseCurrentA: 25, VoltageV: 230, SafetyMargin: 0.95}
	battery := settings.Battery{MaxChargePowerKW: 15}
	load := PhaseCurrents{}

	l := New(5)
	l.Reset(40)
	rate, changed := l.Tick(load, home, battery, 98, false)
	if changed {
		t.Fatalf("did not expect a change when grid-charge is disabled")
	}
	if rate != 40 {
		t.Fatalf("expected rate to stay at 40, got %v", rate)
	}
}

func TestTickNeverExceedsFuseSafeCeiling(t *testing.T) {
	home := settings.Home{MaxFuseCurrentA: 25, VoltageV: 230, SafetyMargin: 0.95}
	battery := settings.Battery{MaxChargePowerKW: 15}
	load := PhaseCurrents{L1: 24, L2: 1, L3: 1} // L1 nearly saturates the fuse

	l := New(100) // a huge step size should still be bounded by avail_pct
	rate, _ := l.Tick(load, home, battery, 100, true)
	if rate > AvailablePercent(load, home, battery)+1e-9 {
		t.Fatalf("rate %v exceeded the fuse-safe available percentage", rate)
	}
}

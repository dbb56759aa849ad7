// Package limiter implements the Fuse-Aware Power Limiter (C10, spec §4.10):
// on its own cadence, it nudges the battery's charge-rate percentage toward
// whatever the home's electrical service can carry without tripping its
// main fuse, raising it at most step_size percentage points per tick rather
// than jumping straight to the computed ceiling, and lowering it to the
// ceiling at once.
package limiter

import (
	"sync"

	"github.com/devskill-org/bess-scheduler/bess/settings"
)

// PhaseCurrents is the live per-phase load the home is already drawing,
// read from the same sensor feed the collector uses (amps).
type PhaseCurrents struct {
	L1, L2, L3 float64
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// AvailablePercent computes avail_pct per spec §4.10: the most-loaded
// phase's headroom under the fuse's safe ceiling, expressed as a percentage
// of the battery's rated per-phase charging contribution. It is not yet
// clipped to the caller's target — Tick does that.
func AvailablePercent(load PhaseCurrents, home settings.Home, battery settings.Battery) float64 {
	phaseSafeCeilingW := home.VoltageV * home.MaxFuseCurrentA * home.SafetyMargin
	maxLoadW := max3(load.L1, load.L2, load.L3) * home.VoltageV
	headroomW := phaseSafeCeilingW - maxLoadW
	if headroomW < 0 {
		headroomW = 0
	}

	battPhaseW := battery.MaxChargePowerKW * 1000 / 3
	if battPhaseW <= 0 {
		return 0
	}
	return 100 * headroomW / battPhaseW
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Limiter holds the ramping state for the currently-written charge rate.
// Mutex-guarded per spec §5: the limiter's tick runs independently of the
// manager's own tick, so its state needs its own lock (grounded on the
// teacher's single-mutex-per-component pattern in scheduler/scheduler.go).
type Limiter struct {
	mu                 sync.Mutex
	currentRatePercent float64
	stepSize           float64
}

// New constructs a Limiter that raises the rate by at most stepSize
// percentage points per Tick and lowers it to the ceiling at once.
func New(stepSize float64) *Limiter {
	return &Limiter{stepSize: stepSize}
}

// CurrentRatePercent returns the rate last written by Tick.
func (l *Limiter) CurrentRatePercent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRatePercent
}

// Reset sets the tracked rate without ramping, for when the manager learns
// the device's actual current setting (e.g. at startup).
func (l *Limiter) Reset(ratePercent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentRatePercent = ratePercent
}

// Tick computes the next charge-rate percentage to write. It does nothing
// (returns the unchanged rate, changed=false) when gridChargeEnabled is
// false, per spec §4.10. targetChargingPowerPct is the optimizer's own
// desired rate for this period; avail_pct is clipped to it before ramping,
// and the result never exceeds the fuse-safe ceiling regardless of target.
func (l *Limiter) Tick(load PhaseCurrents, home settings.Home, battery settings.Battery, targetChargingPowerPct float64, gridChargeEnabled bool) (newRatePercent float64, changed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !gridChargeEnabled {
		return l.currentRatePercent, false
	}

	availPct := clip(AvailablePercent(load, home, battery), 0, targetChargingPowerPct)

	next := l.currentRatePercent
	switch {
	case availPct > next:
		next += l.stepSize
		if next > availPct {
			next = availPct
		}
	case availPct < next:
		next = availPct
	}
	next = clip(next, 0, 100)

	changed = next != l.currentRatePercent
	l.currentRatePercent = next
	return next, changed
}

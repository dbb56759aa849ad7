// Package tou implements the TOU Translator (C9, spec §4.9): it collapses a
// labeled per-period action sequence into at most K inverter TOU intervals
// plus per-hour hardware settings, and diffs the result against the
// currently-deployed plan so only changed segments are written.
//
// Translate is a pure function of (intents, actions, current period,
// previously-deployed state) — design note "cyclic dependencies between
// manager, store and translator" is resolved by keeping this package free of
// any manager/store import.
package tou

import (
	"time"

	"github.com/devskill-org/bess-scheduler/bess/types"
)

const idleThreshold = 0.1 // matches dispatch's strategic-intent threshold (spec §4.5)

// modeFor maps a strategic intent to its inverter operating mode (spec §4.9).
func modeFor(i types.StrategicIntent) types.BatteryMode {
	switch i {
	case types.IntentGridCharging, types.IntentSolarStorage:
		return types.ModeBatteryFirst
	case types.IntentExportArbitrage:
		return types.ModeGridFirst
	default:
		return types.ModeLoadFirst
	}
}

// priority breaks majority-vote ties (spec §4.9 point 2): GRID_CHARGING >
// EXPORT_ARBITRAGE > SOLAR_STORAGE > LOAD_SUPPORT > IDLE.
func priority(i types.StrategicIntent) int {
	switch i {
	case types.IntentGridCharging:
		return 4
	case types.IntentExportArbitrage:
		return 3
	case types.IntentSolarStorage:
		return 2
	case types.IntentLoadSupport:
		return 1
	default:
		return 0
	}
}

func majority(intents []types.StrategicIntent) types.StrategicIntent {
	counts := make(map[types.StrategicIntent]int)
	for _, i := range intents {
		counts[i]++
	}
	best := types.IntentIdle
	bestCount := -1
	for i, c := range counts {
		if c > bestCount || (c == bestCount && priority(i) > priority(best)) {
			best = i
			bestCount = c
		}
	}
	return best
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

// Write is one device-boundary action the manager should issue, in order.
type Write struct {
	Disable bool // true => write with Enabled=false, to clear a stale segment first
	Segment types.TOUInterval
}

// Input bundles everything Translate needs for one tick.
type Input struct {
	Intents       []types.StrategicIntent // length N, today's merged actual+predicted intents
	ActionsKW     []float64                // length N, signed battery action per period
	DTHours       float64
	CurrentPeriod int

	// PreviousHourlyIntents preserves the hour containing CurrentPeriod from
	// flipping mid-execution (spec §4.9 point 3): for sub-periods of that
	// hour already elapsed, the hour's previously-deployed intent is
	// substituted into the majority vote instead of the (possibly
	// default-IDLE) actual/predicted value for that sub-period. May be nil
	// on the very first run of the day.
	PreviousHourlyIntents []types.StrategicIntent

	Deployed []types.TOUInterval // currently-deployed segments, hour-aligned
	DayStart time.Time
	MaxSegments int

	MaxChargePowerKW    float64
	MaxDischargePowerKW float64
}

// Output is what one Translate call produces.
type Output struct {
	Segments  []types.TOUInterval  // new segments, current hour onward, chronological
	Hourly    []types.HourlySetting // one entry per hour of the day
	Writes    []Write
	Truncated bool
}

// Translate implements spec §4.9 end to end.
func Translate(in Input) Output {
	n := len(in.Intents)
	ppH := 1
	if n%24 == 0 && n > 24 {
		ppH = n / 24
	} else if n > 25 && n%4 == 0 {
		ppH = 4 // quarter-hour periods on a 23- or 25-hour day
	}
	hours := n / ppH

	currentHour := 0
	if ppH > 0 {
		currentHour = in.CurrentPeriod / ppH
	}

	hourlyIntent := make([]types.StrategicIntent, hours)
	hourlyActionKW := make([]float64, hours)

	for h := 0; h < hours; h++ {
		start := h * ppH
		end := start + ppH
		sub := make([]types.StrategicIntent, ppH)
		copy(sub, in.Intents[start:end])

		if h == currentHour && h < len(in.PreviousHourlyIntents) {
			for idx := range sub {
				if start+idx < in.CurrentPeriod {
					sub[idx] = in.PreviousHourlyIntents[h]
				}
			}
		}
		hourlyIntent[h] = majority(sub)

		var sum float64
		for _, a := range in.ActionsKW[start:end] {
			sum += a
		}
		hourlyActionKW[h] = sum / float64(ppH)
	}

	hourly := make([]types.HourlySetting, hours)
	for h := 0; h < hours; h++ {
		intent := hourlyIntent[h]
		action := hourlyActionKW[h]

		dischargeRate := 0.0
		if action < -idleThreshold && in.MaxDischargePowerKW > 0 {
			dischargeRate = clip(100*(-action)/in.MaxDischargePowerKW, 5, 100)
		}
		if intent == types.IntentExportArbitrage && dischargeRate < 50 {
			dischargeRate = 50
		}

		chargeRate := 0.0
		if action > idleThreshold && in.MaxChargePowerKW > 0 {
			chargeRate = clip(100*action/in.MaxChargePowerKW, 0, 100)
		}
		switch intent {
		case types.IntentGridCharging:
			if chargeRate < 20 {
				chargeRate = 20
			}
		case types.IntentSolarStorage:
			chargeRate = 100
		}

		hourly[h] = types.HourlySetting{
			Hour:                 h,
			Intent:               intent,
			GridCharge:           intent == types.IntentGridCharging,
			ChargeRatePercent:    chargeRate,
			DischargeRatePercent: dischargeRate,
		}
	}

	var segments []types.TOUInterval
	var openStart int
	var openMode types.BatteryMode
	open := false

	closeSegment := func(endHour int) {
		if !open {
			return
		}
		segments = append(segments, types.TOUInterval{
			BattMode: openMode,
			Start:    in.DayStart.Add(time.Duration(openStart) * time.Hour),
			End:      in.DayStart.Add(time.Duration(endHour) * time.Hour),
			Enabled:  true,
		})
		open = false
	}

	for h := currentHour; h < hours; h++ {
		mode := modeFor(hourlyIntent[h])
		if mode == types.ModeLoadFirst {
			closeSegment(h)
			continue
		}
		if !open {
			openStart = h
			openMode = mode
			open = true
			continue
		}
		if mode != openMode {
			closeSegment(h)
			openStart = h
			openMode = mode
			open = true
		}
	}
	closeSegment(hours)

	truncated := false
	if in.MaxSegments > 0 && len(segments) > in.MaxSegments {
		segments = segments[:in.MaxSegments]
		truncated = true
	}
	for idx := range segments {
		segments[idx].SegmentID = idx + 1
	}

	writes := diffAndApply(in.Deployed, segments, currentHour, in.DayStart)

	return Output{Segments: segments, Hourly: hourly, Writes: writes, Truncated: truncated}
}

type segKey struct {
	start, end time.Time
	mode       types.BatteryMode
}

func key(s types.TOUInterval) segKey {
	return segKey{start: s.Start, end: s.End, mode: s.BattMode}
}

// diffAndApply compares the freshly computed segments against the deployed
// plan restricted to the editable window (current hour onward) and emits
// the minimal set of writes: stale deployed segments are disabled first,
// then new or changed segments are written (spec §4.9's diff-and-apply).
func diffAndApply(deployed, fresh []types.TOUInterval, currentHour int, dayStart time.Time) []Write {
	windowStart := dayStart.Add(time.Duration(currentHour) * time.Hour)

	oldInWindow := make([]types.TOUInterval, 0, len(deployed))
	for _, d := range deployed {
		if !d.Start.Before(windowStart) {
			oldInWindow = append(oldInWindow, d)
		}
	}

	freshSet := make(map[segKey]bool, len(fresh))
	for _, s := range fresh {
		freshSet[key(s)] = true
	}
	oldSet := make(map[segKey]bool, len(oldInWindow))
	for _, s := range oldInWindow {
		oldSet[key(s)] = true
	}

	var writes []Write
	for _, old := range oldInWindow {
		if !freshSet[key(old)] {
			disabled := old
			disabled.Enabled = false
			writes = append(writes, Write{Disable: true, Segment: disabled})
		}
	}
	for _, s := range fresh {
		if !oldSet[key(s)] {
			writes = append(writes, Write{Disable: false, Segment: s})
		}
	}
	return writes
}

// NoOp reports whether a translation would produce any device write.
func (o Output) NoOp() bool {
	return len(o.Writes) == 0
}

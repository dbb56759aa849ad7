// Package dailyview implements the Daily View Builder (C8, spec §4.7): it
// merges what actually happened (Historical Store) with what the latest
// optimization run still predicts for the remainder of the day into one
// continuous per-period view, so an operator or dashboard sees a single
// timeline rather than two.
package dailyview

import (
	"github.com/devskill-org/bess-scheduler/bess/flows"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

// HistoricalSource is the read side of the Historical Store the builder
// depends on.
type HistoricalSource interface {
	GetPeriod(i int) (types.PeriodData, bool)
}

// View is the merged 24-hour (or N-period) picture of the day.
type View struct {
	Periods []types.PeriodData // length N; actual where recorded, predicted elsewhere

	ActualCount    int // periods filled from the Historical Store
	PredictedCount int // periods filled from predicted

	// TotalSavings is ActualSavingsSoFar + PredictedSavingsRemaining.
	TotalSavings float64

	// ActualSavingsSoFar sums HourlySavings over periods the Historical
	// Store actually recorded, regardless of period index.
	ActualSavingsSoFar float64

	// PredictedSavingsRemaining sums HourlySavings over periods at or after
	// currentPeriod that are still predictions (no actual recorded yet).
	PredictedSavingsRemaining float64
}

// Build merges hist's recorded periods with predicted's forecast for
// whichever periods hist has not yet recorded. predicted holds one entry
// per period from currentPeriod to n-1 (predicted[0] is the forecast for
// absolute period currentPeriod, not period 0); it may be shorter than
// n-currentPeriod (e.g. a partial-day run), in which case the remaining
// periods are simply left at the zero value.
func Build(n int, hist HistoricalSource, predicted []types.PeriodData, currentPeriod int) View {
	periods := make([]types.PeriodData, n)
	var v View

	for i := 0; i < n; i++ {
		if p, ok := hist.GetPeriod(i); ok {
			periods[i] = p
			v.ActualCount++
			v.ActualSavingsSoFar += p.Economic.HourlySavings
			continue
		}
		if i >= currentPeriod {
			if j := i - currentPeriod; j < len(predicted) {
				p := predicted[j]
				p.Energy = flows.ClampConsumption(p.Energy)
				periods[i] = p
				v.PredictedCount++
				v.PredictedSavingsRemaining += p.Economic.HourlySavings
			}
		}
	}

	v.Periods = periods
	v.TotalSavings = v.ActualSavingsSoFar + v.PredictedSavingsRemaining
	return v
}

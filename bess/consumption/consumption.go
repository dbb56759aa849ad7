// Package consumption estimates future home load for the Forecast Provider
// (spec §6.2) from recent actual consumption history rather than a live
// sensor feed, since the plant controller itself reports none. Grounded on
// the teacher's scheduler.PVSamples integration pattern (accumulate
// samples, reduce to a single energy figure) applied across days instead
// of across one polling interval.
package consumption

import (
	"context"
	"fmt"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/types"
)

// PeriodLoader reads back persisted per-period data for a given calendar
// day, keyed by period index. bess/pgstore.Store satisfies this.
type PeriodLoader interface {
	LoadPeriods(ctx context.Context, day time.Time) (map[int]types.PeriodData, error)
}

// HistoricalAverageForecaster forecasts each upcoming period's consumption
// as the average of that same period-of-day's actual consumption over the
// preceding lookbackDays days, falling back to FallbackKWh when no history
// is available for a given slot.
type HistoricalAverageForecaster struct {
	Loader       PeriodLoader
	PeriodsPerDay int
	PeriodHours  float64
	LookbackDays int
	FallbackKWh  float64
	now          func() time.Time
}

// NewHistoricalAverageForecaster constructs a forecaster for a horizon of
// periodsPerDay periods of periodHours length each.
func NewHistoricalAverageForecaster(loader PeriodLoader, periodsPerDay int, periodHours float64, lookbackDays int, fallbackKWh float64) *HistoricalAverageForecaster {
	return &HistoricalAverageForecaster{
		Loader:        loader,
		PeriodsPerDay: periodsPerDay,
		PeriodHours:   periodHours,
		LookbackDays:  lookbackDays,
		FallbackKWh:   fallbackKWh,
		now:           time.Now,
	}
}

// ForecastConsumptionKWh returns expected home consumption for each of the
// next n periods, implementing devicemodbus.ConsumptionForecaster.
func (f *HistoricalAverageForecaster) ForecastConsumptionKWh(ctx context.Context, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}

	lookback := f.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}

	now := f.now()
	history := make([]map[int]types.PeriodData, lookback)
	for d := 0; d < lookback; d++ {
		day := now.AddDate(0, 0, -(d + 1))
		periods, err := f.Loader.LoadPeriods(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("consumption: load periods for %s: %w", day.Format("2006-01-02"), err)
		}
		history[d] = periods
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		target := now.Add(time.Duration(float64(i+1) * f.PeriodHours * float64(time.Hour)))
		idx := f.periodIndex(target)

		var sum float64
		var count int
		for _, periods := range history {
			if p, ok := periods[idx]; ok {
				sum += p.Energy.HomeConsumption
				count++
			}
		}
		if count == 0 {
			out[i] = f.FallbackKWh
			continue
		}
		out[i] = sum / float64(count)
	}
	return out, nil
}

func (f *HistoricalAverageForecaster) periodIndex(t time.Time) int {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(dayStart).Hours()
	idx := int(elapsed / f.PeriodHours)
	if idx < 0 {
		idx = 0
	}
	if idx >= f.PeriodsPerDay {
		idx = f.PeriodsPerDay - 1
	}
	return idx
}

package consumption

import (
	"context"
	"testing"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/flows"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

type fakeLoader struct {
	byDay map[string]map[int]types.PeriodData
}

func (f *fakeLoader) LoadPeriods(ctx context.Context, day time.Time) (map[int]types.PeriodData, error) {
	return f.byDay[day.Format("2006-01-02")], nil
}

func periodData(homeConsumption float64) types.PeriodData {
	return types.PeriodData{Energy: flows.EnergyData{HomeConsumption: homeConsumption}}
}

func TestForecastConsumptionKWhAveragesHistory(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	twoDaysAgo := now.AddDate(0, 0, -2).Format("2006-01-02")

	// Target hour for the first forecast period (11:00) is period index 11
	// at 1-hour resolution.
	loader := &fakeLoader{byDay: map[string]map[int]types.PeriodData{
		yesterday:   {11: periodData(2.0)},
		twoDaysAgo:  {11: periodData(4.0)},
	}}

	f := NewHistoricalAverageForecaster(loader, 24, 1.0, 2, 1.5)
	f.now = func() time.Time { return now }

	got, err := f.ForecastConsumptionKWh(context.Background(), 1)
	if err != nil {
		t.Fatalf("ForecastConsumptionKWh: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 value, got %d", len(got))
	}
	if got[0] != 3.0 {
		t.Errorf("expected the average of 2.0 and 4.0 (3.0), got %v", got[0])
	}
}

func TestForecastConsumptionKWhFallsBackWithoutHistory(t *testing.T) {
	loader := &fakeLoader{byDay: map[string]map[int]types.PeriodData{}}
	f := NewHistoricalAverageForecaster(loader, 24, 1.0, 3, 1.5)

	got, err := f.ForecastConsumptionKWh(context.Background(), 2)
	if err != nil {
		t.Fatalf("ForecastConsumptionKWh: %v", err)
	}
	for i, v := range got {
		if v != 1.5 {
			t.Errorf("period %d: expected fallback 1.5, got %v", i, v)
		}
	}
}

func TestForecastConsumptionKWhZeroPeriods(t *testing.T) {
	f := NewHistoricalAverageForecaster(&fakeLoader{}, 24, 1.0, 1, 1.0)
	got, err := f.ForecastConsumptionKWh(context.Background(), 0)
	if err != nil {
		t.Fatalf("ForecastConsumptionKWh: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for n=0, got %v", got)
	}
}

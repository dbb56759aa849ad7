package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/collector"
	"github.com/devskill-org/bess-scheduler/bess/limiter"
	"github.com/devskill-org/bess-scheduler/bess/settings"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

type fakePriceSource struct {
	today, tomorrow []PricePoint
	err             error
}

func (f *fakePriceSource) TodayPrices(ctx context.Context) ([]PricePoint, error) {
	return f.today, f.err
}
func (f *fakePriceSource) TomorrowPrices(ctx context.Context) ([]PricePoint, error) {
	return f.tomorrow, f.err
}

type fakeDevice struct {
	socPercent float64
	forecasts  Forecasts
	readings   map[int]collector.Reading
	segments   []types.TOUInterval

	gridChargeWrites   []bool
	chargeRateWrites   []float64
	dischargeRateWrites []float64
	writtenSegments    []types.TOUInterval
	disabledSegments   []types.TOUInterval

	readErr error
}

func (f *fakeDevice) ReadCompletedPeriod(periodIndex int) (collector.Reading, error) {
	if f.readErr != nil {
		return collector.Reading{}, f.readErr
	}
	r, ok := f.readings[periodIndex]
	if !ok {
		return collector.Reading{Complete: false}, nil
	}
	return r, nil
}
func (f *fakeDevice) ReadSOCPercent(ctx context.Context) (float64, error) { return f.socPercent, nil }
func (f *fakeDevice) ReadPhaseCurrents(ctx context.Context) (limiter.PhaseCurrents, error) {
	return limiter.PhaseCurrents{}, nil
}
func (f *fakeDevice) ReadForecasts(ctx context.Context) (Forecasts, error) { return f.forecasts, nil }
func (f *fakeDevice) ReadSegments(ctx context.Context) ([]types.TOUInterval, error) {
	return f.segments, nil
}
func (f *fakeDevice) SetGridCharge(ctx context.Context, enabled bool) error {
	f.gridChargeWrites = append(f.gridChargeWrites, enabled)
	return nil
}
func (f *fakeDevice) SetChargeRatePercent(ctx context.Context, pct float64) error {
	f.chargeRateWrites = append(f.chargeRateWrites, pct)
	return nil
}
func (f *fakeDevice) SetDischargeRatePercent(ctx context.Context, pct float64) error {
	f.dischargeRateWrites = append(f.dischargeRateWrites, pct)
	return nil
}
func (f *fakeDevice) WriteSegment(ctx context.Context, seg types.TOUInterval) error {
	f.writtenSegments = append(f.writtenSegments, seg)
	return nil
}
func (f *fakeDevice) DisableSegment(ctx context.Context, seg types.TOUInterval) error {
	f.disabledSegments = append(f.disabledSegments, seg)
	return nil
}

func testSettings(t *testing.T) settings.Settings {
	st, err := settings.New(
		settings.Battery{
			TotalCapacityKWh: 10, MinSOC: 10, MaxSOC: 100,
			MaxChargePowerKW: 5, MaxDischargePowerKW: 5,
			EfficiencyCharge: 0.95, EfficiencyDischarge: 0.95,
			CycleCostPerKWh: 0.1, ChargingPowerRate: 100,
		},
		settings.Price{VATMultiplier: 1},
		settings.Home{MaxFuseCurrentA: 25, VoltageV: 230, SafetyMargin: 0.95},
		settings.Horizon{N: 24, DTHours: 1},
	)
	if err != nil {
		t.Fatalf("testSettings: %v", err)
	}
	return st
}

func flatPoints(n int, v float64) []PricePoint {
	out := make([]PricePoint, n)
	for i := range out {
		out[i] = PricePoint{Timestamp: time.Now(), SpotPrice: v}
	}
	return out
}

func TestRunScheduleUpdateHappyPath(t *testing.T) {
	st := testSettings(t)
	ps := &fakePriceSource{today: flatPoints(24, 0.5)}
	dc := &fakeDevice{
		socPercent: 50,
		forecasts: Forecasts{
			ConsumptionKWh: flatVals(24, 1.0),
			SolarKWh:       flatVals(24, 0.0),
		},
		readings: map[int]collector.Reading{},
	}
	m := New(st, ps, dc, nil, 5)
	m.now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	if err := m.RunScheduleUpdate(context.Background(), false); err != nil {
		t.Fatalf("RunScheduleUpdate: %v", err)
	}

	if len(dc.chargeRateWrites) == 0 {
		t.Errorf("expected at least one charge rate write")
	}
	if len(dc.gridChargeWrites) == 0 {
		t.Errorf("expected at least one grid charge write")
	}

	view := m.DailyView()
	if len(view.Periods) != 24 {
		t.Fatalf("expected a 24-period daily view, got %d", len(view.Periods))
	}
}

func TestRunScheduleUpdatePropagatesPriceError(t *testing.T) {
	st := testSettings(t)
	ps := &fakePriceSource{err: errors.New("price feed down")}
	dc := &fakeDevice{socPercent: 50, forecasts: Forecasts{ConsumptionKWh: flatVals(24, 1), SolarKWh: flatVals(24, 0)}}
	m := New(st, ps, dc, nil, 5)
	m.now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	if err := m.RunScheduleUpdate(context.Background(), false); err == nil {
		t.Fatalf("expected the price fetch error to propagate")
	}
}

func TestRunPowerLimiterTickNoChangeReturnsNoError(t *testing.T) {
	st := testSettings(t)
	ps := &fakePriceSource{}
	dc := &fakeDevice{}
	m := New(st, ps, dc, nil, 5)

	if err := m.RunPowerLimiterTick(context.Background(), 50); err != nil {
		t.Fatalf("RunPowerLimiterTick: %v", err)
	}
}

func TestUpdateSettingsRejectsInvalidValues(t *testing.T) {
	st := testSettings(t)
	m := New(st, &fakePriceSource{}, &fakeDevice{}, nil, 5)

	badBattery := st.Battery
	badBattery.MaxChargePowerKW = -1
	if err := m.UpdateSettings(badBattery, st.Home, st.Price); err == nil {
		t.Fatalf("expected invalid battery settings to be rejected")
	}
	if m.GetSettings().Battery.MaxChargePowerKW != st.Battery.MaxChargePowerKW {
		t.Errorf("expected the previous settings to remain in force after a rejected update")
	}

	goodBattery := st.Battery
	goodBattery.MaxChargePowerKW = 7
	if err := m.UpdateSettings(goodBattery, st.Home, st.Price); err != nil {
		t.Fatalf("expected a valid update to succeed: %v", err)
	}
	if m.GetSettings().Battery.MaxChargePowerKW != 7 {
		t.Errorf("expected the new settings to apply")
	}
}

func flatVals(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Package manager implements the Battery System Manager (C11, spec §4.11):
// the orchestrator that ties the price model, historical store, optimizer,
// translator and limiter together on a periodic tick. Grounded on the
// teacher's scheduler.MinerScheduler + PeriodicTask shape (scheduler/scheduler.go):
// one mutex-guarded struct, independent periodic goroutines per tick source.
package manager

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/collector"
	"github.com/devskill-org/bess-scheduler/bess/dailyview"
	"github.com/devskill-org/bess-scheduler/bess/dispatch"
	"github.com/devskill-org/bess-scheduler/bess/flows"
	"github.com/devskill-org/bess-scheduler/bess/limiter"
	"github.com/devskill-org/bess-scheduler/bess/pricing"
	"github.com/devskill-org/bess-scheduler/bess/settings"
	"github.com/devskill-org/bess-scheduler/bess/store"
	"github.com/devskill-org/bess-scheduler/bess/tou"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

// PricePoint is one spot-price sample from the Price Source (spec §6.1).
type PricePoint struct {
	Timestamp time.Time
	SpotPrice float64
}

// PriceSource is the read-only external collaborator supplying raw spot
// prices; VAT/markup application belongs to the Price Model (bess/pricing),
// not here.
type PriceSource interface {
	TodayPrices(ctx context.Context) ([]PricePoint, error)
	TomorrowPrices(ctx context.Context) ([]PricePoint, error)
}

// Forecasts is the demand/solar prediction the device reports (spec §6.2).
type Forecasts struct {
	ConsumptionKWh []float64
	SolarKWh       []float64
}

// DeviceController is the read+write external collaborator for the
// physical inverter (spec §6.2). It embeds collector.DeviceController so
// the Sensor Collector can be driven through the same handle.
type DeviceController interface {
	collector.DeviceController

	ReadSOCPercent(ctx context.Context) (float64, error)
	ReadPhaseCurrents(ctx context.Context) (limiter.PhaseCurrents, error)
	ReadForecasts(ctx context.Context) (Forecasts, error)
	ReadSegments(ctx context.Context) ([]types.TOUInterval, error)

	SetGridCharge(ctx context.Context, enabled bool) error
	SetChargeRatePercent(ctx context.Context, pct float64) error
	SetDischargeRatePercent(ctx context.Context, pct float64) error
	WriteSegment(ctx context.Context, seg types.TOUInterval) error
	DisableSegment(ctx context.Context, seg types.TOUInterval) error
}

// Manager is the Battery System Manager. Construct with New; all mutable
// state is guarded by mu, per spec §5's single-mutex concurrency model.
type Manager struct {
	mu sync.RWMutex

	settings   settings.Settings
	historical *store.Historical
	schedule   *store.Schedule

	priceSource PriceSource
	device      DeviceController
	logger      *log.Logger
	limiter     *limiter.Limiter

	deployedSegments      []types.TOUInterval
	previousHourlyIntents []types.StrategicIntent
	lastView              dailyview.View

	now      func() time.Time
	stopChan chan struct{}
	running  bool
}

// New constructs a Manager for a horizon of st.Horizon.N periods.
func New(st settings.Settings, ps PriceSource, dc DeviceController, logger *log.Logger, limiterStepSize float64) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		settings:    st,
		historical:  store.NewHistorical(st.Horizon.N, logger),
		schedule:    store.NewSchedule(),
		priceSource: ps,
		device:      dc,
		logger:      logger,
		limiter:     limiter.New(limiterStepSize),
		now:         time.Now,
	}
}

// GetSettings returns a copy of the currently active settings.
func (m *Manager) GetSettings() settings.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// UpdateSettings implements the Operator API contract of spec §6.4: validate
// everything, then apply atomically, or reject with the validation error
// and leave the previous settings untouched.
func (m *Manager) UpdateSettings(battery settings.Battery, home settings.Home, price settings.Price) error {
	next, err := settings.New(battery, price, home, m.GetSettings().Horizon)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = next
	return nil
}

// DailyView returns the most recently built merged actual+predicted view.
func (m *Manager) DailyView() dailyview.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastView
}

func periodIndex(t time.Time, n int, dt float64) int {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(dayStart).Hours()
	idx := int(elapsed / dt)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// RunScheduleUpdate implements spec §4.11 steps 1-9 for tick source 1
// ("schedule update") and tick source 3 ("next-day prep", when
// prepareNextDay is true). On any step failure it returns an error and
// leaves the previously-deployed plan untouched.
func (m *Manager) RunScheduleUpdate(ctx context.Context, prepareNextDay bool) error {
	st := m.GetSettings()
	now := m.now()
	currentPeriod := periodIndex(now, st.Horizon.N, st.Horizon.DTHours)

	points, err := m.fetchPrices(ctx, prepareNextDay)
	if err != nil {
		return fmt.Errorf("manager: price fetch: %w", err)
	}
	spot := make([]float64, len(points))
	for i, p := range points {
		spot[i] = p.SpotPrice
	}
	buy := pricing.BuyPrices(spot, st.Price)
	sell := pricing.SellPrices(spot, st.Price)
	cycleCost := pricing.CycleCostPerKWh(st.Battery.CycleCostPerKWh, st.Price)

	if !prepareNextDay && currentPeriod > 0 {
		if err := m.recordCompletedPeriod(ctx, currentPeriod-1, buy, sell, cycleCost); err != nil {
			m.logger.Printf("manager: failed to record completed period %d: %v", currentPeriod-1, err)
		}
	}

	initialCostBasis := m.historical.InitialCostBasis(cycleCost)
	socPct, err := m.device.ReadSOCPercent(ctx)
	if err != nil {
		return fmt.Errorf("manager: read SOC: %w", err)
	}
	initialSOE := st.Battery.TotalCapacityKWh * socPct / 100

	forecasts, err := m.device.ReadForecasts(ctx)
	if err != nil {
		return fmt.Errorf("manager: read forecasts: %w", err)
	}

	remaining := st.Horizon.N - currentPeriod
	h := dispatch.Horizon{
		BuyPrice:  sliceOrPad(buy, currentPeriod, remaining),
		SellPrice: sliceOrPad(sell, currentPeriod, remaining),
		Home:      sliceOrPad(forecasts.ConsumptionKWh, currentPeriod, remaining),
		Solar:     sliceOrPad(forecasts.SolarKWh, currentPeriod, remaining),
	}
	for i, v := range h.Home {
		if v < flows.MinConsumption {
			h.Home[i] = flows.MinConsumption
		}
	}

	result, err := dispatch.Optimize(dispatch.Input{
		Horizon:          h,
		InitialSOEKWh:    initialSOE,
		InitialCostBasis: initialCostBasis,
		Settings:         st,
		DTHours:          st.Horizon.DTHours,
		StartPeriod:      currentPeriod,
		StartTime:        now,
	})
	if err != nil {
		return fmt.Errorf("manager: optimize: %w", err)
	}

	scenario := store.ScenarioHourlyUpdate
	if prepareNextDay {
		scenario = store.ScenarioNextDay
	}
	m.schedule.Store(result, currentPeriod, scenario, now)

	view := dailyview.Build(st.Horizon.N, m.historical, result.PeriodData, currentPeriod)
	m.mu.Lock()
	m.lastView = view
	m.mu.Unlock()

	intents, actions := mergeForTranslation(view.Periods)

	deployed := m.getDeployedSegments(ctx)
	out := tou.Translate(tou.Input{
		Intents:               intents,
		ActionsKW:             actions,
		DTHours:               st.Horizon.DTHours,
		CurrentPeriod:         currentPeriod,
		PreviousHourlyIntents: m.getPreviousHourlyIntents(),
		Deployed:              deployed,
		DayStart:              time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		MaxSegments:           4,
		MaxChargePowerKW:      st.Battery.MaxChargePowerKW,
		MaxDischargePowerKW:   st.Battery.MaxDischargePowerKW,
	})

	for _, w := range out.Writes {
		if w.Disable {
			if err := m.device.DisableSegment(ctx, w.Segment); err != nil {
				return fmt.Errorf("manager: disable segment %d: %w", w.Segment.SegmentID, err)
			}
			continue
		}
		if err := m.device.WriteSegment(ctx, w.Segment); err != nil {
			return fmt.Errorf("manager: write segment %d: %w", w.Segment.SegmentID, err)
		}
	}

	currentHour := currentPeriod
	if st.Horizon.DTHours > 0 && st.Horizon.N > 24 {
		currentHour = currentPeriod * 24 / st.Horizon.N
	}
	if currentHour < len(out.Hourly) {
		hs := out.Hourly[currentHour]
		if err := m.device.SetGridCharge(ctx, hs.GridCharge); err != nil {
			return fmt.Errorf("manager: set grid charge: %w", err)
		}
		if err := m.device.SetChargeRatePercent(ctx, hs.ChargeRatePercent); err != nil {
			return fmt.Errorf("manager: set charge rate: %w", err)
		}
		if err := m.device.SetDischargeRatePercent(ctx, hs.DischargeRatePercent); err != nil {
			return fmt.Errorf("manager: set discharge rate: %w", err)
		}
	}

	m.mu.Lock()
	m.deployedSegments = out.Segments
	m.previousHourlyIntents = hourlyIntentsOnly(out.Hourly)
	m.mu.Unlock()

	return nil
}

func (m *Manager) getDeployedSegments(ctx context.Context) []types.TOUInterval {
	m.mu.RLock()
	cached := m.deployedSegments
	m.mu.RUnlock()
	if cached != nil {
		return cached
	}
	// Across a restart the deployed-segments snapshot is unknown; read it
	// back from the device rather than assuming an empty plan (spec §6.3).
	segs, err := m.device.ReadSegments(ctx)
	if err != nil {
		m.logger.Printf("manager: failed to read deployed segments from device: %v", err)
		return nil
	}
	return segs
}

func (m *Manager) getPreviousHourlyIntents() []types.StrategicIntent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previousHourlyIntents
}

func hourlyIntentsOnly(hourly []types.HourlySetting) []types.StrategicIntent {
	out := make([]types.StrategicIntent, len(hourly))
	for i, h := range hourly {
		out[i] = h.Intent
	}
	return out
}

func (m *Manager) fetchPrices(ctx context.Context, prepareNextDay bool) ([]PricePoint, error) {
	if prepareNextDay {
		return m.priceSource.TomorrowPrices(ctx)
	}
	return m.priceSource.TodayPrices(ctx)
}

// sliceOrPad returns in[from:from+n] if available, padding with the last
// known value (or zero) when the forecast array is shorter than the
// remaining horizon.
func sliceOrPad(in []float64, from, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := from + i
		switch {
		case idx < len(in):
			out[i] = in[idx]
		case len(in) > 0:
			out[i] = in[len(in)-1]
		}
	}
	return out
}

// mergeForTranslation flattens a daily view into parallel intent/action
// arrays, the shape the TOU translator consumes.
func mergeForTranslation(periods []types.PeriodData) ([]types.StrategicIntent, []float64) {
	intents := make([]types.StrategicIntent, len(periods))
	actions := make([]float64, len(periods))
	for i, p := range periods {
		intents[i] = p.Decision.StrategicIntent
		actions[i] = p.Decision.BatteryActionKW
	}
	return intents, actions
}

// recordCompletedPeriod implements spec §4.11 step 3: reconstruct the
// just-completed period via the Sensor Collector and record it, with its
// own cost-basis/strategic-intent accounting (mirrors the optimizer's
// forward-pass formulas in bess/dispatch, applied to a measured action
// instead of a chosen one).
func (m *Manager) recordCompletedPeriod(ctx context.Context, periodIndex int, buy, sell []float64, cycleCost float64) error {
	if periodIndex < 0 || periodIndex >= len(buy) {
		return nil
	}
	ed, ok, err := collector.Collect(periodIndex, m.device)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	st := m.GetSettings()
	prevCostBasis := m.historical.InitialCostBasis(cycleCost)

	u := (ed.BatteryCharged - ed.BatteryDischarged) / st.Horizon.DTHours
	newCostBasis := prevCostBasis
	if ed.BatteryCharged > 1e-9 && ed.BatterySOEEnd > 1e-9 {
		solarCost := ed.SolarToBattery * st.Battery.EfficiencyCharge * cycleCost
		gridCost := ed.GridToBattery * st.Battery.EfficiencyCharge * (buy[periodIndex] + cycleCost)
		newCostBasis = (ed.BatterySOEStart*prevCostBasis + solarCost + gridCost) / ed.BatterySOEEnd
	}

	intent := labelActual(u, ed, sell[periodIndex], prevCostBasis)

	gridCost := ed.GridImported*buy[periodIndex] - ed.GridExported*sell[periodIndex]
	batteryCycleCost := ed.BatteryCharged * st.Battery.EfficiencyCharge * cycleCost
	hourlyCost := gridCost + batteryCycleCost
	baseCaseCost := ed.HomeConsumption * buy[periodIndex]

	data := types.PeriodData{
		PeriodIndex: periodIndex,
		Timestamp:   m.now(),
		DataSource:  types.SourceActual,
		Energy:      ed,
		Economic: types.EconomicData{
			BuyPrice:         buy[periodIndex],
			SellPrice:        sell[periodIndex],
			GridCost:         gridCost,
			BatteryCycleCost: batteryCycleCost,
			HourlyCost:       hourlyCost,
			BaseCaseCost:     baseCaseCost,
			HourlySavings:    baseCaseCost - hourlyCost,
		},
		Decision: types.DecisionData{
			StrategicIntent: intent,
			BatteryActionKW: u,
			CostBasis:       newCostBasis,
		},
	}
	return m.historical.RecordPeriod(periodIndex, data)
}

const idleThresholdW = 0.1

// labelActual mirrors bess/dispatch's label() for a measured (rather than
// chosen) action, per spec §4.5.
func labelActual(u float64, ed flows.EnergyData, sellPrice, costBasis float64) types.StrategicIntent {
	if math.Abs(u) <= idleThresholdW {
		return types.IntentIdle
	}
	if u > idleThresholdW {
		if ed.GridToBattery > ed.SolarToBattery {
			return types.IntentGridCharging
		}
		return types.IntentSolarStorage
	}
	if ed.BatteryToGrid > ed.BatteryToHome && sellPrice > costBasis {
		return types.IntentExportArbitrage
	}
	return types.IntentLoadSupport
}

// RunPowerLimiterTick implements tick source 2 (spec §4.10, §5): it nudges
// the charge-rate percentage toward whatever the fuse allows and writes it
// only if it actually changed.
func (m *Manager) RunPowerLimiterTick(ctx context.Context, targetChargingPowerPct float64) error {
	st := m.GetSettings()
	load, err := m.device.ReadPhaseCurrents(ctx)
	if err != nil {
		return fmt.Errorf("manager: read phase currents: %w", err)
	}

	view := m.DailyView()
	now := m.now()
	currentPeriod := periodIndex(now, st.Horizon.N, st.Horizon.DTHours)
	gridChargeEnabled := currentPeriod < len(view.Periods) &&
		view.Periods[currentPeriod].Decision.StrategicIntent == types.IntentGridCharging

	rate, changed := m.limiter.Tick(load, st.Home, st.Battery, targetChargingPowerPct, gridChargeEnabled)
	if !changed {
		return nil
	}
	if err := m.device.SetChargeRatePercent(ctx, rate); err != nil {
		return fmt.Errorf("manager: set charge rate from limiter: %w", err)
	}
	return nil
}

// Start launches two of the periodic tick sources of spec §5, schedule
// update and power limiter, as independent goroutines, in the teacher's
// PeriodicTask idiom (scheduler/scheduler.go): an initial run, then a ticker
// loop selecting on ctx.Done()/stopChan. It does not start a next-day
// preparation tick; that runs only when a caller invokes RunScheduleUpdate
// with prepareNextDay=true.
func (m *Manager) Start(ctx context.Context, scheduleInterval, limiterInterval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		m.runPeriodic(ctx, stop, "schedule-update", scheduleInterval, func() {
			if err := m.RunScheduleUpdate(ctx, false); err != nil {
				m.logger.Printf("schedule update failed: %v", err)
			}
		})
	}()

	go func() {
		defer wg.Done()
		m.runPeriodic(ctx, stop, "power-limiter", limiterInterval, func() {
			if err := m.RunPowerLimiterTick(ctx, m.GetSettings().Battery.ChargingPowerRate); err != nil {
				m.logger.Printf("power limiter tick failed: %v", err)
			}
		})
	}()

	wg.Wait()
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) runPeriodic(ctx context.Context, stop <-chan struct{}, name string, interval time.Duration, run func()) {
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			m.logger.Printf("[%s] stopped: %v", name, ctx.Err())
			return
		case <-stop:
			m.logger.Printf("[%s] stopped", name)
			return
		}
	}
}

// Stop signals every running periodic task to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.stopChan != nil {
		close(m.stopChan)
	}
}

package store

import (
	"testing"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/flows"
	"github.com/devskill-org/bess-scheduler/bess/types"
)

func samplePeriod(i int, soeEnd float64, intent types.StrategicIntent) types.PeriodData {
	return types.PeriodData{
		PeriodIndex: i,
		Timestamp:   time.Now(),
		DataSource:  types.SourceActual,
		Energy:      flows.Decompose(0, 2, 0, 0, soeEnd, soeEnd),
		Decision:    types.DecisionData{StrategicIntent: intent, CostBasis: 0.5},
	}
}

func TestHistoricalRecordAndRetrieve(t *testing.T) {
	h := NewHistorical(24, nil)

	if err := h.RecordPeriod(-1, samplePeriod(0, 5, types.IntentIdle)); err == nil {
		t.Fatalf("expected error for negative index")
	}
	if err := h.RecordPeriod(24, samplePeriod(24, 5, types.IntentIdle)); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}

	if err := h.RecordPeriod(3, samplePeriod(3, 5, types.IntentIdle)); err != nil {
		t.Fatalf("RecordPeriod: %v", err)
	}
	if _, ok := h.GetPeriod(3); !ok {
		t.Fatalf("expected period 3 to be recorded")
	}
	if h.StoredCount() != 1 {
		t.Fatalf("expected stored_count=1, got %d", h.StoredCount())
	}

	// Overwrite is allowed (logs a warning, not an error).
	if err := h.RecordPeriod(3, samplePeriod(3, 6, types.IntentLoadSupport)); err != nil {
		t.Fatalf("RecordPeriod overwrite: %v", err)
	}
	p, _ := h.GetPeriod(3)
	if p.Decision.StrategicIntent != types.IntentLoadSupport {
		t.Fatalf("expected overwritten record to stick")
	}

	h.ResetForNewDay()
	if h.StoredCount() != 0 {
		t.Fatalf("expected empty store after reset, got %d", h.StoredCount())
	}
}

func TestHistoricalLatestEnergyStateDefaultsWhenEmpty(t *testing.T) {
	h := NewHistorical(24, nil)
	soc, soe, intent := h.LatestEnergyState(10)
	if soc != 50 {
		t.Errorf("expected neutral default 50%% SOC, got %v", soc)
	}
	if soe != 5 {
		t.Errorf("expected neutral default 5 kWh (50%% of 10), got %v", soe)
	}
	if intent != types.IntentIdle {
		t.Errorf("expected neutral default IDLE, got %v", intent)
	}
}

func TestHistoricalLatestEnergyStateUsesHighestIndex(t *testing.T) {
	h := NewHistorical(24, nil)
	h.RecordPeriod(2, samplePeriod(2, 4, types.IntentIdle))
	h.RecordPeriod(5, samplePeriod(5, 7, types.IntentGridCharging))
	h.RecordPeriod(1, samplePeriod(1, 3, types.IntentIdle))

	_, soe, intent := h.LatestEnergyState(10)
	if soe != 7 {
		t.Errorf("expected soe from highest index period (5), got %v", soe)
	}
	if intent != types.IntentGridCharging {
		t.Errorf("expected intent from highest index period, got %v", intent)
	}
}

func TestHistoricalInitialCostBasisDefaultsToCycleCost(t *testing.T) {
	h := NewHistorical(24, nil)
	if got := h.InitialCostBasis(0.42); got != 0.42 {
		t.Errorf("expected empty-store default to be cycle cost 0.42, got %v", got)
	}
}

func TestScheduleStoreLatestAndResetForNewDay(t *testing.T) {
	s := NewSchedule()
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected no latest entry in empty store")
	}

	base := time.Now()
	s.Store(types.OptimizationResult{}, 0, ScenarioHourlyUpdate, base)
	s.Store(types.OptimizationResult{}, 1, ScenarioNextDay, base.Add(time.Hour))

	latest, ok := s.Latest()
	if !ok {
		t.Fatalf("expected a latest entry")
	}
	if latest.Scenario != ScenarioNextDay {
		t.Errorf("expected the more recent entry to be latest, got %v", latest.Scenario)
	}
	if len(s.AllToday()) != 2 {
		t.Errorf("expected 2 entries today, got %d", len(s.AllToday()))
	}

	s.ResetForNewDay()
	if len(s.AllToday()) != 0 {
		t.Errorf("expected empty store after reset, got %d entries", len(s.AllToday()))
	}
}

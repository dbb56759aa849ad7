package store

import (
	"sync"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/types"
)

// Scenario is the closed enum distinguishing why an optimization run was made.
type Scenario int

const (
	ScenarioHourlyUpdate Scenario = iota
	ScenarioNextDay
)

func (s Scenario) String() string {
	if s == ScenarioNextDay {
		return "next_day"
	}
	return "hourly_update"
}

// StoredSchedule is one entry in the Schedule Store (spec §3).
type StoredSchedule struct {
	Timestamp          time.Time
	OptimizationPeriod int
	Scenario           Scenario
	Result             types.OptimizationResult
}

// Schedule holds the list of optimization results produced so far today.
type Schedule struct {
	mu      sync.RWMutex
	entries []StoredSchedule
}

// NewSchedule constructs an empty Schedule Store.
func NewSchedule() *Schedule {
	return &Schedule{}
}

// Store appends a new entry, stamped with the current time.
func (s *Schedule) Store(result types.OptimizationResult, optimizationPeriod int, scenario Scenario, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, StoredSchedule{
		Timestamp:          now,
		OptimizationPeriod: optimizationPeriod,
		Scenario:           scenario,
		Result:             result,
	})
}

// Latest returns the most recent entry by timestamp, if any.
func (s *Schedule) Latest() (StoredSchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return StoredSchedule{}, false
	}
	latest := s.entries[0]
	for _, e := range s.entries[1:] {
		if e.Timestamp.After(latest.Timestamp) {
			latest = e
		}
	}
	return latest, true
}

// AllToday returns a copy of every entry stored today.
func (s *Schedule) AllToday() []StoredSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredSchedule, len(s.entries))
	copy(out, s.entries)
	return out
}

// ResetForNewDay clears every stored entry.
func (s *Schedule) ResetForNewDay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

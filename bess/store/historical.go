// Package store implements the Historical Store (C3) and Schedule Store
// (C7): the process-resident, append-only (within a day) record of what
// actually happened and what the optimizer decided (spec §4.2, §4.8).
package store

import (
	"fmt"
	"log"
	"sync"

	"github.com/devskill-org/bess-scheduler/bess/types"
)

// Historical is a mapping from period index to PeriodData for today.
// Entries are append-only within a day; recording over an existing index
// overwrites it and logs a warning rather than failing (spec §4.2).
type Historical struct {
	mu      sync.RWMutex
	n       int
	periods map[int]types.PeriodData
	logger  *log.Logger
}

// NewHistorical constructs an empty store for a horizon of n periods.
func NewHistorical(n int, logger *log.Logger) *Historical {
	return &Historical{n: n, periods: make(map[int]types.PeriodData), logger: logger}
}

// RecordPeriod validates 0 <= i < N and stores a copy of data at index i.
// SOC/hour validation beyond range membership is the caller's
// responsibility (the collector and optimizer already enforce it); this
// store only rejects structurally invalid indices and SOE values.
func (h *Historical) RecordPeriod(i int, data types.PeriodData) error {
	if i < 0 || i >= h.n {
		return fmt.Errorf("store: period index %d out of [0,%d)", i, h.n)
	}
	if data.Energy.BatterySOEStart < 0 || data.Energy.BatterySOEEnd < 0 {
		return fmt.Errorf("store: period %d has a negative SOE", i)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.periods[i]; exists && h.logger != nil {
		h.logger.Printf("historical store: overwriting existing record for period %d", i)
	}
	if err := data.Energy.BalanceError(); err > 0.2 && h.logger != nil {
		h.logger.Printf("historical store: period %d energy balance error %.3f kWh exceeds tolerance", i, err)
	}
	h.periods[i] = data
	return nil
}

// GetPeriod returns the record at index i, if any.
func (h *Historical) GetPeriod(i int) (types.PeriodData, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.periods[i]
	return p, ok
}

// GetTodayPeriods returns a slice of length N; missing periods are the zero value.
func (h *Historical) GetTodayPeriods() []*types.PeriodData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*types.PeriodData, h.n)
	for i := 0; i < h.n; i++ {
		if p, ok := h.periods[i]; ok {
			cp := p
			out[i] = &cp
		}
	}
	return out
}

// StoredCount returns the number of recorded periods.
func (h *Historical) StoredCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.periods)
}

// Clear removes all recorded periods without changing the horizon length.
func (h *Historical) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.periods = make(map[int]types.PeriodData)
}

// ResetForNewDay clears the store; semantically distinct from Clear only in
// intent (called by the manager at day rollover).
func (h *Historical) ResetForNewDay() {
	h.Clear()
}

// LatestEnergyState returns the SOC/SOE/strategic-intent at the end of the
// highest-index recorded period, or a neutral default (50% SOC, IDLE) if the
// store is empty (spec §4.2, §8 boundary behavior).
func (h *Historical) LatestEnergyState(totalCapacityKWh float64) (socPercent, soeKWh float64, intent types.StrategicIntent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	best := -1
	for i := range h.periods {
		if i > best {
			best = i
		}
	}
	if best < 0 {
		return 50, totalCapacityKWh * 0.5, types.IntentIdle
	}
	p := h.periods[best]
	soe := p.Energy.BatterySOEEnd
	pct := 0.0
	if totalCapacityKWh > 0 {
		pct = 100 * soe / totalCapacityKWh
	}
	return pct, soe, p.Decision.StrategicIntent
}

// InitialCostBasis computes the running weighted-average cost of energy
// added since the day started (spec §4.11 step 4): solar additions valued at
// cycle cost only, grid additions at buy+cycle, discharges consumed at the
// basis in force at the time (already folded into each recorded period's
// DecisionData.CostBasis by the manager when it records each completed
// period). If the store is empty,
// returns cycleCostPerKWh, the documented neutral default (spec §8).
func (h *Historical) InitialCostBasis(cycleCostPerKWh float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	best := -1
	for i := range h.periods {
		if i > best {
			best = i
		}
	}
	if best < 0 {
		return cycleCostPerKWh
	}
	return h.periods[best].Decision.CostBasis
}

package risk

import "sync"

// Limits are the mutable risk limits shared between the risk engine,
// the coordinator, and the administrative surface. All percentages are
// expressed as whole percents (80 means 80%).
type Limits struct {
	MaxExposurePct    float64 `json:"max_exposure_pct"`
	MaxPositionPct    float64 `json:"max_position_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"`
	VaR1dLimitPct     float64 `json:"var_1d_limit_pct"`
	VaR1wLimitPct     float64 `json:"var_1w_limit_pct"`

	// StrategyMaxPositionPct overrides MaxPositionPct per strategy
	StrategyMaxPositionPct map[string]float64 `json:"strategy_max_position_pct,omitempty"`
}

// DefaultLimits returns the limits used when nothing is configured
func DefaultLimits() Limits {
	return Limits{
		MaxExposurePct:    80,
		MaxPositionPct:    20,
		MaxDrawdownPct:    15,
		DailyLossLimitPct: 5,
		VaR1dLimitPct:     10,
		VaR1wLimitPct:     20,
	}
}

// MaxPositionPctFor returns the per-strategy override when present
func (l Limits) MaxPositionPctFor(strategy string) float64 {
	if pct, ok := l.StrategyMaxPositionPct[strategy]; ok && pct > 0 {
		return pct
	}
	return l.MaxPositionPct
}

// LimitStore guards the limits against torn reads: readers always get
// a consistent copy, and an administrative update becomes visible to
// the next check, never to one already in progress.
type LimitStore struct {
	mu     sync.RWMutex
	limits Limits
}

// NewLimitStore creates a store seeded with the given limits
func NewLimitStore(limits Limits) *LimitStore {
	return &LimitStore{limits: copyLimits(limits)}
}

// Get returns a consistent copy of the current limits
func (s *LimitStore) Get() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyLimits(s.limits)
}

// Update replaces the limits; takes effect on the next check
func (s *LimitStore) Update(limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = copyLimits(limits)
}

func copyLimits(l Limits) Limits {
	copied := l
	if l.StrategyMaxPositionPct != nil {
		copied.StrategyMaxPositionPct = make(map[string]float64, len(l.StrategyMaxPositionPct))
		for strategy, pct := range l.StrategyMaxPositionPct {
			copied.StrategyMaxPositionPct[strategy] = pct
		}
	}
	return copied
}

package coordinator

import (
	"fmt"
	"sync"

	coreerrors "github.com/tradecore/execd/internal/errors"
	"github.com/tradecore/execd/internal/execution"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/monitoring"
	"github.com/tradecore/execd/pkg/types"
)

// Admission rule labels, used for metrics and journal details
const (
	ruleMaxSimultaneous = "max_simultaneous"
	ruleConflict        = "conflict"
	ruleStrategyCap     = "strategy_cap"
)

// Config controls the admission rules
type Config struct {
	MaxSimultaneousOrders  int
	PreventOppositeSignals bool
	// MaxPendingPerStrategy caps PENDING orders per strategy, applied
	// only to strategies with a configured capital share
	MaxPendingPerStrategy int
	StrategyCapitalPct    map[string]float64
}

// StrategyExposure aggregates order notional for one strategy
type StrategyExposure struct {
	Strategy        string  `json:"strategy"`
	Orders          int     `json:"orders"`
	TotalNotional   float64 `json:"total_notional"`
	FilledNotional  float64 `json:"filled_notional"`
	PendingNotional float64 `json:"pending_notional"`
}

// GlobalStats summarizes the whole order registry
type GlobalStats struct {
	TotalOrders    int                          `json:"total_orders"`
	ActiveOrders   int                          `json:"active_orders"`
	CountsByStatus map[string]int               `json:"counts_by_status"`
	Strategies     map[string]*StrategyExposure `json:"strategies"`
}

// Coordinator is the single admission gate: no order reaches the
// execution engine without passing through ExecuteOrder. Admission and
// submission run under one lock so concurrent candidates observe each
// other.
type Coordinator struct {
	mu      sync.Mutex
	engine  *execution.Engine
	journal journal.Journal
	logger  *logger.Logger
	config  Config
}

// NewCoordinator creates an execution coordinator
func NewCoordinator(engine *execution.Engine, jrnl journal.Journal, log *logger.Logger, config Config) *Coordinator {
	if config.MaxSimultaneousOrders <= 0 {
		config.MaxSimultaneousOrders = 5
	}
	return &Coordinator{
		engine:  engine,
		journal: jrnl,
		logger:  log,
		config:  config,
	}
}

// CanExecuteOrder evaluates the admission rules in order; the first
// failing rule short-circuits and its reason is returned verbatim.
func (c *Coordinator) CanExecuteOrder(order types.Order, openPositions []types.Position) (bool, string) {
	ok, _, reason := c.evaluate(order, openPositions)
	return ok, reason
}

// evaluate applies the rule chain and also names the failed rule
func (c *Coordinator) evaluate(order types.Order, openPositions []types.Position) (bool, string, string) {
	// (a) global cap on simultaneous non-terminal orders
	if c.engine.CountActive() >= c.config.MaxSimultaneousOrders {
		return false, ruleMaxSimultaneous,
			fmt.Sprintf("Maximum simultaneous orders reached (%d)", c.config.MaxSimultaneousOrders)
	}

	// (b) opposite-side conflicts on the same symbol
	if c.config.PreventOppositeSignals {
		opposite := order.Side.Opposite()
		for _, state := range c.engine.ActiveOrders() {
			if state.Order.Symbol == order.Symbol && state.Order.Side == opposite {
				return false, ruleConflict,
					fmt.Sprintf("Conflicting order exists for %s: %s order %s is active", order.Symbol, opposite, state.ID)
			}
		}
		for _, pos := range openPositions {
			if pos.Symbol == order.Symbol && pos.Side == opposite {
				return false, ruleConflict,
					fmt.Sprintf("Conflicting position exists for %s: open %s position", order.Symbol, opposite)
			}
		}
	}

	// (c) per-strategy pending cap, only when the strategy has a
	// configured capital share
	if c.config.MaxPendingPerStrategy > 0 {
		if _, limited := c.config.StrategyCapitalPct[order.Strategy]; limited {
			pending := c.engine.CountPendingByStrategy(order.Strategy)
			if pending >= c.config.MaxPendingPerStrategy {
				return false, ruleStrategyCap,
					fmt.Sprintf("Strategy %s pending order limit reached (%d)", order.Strategy, c.config.MaxPendingPerStrategy)
			}
		}
	}

	return true, "", ""
}

// ExecuteOrder runs admission and, when admitted, registers the order
// with the engine. A rejected order is journaled and never touches the
// engine.
func (c *Coordinator) ExecuteOrder(order types.Order, openPositions []types.Position) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, rule, reason := c.evaluate(order, openPositions)
	if !ok {
		monitoring.RecordAdmissionRejection(rule)
		c.journal.Append(journal.Entry{
			Type: journal.EntryCoordinationBlock,
			Details: map[string]string{
				"rule":     rule,
				"reason":   reason,
				"symbol":   order.Symbol,
				"side":     string(order.Side),
				"strategy": order.Strategy,
			},
		})
		c.logger.Warning("admission blocked: %s", reason)
		return "", coreerrors.NewAdmissionError("coordinator", reason)
	}

	id, err := c.engine.SubmitOrder(order)
	if err != nil {
		return "", fmt.Errorf("engine rejected order: %w", err)
	}

	c.logger.Info("admitted order %s (%s %s %s)", id, order.Strategy, order.Side, order.Symbol)
	return id, nil
}

// GetStrategyExposure aggregates order notional for one strategy
func (c *Coordinator) GetStrategyExposure(strategy string) *StrategyExposure {
	exposure := &StrategyExposure{Strategy: strategy}

	for _, state := range c.engine.AllOrders() {
		if state.Order.Strategy != strategy {
			continue
		}
		exposure.Orders++
		notional := state.Order.NotionalValue(state.AverageFillPrice)
		exposure.TotalNotional += notional
		exposure.FilledNotional += state.FilledQuantity * state.AverageFillPrice
		if state.Status == execution.StatusPending {
			exposure.PendingNotional += notional
		}
	}
	return exposure
}

// GetGlobalStats summarizes the order registry for dashboards and the
// administrative surface
func (c *Coordinator) GetGlobalStats() *GlobalStats {
	stats := &GlobalStats{
		CountsByStatus: make(map[string]int),
		Strategies:     make(map[string]*StrategyExposure),
	}

	for _, state := range c.engine.AllOrders() {
		stats.TotalOrders++
		stats.CountsByStatus[string(state.Status)]++
		if state.IsActive() {
			stats.ActiveOrders++
		}

		strategy := state.Order.Strategy
		exposure, exists := stats.Strategies[strategy]
		if !exists {
			exposure = &StrategyExposure{Strategy: strategy}
			stats.Strategies[strategy] = exposure
		}
		exposure.Orders++
		notional := state.Order.NotionalValue(state.AverageFillPrice)
		exposure.TotalNotional += notional
		exposure.FilledNotional += state.FilledQuantity * state.AverageFillPrice
		if state.Status == execution.StatusPending {
			exposure.PendingNotional += notional
		}
	}
	return stats
}

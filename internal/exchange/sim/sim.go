package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/pkg/types"
)

// Adapter is an in-memory exchange used for paper trading and tests.
// It satisfies the same contract as the live adapter; placed orders
// fill immediately at the configured mark price.
type Adapter struct {
	mu sync.RWMutex

	capital   float64
	realized  float64
	prices    map[string]float64
	positions map[string]types.Position
	fills     []types.Fill
	callbacks []func(exchange.AccountUpdate)
	connected bool

	nextOrderID  int
	nextExecID   int
	failuresLeft int // pending PlaceOrder failures, for retry testing
	autoFill     bool
}

// NewAdapter creates a simulated adapter with the given starting capital
func NewAdapter(initialCapital float64) *Adapter {
	return &Adapter{
		capital:   initialCapital,
		prices:    make(map[string]float64),
		positions: make(map[string]types.Position),
		autoFill:  true,
	}
}

// GetName returns the exchange name
func (a *Adapter) GetName() string {
	return "sim"
}

// IsDemo always reports true for the simulated adapter
func (a *Adapter) IsDemo() bool {
	return true
}

// GetEnvironment returns the environment string
func (a *Adapter) GetEnvironment() string {
	return "simulated"
}

// Connect marks the adapter connected
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

// Disconnect marks the adapter disconnected
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// IsConnected reports the connection state
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// SetPrice sets the mark price used for fills and position valuation
func (a *Adapter) SetPrice(symbol string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[symbol] = price

	if pos, ok := a.positions[symbol]; ok {
		pos.MarkPrice = price
		if pos.Side == types.SideBuy {
			pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Quantity
		} else {
			pos.UnrealizedPnL = (pos.EntryPrice - price) * pos.Quantity
		}
		a.positions[symbol] = pos
	}
}

// OpenPosition installs a position directly, used by tests and backfills
func (a *Adapter) OpenPosition(pos types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[pos.Symbol] = pos
}

// SetAutoFill controls whether placed orders fill immediately
func (a *Adapter) SetAutoFill(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoFill = enabled
}

// FailNextPlacements makes the next n PlaceOrder calls return an error
func (a *Adapter) FailNextPlacements(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failuresLeft = n
}

// SubscribeToUpdates registers a callback for fill/position updates
func (a *Adapter) SubscribeToUpdates(callback func(exchange.AccountUpdate)) error {
	if callback == nil {
		return fmt.Errorf("callback is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, callback)
	return nil
}

// GetBalance returns the simulated account balance
func (a *Adapter) GetBalance(ctx context.Context, asset string) ([]types.Balance, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if asset != "" && asset != "USDT" {
		return nil, nil
	}
	return []types.Balance{{Asset: "USDT", Free: a.capital + a.realized}}, nil
}

// GetPositions returns open positions; symbol may be empty for all
func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var positions []types.Position
	for _, pos := range a.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetFills returns recorded fills newest-first; symbol may be empty
func (a *Adapter) GetFills(ctx context.Context, symbol string, limit int) ([]types.Fill, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var fills []types.Fill
	for i := len(a.fills) - 1; i >= 0 && len(fills) < limit; i-- {
		if symbol != "" && a.fills[i].Symbol != symbol {
			continue
		}
		fills = append(fills, a.fills[i])
	}
	return fills, nil
}

// GetAccountStatus returns the aggregate simulated account snapshot
func (a *Adapter) GetAccountStatus(ctx context.Context) (*types.AccountStatus, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var unrealized, marginUsed float64
	for _, pos := range a.positions {
		unrealized += pos.UnrealizedPnL
		leverage := pos.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		price := pos.MarkPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		marginUsed += pos.Quantity * price / leverage
	}

	capital := a.capital + a.realized
	return &types.AccountStatus{
		TotalCapital:     capital,
		AvailableCapital: capital - marginUsed,
		MarginUsed:       marginUsed,
		UnrealizedPnL:    unrealized,
		Equity:           capital + unrealized,
	}, nil
}

// PlaceOrder accepts the order and, when auto-fill is on, fills it
// immediately at the mark price
func (a *Adapter) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	a.mu.Lock()

	if a.failuresLeft > 0 {
		a.failuresLeft--
		a.mu.Unlock()
		return "", fmt.Errorf("simulated exchange rejection")
	}

	a.nextOrderID++
	exchangeID := fmt.Sprintf("sim-%06d", a.nextOrderID)

	price := a.prices[order.Symbol]
	if price <= 0 {
		price = order.Price
	}
	if price <= 0 {
		a.mu.Unlock()
		return "", fmt.Errorf("no price available for %s", order.Symbol)
	}

	var update *exchange.AccountUpdate
	var callbacks []func(exchange.AccountUpdate)
	if a.autoFill {
		a.nextExecID++
		fill := types.Fill{
			ExecID:    fmt.Sprintf("exec-%06d", a.nextExecID),
			OrderID:   exchangeID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  order.Quantity,
			Price:     price,
			Timestamp: time.Now(),
		}
		a.fills = append(a.fills, fill)
		a.applyFillLocked(fill)

		update = &exchange.AccountUpdate{Fills: []types.Fill{fill}}
		callbacks = make([]func(exchange.AccountUpdate), len(a.callbacks))
		copy(callbacks, a.callbacks)
	}
	a.mu.Unlock()

	if update != nil {
		for _, cb := range callbacks {
			cb(*update)
		}
	}

	return exchangeID, nil
}

// applyFillLocked nets the fill into the position book; caller holds the lock
func (a *Adapter) applyFillLocked(fill types.Fill) {
	pos, exists := a.positions[fill.Symbol]
	if !exists {
		a.positions[fill.Symbol] = types.Position{
			Symbol:     fill.Symbol,
			Side:       fill.Side,
			Quantity:   fill.Quantity,
			EntryPrice: fill.Price,
			MarkPrice:  fill.Price,
			Leverage:   1,
			OpenedAt:   fill.Timestamp,
		}
		return
	}

	if pos.Side == fill.Side {
		// Increase: recompute weighted entry price
		total := pos.Quantity + fill.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fill.Price*fill.Quantity) / total
		pos.Quantity = total
	} else {
		// Reduce or flip
		closed := fill.Quantity
		if closed > pos.Quantity {
			closed = pos.Quantity
		}
		if pos.Side == types.SideBuy {
			a.realized += (fill.Price - pos.EntryPrice) * closed
		} else {
			a.realized += (pos.EntryPrice - fill.Price) * closed
		}
		pos.Quantity -= fill.Quantity
		if pos.Quantity < 0 {
			pos.Side = fill.Side
			pos.Quantity = -pos.Quantity
			pos.EntryPrice = fill.Price
		}
		if pos.Quantity == 0 {
			delete(a.positions, fill.Symbol)
			return
		}
	}
	pos.MarkPrice = fill.Price
	a.positions[fill.Symbol] = pos
}

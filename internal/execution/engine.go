package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/tradecore/execd/internal/errors"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/monitoring"
	"github.com/tradecore/execd/pkg/types"
)

// fillTolerance treats an order as fully filled once cumulative filled
// quantity reaches this share of the requested quantity, absorbing
// exchange rounding on the last execution.
const fillTolerance = 0.999

// timeoutCancelReason is the forced-exit reason used by CheckTimeouts
const timeoutCancelReason = "Order timeout"

// maxUnmatchedOrders bounds the buffer of fills waiting for their
// exchange id mapping; beyond it new unmatched fills are dropped.
const maxUnmatchedOrders = 128

// Config controls the engine's retry and timeout policy
type Config struct {
	MaxRetries   int
	RetryDelay   time.Duration
	OrderTimeout time.Duration
}

// Engine owns the order registry and the per-order state machine. It
// is the only writer of OrderState; all mutation happens under its
// lock, and read methods return copies.
// bufferedFill is a fill that arrived before the engine recorded the
// exchange id mapping for its order
type bufferedFill struct {
	fill       types.Fill
	bufferedAt time.Time
}

type Engine struct {
	mu         sync.RWMutex
	orders     map[string]*OrderState
	byExchange map[string]string // exchange order id -> engine order id
	unmatched  map[string][]bufferedFill

	placer  exchange.OrderPlacer
	journal journal.Journal
	logger  *logger.Logger
	config  Config
}

// NewEngine creates an execution engine
func NewEngine(placer exchange.OrderPlacer, jrnl journal.Journal, log *logger.Logger, config Config) *Engine {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.OrderTimeout <= 0 {
		config.OrderTimeout = 5 * time.Minute
	}

	return &Engine{
		orders:     make(map[string]*OrderState),
		byExchange: make(map[string]string),
		unmatched:  make(map[string][]bufferedFill),
		placer:     placer,
		journal:    jrnl,
		logger:     log,
		config:     config,
	}
}

// SubmitOrder registers the order as PENDING and returns its new id.
// No exchange call happens here; the periodic sweep performs actual
// submission.
func (e *Engine) SubmitOrder(order types.Order) (string, error) {
	if order.Symbol == "" {
		return "", coreerrors.NewValidationError("execution", "submit_order", "order symbol is required")
	}
	if order.Quantity <= 0 {
		return "", coreerrors.NewValidationError("execution", "submit_order", fmt.Sprintf("order quantity must be positive, got %v", order.Quantity))
	}
	if order.Type == types.OrderTypeLimit && order.Price <= 0 {
		return "", coreerrors.NewValidationError("execution", "submit_order", "limit order requires a positive price")
	}

	id := uuid.NewString()
	state := newOrderState(id, order)

	e.mu.Lock()
	e.orders[id] = state
	e.mu.Unlock()

	e.journal.Append(journal.Entry{
		Type:    journal.EntryOrderCreated,
		OrderID: id,
		Details: map[string]string{
			"symbol":   order.Symbol,
			"side":     string(order.Side),
			"type":     string(order.Type),
			"quantity": formatFloat(order.Quantity),
			"strategy": order.Strategy,
		},
	})
	e.logger.Order("accepted %s %s %s qty=%s strategy=%s", id, order.Side, order.Symbol, formatFloat(order.Quantity), order.Strategy)

	return id, nil
}

// ProcessPendingOrders attempts exchange submission for every PENDING
// order whose retry time has elapsed. Invoked by the periodic sweep;
// sweeps must not overlap themselves.
func (e *Engine) ProcessPendingOrders(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	// Buffered fills that never found an owner belong to orders placed
	// outside this process; drop them once they outlive the order timeout
	for exchangeID, fills := range e.unmatched {
		if now.Sub(fills[len(fills)-1].bufferedAt) > e.config.OrderTimeout {
			delete(e.unmatched, exchangeID)
		}
	}
	var due []string
	for id, state := range e.orders {
		if state.Status == StatusPending && !state.NextRetryAt.After(now) {
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		e.attemptSubmission(ctx, id)
	}
}

// attemptSubmission performs one exchange submission for a pending
// order, applying the retry policy on failure. The exchange call runs
// without holding the registry lock.
func (e *Engine) attemptSubmission(ctx context.Context, id string) {
	e.mu.RLock()
	state, exists := e.orders[id]
	if !exists || state.Status != StatusPending {
		e.mu.RUnlock()
		return
	}
	order := state.Order
	e.mu.RUnlock()

	exchangeID, err := e.placer.PlaceOrder(ctx, order)

	e.mu.Lock()

	state, exists = e.orders[id]
	if !exists || state.Status != StatusPending {
		// Cancelled while the call was in flight; nothing to apply
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.handleSubmissionFailureLocked(state, err)
		e.mu.Unlock()
		return
	}

	state.ExchangeOrderID = exchangeID
	state.SubmittedAt = time.Now()
	e.byExchange[exchangeID] = id
	e.transitionLocked(state, StatusSubmitted, "submitted to exchange")
	e.journal.Append(journal.Entry{
		Type:    journal.EntryOrderSubmitted,
		OrderID: id,
		Details: map[string]string{"exchange_order_id": exchangeID},
	})
	buffered := e.unmatched[exchangeID]
	delete(e.unmatched, exchangeID)
	e.mu.Unlock()

	// Fills the adapter reported before the mapping existed (the sim
	// adapter fills synchronously inside PlaceOrder) are replayed now
	for _, pending := range buffered {
		if applyErr := e.UpdateOrderFromFill(id, pending.fill); applyErr != nil {
			e.logger.Warning("replay of buffered fill %s for order %s failed: %v", pending.fill.ExecID, id, applyErr)
		}
	}
}

// handleSubmissionFailureLocked applies the retry policy to one failed
// submission. Errors classified non-retryable reject the order outright
// instead of burning retries; everything else backs off linearly until
// max retries. The caller holds the write lock.
func (e *Engine) handleSubmissionFailureLocked(state *OrderState, err error) {
	coreErr := coreerrors.Categorize(err, "execution", "place_order")

	if coreErr.IsRetryable() && state.RetryCount < e.config.MaxRetries {
		state.RetryCount++
		// Linear backoff: delay grows with the retry counter
		state.NextRetryAt = time.Now().Add(e.config.RetryDelay * time.Duration(state.RetryCount))
		monitoring.RecordRetry()
		e.journal.Append(journal.Entry{
			Type:    journal.EntryRetryScheduled,
			OrderID: state.ID,
			Details: map[string]string{
				"attempt":  strconv.Itoa(state.RetryCount),
				"category": string(coreErr.Category),
				"error":    err.Error(),
			},
		})
		e.logger.Warning("submission failed for %s (attempt %d/%d): %v", state.ID, state.RetryCount, e.config.MaxRetries, err)
		return
	}

	reason := "max retries exceeded"
	if !coreErr.IsRetryable() {
		reason = fmt.Sprintf("submission rejected (%s)", coreErr.Category)
	}
	if coreErr.IsFatal() {
		e.logger.Error("fatal submission error for %s: %v", state.ID, err)
	}

	state.RejectionReason = reason
	e.transitionLocked(state, StatusRejected, reason)
	e.journal.Append(journal.Entry{
		Type:    journal.EntryOrderRejected,
		OrderID: state.ID,
		Details: map[string]string{
			"reason":     reason,
			"category":   string(coreErr.Category),
			"last_error": err.Error(),
		},
	})
}

// UpdateOrderFromFill applies one fill. Duplicate executions (same
// exec id) are rejected; a fill arriving for a CANCELLED order is
// journaled as a reconciliation event and otherwise ignored.
func (e *Engine) UpdateOrderFromFill(id string, fill types.Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.orders[id]
	if !exists {
		return fmt.Errorf("unknown order: %s", id)
	}

	if state.Status == StatusCancelled {
		e.journal.Append(journal.Entry{
			Type:    journal.EntryFillAfterCancel,
			OrderID: id,
			Details: map[string]string{
				"exec_id":  fill.ExecID,
				"quantity": formatFloat(fill.Quantity),
				"price":    formatFloat(fill.Price),
			},
		})
		e.logger.Warning("late fill %s for cancelled order %s ignored", fill.ExecID, id)
		return nil
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("order %s is %s, cannot apply fill", id, state.Status)
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return fmt.Errorf("fill must have positive quantity and price")
	}
	if fill.ExecID != "" && state.appliedExecs[fill.ExecID] {
		return fmt.Errorf("duplicate fill %s for order %s", fill.ExecID, id)
	}

	if fill.ExecID != "" {
		state.appliedExecs[fill.ExecID] = true
	}
	state.Fills = append(state.Fills, fill)

	// Quantity-weighted average across all recorded fills
	notional := state.AverageFillPrice * state.FilledQuantity
	state.FilledQuantity += fill.Quantity
	state.AverageFillPrice = (notional + fill.Price*fill.Quantity) / state.FilledQuantity

	monitoring.RecordFill(state.Order.Symbol, fill.Quantity)

	if state.FilledQuantity >= state.Order.Quantity*fillTolerance {
		state.FilledAt = fill.Timestamp
		if state.FilledAt.IsZero() {
			state.FilledAt = time.Now()
		}
		e.transitionLocked(state, StatusFilled, "fully filled")
		e.journal.Append(journal.Entry{
			Type:    journal.EntryOrderFilled,
			OrderID: id,
			Details: map[string]string{
				"exec_id":        fill.ExecID,
				"filled":         formatFloat(state.FilledQuantity),
				"average_price":  formatFloat(state.AverageFillPrice),
			},
		})
		return nil
	}

	e.transitionLocked(state, StatusPartiallyFilled, "partial fill")
	e.journal.Append(journal.Entry{
		Type:    journal.EntryOrderPartiallyFilled,
		OrderID: id,
		Details: map[string]string{
			"exec_id":  fill.ExecID,
			"quantity": formatFloat(fill.Quantity),
			"price":    formatFloat(fill.Price),
			"filled":   formatFloat(state.FilledQuantity),
		},
	})
	return nil
}

// ApplyExchangeFill routes a fill carrying an exchange order id to the
// owning order. A fill arriving before the submission call has recorded
// the exchange id (adapters may fill synchronously inside PlaceOrder)
// is buffered and replayed once the mapping exists; unclaimed fills
// belong to orders placed outside this process and age out of the
// buffer.
func (e *Engine) ApplyExchangeFill(fill types.Fill) error {
	e.mu.Lock()
	id, exists := e.byExchange[fill.OrderID]
	if !exists {
		e.bufferUnmatchedLocked(fill)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	return e.UpdateOrderFromFill(id, fill)
}

// bufferUnmatchedLocked stashes a fill whose exchange order id has no
// mapping yet; the caller holds the write lock
func (e *Engine) bufferUnmatchedLocked(fill types.Fill) {
	if _, exists := e.unmatched[fill.OrderID]; !exists && len(e.unmatched) >= maxUnmatchedOrders {
		return
	}
	e.unmatched[fill.OrderID] = append(e.unmatched[fill.OrderID], bufferedFill{
		fill:       fill,
		bufferedAt: time.Now(),
	})
}

// CancelOrder cancels an order still in PENDING or SUBMITTED. Any
// other status fails without mutation.
func (e *Engine) CancelOrder(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.orders[id]
	if !exists {
		return fmt.Errorf("unknown order: %s", id)
	}

	if state.Status != StatusPending && state.Status != StatusSubmitted {
		return fmt.Errorf("cannot cancel order %s in status %s", id, state.Status)
	}

	state.CancelledAt = time.Now()
	e.transitionLocked(state, StatusCancelled, reason)
	e.journal.Append(journal.Entry{
		Type:    journal.EntryOrderCancelled,
		OrderID: id,
		Details: map[string]string{"reason": reason},
	})
	return nil
}

// CheckTimeouts force-cancels every SUBMITTED order older than the
// configured order timeout. The local state goes to CANCELLED even if
// an exchange call is still outstanding; a late fill is handled by
// UpdateOrderFromFill's reconciliation path.
func (e *Engine) CheckTimeouts() int {
	now := time.Now()

	e.mu.RLock()
	var expired []string
	for id, state := range e.orders {
		if state.Status == StatusSubmitted && now.Sub(state.SubmittedAt) > e.config.OrderTimeout {
			expired = append(expired, id)
		}
	}
	e.mu.RUnlock()

	cancelled := 0
	for _, id := range expired {
		if err := e.CancelOrder(id, timeoutCancelReason); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// GetOrder returns a copy of the order state
func (e *Engine) GetOrder(id string) (*OrderState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, exists := e.orders[id]
	if !exists {
		return nil, false
	}
	return state.clone(), true
}

// ActiveOrders returns copies of all non-terminal orders
func (e *Engine) ActiveOrders() []*OrderState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var active []*OrderState
	for _, state := range e.orders {
		if state.IsActive() {
			active = append(active, state.clone())
		}
	}
	return active
}

// AllOrders returns copies of every registered order
func (e *Engine) AllOrders() []*OrderState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := make([]*OrderState, 0, len(e.orders))
	for _, state := range e.orders {
		all = append(all, state.clone())
	}
	return all
}

// CountActive returns the number of non-terminal orders
func (e *Engine) CountActive() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, state := range e.orders {
		if state.IsActive() {
			count++
		}
	}
	return count
}

// CountPendingByStrategy returns the number of PENDING orders for one strategy
func (e *Engine) CountPendingByStrategy(strategy string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, state := range e.orders {
		if state.Status == StatusPending && state.Order.Strategy == strategy {
			count++
		}
	}
	return count
}

// transitionLocked applies a status change; the caller holds the write
// lock. Transitions out of a terminal status are a programming error
// and are dropped with a log instead of corrupting the record.
func (e *Engine) transitionLocked(state *OrderState, to OrderStatus, reason string) {
	if state.Status.IsTerminal() {
		e.logger.Error("refusing transition %s -> %s for terminal order %s", state.Status, to, state.ID)
		return
	}

	from := state.Status
	state.Status = to
	state.History = append(state.History, Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	e.logger.LogOrderTransition(state.ID, state.Order.Symbol, string(from), string(to), reason)
	if to.IsTerminal() {
		monitoring.RecordOrderStatus(state.Order.Symbol, string(state.Order.Side), string(to))
	}
}

// formatFloat renders a float for journal details without trailing zeros
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

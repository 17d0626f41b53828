package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/tradecore/execd/internal/errors"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/pkg/types"
)

// mockPlacer implements exchange.OrderPlacer with scriptable failures
type mockPlacer struct {
	mu       sync.Mutex
	failHint int // fail this many calls before succeeding
	calls    int
	nextID   int
}

func (m *mockPlacer) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failHint > 0 {
		m.failHint--
		return "", errors.New("exchange unavailable")
	}
	m.nextID++
	return fmt.Sprintf("ex-%d", m.nextID), nil
}

func newTestEngine(t *testing.T, placer *mockPlacer, cfg Config) (*Engine, *journal.MemoryJournal) {
	t.Helper()
	jrnl := journal.NewMemoryJournal()
	return NewEngine(placer, jrnl, logger.NewDiscardLogger(), cfg), jrnl
}

func buyOrder(qty float64) types.Order {
	return types.Order{
		Symbol:    "BTCUSDT",
		Side:      types.SideBuy,
		Type:      types.OrderTypeMarket,
		Quantity:  qty,
		Strategy:  "momentum",
		CreatedAt: time.Now(),
	}
}

func TestEngine_SubmitOrder(t *testing.T) {
	engine, jrnl := newTestEngine(t, &mockPlacer{}, Config{})

	id, err := engine.SubmitOrder(buyOrder(1.0))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	state, ok := engine.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, state.Status)
	assert.Equal(t, 0.0, state.FilledQuantity)

	entries := jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderCreated})
	assert.Len(t, entries, 1)
}

func TestEngine_SubmitOrder_Validation(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	tests := []struct {
		name  string
		order types.Order
	}{
		{"missing symbol", types.Order{Side: types.SideBuy, Quantity: 1}},
		{"zero quantity", types.Order{Symbol: "BTCUSDT", Side: types.SideBuy}},
		{"negative quantity", types.Order{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: -1}},
		{"limit without price", types.Order{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.SubmitOrder(tt.order)
			assert.Error(t, err)
		})
	}
}

func TestEngine_ProcessPendingOrders(t *testing.T) {
	placer := &mockPlacer{}
	engine, jrnl := newTestEngine(t, placer, Config{})

	id, err := engine.SubmitOrder(buyOrder(1.0))
	require.NoError(t, err)

	engine.ProcessPendingOrders(context.Background())

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusSubmitted, state.Status)
	assert.Equal(t, "ex-1", state.ExchangeOrderID)
	assert.False(t, state.SubmittedAt.IsZero())
	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderSubmitted}), 1)
}

func TestEngine_RetryExhaustion(t *testing.T) {
	placer := &mockPlacer{failHint: 10}
	engine, jrnl := newTestEngine(t, placer, Config{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	id, err := engine.SubmitOrder(buyOrder(1.0))
	require.NoError(t, err)

	// First attempt plus MaxRetries retries, then terminal
	for i := 0; i < 4; i++ {
		engine.ProcessPendingOrders(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusRejected, state.Status)
	assert.Equal(t, "max retries exceeded", state.RejectionReason)
	assert.Equal(t, 2, state.RetryCount)
	assert.Equal(t, 3, placer.calls)

	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryRetryScheduled}), 2)
	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderRejected}), 1)
}

func TestEngine_PartialFillsAndVWAP(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())

	require.NoError(t, engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "e1", Quantity: 0.5, Price: 50000, Timestamp: time.Now(),
	}))

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusPartiallyFilled, state.Status)
	assert.InDelta(t, 0.5, state.FilledQuantity, 1e-9)
	assert.InDelta(t, 50000, state.AverageFillPrice, 1e-9)

	require.NoError(t, engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "e2", Quantity: 0.5, Price: 50010, Timestamp: time.Now(),
	}))

	state, _ = engine.GetOrder(id)
	assert.Equal(t, StatusFilled, state.Status)
	assert.InDelta(t, 1.0, state.FilledQuantity, 1e-9)
	assert.InDelta(t, 50005, state.AverageFillPrice, 1e-9)
	assert.False(t, state.FilledAt.IsZero())
}

func TestEngine_FillTolerance(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())

	// 99.95% filled counts as fully filled under the 99.9% tolerance
	require.NoError(t, engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "e1", Quantity: 0.9995, Price: 50000, Timestamp: time.Now(),
	}))

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusFilled, state.Status)
}

func TestEngine_DuplicateFillRejected(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())

	fill := types.Fill{ExecID: "e1", Quantity: 0.3, Price: 50000, Timestamp: time.Now()}
	require.NoError(t, engine.UpdateOrderFromFill(id, fill))

	err := engine.UpdateOrderFromFill(id, fill)
	assert.Error(t, err)

	state, _ := engine.GetOrder(id)
	assert.InDelta(t, 0.3, state.FilledQuantity, 1e-9)
}

func TestEngine_FillAfterCancelIsNoOp(t *testing.T) {
	engine, jrnl := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())
	require.NoError(t, engine.CancelOrder(id, "operator request"))

	err := engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "late-1", Quantity: 1.0, Price: 50000, Timestamp: time.Now(),
	})
	assert.NoError(t, err)

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusCancelled, state.Status)
	assert.Equal(t, 0.0, state.FilledQuantity)
	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryFillAfterCancel}), 1)
}

func TestEngine_TerminalStateImmutable(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())
	require.NoError(t, engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "e1", Quantity: 1.0, Price: 50000, Timestamp: time.Now(),
	}))

	assert.Error(t, engine.UpdateOrderFromFill(id, types.Fill{
		ExecID: "e2", Quantity: 0.1, Price: 50000, Timestamp: time.Now(),
	}))
	assert.Error(t, engine.CancelOrder(id, "too late"))

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusFilled, state.Status)
	assert.InDelta(t, 1.0, state.FilledQuantity, 1e-9)
}

func TestEngine_CancelRules(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	pending, _ := engine.SubmitOrder(buyOrder(1.0))
	assert.NoError(t, engine.CancelOrder(pending, "before submission"))

	submitted, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())
	assert.NoError(t, engine.CancelOrder(submitted, "after submission"))

	assert.Error(t, engine.CancelOrder("no-such-order", "x"))
}

func TestEngine_CheckTimeouts(t *testing.T) {
	engine, jrnl := newTestEngine(t, &mockPlacer{}, Config{
		OrderTimeout: 10 * time.Millisecond,
	})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, engine.CheckTimeouts())

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusCancelled, state.Status)
	assert.False(t, state.CancelledAt.IsZero())

	entries := jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderCancelled})
	require.Len(t, entries, 1)
	assert.Equal(t, "Order timeout", entries[0].Details["reason"])

	// Second sweep finds nothing left to cancel
	assert.Equal(t, 0, engine.CheckTimeouts())
}

func TestEngine_ApplyExchangeFill(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	engine.ProcessPendingOrders(context.Background())
	state, _ := engine.GetOrder(id)

	require.NoError(t, engine.ApplyExchangeFill(types.Fill{
		ExecID: "e1", OrderID: state.ExchangeOrderID, Quantity: 1.0, Price: 50000, Timestamp: time.Now(),
	}))

	state, _ = engine.GetOrder(id)
	assert.Equal(t, StatusFilled, state.Status)

	// A fill for an order the engine never placed is ignored
	assert.NoError(t, engine.ApplyExchangeFill(types.Fill{
		ExecID: "e2", OrderID: "foreign-order", Quantity: 1.0, Price: 50000,
	}))
}

// syncFillPlacer delivers the fill back to the engine from inside
// PlaceOrder, the way the sim adapter's auto-fill does
type syncFillPlacer struct {
	engine *Engine
	fill   types.Fill
}

func (p *syncFillPlacer) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	fill := p.fill
	fill.OrderID = "ex-sync-1"
	fill.Symbol = order.Symbol
	fill.Side = order.Side
	_ = p.engine.ApplyExchangeFill(fill)
	return "ex-sync-1", nil
}

func TestEngine_FillDuringSubmissionIsReplayed(t *testing.T) {
	placer := &syncFillPlacer{fill: types.Fill{
		ExecID: "e1", Quantity: 1.0, Price: 50000, Timestamp: time.Now(),
	}}
	jrnl := journal.NewMemoryJournal()
	engine := NewEngine(placer, jrnl, logger.NewDiscardLogger(), Config{})
	placer.engine = engine

	id, err := engine.SubmitOrder(buyOrder(1.0))
	require.NoError(t, err)

	engine.ProcessPendingOrders(context.Background())

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusFilled, state.Status)
	assert.InDelta(t, 1.0, state.FilledQuantity, 1e-9)
	assert.InDelta(t, 50000, state.AverageFillPrice, 1e-9)
	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderFilled}), 1)
}

// rejectingPlacer fails every placement with a non-retryable error
type rejectingPlacer struct{}

func (rejectingPlacer) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	return "", coreerrors.NewOrderError("test", "place_order", errors.New("insufficient balance")).WithRetryable(false)
}

func TestEngine_NonRetryableSubmissionRejectsImmediately(t *testing.T) {
	jrnl := journal.NewMemoryJournal()
	engine := NewEngine(rejectingPlacer{}, jrnl, logger.NewDiscardLogger(), Config{MaxRetries: 3})

	id, err := engine.SubmitOrder(buyOrder(1.0))
	require.NoError(t, err)

	engine.ProcessPendingOrders(context.Background())

	state, _ := engine.GetOrder(id)
	assert.Equal(t, StatusRejected, state.Status)
	assert.Equal(t, 0, state.RetryCount)
	assert.Contains(t, state.RejectionReason, "ORDER")
	assert.Empty(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryRetryScheduled}))
	assert.Len(t, jrnl.Query(journal.Filter{OrderID: id, Type: journal.EntryOrderRejected}), 1)
}

func TestEngine_Counters(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	for i := 0; i < 3; i++ {
		_, err := engine.SubmitOrder(buyOrder(1.0))
		require.NoError(t, err)
	}
	other := buyOrder(1.0)
	other.Strategy = "meanrev"
	_, err := engine.SubmitOrder(other)
	require.NoError(t, err)

	assert.Equal(t, 4, engine.CountActive())
	assert.Equal(t, 3, engine.CountPendingByStrategy("momentum"))
	assert.Equal(t, 1, engine.CountPendingByStrategy("meanrev"))
	assert.Len(t, engine.ActiveOrders(), 4)
	assert.Len(t, engine.AllOrders(), 4)
}

func TestEngine_GetOrderReturnsCopy(t *testing.T) {
	engine, _ := newTestEngine(t, &mockPlacer{}, Config{})

	id, _ := engine.SubmitOrder(buyOrder(1.0))
	state, _ := engine.GetOrder(id)
	state.Status = StatusFilled
	state.FilledQuantity = 99

	fresh, _ := engine.GetOrder(id)
	assert.Equal(t, StatusPending, fresh.Status)
	assert.Equal(t, 0.0, fresh.FilledQuantity)
}

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/pkg/types"
)

func marketOrder(symbol string, side types.Side, qty float64) types.Order {
	return types.Order{
		Symbol:    symbol,
		Side:      side,
		Type:      types.OrderTypeMarket,
		Quantity:  qty,
		Strategy:  "momentum",
		CreatedAt: time.Now(),
	}
}

func TestAdapter_Contract(t *testing.T) {
	adapter := NewAdapter(10000)
	ctx := context.Background()

	assert.Equal(t, "sim", adapter.GetName())
	assert.True(t, adapter.IsDemo())
	assert.False(t, adapter.IsConnected())

	require.NoError(t, adapter.Connect(ctx))
	assert.True(t, adapter.IsConnected())
	require.NoError(t, adapter.Disconnect())
	assert.False(t, adapter.IsConnected())
}

func TestAdapter_GetBalance(t *testing.T) {
	adapter := NewAdapter(10000)

	balances, err := adapter.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.InDelta(t, 10000, balances[0].Total(), 1e-9)

	other, err := adapter.GetBalance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAdapter_PlaceOrderFillsAtMarkPrice(t *testing.T) {
	adapter := NewAdapter(10000)
	adapter.SetPrice("BTCUSDT", 50000)

	var updates []exchange.AccountUpdate
	require.NoError(t, adapter.SubscribeToUpdates(func(u exchange.AccountUpdate) {
		updates = append(updates, u)
	}))

	id, err := adapter.PlaceOrder(context.Background(), marketOrder("BTCUSDT", types.SideBuy, 0.1))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, updates, 1)
	require.Len(t, updates[0].Fills, 1)
	fill := updates[0].Fills[0]
	assert.Equal(t, id, fill.OrderID)
	assert.InDelta(t, 50000, fill.Price, 1e-9)
	assert.InDelta(t, 0.1, fill.Quantity, 1e-9)

	positions, err := adapter.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.1, positions[0].Quantity, 1e-9)
	assert.InDelta(t, 50000, positions[0].EntryPrice, 1e-9)
}

func TestAdapter_PlaceOrderWithoutPriceFails(t *testing.T) {
	adapter := NewAdapter(10000)

	_, err := adapter.PlaceOrder(context.Background(), marketOrder("BTCUSDT", types.SideBuy, 0.1))
	assert.Error(t, err)
}

func TestAdapter_FailNextPlacements(t *testing.T) {
	adapter := NewAdapter(10000)
	adapter.SetPrice("BTCUSDT", 50000)
	adapter.FailNextPlacements(2)

	ctx := context.Background()
	_, err := adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.1))
	assert.Error(t, err)
	_, err = adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.1))
	assert.Error(t, err)
	_, err = adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.1))
	assert.NoError(t, err)
}

func TestAdapter_PositionNetting(t *testing.T) {
	adapter := NewAdapter(10000)
	adapter.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	_, err := adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.2))
	require.NoError(t, err)

	// Increase at a higher price moves the weighted entry
	adapter.SetPrice("BTCUSDT", 52000)
	_, err = adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.2))
	require.NoError(t, err)

	positions, _ := adapter.GetPositions(ctx, "BTCUSDT")
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.4, positions[0].Quantity, 1e-9)
	assert.InDelta(t, 51000, positions[0].EntryPrice, 1e-9)

	// Selling the full quantity realizes PnL and closes the position
	adapter.SetPrice("BTCUSDT", 53000)
	_, err = adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideSell, 0.4))
	require.NoError(t, err)

	positions, _ = adapter.GetPositions(ctx, "BTCUSDT")
	assert.Empty(t, positions)

	status, err := adapter.GetAccountStatus(ctx)
	require.NoError(t, err)
	// (53000 - 51000) * 0.4 = 800 realized
	assert.InDelta(t, 10800, status.Equity, 1e-9)
}

func TestAdapter_UnrealizedPnLTracksMarkPrice(t *testing.T) {
	adapter := NewAdapter(10000)
	adapter.OpenPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 0.1,
		EntryPrice: 50000, MarkPrice: 50000, Leverage: 1,
	})

	adapter.SetPrice("BTCUSDT", 48000)

	status, err := adapter.GetAccountStatus(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -200, status.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 9800, status.Equity, 1e-9)
}

func TestAdapter_GetFills(t *testing.T) {
	adapter := NewAdapter(10000)
	adapter.SetPrice("BTCUSDT", 50000)
	adapter.SetPrice("ETHUSDT", 3000)
	ctx := context.Background()

	_, err := adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.1))
	require.NoError(t, err)
	_, err = adapter.PlaceOrder(ctx, marketOrder("ETHUSDT", types.SideBuy, 1))
	require.NoError(t, err)
	_, err = adapter.PlaceOrder(ctx, marketOrder("BTCUSDT", types.SideBuy, 0.1))
	require.NoError(t, err)

	all, err := adapter.GetFills(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first
	assert.Equal(t, "BTCUSDT", all[0].Symbol)
	assert.Equal(t, "ETHUSDT", all[1].Symbol)

	btc, err := adapter.GetFills(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, btc, 2)

	one, err := adapter.GetFills(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

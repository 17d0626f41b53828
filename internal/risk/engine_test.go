package risk

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/execd/internal/exchange/sim"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/pkg/types"
)

func newTestRiskEngine(t *testing.T, capital float64) (*Engine, *sim.Adapter) {
	t.Helper()
	adapter := sim.NewAdapter(capital)
	engine := NewEngine(adapter, NewLimitStore(DefaultLimits()), logger.NewDiscardLogger())
	return engine, adapter
}

func TestEngine_CalculateExposure(t *testing.T) {
	engine, adapter := newTestRiskEngine(t, 10000)

	adapter.OpenPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 0.04,
		EntryPrice: 50000, MarkPrice: 50000, Leverage: 1, Strategy: "momentum",
	})
	adapter.OpenPosition(types.Position{
		Symbol: "ETHUSDT", Side: types.SideBuy, Quantity: 1,
		EntryPrice: 3000, MarkPrice: 3000, Leverage: 2, Strategy: "meanrev",
	})

	report, err := engine.CalculateExposure(context.Background(), nil)
	require.NoError(t, err)

	// 0.04*50000*1 + 1*3000*2 = 2000 + 6000
	assert.InDelta(t, 8000, report.TotalExposure, 1e-9)
	assert.InDelta(t, 80, report.ExposurePct, 1e-9)
	assert.InDelta(t, 2000, report.ByAsset["BTCUSDT"], 1e-9)
	assert.InDelta(t, 6000, report.ByAsset["ETHUSDT"], 1e-9)
	assert.InDelta(t, 2000, report.ByStrategy["momentum"], 1e-9)
	assert.InDelta(t, 6000, report.ByStrategy["meanrev"], 1e-9)
}

func TestEngine_CalculateExposure_Unattributed(t *testing.T) {
	engine, adapter := newTestRiskEngine(t, 10000)

	adapter.OpenPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 0.01,
		EntryPrice: 50000, MarkPrice: 50000, Leverage: 1,
	})

	report, err := engine.CalculateExposure(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 500, report.ByStrategy["unattributed"], 1e-9)
}

func TestEngine_CalculateVaR_Fallback(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	// Under 100 samples the flat 5%-of-equity estimate applies
	for i := 0; i < 50; i++ {
		engine.RecordEquity(10000)
	}

	result := engine.CalculateVaR(10000, nil, nil)
	require.Len(t, result, 4)
	for _, key := range []string{"1d_95", "1d_99", "7d_95", "7d_99"} {
		assert.InDelta(t, 500, result[key], 1e-9, key)
	}
}

func TestEngine_CalculateVaR_HistoricalSimulation(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	// Alternate -1% / recover so half the returns are -1%
	for i := 0; i < 150; i++ {
		engine.RecordEquity(10000)
		engine.RecordEquity(9900)
	}
	engine.RecordEquity(10000)

	result := engine.CalculateVaR(10000, nil, nil)

	// The 5th percentile of the alternating series is the -1% return
	assert.InDelta(t, 100, result["1d_95"], 1.0)
	assert.InDelta(t, 100*math.Sqrt(7), result["7d_95"], 3.0)

	for key, value := range result {
		assert.GreaterOrEqual(t, value, 0.0, key)
	}
	// A longer horizon is never cheaper at the same confidence
	assert.GreaterOrEqual(t, result["7d_95"], result["1d_95"])
}

func TestEngine_CalculateDrawdown(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	current, max := engine.CalculateDrawdown(10000)
	assert.Equal(t, 0.0, current)
	assert.Equal(t, 0.0, max)

	current, _ = engine.CalculateDrawdown(12000)
	assert.Equal(t, 0.0, current)
	assert.InDelta(t, 12000, engine.PeakEquity(), 1e-9)

	current, max = engine.CalculateDrawdown(9000)
	assert.InDelta(t, 25, current, 1e-9)
	assert.InDelta(t, 25, max, 1e-9)

	// Partial recovery: current drops, max is sticky
	current, max = engine.CalculateDrawdown(11000)
	assert.InDelta(t, 100.0/12.0, current, 1e-6)
	assert.InDelta(t, 25, max, 1e-9)
	assert.LessOrEqual(t, current, max)
}

func TestEngine_CalculateDailyPnL(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	assert.Equal(t, 0.0, engine.CalculateDailyPnL(10000))
	assert.InDelta(t, 500, engine.CalculateDailyPnL(10500), 1e-9)
	assert.InDelta(t, -300, engine.CalculateDailyPnL(9700), 1e-9)
}

func TestEngine_CalculatePositionSize(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	tests := []struct {
		name      string
		req       SizingRequest
		wantSize  float64
		wantValue float64
	}{
		{
			name: "risk based",
			req: SizingRequest{
				EntryPrice: 100, StopLoss: 90, RiskAmount: 100,
				Strategy: "momentum", Method: SizingRiskBased,
			},
			wantSize:  10,
			wantValue: 1000,
		},
		{
			name: "risk based clamped to position limit",
			req: SizingRequest{
				EntryPrice: 100, StopLoss: 90, RiskAmount: 500,
				Strategy: "momentum", Method: SizingRiskBased,
			},
			// Raw size 50 would be worth 5000; the 20% cap allows 2000
			wantSize:  20,
			wantValue: 2000,
		},
		{
			name: "fixed fractional uses the full budget",
			req: SizingRequest{
				EntryPrice: 100, Strategy: "momentum", Method: SizingFixedFractional,
			},
			wantSize:  20,
			wantValue: 2000,
		},
		{
			name: "kelly fixed fraction",
			req: SizingRequest{
				EntryPrice: 100, Strategy: "momentum", Method: SizingKelly,
			},
			wantSize:  10,
			wantValue: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.CalculatePositionSize(context.Background(), tt.req)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSize, result.Size, 1e-9)
			assert.InDelta(t, tt.wantValue, result.Value, 1e-9)
			assert.LessOrEqual(t, result.PctOfEquity, 20.0+1e-9)
		})
	}
}

func TestEngine_CalculatePositionSize_Errors(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)
	ctx := context.Background()

	_, err := engine.CalculatePositionSize(ctx, SizingRequest{Method: SizingRiskBased})
	assert.Error(t, err)

	_, err = engine.CalculatePositionSize(ctx, SizingRequest{
		EntryPrice: 100, StopLoss: 100, RiskAmount: 100, Method: SizingRiskBased,
	})
	assert.Error(t, err)

	_, err = engine.CalculatePositionSize(ctx, SizingRequest{EntryPrice: 100, Method: "martingale"})
	assert.Error(t, err)
}

func TestEngine_CalculatePositionSize_StrategyOverride(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	limits := engine.Limits().Get()
	limits.StrategyMaxPositionPct = map[string]float64{"scalper": 5}
	engine.Limits().Update(limits)

	result, err := engine.CalculatePositionSize(context.Background(), SizingRequest{
		EntryPrice: 100, Strategy: "scalper", Method: SizingFixedFractional,
	})
	require.NoError(t, err)
	assert.InDelta(t, 500, result.Value, 1e-9)

	// Other strategies keep the global cap
	result, err = engine.CalculatePositionSize(context.Background(), SizingRequest{
		EntryPrice: 100, Strategy: "momentum", Method: SizingFixedFractional,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2000, result.Value, 1e-9)
}

func TestEngine_GetRiskMetrics(t *testing.T) {
	engine, adapter := newTestRiskEngine(t, 10000)

	adapter.OpenPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 0.04,
		EntryPrice: 50000, MarkPrice: 50000, Leverage: 1, Strategy: "momentum",
	})

	metrics, err := engine.GetRiskMetrics(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 10000, metrics.Equity, 1e-9)
	assert.InDelta(t, 2000, metrics.TotalExposure, 1e-9)
	assert.InDelta(t, 20, metrics.ExposurePct, 1e-9)
	assert.InDelta(t, 500, metrics.VaR1d95, 1e-9) // fallback estimate
	assert.False(t, metrics.Timestamp.IsZero())
}

func TestEngine_CheckRiskLimits(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	metrics := &Metrics{
		Equity:             10000,
		ExposurePct:        600,
		CurrentDrawdownPct: 5,
		DailyPnL:           500,
		VaR1d95:            400,
		VaR1w95:            900,
	}

	checks := engine.CheckRiskLimits(metrics)
	require.Len(t, checks, 5)

	assert.True(t, checks["exposure"].Violated)
	assert.InDelta(t, 600, checks["exposure"].Value, 1e-9)
	assert.InDelta(t, 80, checks["exposure"].Limit, 1e-9)

	assert.False(t, checks["drawdown"].Violated)
	assert.False(t, checks["daily_loss"].Violated)
	assert.False(t, checks["var_1d"].Violated)
	assert.False(t, checks["var_1w"].Violated)
}

func TestEngine_CheckRiskLimits_DailyLossSignAware(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	// A 6% gain never trips the 5% daily loss limit
	gain := &Metrics{Equity: 10000, DailyPnL: 600}
	assert.False(t, engine.CheckRiskLimits(gain)["daily_loss"].Violated)

	loss := &Metrics{Equity: 10000, DailyPnL: -600}
	check := engine.CheckRiskLimits(loss)["daily_loss"]
	assert.True(t, check.Violated)
	assert.InDelta(t, 6, check.Value, 1e-9)
}

func TestEngine_CheckRiskLimits_VaR(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	// 1d limit is 10% of equity, 1w limit is 20%
	metrics := &Metrics{Equity: 10000, VaR1d95: 1500, VaR1w95: 1500}
	checks := engine.CheckRiskLimits(metrics)

	assert.True(t, checks["var_1d"].Violated)
	assert.False(t, checks["var_1w"].Violated)
}

func TestLimitStore_UpdateIsVisibleToNextCheck(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	metrics := &Metrics{Equity: 10000, ExposurePct: 50}
	assert.False(t, engine.CheckRiskLimits(metrics)["exposure"].Violated)

	limits := engine.Limits().Get()
	limits.MaxExposurePct = 40
	engine.Limits().Update(limits)

	assert.True(t, engine.CheckRiskLimits(metrics)["exposure"].Violated)
}

func TestLimitStore_CopyOnRead(t *testing.T) {
	store := NewLimitStore(Limits{
		MaxPositionPct:         20,
		StrategyMaxPositionPct: map[string]float64{"a": 10},
	})

	got := store.Get()
	got.StrategyMaxPositionPct["a"] = 99
	got.MaxPositionPct = 99

	fresh := store.Get()
	assert.InDelta(t, 10, fresh.StrategyMaxPositionPct["a"], 1e-9)
	assert.InDelta(t, 20, fresh.MaxPositionPct, 1e-9)
}

func TestEngine_EquityHistoryBounded(t *testing.T) {
	engine, _ := newTestRiskEngine(t, 10000)

	for i := 0; i < 500; i++ {
		engine.RecordEquity(10000 + float64(i))
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Len(t, engine.equityHistory, historyCap)
	assert.Len(t, engine.returns, historyCap)
}

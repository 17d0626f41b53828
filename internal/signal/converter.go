package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/execd/internal/coordinator"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/risk"
	"github.com/tradecore/execd/pkg/types"
)

// Source supplies upstream recommendations. Each call drains whatever
// the source has accumulated since the previous call.
type Source interface {
	Pending(ctx context.Context) ([]types.Recommendation, error)
}

// Config controls recommendation filtering and sizing
type Config struct {
	MinConfidence float64
	RiskPerTrade  float64 // fraction of equity risked per trade, e.g. 0.01
	SizingMethod  risk.SizingMethod
}

// Converter turns upstream recommendations into sized orders and hands
// them to the coordinator. Intent only ever originates here; nothing
// downstream creates orders on its own.
type Converter struct {
	source  Source
	risk    *risk.Engine
	coord   *coordinator.Coordinator
	adapter exchange.Adapter
	logger  *logger.Logger
	config  Config

	mu   sync.Mutex
	seen map[string]bool // recommendation ids already converted
}

// NewConverter creates a signal converter
func NewConverter(source Source, riskEngine *risk.Engine, coord *coordinator.Coordinator, adapter exchange.Adapter, log *logger.Logger, config Config) *Converter {
	if config.RiskPerTrade <= 0 {
		config.RiskPerTrade = 0.01
	}
	if config.SizingMethod == "" {
		config.SizingMethod = risk.SizingRiskBased
	}
	return &Converter{
		source:  source,
		risk:    riskEngine,
		coord:   coord,
		adapter: adapter,
		logger:  log,
		config:  config,
		seen:    make(map[string]bool),
	}
}

// ProcessPending drains the source and converts each new
// recommendation, returning how many orders were admitted
func (c *Converter) ProcessPending(ctx context.Context) (int, error) {
	recs, err := c.source.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recommendations: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	positions, err := c.adapter.GetPositions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch positions: %w", err)
	}

	admitted := 0
	for _, rec := range recs {
		if c.alreadySeen(rec.ID) {
			continue
		}
		order, err := c.Convert(ctx, rec)
		if err != nil {
			c.logger.Warning("skipping recommendation %s: %v", rec.ID, err)
			continue
		}
		if _, err := c.coord.ExecuteOrder(order, positions); err != nil {
			c.logger.Warning("recommendation %s not admitted: %v", rec.ID, err)
			continue
		}
		admitted++
	}
	return admitted, nil
}

// Convert sizes a single recommendation into an order
func (c *Converter) Convert(ctx context.Context, rec types.Recommendation) (types.Order, error) {
	if rec.Symbol == "" {
		return types.Order{}, fmt.Errorf("recommendation %s has no symbol", rec.ID)
	}
	if rec.Side != types.SideBuy && rec.Side != types.SideSell {
		return types.Order{}, fmt.Errorf("recommendation %s has invalid side %q", rec.ID, rec.Side)
	}
	if rec.EntryPrice <= 0 {
		return types.Order{}, fmt.Errorf("recommendation %s has no entry price", rec.ID)
	}
	if c.config.MinConfidence > 0 && rec.Confidence < c.config.MinConfidence {
		return types.Order{}, fmt.Errorf("confidence %.2f below threshold %.2f", rec.Confidence, c.config.MinConfidence)
	}

	status, err := c.adapter.GetAccountStatus(ctx)
	if err != nil {
		return types.Order{}, fmt.Errorf("failed to fetch account status: %w", err)
	}

	sizing, err := c.risk.CalculatePositionSize(ctx, risk.SizingRequest{
		EntryPrice: rec.EntryPrice,
		StopLoss:   rec.StopLoss,
		RiskAmount: status.Equity * c.config.RiskPerTrade,
		Strategy:   rec.Strategy,
		Method:     c.config.SizingMethod,
	})
	if err != nil {
		return types.Order{}, fmt.Errorf("sizing failed: %w", err)
	}
	if sizing.Size <= 0 {
		return types.Order{}, fmt.Errorf("sizing produced no tradable quantity")
	}

	return types.Order{
		Symbol:           rec.Symbol,
		Side:             rec.Side,
		Type:             types.OrderTypeLimit,
		Quantity:         sizing.Size,
		Price:            rec.EntryPrice,
		StopLoss:         rec.StopLoss,
		TakeProfit:       rec.TakeProfit,
		Strategy:         rec.Strategy,
		RecommendationID: rec.ID,
		CreatedAt:        time.Now(),
	}, nil
}

func (c *Converter) alreadySeen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[id] {
		return true
	}
	c.seen[id] = true
	return false
}

// ChannelSource adapts a recommendation channel into a Source; useful
// for wiring strategies that push rather than poll
type ChannelSource struct {
	ch chan types.Recommendation
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan types.Recommendation, buffer)}
}

// Push queues a recommendation; returns false when the buffer is full
func (s *ChannelSource) Push(rec types.Recommendation) bool {
	select {
	case s.ch <- rec:
		return true
	default:
		return false
	}
}

func (s *ChannelSource) Pending(ctx context.Context) ([]types.Recommendation, error) {
	var out []types.Recommendation
	for {
		select {
		case rec := <-s.ch:
			out = append(out, rec)
		case <-ctx.Done():
			return out, ctx.Err()
		default:
			return out, nil
		}
	}
}

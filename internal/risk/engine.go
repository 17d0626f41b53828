package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/pkg/types"
)

const (
	// historyCap bounds the retained equity/return history; it also
	// caps the lookback window for VaR and max drawdown.
	historyCap = 365

	// varMinSamples is the minimum return history for historical
	// simulation; below it VaR falls back to a conservative estimate.
	varMinSamples = 100

	// varLookback is the number of most recent returns fed into the
	// historical simulation.
	varLookback = 252

	// varFallbackFraction is the conservative VaR estimate (share of
	// equity) used when the return history is too short.
	varFallbackFraction = 0.05

	// assumedVolatility is the flat volatility band used by the
	// volatility sizing method.
	assumedVolatility = 0.02

	// kellyFraction is the conservative fixed fraction used in place
	// of a true Kelly estimate.
	kellyFraction = 0.10
)

// equitySample is one point of retained equity history
type equitySample struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// ExposureReport breaks down open exposure
type ExposureReport struct {
	TotalExposure float64            `json:"total_exposure"`
	ExposurePct   float64            `json:"exposure_pct"`
	ByAsset       map[string]float64 `json:"by_asset"`
	ByStrategy    map[string]float64 `json:"by_strategy"`
}

// Metrics is an immutable risk snapshot. Consumers take one snapshot
// per decision cycle and never hold it across decisions.
type Metrics struct {
	TotalCapital       float64   `json:"total_capital"`
	Equity             float64   `json:"equity"`
	TotalExposure      float64   `json:"total_exposure"`
	ExposurePct        float64   `json:"exposure_pct"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	DailyPnL           float64   `json:"daily_pnl"`
	CurrentDrawdownPct float64   `json:"current_drawdown_pct"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct"`
	PeakEquity         float64   `json:"peak_equity"`
	VaR1d95            float64   `json:"var_1d_95"`
	VaR1d99            float64   `json:"var_1d_99"`
	VaR1w95            float64   `json:"var_1w_95"`
	VaR1w99            float64   `json:"var_1w_99"`
	Timestamp          time.Time `json:"timestamp"`
}

// LimitCheck is the outcome of evaluating one limit
type LimitCheck struct {
	Violated bool    `json:"violated"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
}

// SizingMethod selects the position sizing formula
type SizingMethod string

const (
	SizingRiskBased       SizingMethod = "risk_based"
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingVolatility      SizingMethod = "volatility"
	SizingKelly           SizingMethod = "kelly"
)

// SizingRequest asks for a position size
type SizingRequest struct {
	EntryPrice float64
	StopLoss   float64
	RiskAmount float64
	Strategy   string
	Method     SizingMethod
}

// SizingResult is the recommended position size. Value never exceeds
// the strategy's (or global) max-position share of equity.
type SizingResult struct {
	Size        float64 `json:"size"`
	Value       float64 `json:"value"`
	PctOfEquity float64 `json:"pct_of_equity"`
	RiskPerUnit float64 `json:"risk_per_unit"`
}

// Engine computes exposure, VaR, drawdown, daily P&L and position
// sizes from adapter data plus its own retained equity history. The
// engine owns the history exclusively.
type Engine struct {
	adapter exchange.Adapter
	limits  *LimitStore
	logger  *logger.Logger

	mu               sync.Mutex
	equityHistory    []equitySample
	returns          []float64
	peakEquity       float64
	dailyStartEquity float64
	dailyDate        string // YYYY-MM-DD of the daily baseline
}

// NewEngine creates a risk engine
func NewEngine(adapter exchange.Adapter, limits *LimitStore, log *logger.Logger) *Engine {
	return &Engine{
		adapter: adapter,
		limits:  limits,
		logger:  log,
	}
}

// Limits exposes the shared limit store
func (e *Engine) Limits() *LimitStore {
	return e.limits
}

// CalculateExposure computes open exposure. Positions may be supplied
// by the caller to reuse a snapshot already fetched in the same
// decision cycle; nil pulls them from the adapter.
func (e *Engine) CalculateExposure(ctx context.Context, positions []types.Position) (*ExposureReport, error) {
	if positions == nil {
		fetched, err := e.adapter.GetPositions(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch positions: %w", err)
		}
		positions = fetched
	}

	status, err := e.adapter.GetAccountStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account status: %w", err)
	}

	return e.exposureFrom(positions, status.Equity), nil
}

// exposureFrom computes the report from already-fetched inputs
func (e *Engine) exposureFrom(positions []types.Position, equity float64) *ExposureReport {
	report := &ExposureReport{
		ByAsset:    make(map[string]float64),
		ByStrategy: make(map[string]float64),
	}

	for _, pos := range positions {
		value := pos.Value()
		report.TotalExposure += value
		report.ByAsset[pos.Symbol] += value
		strategy := pos.Strategy
		if strategy == "" {
			strategy = "unattributed"
		}
		report.ByStrategy[strategy] += value
	}

	if equity > 0 {
		report.ExposurePct = report.TotalExposure / equity * 100
	}
	return report
}

// RecordEquity appends an equity sample and its period return to the
// retained history, evicting beyond the cap
func (e *Engine) RecordEquity(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordEquityLocked(equity)
}

func (e *Engine) recordEquityLocked(equity float64) {
	if n := len(e.equityHistory); n > 0 {
		prev := e.equityHistory[n-1].Equity
		if prev > 0 {
			e.returns = append(e.returns, equity/prev-1)
			if len(e.returns) > historyCap {
				e.returns = e.returns[len(e.returns)-historyCap:]
			}
		}
	}

	e.equityHistory = append(e.equityHistory, equitySample{Timestamp: time.Now(), Equity: equity})
	if len(e.equityHistory) > historyCap {
		e.equityHistory = e.equityHistory[len(e.equityHistory)-historyCap:]
	}
}

// CalculateVaR runs a historical simulation over the retained return
// series for every (horizon, confidence) pair. With fewer than
// varMinSamples returns it reports the conservative flat estimate for
// every pair instead of an unstable percentile. Keys look like
// "1d_95" and "7d_99"; values are non-negative loss magnitudes.
func (e *Engine) CalculateVaR(equity float64, confidences []float64, horizonsDays []int) map[string]float64 {
	if len(confidences) == 0 {
		confidences = []float64{0.95, 0.99}
	}
	if len(horizonsDays) == 0 {
		horizonsDays = []int{1, 7}
	}

	e.mu.Lock()
	returns := make([]float64, len(e.returns))
	copy(returns, e.returns)
	e.mu.Unlock()

	result := make(map[string]float64)

	if len(returns) < varMinSamples {
		for _, horizon := range horizonsDays {
			for _, confidence := range confidences {
				result[varKey(horizon, confidence)] = equity * varFallbackFraction
			}
		}
		return result
	}

	if len(returns) > varLookback {
		returns = returns[len(returns)-varLookback:]
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	for _, horizon := range horizonsDays {
		scale := math.Sqrt(float64(horizon))
		for _, confidence := range confidences {
			idx := int(float64(len(sorted)) * (1 - confidence))
			if idx >= len(sorted) {
				idx = len(sorted) - 1
			}
			result[varKey(horizon, confidence)] = math.Abs(sorted[idx]*scale) * equity
		}
	}
	return result
}

func varKey(horizonDays int, confidence float64) string {
	return fmt.Sprintf("%dd_%d", horizonDays, int(math.Round(confidence*100)))
}

// CalculateDrawdown updates the peak, appends the equity sample, and
// returns (current, max) drawdown percentages. Max drawdown is the
// worst decline from a running peak across the retained history.
func (e *Engine) CalculateDrawdown(equity float64) (current float64, max float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	e.recordEquityLocked(equity)

	if e.peakEquity > 0 {
		current = (e.peakEquity - equity) / e.peakEquity * 100
	}

	runningPeak := 0.0
	for _, sample := range e.equityHistory {
		if sample.Equity > runningPeak {
			runningPeak = sample.Equity
		}
		if runningPeak > 0 {
			dd := (runningPeak - sample.Equity) / runningPeak * 100
			if dd > max {
				max = dd
			}
		}
	}

	if current > max {
		max = current
	}
	return current, max
}

// PeakEquity returns the tracked peak
func (e *Engine) PeakEquity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peakEquity
}

// CalculateDailyPnL resets the daily baseline when the wall-clock date
// changes and returns equity minus the baseline
func (e *Engine) CalculateDailyPnL(equity float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if e.dailyDate != today {
		e.dailyDate = today
		e.dailyStartEquity = equity
	}
	return equity - e.dailyStartEquity
}

// CalculatePositionSize computes a position size with the requested
// method. Whatever the method, the resulting value is clamped to the
// strategy's (or global) max-position share of equity.
func (e *Engine) CalculatePositionSize(ctx context.Context, req SizingRequest) (*SizingResult, error) {
	if req.EntryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", req.EntryPrice)
	}

	status, err := e.adapter.GetAccountStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account status: %w", err)
	}
	equity := status.Equity

	limits := e.limits.Get()
	maxPct := limits.MaxPositionPctFor(req.Strategy)
	maxValue := equity * maxPct / 100

	riskPerUnit := math.Abs(req.EntryPrice - req.StopLoss)

	var size float64
	switch req.Method {
	case SizingRiskBased:
		if riskPerUnit <= 0 {
			return nil, fmt.Errorf("risk_based sizing requires a stop distinct from entry")
		}
		size = req.RiskAmount / riskPerUnit
	case SizingFixedFractional:
		size = maxValue / req.EntryPrice
	case SizingVolatility:
		// Budget divided by a flat 2% volatility band; the clamp below
		// keeps the resulting value inside the position limit
		size = maxValue / (req.EntryPrice * assumedVolatility)
	case SizingKelly:
		// Conservative fixed fraction, not a true Kelly estimate
		size = equity * kellyFraction / req.EntryPrice
	default:
		return nil, fmt.Errorf("unknown sizing method: %s", req.Method)
	}

	if size < 0 {
		size = 0
	}
	if size*req.EntryPrice > maxValue {
		size = maxValue / req.EntryPrice
	}

	value := size * req.EntryPrice
	result := &SizingResult{
		Size:        size,
		Value:       value,
		RiskPerUnit: riskPerUnit,
	}
	if equity > 0 {
		result.PctOfEquity = value / equity * 100
	}
	return result, nil
}

// GetRiskMetrics composes one immutable snapshot from adapter data and
// the retained history
func (e *Engine) GetRiskMetrics(ctx context.Context) (*Metrics, error) {
	status, err := e.adapter.GetAccountStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account status: %w", err)
	}

	positions, err := e.adapter.GetPositions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	exposure := e.exposureFrom(positions, status.Equity)
	current, max := e.CalculateDrawdown(status.Equity)
	dailyPnL := e.CalculateDailyPnL(status.Equity)
	varEstimates := e.CalculateVaR(status.Equity, nil, nil)

	return &Metrics{
		TotalCapital:       status.TotalCapital,
		Equity:             status.Equity,
		TotalExposure:      exposure.TotalExposure,
		ExposurePct:        exposure.ExposurePct,
		UnrealizedPnL:      status.UnrealizedPnL,
		DailyPnL:           dailyPnL,
		CurrentDrawdownPct: current,
		MaxDrawdownPct:     max,
		PeakEquity:         e.PeakEquity(),
		VaR1d95:            varEstimates[varKey(1, 0.95)],
		VaR1d99:            varEstimates[varKey(1, 0.99)],
		VaR1w95:            varEstimates[varKey(7, 0.95)],
		VaR1w99:            varEstimates[varKey(7, 0.99)],
		Timestamp:          time.Now(),
	}, nil
}

// CheckRiskLimits evaluates every limit against the snapshot. All
// limits are evaluated independently; callers need the full set.
func (e *Engine) CheckRiskLimits(metrics *Metrics) map[string]LimitCheck {
	limits := e.limits.Get()
	checks := make(map[string]LimitCheck)

	checks["exposure"] = LimitCheck{
		Violated: metrics.ExposurePct > limits.MaxExposurePct,
		Value:    metrics.ExposurePct,
		Limit:    limits.MaxExposurePct,
	}

	checks["drawdown"] = LimitCheck{
		Violated: metrics.CurrentDrawdownPct > limits.MaxDrawdownPct,
		Value:    metrics.CurrentDrawdownPct,
		Limit:    limits.MaxDrawdownPct,
	}

	// Sign-aware: only a loss counts against the daily limit
	dailyLossPct := 0.0
	if metrics.DailyPnL < 0 && metrics.Equity > 0 {
		dailyLossPct = math.Abs(metrics.DailyPnL) / metrics.Equity * 100
	}
	checks["daily_loss"] = LimitCheck{
		Violated: dailyLossPct > limits.DailyLossLimitPct,
		Value:    dailyLossPct,
		Limit:    limits.DailyLossLimitPct,
	}

	var1dLimit := metrics.Equity * limits.VaR1dLimitPct / 100
	checks["var_1d"] = LimitCheck{
		Violated: metrics.VaR1d95 > var1dLimit,
		Value:    metrics.VaR1d95,
		Limit:    var1dLimit,
	}

	var1wLimit := metrics.Equity * limits.VaR1wLimitPct / 100
	checks["var_1w"] = LimitCheck{
		Violated: metrics.VaR1w95 > var1wLimit,
		Value:    metrics.VaR1w95,
		Limit:    var1wLimit,
	}

	return checks
}

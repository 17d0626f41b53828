package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	coreerrors "github.com/tradecore/execd/internal/errors"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/safety"
	"github.com/tradecore/execd/pkg/types"
)

// fillPollInterval is how often the adapter polls for new executions
// when subscribers are registered.
const fillPollInterval = 5 * time.Second

// execTotalsTTL is how long per-order execution totals are retained
// after the order last appeared in the recent-history window. An order
// outside that window can produce no further deltas.
const execTotalsTTL = time.Hour

// execTotals tracks cumulative executed quantity and notional for one
// exchange order id so the poller emits only the newly executed delta
type execTotals struct {
	qty      float64
	notional float64
	lastSeen time.Time
}

// Adapter implements the exchange contract and order placement on top
// of the Bybit v5 API.
type Adapter struct {
	client   *Client
	category string // "spot", "linear", "inverse"

	limiter *safety.RateLimiter
	breaker *safety.CircuitBreaker

	mu        sync.RWMutex
	connected bool
	callbacks []func(exchange.AccountUpdate)
	cum       map[string]*execTotals
	stopChan  chan struct{}
}

// NewAdapter creates a Bybit-backed adapter for the given category
func NewAdapter(config Config, category string) *Adapter {
	if category == "" {
		category = "linear"
	}

	return &Adapter{
		client:   NewClient(config),
		category: category,
		limiter:  safety.NewRateLimiter("bybit_api", 10, 5),
		breaker:  safety.NewCircuitBreaker("bybit_api", safety.CircuitBreakerConfig{}),
		cum:      make(map[string]*execTotals),
	}
}

// GetName returns the exchange name
func (a *Adapter) GetName() string {
	return "bybit"
}

// IsDemo returns whether this adapter trades against the demo environment
func (a *Adapter) IsDemo() bool {
	return a.client.IsDemo()
}

// GetEnvironment returns the environment string (demo/testnet/mainnet)
func (a *Adapter) GetEnvironment() string {
	return a.client.GetEnvironment()
}

// Connect marks the adapter connected and starts the fill poller
func (a *Adapter) Connect(ctx context.Context) error {
	// Verify credentials with a lightweight authenticated call
	if _, err := a.GetAccountStatus(ctx); err != nil {
		if IsAuthenticationError(err) {
			return coreerrors.Wrap(err, coreerrors.ErrorCategoryCredentials, "bybit", "connect")
		}
		return coreerrors.NewNetworkError("bybit", "connect", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	a.connected = true
	a.stopChan = make(chan struct{})
	go a.pollUpdates(a.stopChan)

	return nil
}

// Disconnect stops the fill poller
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	a.connected = false
	close(a.stopChan)
	return nil
}

// IsConnected reports whether Connect has succeeded
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
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

// pollUpdates periodically fetches recent order history and dispatches
// newly executed quantity to subscribers. Polling instead of the
// private websocket keeps the adapter resilient to stream disconnects;
// the engine deduplicates fills by execution id anyway.
func (a *Adapter) pollUpdates(stop chan struct{}) {
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			fills, err := a.GetFills(ctx, "", 50)
			cancel()
			if err != nil {
				continue // next tick retries
			}

			a.mu.Lock()
			now := time.Now()
			var fresh []types.Fill
			for _, fill := range fills {
				// GetFills reports cumulative quantity per order;
				// emit only what executed since the last poll
				totals := a.cum[fill.OrderID]
				if totals == nil {
					totals = &execTotals{}
					a.cum[fill.OrderID] = totals
				}
				totals.lastSeen = now
				if fill.Quantity <= totals.qty {
					continue
				}
				notional := fill.Price * fill.Quantity
				deltaQty := fill.Quantity - totals.qty
				deltaNotional := notional - totals.notional
				totals.qty = fill.Quantity
				totals.notional = notional

				fill.Quantity = deltaQty
				if deltaQty > 0 && deltaNotional > 0 {
					fill.Price = deltaNotional / deltaQty
				}
				fresh = append(fresh, fill)
			}
			for orderID, totals := range a.cum {
				if now.Sub(totals.lastSeen) > execTotalsTTL {
					delete(a.cum, orderID)
				}
			}
			callbacks := make([]func(exchange.AccountUpdate), len(a.callbacks))
			copy(callbacks, a.callbacks)
			a.mu.Unlock()

			if len(fresh) == 0 {
				continue
			}
			update := exchange.AccountUpdate{Fills: fresh}
			for _, cb := range callbacks {
				cb(update)
			}
		}
	}
}

// call wraps an API call with rate limiting and circuit breaking
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return a.breaker.Call(fn)
}

// GetBalance retrieves balances; asset may be empty for all assets
func (a *Adapter) GetBalance(ctx context.Context, asset string) ([]types.Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}
	if asset != "" {
		params["coin"] = asset
	}

	var result interface{}
	err := a.call(ctx, func() error {
		var callErr error
		result, callErr = a.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	var walletResult struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				AvailableToTrade string `json:"availableToWithdraw"`
				Locked          string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(result, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to parse balance response: %w", err)
	}

	var balances []types.Balance
	for _, account := range walletResult.List {
		for _, coin := range account.Coin {
			total := parseFloat(coin.WalletBalance)
			locked := parseFloat(coin.Locked)
			balances = append(balances, types.Balance{
				Asset:  coin.Coin,
				Free:   total - locked,
				Locked: locked,
			})
		}
	}

	return balances, nil
}

// GetPositions retrieves open positions; symbol may be empty for all
func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	params := map[string]interface{}{
		"category": a.category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	var result interface{}
	err := a.call(ctx, func() error {
		var callErr error
		result, callErr = a.client.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			EntryPrice    string `json:"entryPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to parse position response: %w", err)
	}

	var positions []types.Position
	for _, posData := range positionResult.List {
		size := parseFloat(posData.Size)
		if size == 0 {
			continue
		}
		side := types.SideBuy
		if posData.Side == "Sell" {
			side = types.SideSell
		}
		positions = append(positions, types.Position{
			Symbol:        posData.Symbol,
			Side:          side,
			Quantity:      size,
			EntryPrice:    parseFloat(posData.EntryPrice),
			MarkPrice:     parseFloat(posData.MarkPrice),
			Leverage:      parseFloat(posData.Leverage),
			UnrealizedPnL: parseFloat(posData.UnrealisedPnl),
			OpenedAt:      parseTimestamp(posData.CreatedTime),
		})
	}

	return positions, nil
}

// GetFills reports executed quantity from recent order history, one
// fill per order carrying the cumulative executed quantity at its
// average price. The exec id encodes the cumulative quantity so each
// further execution on the same order yields a distinct id.
func (a *Adapter) GetFills(ctx context.Context, symbol string, limit int) ([]types.Fill, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	params := map[string]interface{}{
		"category": a.category,
		"limit":    limit,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}

	var result interface{}
	err := a.call(ctx, func() error {
		var callErr error
		result, callErr = a.client.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	var historyResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			CumExecFee  string `json:"cumExecFee"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, &historyResult); err != nil {
		return nil, fmt.Errorf("failed to parse order history response: %w", err)
	}

	var fills []types.Fill
	for _, orderData := range historyResult.List {
		qty := parseFloat(orderData.CumExecQty)
		if qty <= 0 {
			continue
		}
		side := types.SideBuy
		if orderData.Side == "Sell" {
			side = types.SideSell
		}
		fills = append(fills, types.Fill{
			ExecID:    fmt.Sprintf("%s:%s", orderData.OrderID, orderData.CumExecQty),
			OrderID:   orderData.OrderID,
			Symbol:    orderData.Symbol,
			Side:      side,
			Quantity:  qty,
			Price:     parseFloat(orderData.AvgPrice),
			Fee:       parseFloat(orderData.CumExecFee),
			Timestamp: parseTimestamp(orderData.UpdatedTime),
		})
	}

	return fills, nil
}

// GetAccountStatus retrieves the aggregate account snapshot
func (a *Adapter) GetAccountStatus(ctx context.Context) (*types.AccountStatus, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	var result interface{}
	err := a.call(ctx, func() error {
		var callErr error
		result, callErr = a.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account status: %w", err)
	}

	var walletResult struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalInitialMargin    string `json:"totalInitialMargin"`
			TotalPerpUPL          string `json:"totalPerpUPL"`
		} `json:"list"`
	}
	if err := decodeResult(result, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to parse wallet response: %w", err)
	}
	if len(walletResult.List) == 0 {
		return nil, fmt.Errorf("empty wallet response")
	}

	wallet := walletResult.List[0]
	return &types.AccountStatus{
		TotalCapital:     parseFloat(wallet.TotalWalletBalance),
		AvailableCapital: parseFloat(wallet.TotalAvailableBalance),
		MarginUsed:       parseFloat(wallet.TotalInitialMargin),
		UnrealizedPnL:    parseFloat(wallet.TotalPerpUPL),
		Equity:           parseFloat(wallet.TotalEquity),
	}, nil
}

// PlaceOrder submits an order and returns the exchange-assigned id
func (a *Adapter) PlaceOrder(ctx context.Context, order types.Order) (string, error) {
	side := "Buy"
	if order.Side == types.SideSell {
		side = "Sell"
	}

	apiParams := map[string]interface{}{
		"category":  a.category,
		"symbol":    order.Symbol,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(order.Quantity, 'f', -1, 64),
	}
	if order.Type == types.OrderTypeLimit {
		apiParams["orderType"] = "Limit"
		apiParams["price"] = strconv.FormatFloat(order.Price, 'f', -1, 64)
		apiParams["timeInForce"] = "GTC"
	}
	if order.TakeProfit > 0 {
		apiParams["takeProfit"] = strconv.FormatFloat(order.TakeProfit, 'f', -1, 64)
	}
	if order.StopLoss > 0 {
		apiParams["stopLoss"] = strconv.FormatFloat(order.StopLoss, 'f', -1, 64)
	}

	var result interface{}
	err := a.call(ctx, func() error {
		var callErr error
		result, callErr = a.client.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
		return callErr
	})
	if err != nil {
		return "", classifyPlaceError(err)
	}

	var orderResult struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &orderResult); err != nil {
		return "", fmt.Errorf("failed to parse order response: %w", err)
	}
	if orderResult.OrderID == "" {
		return "", fmt.Errorf("exchange returned no order id")
	}

	return orderResult.OrderID, nil
}

// classifyPlaceError maps a Bybit placement failure onto the core error
// taxonomy so the execution engine can tell retryable submission
// failures from terminal ones
func classifyPlaceError(err error) error {
	switch {
	case IsAuthenticationError(err):
		return coreerrors.Wrap(err, coreerrors.ErrorCategoryCredentials, "bybit", "place_order")
	case IsInsufficientBalanceError(err):
		return coreerrors.NewOrderError("bybit", "place_order", err).WithRetryable(false)
	case IsRetryableError(err):
		return coreerrors.Wrap(err, coreerrors.ErrorCategoryTemporary, "bybit", "place_order")
	default:
		return coreerrors.Categorize(err, "bybit", "place_order")
	}
}

// decodeResult unwraps a ServerResponse and unmarshals its result field
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return &APIError{Code: serverResp.RetCode, Message: serverResp.RetMsg}
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return json.Unmarshal(resultBytes, out)
}

// parseFloat converts an API string value to float64, returning 0 on
// empty or malformed input
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseTimestamp converts a millisecond timestamp string to time.Time
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

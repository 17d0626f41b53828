package types

import "time"

// Side represents the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the kind of order being placed.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// Order is an immutable trading intent produced by upstream signal
// conversion. It carries no identifier until the execution engine
// accepts it.
type Order struct {
	Symbol           string            `json:"symbol"`
	Side             Side              `json:"side"`
	Type             OrderType         `json:"type"`
	Quantity         float64           `json:"quantity"`
	Price            float64           `json:"price,omitempty"`       // limit price, 0 for market
	StopLoss         float64           `json:"stop_loss,omitempty"`
	TakeProfit       float64           `json:"take_profit,omitempty"`
	Strategy         string            `json:"strategy"`
	RecommendationID string            `json:"recommendation_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// NotionalValue returns the order's notional at the given reference
// price, falling back to the order's own price when none is supplied.
func (o Order) NotionalValue(refPrice float64) float64 {
	price := refPrice
	if price <= 0 {
		price = o.Price
	}
	return o.Quantity * price
}

// Fill is a single execution reported by the exchange.
type Fill struct {
	ExecID    string    `json:"exec_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is an open position as reported by the exchange adapter.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      float64   `json:"leverage"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Strategy      string    `json:"strategy,omitempty"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
}

// Value returns the leverage-adjusted notional value of the position.
func (p Position) Value() float64 {
	price := p.MarkPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	return p.Quantity * price * leverage
}

// Balance is the holdings of a single asset.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked holdings.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// AccountStatus is an aggregate account snapshot from the exchange.
type AccountStatus struct {
	TotalCapital     float64 `json:"total_capital"`
	AvailableCapital float64 `json:"available_capital"`
	MarginUsed       float64 `json:"margin_used"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Equity           float64 `json:"equity"`
}

// Recommendation is an upstream strategy signal that has not yet been
// converted into an order.
type Recommendation struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Strategy   string    `json:"strategy"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

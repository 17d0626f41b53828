package execution

import (
	"time"

	"github.com/tradecore/execd/pkg/types"
)

// OrderStatus is the lifecycle status of an accepted order
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Transition is one recorded status change, kept for audit/debugging
type Transition struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderState is the mutable lifecycle record for one accepted order.
// The execution engine is its sole writer; everyone else receives
// copies via the engine's read methods.
type OrderState struct {
	ID    string      `json:"id"`
	Order types.Order `json:"order"`

	Status           OrderStatus `json:"status"`
	FilledQuantity   float64     `json:"filled_quantity"`
	AverageFillPrice float64     `json:"average_fill_price"`

	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`

	RejectionReason string    `json:"rejection_reason,omitempty"`
	RetryCount      int       `json:"retry_count"`
	NextRetryAt     time.Time `json:"next_retry_at,omitempty"`

	ExchangeOrderID string       `json:"exchange_order_id,omitempty"`
	Fills           []types.Fill `json:"fills,omitempty"`
	History         []Transition `json:"history"`

	CreatedAt time.Time `json:"created_at"`

	// appliedExecs guards against duplicate fill delivery
	appliedExecs map[string]bool
}

// newOrderState creates the PENDING record for a freshly accepted order
func newOrderState(id string, order types.Order) *OrderState {
	now := time.Now()
	return &OrderState{
		ID:           id,
		Order:        order,
		Status:       StatusPending,
		CreatedAt:    now,
		NextRetryAt:  now,
		appliedExecs: make(map[string]bool),
		History: []Transition{
			{From: "", To: StatusPending, Reason: "order accepted", Timestamp: now},
		},
	}
}

// IsActive reports whether the order still occupies an admission slot
func (s *OrderState) IsActive() bool {
	return !s.Status.IsTerminal()
}

// RemainingQuantity returns the unfilled quantity
func (s *OrderState) RemainingQuantity() float64 {
	remaining := s.Order.Quantity - s.FilledQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// clone returns a deep copy safe to hand outside the engine
func (s *OrderState) clone() *OrderState {
	copied := *s
	copied.Fills = make([]types.Fill, len(s.Fills))
	copy(copied.Fills, s.Fills)
	copied.History = make([]Transition, len(s.History))
	copy(copied.History, s.History)
	copied.appliedExecs = nil
	return &copied
}

package exchange

import (
	"context"

	"github.com/tradecore/execd/pkg/types"
)

// Adapter defines the exchange contract consumed by the risk engine and
// the execution coordinator. Both the live and the simulated
// implementation satisfy it verbatim; callers never special-case either.
type Adapter interface {
	// Exchange identification
	GetName() string
	IsDemo() bool
	GetEnvironment() string

	// Account data
	GetBalance(ctx context.Context, asset string) ([]types.Balance, error)
	GetPositions(ctx context.Context, symbol string) ([]types.Position, error)
	GetFills(ctx context.Context, symbol string, limit int) ([]types.Fill, error)
	GetAccountStatus(ctx context.Context) (*types.AccountStatus, error)

	// Streaming updates
	SubscribeToUpdates(callback func(AccountUpdate)) error

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// OrderPlacer is the submission capability consumed by the execution
// engine. It is separate from Adapter so read-only consumers (risk
// engine, coordinator) never hold a handle that can place orders.
type OrderPlacer interface {
	// PlaceOrder submits the order and returns the exchange-assigned id.
	PlaceOrder(ctx context.Context, order types.Order) (string, error)
}

// AccountUpdate is pushed to subscribers when the exchange reports new
// fills, position changes, or an account snapshot.
type AccountUpdate struct {
	Fills     []types.Fill         `json:"fills,omitempty"`
	Positions []types.Position     `json:"positions,omitempty"`
	Status    *types.AccountStatus `json:"status,omitempty"`
}

package adapters

import (
	"fmt"
	"strings"

	"github.com/tradecore/execd/internal/config"
	coreerrors "github.com/tradecore/execd/internal/errors"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/exchange/bybit"
	"github.com/tradecore/execd/internal/exchange/sim"
)

// Factory creates exchange adapters based on configuration
type Factory struct{}

// NewFactory creates a new exchange factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// Adapters bundles the read contract with the order placement
// capability for one exchange instance. Both point at the same
// underlying implementation; holding them separately keeps order
// placement out of read-only consumers.
type Adapters struct {
	Adapter exchange.Adapter
	Placer  exchange.OrderPlacer
}

// CreateExchange creates an adapter pair based on the provided configuration
func (f *Factory) CreateExchange(cfg config.ExchangeConfig) (*Adapters, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))

	switch name {
	case "bybit":
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, coreerrors.NewConfigurationError("exchange", "create", "bybit adapter requires API credentials")
		}
		adapter := bybit.NewAdapter(bybit.Config{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
			Demo:      cfg.Demo,
		}, cfg.Category)
		return &Adapters{Adapter: adapter, Placer: adapter}, nil
	case "sim":
		adapter := sim.NewAdapter(cfg.InitialCapital)
		return &Adapters{Adapter: adapter, Placer: adapter}, nil
	default:
		return nil, coreerrors.NewConfigurationError("exchange", "create",
			fmt.Sprintf("exchange %q is not supported (supported: bybit, sim)", cfg.Name))
	}
}

// GetSupportedExchanges returns the supported exchange names
func (f *Factory) GetSupportedExchanges() []string {
	return []string{"bybit", "sim"}
}

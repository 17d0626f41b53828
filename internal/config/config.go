package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full service configuration, loaded from environment
// variables (a .env file is honored when present, see cmd/execd)
type Config struct {
	Environment string
	LogLevel    string

	Exchange      ExchangeConfig
	Execution     ExecutionConfig
	Coordination  CoordinationConfig
	Risk          RiskConfig
	Monitor       MonitorConfig
	Signals       SignalConfig
	Monitoring    MonitoringConfig
	Admin         AdminConfig
	Notifications NotificationConfig
	Journal       JournalConfig
}

// ExchangeConfig selects and configures the exchange adapter
type ExchangeConfig struct {
	Name           string  // "bybit" or "sim"
	APIKey         string
	APISecret      string
	Testnet        bool
	Demo           bool
	Category       string  // spot, linear, inverse
	InitialCapital float64 // sim adapter starting capital
}

// ExecutionConfig controls the order engine's retry and timeout policy
type ExecutionConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	OrderTimeout  time.Duration
	SweepInterval time.Duration
}

// CoordinationConfig controls the admission rules
type CoordinationConfig struct {
	MaxSimultaneousOrders  int
	PreventOppositeSignals bool
	// MaxPendingPerStrategy applies only to strategies present in
	// StrategyCapitalPct; 0 disables the per-strategy cap entirely.
	MaxPendingPerStrategy int
	// StrategyCapitalPct maps strategy name to its capital share in
	// percent, parsed from "name:pct,name:pct".
	StrategyCapitalPct map[string]float64
}

// RiskConfig seeds the mutable risk limits
type RiskConfig struct {
	MaxExposurePct    float64
	MaxPositionPct    float64
	MaxDrawdownPct    float64
	DailyLossLimitPct float64
	VaR1dLimitPct     float64
	VaR1wLimitPct     float64
	// StrategyMaxPositionPct overrides MaxPositionPct per strategy,
	// parsed from "name:pct,name:pct".
	StrategyMaxPositionPct map[string]float64
	UpdateInterval         time.Duration
}

// MonitorConfig controls the risk monitor sweep
type MonitorConfig struct {
	Interval      time.Duration
	AlertCooldown time.Duration
}

// SignalConfig controls the upstream signal conversion cadence
type SignalConfig struct {
	Interval time.Duration
}

// MonitoringConfig configures the metrics and health endpoints
type MonitoringConfig struct {
	PrometheusPort int
	HealthPort     int
}

// AdminConfig configures the administrative HTTP surface
type AdminConfig struct {
	Port int
}

// NotificationConfig configures alert delivery
type NotificationConfig struct {
	TelegramToken  string
	TelegramChatID string
}

// JournalConfig configures journal persistence
type JournalConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

// Load builds the configuration from the process environment
func Load() *Config {
	return &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Exchange: ExchangeConfig{
			Name:           getEnv("EXCHANGE_NAME", "sim"),
			APIKey:         getEnv("EXCHANGE_API_KEY", ""),
			APISecret:      getEnv("EXCHANGE_API_SECRET", ""),
			Testnet:        getEnvBool("EXCHANGE_TESTNET", true),
			Demo:           getEnvBool("EXCHANGE_DEMO", true),
			Category:       getEnv("EXCHANGE_CATEGORY", "linear"),
			InitialCapital: getEnvFloat("SIM_INITIAL_CAPITAL", 10000.0),
		},

		Execution: ExecutionConfig{
			MaxRetries:    getEnvInt("ORDER_MAX_RETRIES", 3),
			RetryDelay:    getEnvDuration("ORDER_RETRY_DELAY", 5*time.Second),
			OrderTimeout:  getEnvDuration("ORDER_TIMEOUT", 5*time.Minute),
			SweepInterval: getEnvDuration("ORDER_SWEEP_INTERVAL", 10*time.Second),
		},

		Coordination: CoordinationConfig{
			MaxSimultaneousOrders:  getEnvInt("MAX_SIMULTANEOUS_ORDERS", 5),
			PreventOppositeSignals: getEnvBool("PREVENT_OPPOSITE_SIGNALS", true),
			MaxPendingPerStrategy:  getEnvInt("MAX_PENDING_PER_STRATEGY", 3),
			StrategyCapitalPct:     getEnvPctMap("STRATEGY_CAPITAL_PCT"),
		},

		Risk: RiskConfig{
			MaxExposurePct:         getEnvFloat("RISK_MAX_EXPOSURE_PCT", 80.0),
			MaxPositionPct:         getEnvFloat("RISK_MAX_POSITION_PCT", 20.0),
			MaxDrawdownPct:         getEnvFloat("RISK_MAX_DRAWDOWN_PCT", 15.0),
			DailyLossLimitPct:      getEnvFloat("RISK_DAILY_LOSS_LIMIT_PCT", 5.0),
			VaR1dLimitPct:          getEnvFloat("RISK_VAR_1D_LIMIT_PCT", 10.0),
			VaR1wLimitPct:          getEnvFloat("RISK_VAR_1W_LIMIT_PCT", 20.0),
			StrategyMaxPositionPct: getEnvPctMap("RISK_STRATEGY_MAX_POSITION_PCT"),
			UpdateInterval:         getEnvDuration("RISK_UPDATE_INTERVAL", 30*time.Second),
		},

		Monitor: MonitorConfig{
			Interval:      getEnvDuration("MONITOR_INTERVAL", time.Minute),
			AlertCooldown: getEnvDuration("MONITOR_ALERT_COOLDOWN", 5*time.Minute),
		},

		Signals: SignalConfig{
			Interval: getEnvDuration("SIGNAL_INTERVAL", 30*time.Second),
		},

		Monitoring: MonitoringConfig{
			PrometheusPort: getEnvInt("PROMETHEUS_PORT", 8080),
			HealthPort:     getEnvInt("HEALTH_PORT", 8081),
		},

		Admin: AdminConfig{
			Port: getEnvInt("ADMIN_PORT", 8082),
		},

		Notifications: NotificationConfig{
			TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
			TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},

		Journal: JournalConfig{
			FilePath:      getEnv("JOURNAL_FILE", "data/journal.json"),
			FlushInterval: getEnvDuration("JOURNAL_FLUSH_INTERVAL", time.Minute),
		},
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case "bybit":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange %q requires EXCHANGE_API_KEY and EXCHANGE_API_SECRET", c.Exchange.Name)
		}
	case "sim":
		if c.Exchange.InitialCapital <= 0 {
			return fmt.Errorf("SIM_INITIAL_CAPITAL must be positive, got %.2f", c.Exchange.InitialCapital)
		}
	default:
		return fmt.Errorf("unsupported exchange: %s", c.Exchange.Name)
	}

	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("ORDER_MAX_RETRIES must be non-negative, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %s", c.Execution.OrderTimeout)
	}
	if c.Coordination.MaxSimultaneousOrders <= 0 {
		return fmt.Errorf("MAX_SIMULTANEOUS_ORDERS must be positive, got %d", c.Coordination.MaxSimultaneousOrders)
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1000 {
		return fmt.Errorf("RISK_MAX_EXPOSURE_PCT out of range: %.2f", c.Risk.MaxExposurePct)
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		return fmt.Errorf("RISK_MAX_POSITION_PCT out of range: %.2f", c.Risk.MaxPositionPct)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		parsed, err := time.ParseDuration(val)
		if err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvPctMap parses "name:pct,name:pct" into a map; malformed pairs
// are skipped
func getEnvPctMap(key string) map[string]float64 {
	result := make(map[string]float64)
	val := os.Getenv(key)
	if val == "" {
		return result
	}

	for _, pair := range strings.Split(val, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		pct, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		result[parts[0]] = pct
	}
	return result
}

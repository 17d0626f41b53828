package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/monitoring"
	"github.com/tradecore/execd/internal/notifications"
	"github.com/tradecore/execd/internal/risk"
	"github.com/tradecore/execd/pkg/types"
)

const (
	defaultInterval = 30 * time.Second
	defaultCooldown = 5 * time.Minute
	recentAlertsCap = 50
)

// Config controls the monitor's check cadence and alert cooldown
type Config struct {
	Interval time.Duration
	Cooldown time.Duration
}

// RiskMonitor periodically snapshots risk metrics, evaluates limits and
// raises alerts. Repeated violations of the same limit are suppressed
// for the cooldown window.
type RiskMonitor struct {
	risk     *risk.Engine
	notifier notifications.Notifier
	journal  journal.Journal
	logger   *logger.Logger
	config   Config

	mu        sync.Mutex
	lastAlert map[string]time.Time
	recent    []types.Alert
	running   bool
	stopChan  chan struct{}
}

// NewRiskMonitor creates a risk monitor
func NewRiskMonitor(engine *risk.Engine, notifier notifications.Notifier, jrnl journal.Journal, log *logger.Logger, config Config) *RiskMonitor {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaultCooldown
	}
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	return &RiskMonitor{
		risk:      engine,
		notifier:  notifier,
		journal:   jrnl,
		logger:    log,
		config:    config,
		lastAlert: make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the periodic check loop
func (m *RiskMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.loop(ctx)
	m.logger.Info("risk monitor started (interval %s, cooldown %s)", m.config.Interval, m.config.Cooldown)
}

// Stop halts the check loop
func (m *RiskMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

func (m *RiskMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.CheckNow(ctx); err != nil {
				m.logger.Error("risk check skipped: %v", err)
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow runs one full check cycle. An adapter failure aborts the
// cycle without raising alerts; stale metrics must not trip limits.
func (m *RiskMonitor) CheckNow(ctx context.Context) error {
	metrics, err := m.risk.GetRiskMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot risk metrics: %w", err)
	}

	monitoring.UpdateRiskGauges(metrics.ExposurePct, metrics.CurrentDrawdownPct, metrics.Equity)
	monitoring.UpdateVaR("1d", "95", metrics.VaR1d95)
	monitoring.UpdateVaR("1d", "99", metrics.VaR1d99)
	monitoring.UpdateVaR("1w", "95", metrics.VaR1w95)
	monitoring.UpdateVaR("1w", "99", metrics.VaR1w99)

	checks := m.risk.CheckRiskLimits(metrics)

	// Stable iteration so alert ordering is deterministic
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := checks[name]
		if !check.Violated {
			continue
		}
		m.raise(buildAlert(name, check))
		// Drawdown and daily loss threaten capital preservation and
		// raise a second, critical alert on its own cooldown key
		if name == "drawdown" || name == "daily_loss" {
			m.raise(buildCriticalAlert(name, check))
		}
	}
	return nil
}

// buildAlert maps a violated limit to the generic limit-violation alert
func buildAlert(name string, check risk.LimitCheck) types.Alert {
	return types.Alert{
		Type:     name,
		Severity: types.AlertSeverityWarning,
		Message:  fmt.Sprintf("Risk limit %s violated: %.2f exceeds %.2f", name, check.Value, check.Limit),
		Details: map[string]string{
			"value": fmt.Sprintf("%.4f", check.Value),
			"limit": fmt.Sprintf("%.4f", check.Limit),
		},
		Timestamp: time.Now(),
	}
}

// buildCriticalAlert escalates a capital-preservation violation on a
// distinct alert type so its cooldown runs independently of the
// generic limit alert
func buildCriticalAlert(name string, check risk.LimitCheck) types.Alert {
	return types.Alert{
		Type:     "critical_" + name,
		Severity: types.AlertSeverityCritical,
		Message:  fmt.Sprintf("CRITICAL: %s at %.2f breached limit %.2f", name, check.Value, check.Limit),
		Details: map[string]string{
			"value": fmt.Sprintf("%.4f", check.Value),
			"limit": fmt.Sprintf("%.4f", check.Limit),
		},
		Timestamp: time.Now(),
	}
}

// raise dispatches an alert unless the same alert type fired within
// the cooldown window
func (m *RiskMonitor) raise(alert types.Alert) {
	m.mu.Lock()
	last, seen := m.lastAlert[alert.Type]
	if seen && time.Since(last) < m.config.Cooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[alert.Type] = alert.Timestamp
	m.recent = append(m.recent, alert)
	if len(m.recent) > recentAlertsCap {
		m.recent = m.recent[len(m.recent)-recentAlertsCap:]
	}
	m.mu.Unlock()

	m.logger.Risk("ALERT [%s] %s", alert.Severity, alert.Message)
	monitoring.RecordAlert(alert.Type, string(alert.Severity))

	m.journal.Append(journal.Entry{
		Type: journal.EntryRiskAlert,
		Details: map[string]string{
			"alert_type": alert.Type,
			"severity":   string(alert.Severity),
			"message":    alert.Message,
			"value":      alert.Details["value"],
			"limit":      alert.Details["limit"],
		},
	})

	if err := m.notifier.Notify(alert); err != nil {
		m.logger.Error("failed to deliver alert %s: %v", alert.Type, err)
	}
}

// RecentAlerts returns the newest alerts first
func (m *RiskMonitor) RecentAlerts() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Alert, len(m.recent))
	for i, a := range m.recent {
		out[len(m.recent)-1-i] = a
	}
	return out
}

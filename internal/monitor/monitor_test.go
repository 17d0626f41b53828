package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/execd/internal/exchange/sim"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/risk"
	"github.com/tradecore/execd/pkg/types"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (c *captureNotifier) Notify(alert types.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureNotifier) byType(alertType string) []types.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Alert
	for _, a := range c.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

// failingAdapter errors on every account call
type failingAdapter struct{ *sim.Adapter }

func (failingAdapter) GetAccountStatus(ctx context.Context) (*types.AccountStatus, error) {
	return nil, context.DeadlineExceeded
}

func (failingAdapter) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return nil, context.DeadlineExceeded
}

func newTestMonitor(t *testing.T, cooldown time.Duration) (*RiskMonitor, *sim.Adapter, *captureNotifier, *journal.MemoryJournal) {
	t.Helper()
	adapter := sim.NewAdapter(10000)
	engine := risk.NewEngine(adapter, risk.NewLimitStore(risk.DefaultLimits()), logger.NewDiscardLogger())
	notifier := &captureNotifier{}
	jrnl := journal.NewMemoryJournal()
	mon := NewRiskMonitor(engine, notifier, jrnl, logger.NewDiscardLogger(), Config{
		Interval: time.Hour, // loop never fires; tests drive CheckNow directly
		Cooldown: cooldown,
	})
	return mon, adapter, notifier, jrnl
}

// overexpose installs a position worth 600% of equity
func overexpose(adapter *sim.Adapter) {
	adapter.OpenPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 1.2,
		EntryPrice: 50000, MarkPrice: 50000, Leverage: 1, Strategy: "momentum",
	})
}

func TestRiskMonitor_RaisesExposureAlert(t *testing.T) {
	mon, adapter, notifier, jrnl := newTestMonitor(t, time.Minute)
	overexpose(adapter)

	require.NoError(t, mon.CheckNow(context.Background()))

	alerts := notifier.byType("exposure")
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertSeverityWarning, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "exposure")

	entries := jrnl.Query(journal.Filter{Type: journal.EntryRiskAlert})
	require.NotEmpty(t, entries)
	assert.Equal(t, "exposure", entries[0].Details["alert_type"])
}

func TestRiskMonitor_NoAlertWithinLimits(t *testing.T) {
	mon, _, notifier, _ := newTestMonitor(t, time.Minute)

	require.NoError(t, mon.CheckNow(context.Background()))
	assert.Empty(t, notifier.alerts)
	assert.Empty(t, mon.RecentAlerts())
}

func TestRiskMonitor_Cooldown(t *testing.T) {
	mon, adapter, notifier, _ := newTestMonitor(t, time.Minute)
	overexpose(adapter)

	require.NoError(t, mon.CheckNow(context.Background()))
	require.NoError(t, mon.CheckNow(context.Background()))
	require.NoError(t, mon.CheckNow(context.Background()))

	// The repeated violation is suppressed inside the cooldown window
	assert.Len(t, notifier.byType("exposure"), 1)
}

func TestRiskMonitor_CooldownExpiry(t *testing.T) {
	mon, adapter, notifier, _ := newTestMonitor(t, 20*time.Millisecond)
	overexpose(adapter)

	require.NoError(t, mon.CheckNow(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, mon.CheckNow(context.Background()))

	assert.Len(t, notifier.byType("exposure"), 2)
}

func TestRiskMonitor_CooldownIsPerAlertType(t *testing.T) {
	mon, adapter, notifier, _ := newTestMonitor(t, time.Minute)
	overexpose(adapter)

	require.NoError(t, mon.CheckNow(context.Background()))
	assert.Len(t, notifier.byType("exposure"), 1)

	// Crash the price so drawdown trips while exposure stays cooled down
	adapter.SetPrice("BTCUSDT", 40000)
	require.NoError(t, mon.CheckNow(context.Background()))

	assert.Len(t, notifier.byType("exposure"), 1)
	drawdowns := notifier.byType("drawdown")
	require.NotEmpty(t, drawdowns)
	assert.Equal(t, types.AlertSeverityWarning, drawdowns[0].Severity)
}

func TestRiskMonitor_CriticalAlertPath(t *testing.T) {
	mon, adapter, notifier, _ := newTestMonitor(t, time.Minute)
	overexpose(adapter)

	// First check establishes the equity peak, then the price crash
	// trips the drawdown limit
	require.NoError(t, mon.CheckNow(context.Background()))
	adapter.SetPrice("BTCUSDT", 40000)
	require.NoError(t, mon.CheckNow(context.Background()))

	// The generic limit alert and the critical escalation both fire,
	// each on its own type
	drawdowns := notifier.byType("drawdown")
	require.Len(t, drawdowns, 1)
	assert.Equal(t, types.AlertSeverityWarning, drawdowns[0].Severity)

	criticals := notifier.byType("critical_drawdown")
	require.Len(t, criticals, 1)
	assert.Equal(t, types.AlertSeverityCritical, criticals[0].Severity)

	// The critical path cools down independently
	require.NoError(t, mon.CheckNow(context.Background()))
	assert.Len(t, notifier.byType("critical_drawdown"), 1)
}

func TestRiskMonitor_AdapterFailureSkipsCycle(t *testing.T) {
	engine := risk.NewEngine(failingAdapter{}, risk.NewLimitStore(risk.DefaultLimits()), logger.NewDiscardLogger())
	notifier := &captureNotifier{}
	mon := NewRiskMonitor(engine, notifier, journal.NewMemoryJournal(), logger.NewDiscardLogger(), Config{})

	err := mon.CheckNow(context.Background())
	assert.Error(t, err)
	assert.Empty(t, notifier.alerts)
}

func TestRiskMonitor_RecentAlertsNewestFirst(t *testing.T) {
	mon, adapter, _, _ := newTestMonitor(t, time.Millisecond)
	overexpose(adapter)

	require.NoError(t, mon.CheckNow(context.Background()))
	adapter.SetPrice("BTCUSDT", 40000)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mon.CheckNow(context.Background()))

	recent := mon.RecentAlerts()
	require.NotEmpty(t, recent)
	for i := 1; i < len(recent); i++ {
		assert.True(t, !recent[i-1].Timestamp.Before(recent[i].Timestamp))
	}
}

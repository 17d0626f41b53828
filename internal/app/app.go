package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tradecore/execd/internal/admin"
	"github.com/tradecore/execd/internal/config"
	"github.com/tradecore/execd/internal/coordinator"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/exchange/adapters"
	"github.com/tradecore/execd/internal/execution"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/monitor"
	"github.com/tradecore/execd/internal/monitoring"
	"github.com/tradecore/execd/internal/notifications"
	"github.com/tradecore/execd/internal/risk"
	"github.com/tradecore/execd/internal/signal"
)

// App owns every component and the periodic loops that drive them.
// Construction is explicit; nothing lives in package-level state.
type App struct {
	config  *config.Config
	logger  *logger.Logger
	journal *journal.MemoryJournal
	adapter exchange.Adapter
	placer  exchange.OrderPlacer

	engine    *execution.Engine
	coord     *coordinator.Coordinator
	riskEng   *risk.Engine
	riskMon   *monitor.RiskMonitor
	converter *signal.Converter
	source    *signal.ChannelSource
	adminSrv  *admin.Server
	health    *monitoring.HealthChecker

	metricsSrv *http.Server
	healthSrv  *http.Server

	// Sweep guards: a slow sweep skips the next tick instead of
	// overlapping itself
	orderSweepMu  sync.Mutex
	signalSweepMu sync.Mutex
	flushMu       sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs the application from configuration
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger("execd")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	created, err := adapters.NewFactory().CreateExchange(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange adapter: %w", err)
	}

	jrnl := journal.NewMemoryJournal()
	if cfg.Journal.FilePath != "" {
		if err := journal.LoadFromFile(jrnl, cfg.Journal.FilePath); err != nil {
			log.Warning("could not restore journal from %s: %v", cfg.Journal.FilePath, err)
		}
	}

	engine := execution.NewEngine(created.Placer, jrnl, log, execution.Config{
		MaxRetries:   cfg.Execution.MaxRetries,
		RetryDelay:   cfg.Execution.RetryDelay,
		OrderTimeout: cfg.Execution.OrderTimeout,
	})

	coord := coordinator.NewCoordinator(engine, jrnl, log, coordinator.Config{
		MaxSimultaneousOrders:  cfg.Coordination.MaxSimultaneousOrders,
		PreventOppositeSignals: cfg.Coordination.PreventOppositeSignals,
		MaxPendingPerStrategy:  cfg.Coordination.MaxPendingPerStrategy,
		StrategyCapitalPct:     cfg.Coordination.StrategyCapitalPct,
	})

	limits := risk.NewLimitStore(risk.Limits{
		MaxExposurePct:         cfg.Risk.MaxExposurePct,
		MaxPositionPct:         cfg.Risk.MaxPositionPct,
		MaxDrawdownPct:         cfg.Risk.MaxDrawdownPct,
		DailyLossLimitPct:      cfg.Risk.DailyLossLimitPct,
		VaR1dLimitPct:          cfg.Risk.VaR1dLimitPct,
		VaR1wLimitPct:          cfg.Risk.VaR1wLimitPct,
		StrategyMaxPositionPct: cfg.Risk.StrategyMaxPositionPct,
	})
	riskEng := risk.NewEngine(created.Adapter, limits, log)

	var notifier notifications.Notifier = notifications.NopNotifier{}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	}

	riskMon := monitor.NewRiskMonitor(riskEng, notifier, jrnl, log, monitor.Config{
		Interval: cfg.Monitor.Interval,
		Cooldown: cfg.Monitor.AlertCooldown,
	})

	source := signal.NewChannelSource(64)
	converter := signal.NewConverter(source, riskEng, coord, created.Adapter, log, signal.Config{})

	adminSrv := admin.NewServer(cfg.Admin.Port, engine, coord, riskEng, riskMon, created.Adapter, jrnl, log)

	return &App{
		config:    cfg,
		logger:    log,
		journal:   jrnl,
		adapter:   created.Adapter,
		placer:    created.Placer,
		engine:    engine,
		coord:     coord,
		riskEng:   riskEng,
		riskMon:   riskMon,
		converter: converter,
		source:    source,
		adminSrv:  adminSrv,
		health:    monitoring.NewHealthChecker(),
		stopChan:  make(chan struct{}),
	}, nil
}

// Recommendations exposes the push side of the signal source
func (a *App) Recommendations() *signal.ChannelSource {
	return a.source
}

// Start connects the adapter and launches every loop and server
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting execd (%s, exchange %s)", a.config.Environment, a.adapter.GetName())

	if err := a.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect exchange: %w", err)
	}
	a.health.SetConnected(true)

	if err := a.adapter.SubscribeToUpdates(a.onAccountUpdate); err != nil {
		return fmt.Errorf("failed to subscribe to exchange updates: %w", err)
	}

	a.riskMon.Start(ctx)

	a.startLoop(ctx, a.config.Execution.SweepInterval, a.orderSweep)
	a.startLoop(ctx, a.config.Signals.Interval, a.signalSweep)
	if a.config.Journal.FilePath != "" {
		a.startLoop(ctx, a.config.Journal.FlushInterval, func(context.Context) { a.flushJournal() })
	}

	a.startServers()
	return nil
}

// startLoop runs fn on a ticker until shutdown
func (a *App) startLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-a.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// orderSweep drives pending submissions and timeout cancels. TryLock
// drops the tick when the previous sweep is still running.
func (a *App) orderSweep(ctx context.Context) {
	if !a.orderSweepMu.TryLock() {
		return
	}
	defer a.orderSweepMu.Unlock()

	a.engine.ProcessPendingOrders(ctx)
	if cancelled := a.engine.CheckTimeouts(); cancelled > 0 {
		a.logger.Warning("cancelled %d timed-out orders", cancelled)
	}
	a.health.MarkSweep()
}

func (a *App) signalSweep(ctx context.Context) {
	if !a.signalSweepMu.TryLock() {
		return
	}
	defer a.signalSweepMu.Unlock()

	if _, err := a.converter.ProcessPending(ctx); err != nil {
		a.logger.Error("signal sweep failed: %v", err)
	}
}

func (a *App) flushJournal() {
	if !a.flushMu.TryLock() {
		return
	}
	defer a.flushMu.Unlock()

	if err := journal.SaveToFile(a.journal, a.config.Journal.FilePath); err != nil {
		a.logger.Error("journal flush failed: %v", err)
	}
}

// onAccountUpdate routes streamed exchange data into the engine and
// the risk engine's equity history
func (a *App) onAccountUpdate(update exchange.AccountUpdate) {
	for _, fill := range update.Fills {
		if err := a.engine.ApplyExchangeFill(fill); err != nil {
			a.logger.Error("failed to apply fill %s: %v", fill.ExecID, err)
			monitoring.RecordError("fill_apply")
		}
	}
	if update.Status != nil && update.Status.Equity > 0 {
		a.riskEng.RecordEquity(update.Status.Equity)
	}
	a.health.MarkRiskRun()
}

func (a *App) startServers() {
	a.metricsSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Monitoring.PrometheusPort),
		Handler: monitoring.NewMetricsHandler(),
	}
	a.healthSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Monitoring.HealthPort),
		Handler: a.health,
	}

	for name, srv := range map[string]*http.Server{"metrics": a.metricsSrv, "health": a.healthSrv} {
		a.wg.Add(1)
		go func(name string, srv *http.Server) {
			defer a.wg.Done()
			a.logger.Info("%s server listening on %s", name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("%s server stopped: %v", name, err)
			}
		}(name, srv)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.adminSrv.Start(); err != nil {
			a.logger.Error("admin server stopped: %v", err)
		}
	}()
}

// Stop shuts everything down in dependency order and persists the
// journal one final time
func (a *App) Stop() {
	a.logger.Info("shutting down")
	close(a.stopChan)
	a.riskMon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.adminSrv != nil {
		a.adminSrv.Shutdown(shutdownCtx)
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.healthSrv != nil {
		a.healthSrv.Shutdown(shutdownCtx)
	}

	if err := a.adapter.Disconnect(); err != nil {
		a.logger.Error("adapter disconnect failed: %v", err)
	}
	a.health.SetConnected(false)

	if a.config.Journal.FilePath != "" {
		a.flushJournal()
	}

	a.wg.Wait()
	a.logger.Info("shutdown complete")
	a.logger.Close()
}

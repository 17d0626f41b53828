package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tradecore/execd/internal/coordinator"
	"github.com/tradecore/execd/internal/exchange"
	"github.com/tradecore/execd/internal/execution"
	"github.com/tradecore/execd/internal/journal"
	"github.com/tradecore/execd/internal/logger"
	"github.com/tradecore/execd/internal/monitor"
	"github.com/tradecore/execd/internal/risk"
	"github.com/tradecore/execd/pkg/types"
)

// Server is the administrative JSON surface. It mutates nothing
// directly: orders go through the coordinator's admission gate and
// limit updates go through the shared limit store.
type Server struct {
	engine  *execution.Engine
	coord   *coordinator.Coordinator
	risk    *risk.Engine
	monitor *monitor.RiskMonitor
	adapter exchange.Adapter
	journal journal.Journal
	logger  *logger.Logger

	httpServer *http.Server
}

// NewServer creates the admin server on the given port
func NewServer(port int, engine *execution.Engine, coord *coordinator.Coordinator, riskEngine *risk.Engine, mon *monitor.RiskMonitor, adapter exchange.Adapter, jrnl journal.Journal, log *logger.Logger) *Server {
	s := &Server{
		engine:  engine,
		coord:   coord,
		risk:    riskEngine,
		monitor: mon,
		adapter: adapter,
		journal: jrnl,
		logger:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/limits", s.handleGetLimits)
	mux.HandleFunc("PUT /api/limits", s.handlePutLimits)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/risk", s.handleRiskStatus)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/journal", s.handleJournal)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves until Shutdown; it blocks the calling goroutine
func (s *Server) Start() error {
	s.logger.Info("admin server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.risk.Limits().Get())
}

func (s *Server) handlePutLimits(w http.ResponseWriter, r *http.Request) {
	var limits risk.Limits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limits payload: %v", err))
		return
	}
	if err := validateLimits(limits); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.risk.Limits().Update(limits)
	s.journal.Append(journal.Entry{
		Type: journal.EntryLimitUpdate,
		User: r.Header.Get("X-Operator"),
		Details: map[string]string{
			"max_exposure_pct":     fmt.Sprintf("%.2f", limits.MaxExposurePct),
			"max_position_pct":     fmt.Sprintf("%.2f", limits.MaxPositionPct),
			"max_drawdown_pct":     fmt.Sprintf("%.2f", limits.MaxDrawdownPct),
			"daily_loss_limit_pct": fmt.Sprintf("%.2f", limits.DailyLossLimitPct),
		},
	})
	s.logger.Info("risk limits updated via admin")
	writeJSON(w, http.StatusOK, limits)
}

func validateLimits(l risk.Limits) error {
	fields := map[string]float64{
		"max_exposure_pct":     l.MaxExposurePct,
		"max_position_pct":     l.MaxPositionPct,
		"max_drawdown_pct":     l.MaxDrawdownPct,
		"daily_loss_limit_pct": l.DailyLossLimitPct,
		"var_1d_limit_pct":     l.VaR1dLimitPct,
		"var_1w_limit_pct":     l.VaR1wLimitPct,
	}
	for name, v := range fields {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for strategy, pct := range l.StrategyMaxPositionPct {
		if pct <= 0 {
			return fmt.Errorf("strategy %s max position pct must be positive", strategy)
		}
	}
	return nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []*execution.OrderState
	if r.URL.Query().Get("active") == "true" {
		orders = s.engine.ActiveOrders()
	} else {
		orders = s.engine.AllOrders()
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var order types.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid order payload: %v", err))
		return
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	positions, err := s.adapter.GetPositions(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch positions: %v", err))
		return
	}

	id, err := s.coord.ExecuteOrder(order, positions)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": id})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	state, ok := s.engine.GetOrder(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "Cancelled by operator"
	}
	if err := s.engine.CancelOrder(id, reason); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": "CANCELLED"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetGlobalStats())
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.risk.GetRiskMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to snapshot risk metrics: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": metrics,
		"checks":  s.risk.CheckRiskLimits(metrics),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.RecentAlerts())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := journal.Filter{
		OrderID: q.Get("order_id"),
		Type:    journal.EntryType(q.Get("type")),
	}
	if limit := q.Get("limit"); limit != "" {
		fmt.Sscanf(limit, "%d", &filter.Limit)
	}
	writeJSON(w, http.StatusOK, s.journal.Query(filter))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

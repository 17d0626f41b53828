package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order lifecycle metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_orders_total",
			Help: "Total number of orders by final disposition",
		},
		[]string{"symbol", "side", "status"},
	)

	orderRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_order_retries_total",
			Help: "Total number of submission retries",
		},
	)

	fillQuantity = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execd_fill_quantity",
			Help:    "Distribution of fill quantities",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	// Admission metrics
	admissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_admission_rejections_total",
			Help: "Total number of coordination blocks by rule",
		},
		[]string{"rule"},
	)

	// Risk metrics
	exposurePct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execd_exposure_pct",
			Help: "Current exposure as percent of equity",
		},
	)

	drawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execd_drawdown_pct",
			Help: "Current drawdown percent from peak equity",
		},
	)

	equityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execd_equity",
			Help: "Current account equity",
		},
	)

	varGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execd_value_at_risk",
			Help: "Value at Risk by horizon and confidence",
		},
		[]string{"horizon", "confidence"},
	)

	// Alert metrics
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_alerts_total",
			Help: "Total number of risk alerts raised",
		},
		[]string{"type", "severity"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderRetriesTotal)
	prometheus.MustRegister(fillQuantity)
	prometheus.MustRegister(admissionRejectionsTotal)
	prometheus.MustRegister(exposurePct)
	prometheus.MustRegister(drawdownPct)
	prometheus.MustRegister(equityGauge)
	prometheus.MustRegister(varGauge)
	prometheus.MustRegister(alertsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrderStatus records an order reaching a status
func RecordOrderStatus(symbol, side, status string) {
	ordersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordRetry records a submission retry
func RecordRetry() {
	orderRetriesTotal.Inc()
}

// RecordFill records an applied fill
func RecordFill(symbol string, quantity float64) {
	fillQuantity.WithLabelValues(symbol).Observe(quantity)
}

// RecordAdmissionRejection records a coordination block
func RecordAdmissionRejection(rule string) {
	admissionRejectionsTotal.WithLabelValues(rule).Inc()
}

// UpdateRiskGauges updates the risk snapshot gauges
func UpdateRiskGauges(exposure, drawdown, equity float64) {
	exposurePct.Set(exposure)
	drawdownPct.Set(drawdown)
	equityGauge.Set(equity)
}

// UpdateVaR updates one Value-at-Risk gauge
func UpdateVaR(horizon, confidence string, value float64) {
	varGauge.WithLabelValues(horizon, confidence).Set(value)
}

// RecordAlert records a raised alert
func RecordAlert(alertType, severity string) {
	alertsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

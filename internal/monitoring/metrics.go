package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bridge metrics
	bridgeCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bridge_commands_total",
			Help: "Commands settled by the file bridge, by outcome",
		},
		[]string{"command", "outcome"},
	)

	bridgeCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_bridge_command_duration_seconds",
			Help:    "Time from enqueue to settlement of bridge commands",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"command"},
	)

	bridgeOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signal_bridge_orphaned_responses_total",
			Help: "Responses whose id matched no pending command",
		},
	)

	bridgeMalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signal_bridge_malformed_responses_total",
			Help: "Response files discarded because they could not be parsed",
		},
	)

	bridgeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_bridge_pending_commands",
			Help: "Commands queued or awaiting a response",
		},
	)

	terminalConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_bridge_terminal_connected",
			Help: "1 when the last ping or response succeeded",
		},
	)

	// Risk and pipeline metrics
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bridge_signals_total",
			Help: "Signals reaching a decision or terminal state",
		},
		[]string{"status"},
	)

	riskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bridge_risk_rejections_total",
			Help: "Risk and sizing rejections by reason code",
		},
		[]string{"code"},
	)

	lotSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_bridge_lot_size",
			Help:    "Distribution of calculated lot sizes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"symbol"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bridge_orders_total",
			Help: "Order status transitions",
		},
		[]string{"symbol", "status"},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signal_bridge_batch_duration_seconds",
			Help:    "Duration of pipeline batch runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bridge_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(bridgeCommandsTotal)
	prometheus.MustRegister(bridgeCommandDuration)
	prometheus.MustRegister(bridgeOrphansTotal)
	prometheus.MustRegister(bridgeMalformedTotal)
	prometheus.MustRegister(bridgeQueueDepth)
	prometheus.MustRegister(terminalConnected)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(riskRejectionsTotal)
	prometheus.MustRegister(lotSize)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(batchDuration)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordBridgeCommand records how a bridge command settled
func RecordBridgeCommand(command, outcome string, elapsed time.Duration) {
	bridgeCommandsTotal.WithLabelValues(command, outcome).Inc()
	bridgeCommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordBridgeOrphan counts a response nobody was waiting for
func RecordBridgeOrphan() {
	bridgeOrphansTotal.Inc()
}

// RecordBridgeMalformed counts a discarded response file
func RecordBridgeMalformed() {
	bridgeMalformedTotal.Inc()
}

// SetBridgeQueueDepth updates the pending command gauge
func SetBridgeQueueDepth(n int) {
	bridgeQueueDepth.Set(float64(n))
}

// SetTerminalConnected updates the liveness gauge
func SetTerminalConnected(connected bool) {
	if connected {
		terminalConnected.Set(1)
		return
	}
	terminalConnected.Set(0)
}

// RecordSignal counts a signal decision or terminal state
func RecordSignal(status string) {
	signalsTotal.WithLabelValues(status).Inc()
}

// RecordRejection counts a risk or sizing rejection
func RecordRejection(code string) {
	riskRejectionsTotal.WithLabelValues(code).Inc()
}

// ObserveLotSize records a calculated lot size
func ObserveLotSize(symbol string, lots float64) {
	lotSize.WithLabelValues(symbol).Observe(lots)
}

// RecordOrder counts an order status transition
func RecordOrder(symbol, status string) {
	ordersTotal.WithLabelValues(symbol, status).Inc()
}

// ObserveBatch records the duration of a pipeline batch
func ObserveBatch(elapsed time.Duration) {
	batchDuration.Observe(elapsed.Seconds())
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

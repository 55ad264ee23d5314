package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CyclesTotal counts completed control loop cycles per strategy.
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of completed control loop cycles",
	},
	[]string{"strategy"},
)

// CycleErrorsTotal counts cycles aborted by an error and followed by backoff.
var CycleErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "engine",
		Name:      "cycle_errors_total",
		Help:      "Total number of cycles that ended in backoff",
	},
	[]string{"strategy"},
)

var OrdersPlacedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Orders accepted by the exchange",
	},
	[]string{"strategy", "side", "kind"},
)

var OrderFillsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "orders",
		Name:      "fills_total",
		Help:      "Observed order fills",
	},
	[]string{"strategy", "side"},
)

var StaleCancelsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "orders",
		Name:      "stale_cancels_total",
		Help:      "Orders cancelled for exceeding the maximum age",
	},
	[]string{"strategy"},
)

var SkippedLevels = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "grid",
		Subsystem: "levels",
		Name:      "skipped",
		Help:      "Levels currently skipped by the safety gate",
	},
	[]string{"strategy"},
)

var StoppedLevels = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "grid",
		Subsystem: "levels",
		Name:      "stopped",
		Help:      "Levels excluded after a stop loss or manual stop",
	},
	[]string{"strategy"},
)

// ProfitLoss is the realized P&L accumulator in quote currency.
var ProfitLoss = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "grid",
		Subsystem: "engine",
		Name:      "profit_loss",
		Help:      "Realized profit and loss per strategy",
	},
	[]string{"strategy"},
)

var RunningStrategies = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "grid",
		Subsystem: "supervisor",
		Name:      "running_strategies",
		Help:      "Number of registered strategy instances",
	},
)

func forgetStrategyMetrics(id string) {
	CyclesTotal.DeleteLabelValues(id)
	CycleErrorsTotal.DeleteLabelValues(id)
	StaleCancelsTotal.DeleteLabelValues(id)
	SkippedLevels.DeleteLabelValues(id)
	StoppedLevels.DeleteLabelValues(id)
	ProfitLoss.DeleteLabelValues(id)
	OrdersPlacedTotal.DeletePartialMatch(prometheus.Labels{"strategy": id})
	OrderFillsTotal.DeletePartialMatch(prometheus.Labels{"strategy": id})
}

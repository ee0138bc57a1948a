package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка исполнения
// ============================================================
//
// - латентность и проскальзывание роутера
// - счётчики репрайсов и market fallback
// - отказы фильтров и блокировки cooldown
// - движения стопов

// ============ Роутер ============

// RouteLatency - время от начала Route до итогового отчёта
var RouteLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "route_latency_ms",
		Help:      "Time from route start to final report in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 750, 1000, 1500, 2500},
	},
	[]string{"symbol", "result"},
)

// RouteSlippage - проскальзывание принятых маршрутов
var RouteSlippage = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "slippage_bp",
		Help:      "Slippage of accepted routes in basis points",
		Buckets:   []float64{0, 0.5, 1, 2, 3, 5, 8, 13, 21},
	},
	[]string{"symbol"},
)

// RoutesTotal - маршруты по результату
var RoutesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "routes_total",
		Help:      "Total number of routed orders by result",
	},
	[]string{"symbol", "result"}, // accepted, rejected, error
)

// RepricesTotal - количество репрайсов
var RepricesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "reprices_total",
		Help:      "Number of one-tick reprices",
	},
	[]string{"symbol"},
)

// MarketFallbacks - переходы к рыночному ордеру
var MarketFallbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "market_fallbacks_total",
		Help:      "Number of market fallbacks by outcome",
	},
	[]string{"symbol", "outcome"}, // submitted, forbidden
)

// RouteTransitions - переходы state machine роутера
var RouteTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "router",
		Name:      "state_transitions_total",
		Help:      "Router state machine transitions",
	},
	[]string{"from", "to"},
)

// ============ Риск ============

// GuardRejections - отказы фильтров по причине
var GuardRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "guard_rejections_total",
		Help:      "Entries rejected by freshness and micro-quality gates",
	},
	[]string{"reason"},
)

// CooldownBlocks - входы, заблокированные cooldown
var CooldownBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "cooldown_blocks_total",
		Help:      "Entries blocked by loss-streak cooldown",
	},
	[]string{"symbol"},
)

// StopMoves - подтяжки стопа
var StopMoves = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "stop_moves_total",
		Help:      "Number of stop tightenings by cause",
	},
	[]string{"symbol", "cause"}, // breakeven, trail
)

// ExitsTotal - закрытия позиций по виду исхода
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "exits_total",
		Help:      "Position exits by outcome kind",
	},
	[]string{"symbol", "kind"},
)

// OpenPositions - текущее количество открытых позиций
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "engine",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
)

// ============ Вспомогательные функции ============

// RecordRoute записывает итог маршрута
func RecordRoute(symbol, result string, latencyMs, slippageBp float64) {
	RoutesTotal.WithLabelValues(symbol, result).Inc()
	RouteLatency.WithLabelValues(symbol, result).Observe(latencyMs)
	if result == "accepted" {
		RouteSlippage.WithLabelValues(symbol).Observe(slippageBp)
	}
}

// RecordTransition записывает переход state machine
func RecordTransition(from, to string) {
	RouteTransitions.WithLabelValues(from, to).Inc()
}

// RecordGuardRejection записывает отказ фильтра
func RecordGuardRejection(reason string) {
	GuardRejections.WithLabelValues(reason).Inc()
}

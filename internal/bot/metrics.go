package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pairbot/internal/models"
)

// ============================================================
// Prometheus метрики движка пар
// ============================================================

// ============ Метрики латентности ============

// BrokerCallLatency - длительность вызовов брокера
var BrokerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pairbot",
		Subsystem: "broker",
		Name:      "call_latency_ms",
		Help:      "Broker gateway call latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"op", "result"}, // op: place, close, list, price
)

// ReconcileDuration - длительность одного прохода сверки
var ReconcileDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "reconcile_duration_ms",
		Help:      "Reconciliation pass duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	},
)

// ============ Счётчики событий ============

// TransitionsTotal - переходы state machine
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Pair state transitions",
	},
	[]string{"from", "to"},
)

// IllegalTransitions - отклонённые переходы
var IllegalTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "illegal_transitions_total",
		Help:      "Rejected pair state transitions",
	},
	[]string{"from", "to"},
)

// SignalsTotal - результаты приёма сигналов
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "entry",
		Name:      "signals_total",
		Help:      "Admitted, duplicate and rejected signals",
	},
	[]string{"kind", "result"}, // result: accepted, duplicate, busy, category_full, price_unavailable, leg1_failed
)

// Leg2Resolutions - как была получена вторая нога
var Leg2Resolutions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "entry",
		Name:      "leg2_resolutions_total",
		Help:      "Second leg resolutions",
	},
	[]string{"how"}, // adopted, placed, failed, orphaned
)

// ReconcileRuns - проходы сверки
var ReconcileRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation passes",
	},
	[]string{"result"}, // ok, skipped, list_failed
)

// ExternalCloses - закрытия чужих позиций
var ExternalCloses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "external_closes_total",
		Help:      "Unowned broker positions closed by the sweep",
	},
	[]string{"result"}, // closed, already_closed, failed
)

// ExitsTotal - финализации пар по причинам
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "trading",
		Name:      "exits_total",
		Help:      "Finalized pairs by closing reason",
	},
	[]string{"reason"},
)

// PartialCloses - частичные закрытия с переводом в безубыток
var PartialCloses = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "trading",
		Name:      "partial_closes_total",
		Help:      "Partial-leg closes followed by break-even activation",
	},
)

// TicksTotal - обработанные и схлопнутые тики
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "trading",
		Name:      "ticks_total",
		Help:      "Ticks processed or coalesced",
	},
	[]string{"result"}, // processed, coalesced
)

// ============ Метрики состояния ============

// PairsByState - текущее количество пар по состояниям
var PairsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "pairbot",
		Subsystem: "engine",
		Name:      "pairs",
		Help:      "Number of pairs by state",
	},
	[]string{"state"},
)

// EntryLockHeld - 1 пока идёт вход
var EntryLockHeld = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pairbot",
		Subsystem: "entry",
		Name:      "lock_held",
		Help:      "Entry lock state (1=held)",
	},
)

// EntryLockExpired - авто-освобождения лока
var EntryLockExpired = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "entry",
		Name:      "lock_expired_total",
		Help:      "Entry lock auto-releases after timeout",
	},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "pairbot",
		Subsystem: "runtime",
		Name:      "buffer_backlog_ratio",
		Help:      "Channel fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordTransition записывает переход
func RecordTransition(from, to models.State) {
	TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordIllegalTransition записывает отклонённый переход
func RecordIllegalTransition(from, to models.State) {
	IllegalTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordSignal записывает результат приёма сигнала
func RecordSignal(kind models.SignalKind, result string) {
	SignalsTotal.WithLabelValues(string(kind), result).Inc()
}

// RecordBrokerCall записывает латентность вызова брокера
func RecordBrokerCall(op string, err error, latencyMs float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BrokerCallLatency.WithLabelValues(op, result).Observe(latencyMs)
}

// RecordExit записывает финализацию
func RecordExit(reason models.ClosingReason) {
	ExitsTotal.WithLabelValues(string(reason)).Inc()
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}

// UpdatePairGauges обновляет gauge по состояниям
func UpdatePairGauges(counts map[models.State]int) {
	for state, n := range counts {
		PairsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

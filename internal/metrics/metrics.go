// Package metrics содержит Prometheus-метрики движка.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics содержит метрики fan-out операций, кэша и bulk-мутаций.
// Методы безопасны для вызова на nil-получателе.
type Metrics struct {
	// Отдельные запросы к хранилищу внутри fan-out
	FanoutLookupsTotal *prometheus.CounterVec

	// Агрегация доступности награды
	AggregationDuration *prometheus.HistogramVec
	CacheRequestsTotal  *prometheus.CounterVec

	// Bulk-мутации
	BulkResultsTotal *prometheus.CounterVec

	// Сессии просмотра
	ActiveSessions prometheus.Gauge

	// Внешние события
	EventsTotal *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в переданном реестре.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FanoutLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loyalty_fanout_lookups_total",
				Help: "Количество отдельных запросов внутри fan-out по операции и результату",
			},
			[]string{"operation", "result"},
		),

		AggregationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loyalty_eligibility_aggregation_duration_seconds",
				Help:    "Время агрегации доступности награды в секундах",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"partial"},
		),

		CacheRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loyalty_eligibility_cache_requests_total",
				Help: "Обращения к кэшу доступности по результату (hit/miss)",
			},
			[]string{"result"},
		),

		BulkResultsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loyalty_bulk_results_total",
				Help: "Результаты отдельных операций bulk-мутаций",
			},
			[]string{"operation", "result"},
		),

		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "loyalty_view_sessions",
				Help: "Текущее количество открытых сессий просмотра",
			},
		),

		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loyalty_events_total",
				Help: "Опубликованные и полученные события по направлению и результату",
			},
			[]string{"direction", "result"},
		),
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordLookup записывает результат одного запроса внутри fan-out.
func (m *Metrics) RecordLookup(operation string, ok bool) {
	if m == nil {
		return
	}
	m.FanoutLookupsTotal.WithLabelValues(operation, resultLabel(ok)).Inc()
}

// RecordAggregation записывает длительность агрегации.
func (m *Metrics) RecordAggregation(d time.Duration, partial bool) {
	if m == nil {
		return
	}
	label := "false"
	if partial {
		label = "true"
	}
	m.AggregationDuration.WithLabelValues(label).Observe(d.Seconds())
}

// RecordCache записывает попадание или промах кэша.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(label).Inc()
}

// RecordBulk записывает итог bulk-мутации.
func (m *Metrics) RecordBulk(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.BulkResultsTotal.WithLabelValues(operation, "ok").Add(float64(succeeded))
	m.BulkResultsTotal.WithLabelValues(operation, "error").Add(float64(failed))
}

// SetSessions обновляет количество открытых сессий.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordEvent записывает публикацию или получение события.
func (m *Metrics) RecordEvent(direction string, ok bool) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(direction, resultLabel(ok)).Inc()
}

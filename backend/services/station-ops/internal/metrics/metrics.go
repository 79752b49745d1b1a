// Package metrics exposes station-ops prometheus collectors.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
)

const namespace = "station_ops"

var (
	eventsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Count of committed lifecycle and control events by name.",
		},
		[]string{"event"},
	)
	operationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Count of coordinator operations by operation and outcome kind.",
		},
		[]string{"operation", "outcome"},
	)
	capacityCacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_cache_total",
			Help:      "Count of capacity metric lookups by cache result.",
		},
		[]string{"result"},
	)
	utilizationGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "station_utilization_percent",
			Help:      "Last computed utilization rate per station.",
		},
		[]string{"station_id"},
	)
)

var registerMetrics sync.Once

// Register adds all collectors to reg once.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(eventsCounter)
		reg.MustRegister(operationsCounter)
		reg.MustRegister(capacityCacheCounter)
		reg.MustRegister(utilizationGauge)
	})
}

// RecordOperation counts one coordinator call. outcome is "ok" or an error kind.
func RecordOperation(operation, outcome string) {
	operationsCounter.WithLabelValues(operation, outcome).Inc()
}

// ObserveOperation records the outcome of a coordinator call by error kind.
func ObserveOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	RecordOperation(operation, outcome)
}

// RecordCapacityCache counts a cache hit or miss.
func RecordCapacityCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	capacityCacheCounter.WithLabelValues(result).Inc()
}

// RecordUtilization stores the latest utilization of a station.
func RecordUtilization(stationID string, rate float64) {
	utilizationGauge.WithLabelValues(stationID).Set(rate)
}

// EventCounter is an events.Publisher counting events by name.
type EventCounter struct{}

// Publish implements events.Publisher.
func (EventCounter) Publish(_ context.Context, event events.Event) error {
	eventsCounter.WithLabelValues(string(event.Name)).Inc()
	return nil
}

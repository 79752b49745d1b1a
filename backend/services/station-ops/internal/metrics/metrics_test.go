package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	before := testutil.ToFloat64(eventsCounter.WithLabelValues(string(events.BookingCreated)))
	require.NoError(t, EventCounter{}.Publish(context.Background(), events.Event{Name: events.BookingCreated}))
	assert.Equal(t, before+1, testutil.ToFloat64(eventsCounter.WithLabelValues(string(events.BookingCreated))))

	RecordOperation("create_session", "conflict")
	assert.GreaterOrEqual(t, testutil.ToFloat64(operationsCounter.WithLabelValues("create_session", "conflict")), 1.0)

	RecordCapacityCache(true)
	RecordCapacityCache(false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(capacityCacheCounter.WithLabelValues("hit")), 1.0)

	RecordUtilization("st-1", 66.67)
	assert.Equal(t, 66.67, testutil.ToFloat64(utilizationGauge.WithLabelValues("st-1")))
}

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(operationsCounter.WithLabelValues("start_session", "not_found"))
	ObserveOperation("start_session", apperr.NotFound("booking", "b1"))
	ObserveOperation("start_session", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(operationsCounter.WithLabelValues("start_session", "not_found")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(operationsCounter.WithLabelValues("start_session", "ok")), 1.0)
}

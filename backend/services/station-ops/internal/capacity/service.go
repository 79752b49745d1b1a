package capacity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/metrics"
	"chargeops/backend/services/station-ops/internal/models"
)

// SnapshotSource serves unlocked station snapshots.
type SnapshotSource interface {
	StationSnapshot(ctx context.Context, stationID string) (models.StationAggregate, error)
	ListStationIDs(ctx context.Context) ([]string, error)
}

// Cache stores computed metrics for a short time. Stale values are acceptable.
type Cache interface {
	Get(ctx context.Context, stationID string) (StationCapacityMetrics, bool, error)
	Set(ctx context.Context, m StationCapacityMetrics) error
	Invalidate(ctx context.Context, stationID string) error
}

// Service computes station capacity from snapshots, fronted by an optional cache.
type Service struct {
	source SnapshotSource
	cache  Cache
	now    func() time.Time
	logger *zap.Logger
}

// NewService builds the capacity service. cache may be nil.
func NewService(source SnapshotSource, cache Cache, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{source: source, cache: cache, now: now, logger: logger}
}

// StationCapacity returns metrics for one station.
func (s *Service) StationCapacity(ctx context.Context, stationID string) (StationCapacityMetrics, error) {
	if s.cache != nil {
		m, ok, err := s.cache.Get(ctx, stationID)
		if err != nil {
			s.logger.Warn("capacity cache read failed", zap.String("station_id", stationID), zap.Error(err))
		}
		metrics.RecordCapacityCache(ok)
		if ok {
			return m, nil
		}
	}

	agg, err := s.source.StationSnapshot(ctx, stationID)
	if err != nil {
		return StationCapacityMetrics{}, err
	}
	m := Aggregate(agg)
	m.ComputedAt = s.now().UTC()
	metrics.RecordUtilization(stationID, m.UtilizationRate)

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.Warn("capacity cache write failed", zap.String("station_id", stationID), zap.Error(err))
		}
	}
	return m, nil
}

// FleetCapacity returns the fleet summary together with each station's metrics.
func (s *Service) FleetCapacity(ctx context.Context) (StationCapacityMetrics, []StationCapacityMetrics, error) {
	ids, err := s.source.ListStationIDs(ctx)
	if err != nil {
		return StationCapacityMetrics{}, nil, err
	}
	stations := make([]StationCapacityMetrics, 0, len(ids))
	for _, id := range ids {
		m, err := s.StationCapacity(ctx, id)
		if err != nil {
			return StationCapacityMetrics{}, nil, err
		}
		stations = append(stations, m)
	}
	return Fleet(stations), stations, nil
}

// Publish implements events.Publisher by dropping cached metrics of the station an event
// touched, so the next read recomputes.
func (s *Service) Publish(ctx context.Context, event events.Event) error {
	if s.cache == nil || event.StationID == "" {
		return nil
	}
	return s.cache.Invalidate(ctx, event.StationID)
}

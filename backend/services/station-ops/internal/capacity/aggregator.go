// Package capacity derives station capacity and utilization from raw status snapshots.
package capacity

import (
	"math"
	"time"

	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/status"
)

// StationCapacityMetrics is the monitoring view of one station.
type StationCapacityMetrics struct {
	StationID            string    `json:"station_id"`
	TotalPosts           int       `json:"total_posts"`
	AvailablePosts       int       `json:"available_posts"`
	MaintenancePosts     int       `json:"maintenance_posts"`
	TotalSlots           int       `json:"total_slots"`
	AvailableSlots       int       `json:"available_slots"`
	MaintenanceSlots     int       `json:"maintenance_slots"`
	OccupiedSlots        int       `json:"occupied_slots"`
	ReservedSlots        int       `json:"reserved_slots"`
	TotalPowerCapacityKW float64   `json:"total_power_capacity_kw"`
	CurrentPowerUsageKW  float64   `json:"current_power_usage_kw"`
	UtilizationRate      float64   `json:"utilization_rate"`
	ComputedAt           time.Time `json:"computed_at"`
}

// Aggregate computes capacity metrics for a station snapshot. It has no side effects.
//
// Unknown slot statuses count as occupied, and a station that is not active reports no
// available posts or slots whatever its slots say.
func Aggregate(agg models.StationAggregate) StationCapacityMetrics {
	m := StationCapacityMetrics{
		StationID:  agg.Station.ID,
		TotalPosts: len(agg.Posts),
	}

	var occupied, reserved int
	for _, p := range agg.Posts {
		m.TotalPowerCapacityKW += p.Post.RatedPowerKW

		var postAvailable, postOccupied int
		for _, slot := range p.Slots {
			m.TotalSlots++
			switch status.Classify(string(slot.Status)) {
			case status.Available:
				m.AvailableSlots++
				postAvailable++
			case status.Maintenance:
				m.MaintenanceSlots++
			case status.Occupied:
				occupied++
				postOccupied++
			case status.Reserved:
				reserved++
			}
		}

		if status.Equal(string(p.Post.Status), string(models.PostAvailable)) && postAvailable > 0 {
			m.AvailablePosts++
		}
		if status.Equal(string(p.Post.Status), string(models.PostMaintenance)) ||
			status.Equal(string(p.Post.Status), string(models.PostRestarting)) {
			m.MaintenancePosts++
		}
		if postOccupied > 0 {
			m.CurrentPowerUsageKW += p.Post.RatedPowerKW
		}
	}

	m.ReservedSlots = reserved
	m.OccupiedSlots = occupied + reserved

	if !stationActive(agg.Station) {
		m.AvailablePosts = 0
		m.AvailableSlots = 0
	}

	// fold unknown (and overridden) slots into occupied so the counts always add up
	if sum := m.AvailableSlots + m.MaintenanceSlots + m.OccupiedSlots; sum < m.TotalSlots {
		m.OccupiedSlots += m.TotalSlots - sum
	}

	m.AvailablePosts = clamp(m.AvailablePosts, m.TotalPosts)
	m.MaintenancePosts = clamp(m.MaintenancePosts, m.TotalPosts)
	m.AvailableSlots = clamp(m.AvailableSlots, m.TotalSlots)
	m.MaintenanceSlots = clamp(m.MaintenanceSlots, m.TotalSlots)
	m.OccupiedSlots = clamp(m.OccupiedSlots, m.TotalSlots)
	m.ReservedSlots = clamp(m.ReservedSlots, m.TotalSlots)

	m.UtilizationRate = utilization(m.TotalSlots, m.AvailableSlots)
	return m
}

// Fleet sums station metrics into a fleet-wide view. StationID is left empty.
func Fleet(stations []StationCapacityMetrics) StationCapacityMetrics {
	var total StationCapacityMetrics
	for _, s := range stations {
		total.TotalPosts += s.TotalPosts
		total.AvailablePosts += s.AvailablePosts
		total.MaintenancePosts += s.MaintenancePosts
		total.TotalSlots += s.TotalSlots
		total.AvailableSlots += s.AvailableSlots
		total.MaintenanceSlots += s.MaintenanceSlots
		total.OccupiedSlots += s.OccupiedSlots
		total.ReservedSlots += s.ReservedSlots
		total.TotalPowerCapacityKW += s.TotalPowerCapacityKW
		total.CurrentPowerUsageKW += s.CurrentPowerUsageKW
		if s.ComputedAt.After(total.ComputedAt) {
			total.ComputedAt = s.ComputedAt
		}
	}
	total.UtilizationRate = utilization(total.TotalSlots, total.AvailableSlots)
	return total
}

func stationActive(s models.Station) bool {
	return s.DeletedAt == nil && status.Equal(string(s.Status), string(models.StationActive))
}

func utilization(total, available int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(total-available) / float64(total) * 100
	return math.Round(rate*100) / 100
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

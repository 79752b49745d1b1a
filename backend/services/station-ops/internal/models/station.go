package models

import "time"

// StationStatus is the operational status of a station.
type StationStatus string

const (
	StationActive      StationStatus = "active"
	StationInactive    StationStatus = "inactive"
	StationMaintenance StationStatus = "maintenance"
)

// PostStatus is the status of a charging post.
type PostStatus string

const (
	PostAvailable   PostStatus = "available"
	PostMaintenance PostStatus = "maintenance"
	PostOffline     PostStatus = "offline"
	PostRestarting  PostStatus = "restarting"
)

// SlotStatus is the canonical status token written to a slot. Stored rows may carry
// other tokens; read them through the status package.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotReserved    SlotStatus = "reserved"
	SlotCharging    SlotStatus = "charging"
	SlotMaintenance SlotStatus = "maintenance"
	SlotUnavailable SlotStatus = "unavailable"
)

// Station represents a physical charging site.
type Station struct {
	ID        string        `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	Status    StationStatus `db:"status" json:"status"`
	Latitude  float64       `db:"latitude" json:"latitude"`
	Longitude float64       `db:"longitude" json:"longitude"`
	DeletedAt *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Operational reports whether the station accepts new sessions.
func (s Station) Operational() bool {
	return s.DeletedAt == nil && s.Status == StationActive
}

// Post is a charging unit at a station.
type Post struct {
	ID             string     `db:"id" json:"id"`
	StationID      string     `db:"station_id" json:"station_id"`
	Name           string     `db:"name" json:"name"`
	Status         PostStatus `db:"status" json:"status"`
	RatedPowerKW   float64    `db:"rated_power_kw" json:"rated_power_kw"`
	TotalSlots     int        `db:"total_slots" json:"total_slots"`
	AvailableSlots int        `db:"available_slots" json:"available_slots"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Slot is an addressable connector on a post.
type Slot struct {
	ID               string     `db:"id" json:"id"`
	PostID           string     `db:"post_id" json:"post_id"`
	ConnectorNumber  int        `db:"connector_number" json:"connector_number"`
	Status           SlotStatus `db:"status" json:"status"`
	MaxPowerKW       float64    `db:"max_power_kw" json:"max_power_kw"`
	CurrentBookingID string     `db:"current_booking_id" json:"current_booking_id,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// PostWithSlots bundles a post with its slots.
type PostWithSlots struct {
	Post  Post   `json:"post"`
	Slots []Slot `json:"slots"`
}

// StationAggregate is a point-in-time snapshot of a station and everything under it.
type StationAggregate struct {
	Station Station         `json:"station"`
	Posts   []PostWithSlots `json:"posts"`
}

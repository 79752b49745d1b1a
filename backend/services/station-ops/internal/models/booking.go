package models

import "time"

// BookingStatus is the lifecycle status of a charging session.
type BookingStatus string

const (
	BookingScheduled   BookingStatus = "scheduled"
	BookingInProgress  BookingStatus = "in_progress"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingInterrupted BookingStatus = "interrupted"
)

// ActiveBookingStatuses hold a slot.
var ActiveBookingStatuses = []BookingStatus{BookingScheduled, BookingInProgress}

// Active reports whether the booking still holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingScheduled || s == BookingInProgress
}

// Terminal reports whether the booking can never change again.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingInterrupted:
		return true
	default:
		return false
	}
}

// SchedulingType records how a booking was made.
type SchedulingType string

const (
	SchedulingScheduled   SchedulingType = "scheduled"
	SchedulingImmediate   SchedulingType = "immediate"
	SchedulingQRImmediate SchedulingType = "qr_immediate"
)

// Booking represents a reservation-to-completion charging session.
type Booking struct {
	ID                 string         `db:"id" json:"id"`
	SlotID             string         `db:"slot_id" json:"slot_id"`
	StationID          string         `db:"station_id" json:"station_id"`
	UserID             string         `db:"user_id" json:"user_id"`
	VehicleID          string         `db:"vehicle_id" json:"vehicle_id"`
	SchedulingType     SchedulingType `db:"scheduling_type" json:"scheduling_type"`
	Status             BookingStatus  `db:"status" json:"status"`
	ScheduledStartTime *time.Time     `db:"scheduled_start_time" json:"scheduled_start_time,omitempty"`
	ActualStartTime    *time.Time     `db:"actual_start_time" json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time     `db:"actual_end_time" json:"actual_end_time,omitempty"`
	TargetSOC          *float64       `db:"target_soc" json:"target_soc,omitempty"`
	FinalSOC           *float64       `db:"final_soc" json:"final_soc,omitempty"`
	EstimatedDuration  *int           `db:"estimated_duration_minutes" json:"estimated_duration_minutes,omitempty"`
	TotalEnergyKWh     float64        `db:"total_energy_kwh" json:"total_energy_kwh"`
	CancelReason       string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Invoice is issued once per completed booking.
type Invoice struct {
	ID        string    `db:"id" json:"id"`
	BookingID string    `db:"booking_id" json:"booking_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Number    string    `db:"number" json:"number"`
	EnergyKWh float64   `db:"energy_kwh" json:"energy_kwh"`
	UnitPrice float64   `db:"unit_price" json:"unit_price"`
	Subtotal  float64   `db:"subtotal" json:"subtotal"`
	TaxRate   float64   `db:"tax_rate" json:"tax_rate"`
	Tax       float64   `db:"tax" json:"tax"`
	Total     float64   `db:"total" json:"total"`
	Currency  string    `db:"currency" json:"currency"`
	IssuedAt  time.Time `db:"issued_at" json:"issued_at"`
}

// QRToken is a single-use, time-bounded token printed on a slot. Only its digest is stored.
type QRToken struct {
	ID                  string     `db:"id" json:"id"`
	Digest              string     `db:"digest" json:"-"`
	StationID           string     `db:"station_id" json:"station_id"`
	SlotID              string     `db:"slot_id" json:"slot_id"`
	Active              bool       `db:"active" json:"active"`
	ExpiresAt           time.Time  `db:"expires_at" json:"expires_at"`
	ConsumedAt          *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	ConsumedByBookingID string     `db:"consumed_by_booking_id" json:"consumed_by_booking_id,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

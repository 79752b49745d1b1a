package sessions

import (
	"context"
	"time"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

var eventNames = map[models.BookingEvent]events.Name{
	models.EventStart:     events.BookingStarted,
	models.EventComplete:  events.BookingCompleted,
	models.EventCancel:    events.BookingCancelled,
	models.EventInterrupt: events.BookingInterrupted,
}

// Transition applies ev to b at the given time. Edges outside the booking state machine
// fail with apperr.ErrInvalidState.
func Transition(b models.Booking, ev models.BookingEvent, at time.Time, reason string) (models.Booking, error) {
	tr, ok := models.TransitionFor(b.Status, ev)
	if !ok {
		return b, apperr.InvalidState("booking %s is %s, cannot %s", b.ID, b.Status, ev)
	}

	ts := at
	b.Status = tr.To
	b.UpdatedAt = at
	switch ev {
	case models.EventStart:
		b.ActualStartTime = &ts
	case models.EventComplete, models.EventInterrupt:
		b.ActualEndTime = &ts
	case models.EventCancel:
		if b.ActualStartTime != nil {
			b.ActualEndTime = &ts
		}
	}
	if reason != "" {
		b.CancelReason = reason
	}
	return b, nil
}

// Detach ends the active booking bound to a slot on behalf of a control command. The
// caller owns the slot lock and clears the slot side itself.
func Detach(ctx context.Context, tx store.Tx, b models.Booking, ev models.BookingEvent, at time.Time, reason, actorID string) (models.Booking, events.Event, error) {
	from := b.Status
	b, err := Transition(b, ev, at, reason)
	if err != nil {
		return b, events.Event{}, err
	}
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return b, events.Event{}, err
	}
	return b, BookingEvent(eventNames[ev], b, from, actorID, at), nil
}

// BookingEvent describes a booking transition.
func BookingEvent(name events.Name, b models.Booking, from models.BookingStatus, actorID string, at time.Time) events.Event {
	ev := events.Event{
		Name:       name,
		OccurredAt: at,
		StationID:  b.StationID,
		SlotID:     b.SlotID,
		BookingID:  b.ID,
		UserID:     b.UserID,
		ActorID:    actorID,
		From:       string(from),
		To:         string(b.Status),
	}
	if b.CancelReason != "" {
		ev.Data = map[string]any{"reason": b.CancelReason}
	}
	return ev
}

// SlotEvent describes a slot status change.
func SlotEvent(slot models.Slot, stationID string, from models.SlotStatus, actorID string, at time.Time) events.Event {
	return events.Event{
		Name:       events.SlotStatusChanged,
		OccurredAt: at,
		StationID:  stationID,
		PostID:     slot.PostID,
		SlotID:     slot.ID,
		ActorID:    actorID,
		From:       string(from),
		To:         string(slot.Status),
	}
}

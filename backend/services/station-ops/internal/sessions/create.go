package sessions

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/status"
	"chargeops/backend/services/station-ops/internal/store"
)

// CreateRequest is a reservation request.
type CreateRequest struct {
	UserID                   string
	VehicleID                string
	SlotID                   string
	StationID                string
	SchedulingType           models.SchedulingType
	ScheduledStart           *time.Time
	TargetSOC                *float64
	EstimatedDurationMinutes *int
}

// CreateSession reserves a slot and returns the new booking id.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateRequest) (string, error) {
	if req.SchedulingType == models.SchedulingQRImmediate {
		return "", apperr.Validation("qr_immediate sessions are created by scanning a slot code")
	}
	if err := c.validateRequest(&req); err != nil {
		return "", err
	}

	var out models.Booking
	err := c.run(ctx, "create_session", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		b, evs, err := c.createInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		*batch = append(*batch, evs...)
		out = b
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("session created",
		zap.String("booking_id", out.ID),
		zap.String("slot_id", out.SlotID),
		zap.String("station_id", out.StationID),
		zap.String("scheduling_type", string(out.SchedulingType)),
	)
	return out.ID, nil
}

func (c *Coordinator) validateRequest(req *CreateRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.StationID = strings.TrimSpace(req.StationID)

	switch {
	case req.UserID == "":
		return apperr.Validation("user id is required")
	case req.VehicleID == "":
		return apperr.Validation("vehicle id is required")
	case req.SlotID == "":
		return apperr.Validation("slot id is required")
	case req.StationID == "":
		return apperr.Validation("station id is required")
	}

	if req.SchedulingType == "" {
		req.SchedulingType = models.SchedulingImmediate
		if req.ScheduledStart != nil {
			req.SchedulingType = models.SchedulingScheduled
		}
	}
	switch req.SchedulingType {
	case models.SchedulingScheduled:
		if req.ScheduledStart == nil {
			return apperr.Validation("scheduled start is required for scheduled sessions")
		}
	case models.SchedulingImmediate, models.SchedulingQRImmediate:
	default:
		return apperr.Validation("unknown scheduling type %q", req.SchedulingType)
	}

	if req.ScheduledStart != nil {
		if err := c.validateStart(*req.ScheduledStart); err != nil {
			return err
		}
	}
	if req.TargetSOC != nil && (*req.TargetSOC <= 0 || *req.TargetSOC > 100) {
		return apperr.Validation("target soc must be within (0, 100]")
	}
	if req.EstimatedDurationMinutes != nil && *req.EstimatedDurationMinutes < 0 {
		return apperr.Validation("estimated duration must not be negative")
	}
	return nil
}

// validateStart enforces the same-day, minimum-lead rule in the reference zone.
func (c *Coordinator) validateStart(start time.Time) error {
	now := c.now().In(c.cfg.Zone)
	local := start.In(c.cfg.Zone)

	ny, nm, nd := now.Date()
	sy, sm, sd := local.Date()
	if ny != sy || nm != sm || nd != sd {
		return apperr.Validation("scheduled start must be today (%s)", now.Format("2006-01-02"))
	}
	if local.Before(now.Add(c.cfg.MinLead)) {
		return apperr.Validation("scheduled start must be at least %d minutes ahead", int(c.cfg.MinLead.Minutes()))
	}
	return nil
}

// createInTx checks slot eligibility under the station and slot locks and writes the booking,
// the slot and the post counters.
func (c *Coordinator) createInTx(ctx context.Context, tx store.Tx, req CreateRequest) (models.Booking, []events.Event, error) {
	scope, err := LockSlotScope(ctx, tx, req.SlotID)
	if err != nil {
		return models.Booking{}, nil, err
	}
	slot, post, station := scope.Slot, scope.Post, scope.Station

	switch {
	case station.ID != req.StationID:
		return models.Booking{}, nil, apperr.Conflict("slot %s does not belong to station %s", slot.ID, req.StationID)
	case !station.Operational():
		return models.Booking{}, nil, apperr.Conflict("station %s is not accepting sessions", station.ID)
	case !status.Equal(string(post.Status), string(models.PostAvailable)):
		return models.Booking{}, nil, apperr.Conflict("post %s is %s", post.ID, post.Status)
	case !status.Is(string(slot.Status), status.Available) || slot.CurrentBookingID != "":
		return models.Booking{}, nil, apperr.Conflict("slot %s is no longer available", slot.ID)
	}
	if active, ok, err := tx.ActiveBookingForSlot(ctx, slot.ID); err != nil {
		return models.Booking{}, nil, err
	} else if ok {
		return models.Booking{}, nil, apperr.Conflict("slot %s already has active booking %s", slot.ID, active.ID)
	}

	now := c.now().UTC()
	b := models.Booking{
		ID:                 c.newID(),
		SlotID:             slot.ID,
		StationID:          station.ID,
		UserID:             req.UserID,
		VehicleID:          req.VehicleID,
		SchedulingType:     req.SchedulingType,
		Status:             models.BookingScheduled,
		ScheduledStartTime: req.ScheduledStart,
		TargetSOC:          req.TargetSOC,
		EstimatedDuration:  req.EstimatedDurationMinutes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.CreateBooking(ctx, b); err != nil {
		return models.Booking{}, nil, err
	}

	prev := slot.Status
	slot.Status = models.SlotReserved
	slot.CurrentBookingID = b.ID
	slot.UpdatedAt = now
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return models.Booking{}, nil, err
	}
	if err := RefreshPostCounters(ctx, tx, post.ID, now); err != nil {
		return models.Booking{}, nil, err
	}

	return b, []events.Event{
		BookingEvent(events.BookingCreated, b, "", "", now),
		SlotEvent(slot, station.ID, prev, "", now),
	}, nil
}

// buildInvoice prices a completed booking. A non-positive unit price falls back to the
// configured default tariff.
func (c *Coordinator) buildInvoice(b models.Booking, unitPrice float64, now time.Time) models.Invoice {
	if unitPrice <= 0 {
		unitPrice = c.cfg.DefaultUnitPrice
	}
	subtotal := round2(b.TotalEnergyKWh * unitPrice)
	tax := round2(subtotal * c.cfg.TaxRate)
	id := c.newID()
	return models.Invoice{
		ID:        id,
		BookingID: b.ID,
		UserID:    b.UserID,
		Number:    invoiceNumber(now, id),
		EnergyKWh: b.TotalEnergyKWh,
		UnitPrice: unitPrice,
		Subtotal:  subtotal,
		TaxRate:   c.cfg.TaxRate,
		Tax:       tax,
		Total:     round2(subtotal + tax),
		Currency:  c.cfg.Currency,
		IssuedAt:  now,
	}
}

func invoiceNumber(at time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "INV-" + at.Format("20060102") + "-" + suffix
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package sessions governs booking lifecycle transitions and their slot-side effects.
// Every operation runs as exactly one unit of work against the store; events are published
// only after it commits.
package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/metrics"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/status"
	"chargeops/backend/services/station-ops/internal/store"
)

// ReferenceZone is the civil timezone of the same-day booking rule.
var ReferenceZone = time.FixedZone("UTC+7", 7*60*60)

// Config tunes the coordinator.
type Config struct {
	Zone             *time.Location
	MinLead          time.Duration
	TaxRate          float64
	DefaultUnitPrice float64
	Currency         string
	QRTTL            time.Duration
	OpTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Zone == nil {
		c.Zone = ReferenceZone
	}
	if c.MinLead <= 0 {
		c.MinLead = 30 * time.Minute
	}
	if c.DefaultUnitPrice <= 0 {
		c.DefaultUnitPrice = 1
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = "VND"
	}
	if c.QRTTL <= 0 {
		c.QRTTL = 15 * time.Minute
	}
	return c
}

// Coordinator runs session operations.
type Coordinator struct {
	store  store.Store
	pub    events.Publisher
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides booking, invoice and token id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// NewCoordinator builds the session coordinator. pub may be nil.
func NewCoordinator(st store.Store, pub events.Publisher, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		pub:    pub,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run executes fn as one unit of work under the operation timeout and publishes the
// collected events after commit.
func (c *Coordinator) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, batch *[]events.Event) error) error {
	if c.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
	}

	var batch []events.Event
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch = batch[:0]
		return fn(ctx, tx, &batch)
	})
	metrics.ObserveOperation(op, err)
	if err != nil {
		return err
	}
	events.PublishAll(context.WithoutCancel(ctx), c.pub, c.logger, batch)
	return nil
}

// lockBookingSlot reads the booking, locks its station and slot and re-reads the booking so
// the returned pair is stable for the rest of the transaction.
func lockBookingSlot(ctx context.Context, tx store.Tx, bookingID string) (models.Booking, SlotScope, error) {
	if strings.TrimSpace(bookingID) == "" {
		return models.Booking{}, SlotScope{}, apperr.Validation("booking id is required")
	}
	b, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, SlotScope{}, err
	}
	scope, err := LockSlotScope(ctx, tx, b.SlotID)
	if err != nil {
		return models.Booking{}, SlotScope{}, err
	}
	b, err = tx.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, SlotScope{}, err
	}
	return b, scope, nil
}

// StartSession moves a scheduled booking to in_progress and marks its slot charging.
func (c *Coordinator) StartSession(ctx context.Context, bookingID string) (models.Booking, error) {
	var out models.Booking
	err := c.run(ctx, "start_session", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		b, scope, err := lockBookingSlot(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		slot := scope.Slot
		if slot.CurrentBookingID != b.ID {
			return apperr.Conflict("slot %s is not held by booking %s", slot.ID, b.ID)
		}

		now := c.now().UTC()
		from := b.Status
		b, err = Transition(b, models.EventStart, now, "")
		if err != nil {
			return err
		}
		if err := chargeable(scope); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		prev := slot.Status
		slot.Status = models.SlotCharging
		slot.UpdatedAt = now
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if err := RefreshPostCounters(ctx, tx, slot.PostID, now); err != nil {
			return err
		}

		*batch = append(*batch,
			BookingEvent(events.BookingStarted, b, from, "", now),
			SlotEvent(slot, b.StationID, prev, "", now),
		)
		out = b
		return nil
	})
	if err != nil {
		return models.Booking{}, err
	}
	c.logger.Info("session started", zap.String("booking_id", out.ID), zap.String("slot_id", out.SlotID))
	return out, nil
}

// CancelSession cancels a scheduled or in_progress booking and frees its slot. Terminal
// bookings fail with an invalid state error.
func (c *Coordinator) CancelSession(ctx context.Context, bookingID, reason string) (models.Booking, error) {
	var out models.Booking
	err := c.run(ctx, "cancel_session", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		b, scope, err := lockBookingSlot(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		slot := scope.Slot

		now := c.now().UTC()
		from := b.Status
		b, err = Transition(b, models.EventCancel, now, reason)
		if err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		*batch = append(*batch, BookingEvent(events.BookingCancelled, b, from, "", now))

		if ev, changed, err := releaseSlot(ctx, tx, slot, b, now); err != nil {
			return err
		} else if changed {
			*batch = append(*batch, ev)
		}
		out = b
		return nil
	})
	if err != nil {
		return models.Booking{}, err
	}
	c.logger.Info("session cancelled",
		zap.String("booking_id", out.ID),
		zap.String("slot_id", out.SlotID),
		zap.String("reason", out.CancelReason),
	)
	return out, nil
}

// CompleteInput carries the meter readings of a finished session.
type CompleteInput struct {
	FinalSOC       *float64
	TotalEnergyKWh float64
	UnitPrice      float64
}

// CompleteSession finishes an in_progress booking, issues its invoice and frees the slot.
func (c *Coordinator) CompleteSession(ctx context.Context, bookingID string, in CompleteInput) (models.Booking, models.Invoice, error) {
	if in.TotalEnergyKWh < 0 {
		return models.Booking{}, models.Invoice{}, apperr.Validation("total energy must not be negative")
	}
	if in.FinalSOC != nil && (*in.FinalSOC < 0 || *in.FinalSOC > 100) {
		return models.Booking{}, models.Invoice{}, apperr.Validation("final soc must be within [0, 100]")
	}

	var (
		out models.Booking
		inv models.Invoice
	)
	err := c.run(ctx, "complete_session", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		b, scope, err := lockBookingSlot(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		slot := scope.Slot

		now := c.now().UTC()
		from := b.Status
		b, err = Transition(b, models.EventComplete, now, "")
		if err != nil {
			return err
		}
		b.FinalSOC = in.FinalSOC
		b.TotalEnergyKWh = in.TotalEnergyKWh
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		inv = c.buildInvoice(b, in.UnitPrice, now)
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return err
		}

		*batch = append(*batch, BookingEvent(events.BookingCompleted, b, from, "", now))
		if ev, changed, err := releaseSlot(ctx, tx, slot, b, now); err != nil {
			return err
		} else if changed {
			*batch = append(*batch, ev)
		}
		*batch = append(*batch, events.Event{
			Name:       events.InvoiceCreated,
			OccurredAt: now,
			StationID:  b.StationID,
			SlotID:     b.SlotID,
			BookingID:  b.ID,
			UserID:     b.UserID,
			Data: map[string]any{
				"invoice_id": inv.ID,
				"number":     inv.Number,
				"total":      inv.Total,
				"currency":   inv.Currency,
			},
		})
		out = b
		return nil
	})
	if err != nil {
		return models.Booking{}, models.Invoice{}, err
	}
	c.logger.Info("session completed",
		zap.String("booking_id", out.ID),
		zap.Float64("energy_kwh", inv.EnergyKWh),
		zap.Float64("total", inv.Total),
	)
	return out, inv, nil
}

// chargeable rejects starting a charge on a post or station that control took out of service.
func chargeable(scope SlotScope) error {
	if !scope.Station.Operational() {
		return apperr.Conflict("station %s is not accepting sessions", scope.Station.ID)
	}
	if !status.Equal(string(scope.Post.Status), string(models.PostAvailable)) {
		return apperr.Conflict("post %s is %s", scope.Post.ID, scope.Post.Status)
	}
	return nil
}

// releaseSlot frees the slot held by b and recounts its post. A slot held by another
// booking, or one a control command already took out of service, only loses the stale
// reference.
func releaseSlot(ctx context.Context, tx store.Tx, slot models.Slot, b models.Booking, now time.Time) (events.Event, bool, error) {
	if slot.CurrentBookingID != b.ID {
		return events.Event{}, false, nil
	}
	prev := slot.Status
	slot.CurrentBookingID = ""
	if status.Holding(string(slot.Status)) {
		slot.Status = models.SlotAvailable
	}
	slot.UpdatedAt = now
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return events.Event{}, false, err
	}
	if err := RefreshPostCounters(ctx, tx, slot.PostID, now); err != nil {
		return events.Event{}, false, err
	}
	return SlotEvent(slot, b.StationID, prev, "", now), true, nil
}

// Package control governs administrative overrides of slot, post and station state. Each
// command is one transaction that either applies completely or not at all.
package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/metrics"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/scheduler"
	"chargeops/backend/services/station-ops/internal/sessions"
	"chargeops/backend/services/station-ops/internal/status"
	"chargeops/backend/services/station-ops/internal/store"
)

// Config tunes the coordinator.
type Config struct {
	RestartDelay time.Duration
	OpTimeout    time.Duration
}

// Coordinator runs control commands.
type Coordinator struct {
	store  store.Store
	pub    events.Publisher
	sched  *scheduler.Deferred
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

// WithIDGenerator overrides issue id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// NewCoordinator builds the control coordinator. pub may be nil.
func NewCoordinator(st store.Store, pub events.Publisher, sched *scheduler.Deferred, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	c := &Coordinator{
		store:  st,
		pub:    pub,
		sched:  sched,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

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

// SlotResult reports a single-slot override.
type SlotResult struct {
	SlotID            string            `json:"slot_id"`
	PreviousStatus    models.SlotStatus `json:"previous_status"`
	NewStatus         models.SlotStatus `json:"new_status"`
	AffectedBookingID string            `json:"affected_booking_id,omitempty"`
	IssueID           string            `json:"issue_id,omitempty"`
}

// ResumeResult reports a slot returned to service.
type ResumeResult struct {
	SlotResult
	ResolvedIssues int `json:"resolved_issues"`
}

func requireSlotAndActor(slotID, actorID string) error {
	if strings.TrimSpace(slotID) == "" {
		return apperr.Validation("slot id is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return apperr.Validation("actor id is required")
	}
	return nil
}

// lockSlotWithPost locks the station and the slot and returns the slot with its post.
func lockSlotWithPost(ctx context.Context, tx store.Tx, slotID string) (models.Slot, models.Post, error) {
	scope, err := sessions.LockSlotScope(ctx, tx, slotID)
	if err != nil {
		return models.Slot{}, models.Post{}, err
	}
	return scope.Slot, scope.Post, nil
}

// EmergencyStop takes a slot out of service immediately, interrupting any session bound to it.
func (c *Coordinator) EmergencyStop(ctx context.Context, slotID, actorID, reason string) (SlotResult, error) {
	if err := requireSlotAndActor(slotID, actorID); err != nil {
		return SlotResult{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "emergency stop"
	}

	var res SlotResult
	err := c.run(ctx, "emergency_stop", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		slot, post, err := lockSlotWithPost(ctx, tx, slotID)
		if err != nil {
			return err
		}
		now := c.now().UTC()
		res = SlotResult{SlotID: slot.ID, PreviousStatus: slot.Status, NewStatus: models.SlotUnavailable}

		var customerID string
		b, ok, err := tx.ActiveBookingForSlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		if ok {
			interrupted, ev, err := sessions.Detach(ctx, tx, b, models.EventInterrupt, now, reason, actorID)
			if err != nil {
				return err
			}
			*batch = append(*batch, ev)
			res.AffectedBookingID = interrupted.ID
			customerID = interrupted.UserID
		}

		prev := slot.Status
		slot.Status = models.SlotUnavailable
		slot.CurrentBookingID = ""
		slot.UpdatedAt = now
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if err := sessions.RefreshPostCounters(ctx, tx, post.ID, now); err != nil {
			return err
		}
		*batch = append(*batch, sessions.SlotEvent(slot, post.StationID, prev, actorID, now))

		issue := models.Issue{
			ID:          c.newID(),
			StationID:   post.StationID,
			PostID:      post.ID,
			SlotID:      slot.ID,
			BookingID:   res.AffectedBookingID,
			CustomerID:  customerID,
			Category:    models.IssueEmergency,
			Severity:    models.SeverityCritical,
			Status:      models.IssueInProgress,
			Title:       fmt.Sprintf("Emergency stop on connector %d", slot.ConnectorNumber),
			Description: reason,
			ReportedBy:  actorID,
			CreatedAt:   now,
		}
		if err := tx.CreateIssue(ctx, issue); err != nil {
			return err
		}
		*batch = append(*batch, issueEvent(events.IssueCreated, issue, actorID, now))
		res.IssueID = issue.ID
		return nil
	})
	if err != nil {
		return SlotResult{}, err
	}
	c.logger.Warn("emergency stop",
		zap.String("slot_id", res.SlotID),
		zap.String("actor_id", actorID),
		zap.String("booking_id", res.AffectedBookingID),
		zap.String("issue_id", res.IssueID),
	)
	return res, nil
}

// SetMaintenance puts a slot into maintenance. A charge in progress blocks it; a booking
// that has not started is cancelled.
func (c *Coordinator) SetMaintenance(ctx context.Context, slotID, actorID, reason string, estimatedHours float64) (SlotResult, error) {
	if err := requireSlotAndActor(slotID, actorID); err != nil {
		return SlotResult{}, err
	}
	if estimatedHours < 0 {
		return SlotResult{}, apperr.Validation("estimated hours must not be negative")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "scheduled maintenance"
	}

	var res SlotResult
	err := c.run(ctx, "set_maintenance", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		slot, post, err := lockSlotWithPost(ctx, tx, slotID)
		if err != nil {
			return err
		}
		now := c.now().UTC()
		res = SlotResult{SlotID: slot.ID, PreviousStatus: slot.Status, NewStatus: models.SlotMaintenance}

		b, ok, err := tx.ActiveBookingForSlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		if ok {
			if b.Status == models.BookingInProgress {
				return apperr.InvalidState("slot %s has session %s in progress", slot.ID, b.ID)
			}
			cancelled, ev, err := sessions.Detach(ctx, tx, b, models.EventCancel, now, "slot maintenance: "+reason, actorID)
			if err != nil {
				return err
			}
			*batch = append(*batch, ev)
			res.AffectedBookingID = cancelled.ID
		}

		prev := slot.Status
		slot.Status = models.SlotMaintenance
		slot.CurrentBookingID = ""
		slot.UpdatedAt = now
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if err := sessions.RefreshPostCounters(ctx, tx, post.ID, now); err != nil {
			return err
		}
		*batch = append(*batch, sessions.SlotEvent(slot, post.StationID, prev, actorID, now))

		eta := now.Add(time.Duration(estimatedHours * float64(time.Hour)))
		issue := models.Issue{
			ID:                  c.newID(),
			StationID:           post.StationID,
			PostID:              post.ID,
			SlotID:              slot.ID,
			BookingID:           res.AffectedBookingID,
			Category:            models.IssueMaintenance,
			Severity:            models.SeverityMedium,
			Status:              models.IssueOpen,
			Title:               fmt.Sprintf("Maintenance on connector %d", slot.ConnectorNumber),
			Description:         reason,
			ReportedBy:          actorID,
			EstimatedCompletion: &eta,
			CreatedAt:           now,
		}
		if err := tx.CreateIssue(ctx, issue); err != nil {
			return err
		}
		*batch = append(*batch, issueEvent(events.IssueCreated, issue, actorID, now))
		res.IssueID = issue.ID
		return nil
	})
	if err != nil {
		return SlotResult{}, err
	}
	c.logger.Info("slot in maintenance",
		zap.String("slot_id", res.SlotID),
		zap.String("actor_id", actorID),
		zap.String("booking_id", res.AffectedBookingID),
	)
	return res, nil
}

// ResumeFromMaintenance returns a slot in maintenance to service and resolves its open
// maintenance issues.
func (c *Coordinator) ResumeFromMaintenance(ctx context.Context, slotID, actorID string) (ResumeResult, error) {
	if err := requireSlotAndActor(slotID, actorID); err != nil {
		return ResumeResult{}, err
	}

	var res ResumeResult
	err := c.run(ctx, "resume_from_maintenance", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		slot, post, err := lockSlotWithPost(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if !status.Is(string(slot.Status), status.Maintenance) {
			return apperr.InvalidState("slot %s is %s, not maintenance", slot.ID, slot.Status)
		}
		now := c.now().UTC()

		prev := slot.Status
		slot.Status = models.SlotAvailable
		slot.UpdatedAt = now
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if err := sessions.RefreshPostCounters(ctx, tx, post.ID, now); err != nil {
			return err
		}
		*batch = append(*batch, sessions.SlotEvent(slot, post.StationID, prev, actorID, now))

		resolved, err := tx.ResolveIssues(ctx, models.IssueFilter{
			StationID: post.StationID,
			SlotID:    slot.ID,
			Category:  models.IssueMaintenance,
		}, now)
		if err != nil {
			return err
		}
		if resolved > 0 {
			*batch = append(*batch, events.Event{
				Name:       events.IssueResolved,
				OccurredAt: now,
				StationID:  post.StationID,
				PostID:     post.ID,
				SlotID:     slot.ID,
				ActorID:    actorID,
				Data:       map[string]any{"resolved": resolved, "category": string(models.IssueMaintenance)},
			})
		}

		res = ResumeResult{
			SlotResult:     SlotResult{SlotID: slot.ID, PreviousStatus: prev, NewStatus: slot.Status},
			ResolvedIssues: resolved,
		}
		return nil
	})
	if err != nil {
		return ResumeResult{}, err
	}
	c.logger.Info("slot resumed",
		zap.String("slot_id", res.SlotID),
		zap.String("actor_id", actorID),
		zap.Int("resolved_issues", res.ResolvedIssues),
	)
	return res, nil
}

func issueEvent(name events.Name, issue models.Issue, actorID string, at time.Time) events.Event {
	return events.Event{
		Name:       name,
		OccurredAt: at,
		StationID:  issue.StationID,
		PostID:     issue.PostID,
		SlotID:     issue.SlotID,
		BookingID:  issue.BookingID,
		UserID:     issue.CustomerID,
		ActorID:    actorID,
		Data: map[string]any{
			"issue_id": issue.ID,
			"category": string(issue.Category),
			"severity": string(issue.Severity),
			"status":   string(issue.Status),
		},
	}
}

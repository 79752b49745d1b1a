package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/sessions"
	"chargeops/backend/services/station-ops/internal/status"
	"chargeops/backend/services/station-ops/internal/store"
)

const systemActor = "system"

// Dispatch validates a command and routes it to the station, post or slot handler. The
// returned Result always describes the outcome; err carries the failure kind.
func (c *Coordinator) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	verb, err := cmd.validate()
	if err != nil {
		return failed(err), err
	}

	scope := Scope(status.Normalize(string(cmd.Scope)))
	if scope == "" {
		if scope, err = c.resolveScope(ctx, verb, cmd.TargetID); err != nil {
			return failed(err), err
		}
	}

	var res Result
	switch scope {
	case ScopeStation:
		res, err = c.stationCommand(ctx, verb, cmd)
	case ScopePost:
		res, err = c.postCommand(ctx, verb, cmd)
	default:
		res, err = c.slotCommand(ctx, verb, cmd)
	}
	if err != nil {
		c.logger.Warn("control command failed",
			zap.String("scope", string(scope)),
			zap.String("target_id", cmd.TargetID),
			zap.String("verb", string(verb)),
			zap.Error(err),
		)
		return failed(err), err
	}

	c.logger.Info("control command applied",
		zap.String("scope", string(scope)),
		zap.String("target_id", cmd.TargetID),
		zap.String("verb", string(verb)),
		zap.String("actor_id", cmd.ActorID),
		zap.Int("affected", res.AffectedCount),
	)
	return res, nil
}

// resolveScope infers the scope of a command sent without one.
func (c *Coordinator) resolveScope(ctx context.Context, verb Verb, targetID string) (Scope, error) {
	if verb.Station() {
		return ScopeStation, nil
	}

	var scope Scope
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetPost(ctx, targetID); err == nil {
			scope = ScopePost
			return nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if _, err := tx.GetSlot(ctx, targetID); err == nil {
			scope = ScopeSlot
			return nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.NotFound("control target", targetID)
	})
	if err != nil {
		return "", err
	}
	if scope == ScopeSlot && verb == VerbRestart {
		return "", apperr.Validation("verb %s does not apply to a slot", verb)
	}
	return scope, nil
}

func (c *Coordinator) slotCommand(ctx context.Context, verb Verb, cmd Command) (Result, error) {
	switch verb {
	case VerbStart:
		res, err := c.ResumeFromMaintenance(ctx, cmd.TargetID, cmd.ActorID)
		if err != nil {
			return Result{}, err
		}
		return succeeded(1, "slot %s resumed, %d issues resolved", res.SlotID, res.ResolvedIssues), nil
	case VerbStop:
		res, err := c.EmergencyStop(ctx, cmd.TargetID, cmd.ActorID, cmd.Reason)
		if err != nil {
			return Result{}, err
		}
		return succeeded(1, "slot %s stopped", res.SlotID), nil
	case VerbMaintenance:
		res, err := c.SetMaintenance(ctx, cmd.TargetID, cmd.ActorID, cmd.Reason, cmd.EstimatedHours)
		if err != nil {
			return Result{}, err
		}
		return succeeded(1, "slot %s in maintenance", res.SlotID), nil
	default:
		return Result{}, apperr.Validation("verb %s does not apply to a slot", verb)
	}
}

// postTargets maps per-post verbs and station bulk verbs to the post status they apply.
var postTargets = map[Verb]models.PostStatus{
	VerbStart:           models.PostAvailable,
	VerbStop:            models.PostOffline,
	VerbRestart:         models.PostRestarting,
	VerbMaintenance:     models.PostMaintenance,
	VerbEnableAll:       models.PostAvailable,
	VerbDisableAll:      models.PostOffline,
	VerbRestartAll:      models.PostRestarting,
	VerbMaintenanceMode: models.PostMaintenance,
}

var stationTargets = map[Verb]models.StationStatus{
	VerbEnableAll:       models.StationActive,
	VerbDisableAll:      models.StationInactive,
	VerbMaintenanceMode: models.StationMaintenance,
}

// takesOutOfService reports whether the verb frees every held slot on the posts it touches.
func (v Verb) takesOutOfService() bool {
	return v == VerbStop || v == VerbDisableAll
}

func (c *Coordinator) postCommand(ctx context.Context, verb Verb, cmd Command) (Result, error) {
	target, ok := postTargets[verb]
	if !ok || verb.Station() {
		return Result{}, apperr.Validation("verb %s does not apply to a post", verb)
	}

	var detached int
	err := c.run(ctx, "post_"+string(verb), func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		post, err := tx.GetPost(ctx, cmd.TargetID)
		if err != nil {
			return err
		}
		if _, err := tx.LockStation(ctx, post.StationID); err != nil {
			return err
		}
		// Re-read under the station lock so a concurrent bulk command is not overwritten.
		if post, err = tx.GetPost(ctx, cmd.TargetID); err != nil {
			return err
		}
		detached, err = c.applyToPost(ctx, tx, post, verb, target, cmd, batch)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	c.afterPostCommand(cmd.TargetID, verb)
	msg := fmt.Sprintf("post %s set to %s", cmd.TargetID, target)
	if detached > 0 {
		msg = fmt.Sprintf("%s, %d sessions ended", msg, detached)
	}
	return Result{Success: true, Message: msg, AffectedCount: 1, Errors: []string{}}, nil
}

func (c *Coordinator) stationCommand(ctx context.Context, verb Verb, cmd Command) (Result, error) {
	target, ok := postTargets[verb]
	if !ok || !verb.Station() {
		return Result{}, apperr.Validation("verb %s does not apply to a station", verb)
	}

	var (
		postIDs  []string
		detached int
	)
	err := c.run(ctx, "station_"+string(verb), func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		postIDs, detached = postIDs[:0], 0

		station, err := tx.LockStation(ctx, cmd.TargetID)
		if err != nil {
			return err
		}
		if station.DeletedAt != nil {
			return apperr.NotFound("station", cmd.TargetID)
		}
		if next, ok := stationTargets[verb]; ok && station.Status != next {
			station.Status = next
			station.UpdatedAt = c.now().UTC()
			if err := tx.UpdateStation(ctx, station); err != nil {
				return err
			}
		}

		posts, err := tx.ListPosts(ctx, station.ID)
		if err != nil {
			return err
		}
		for _, post := range posts {
			n, err := c.applyToPost(ctx, tx, post, verb, target, cmd, batch)
			if err != nil {
				return err
			}
			detached += n
			postIDs = append(postIDs, post.ID)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, id := range postIDs {
		c.afterPostCommand(id, verb)
	}
	msg := fmt.Sprintf("station %s: %d posts set to %s", cmd.TargetID, len(postIDs), target)
	if detached > 0 {
		msg = fmt.Sprintf("%s, %d sessions ended", msg, detached)
	}
	return Result{Success: true, Message: msg, AffectedCount: len(postIDs), Errors: []string{}}, nil
}

// applyToPost locks the slots of a locked station's post, frees them when the verb takes
// the post out of service and writes the post's new status and counters.
func (c *Coordinator) applyToPost(ctx context.Context, tx store.Tx, post models.Post, verb Verb, target models.PostStatus, cmd Command, batch *[]events.Event) (int, error) {
	slots, err := tx.LockPostSlots(ctx, post.ID)
	if err != nil {
		return 0, err
	}
	now := c.now().UTC()

	var detached int
	if verb.takesOutOfService() {
		reason := cmd.Reason
		if reason == "" {
			reason = fmt.Sprintf("post %s taken out of service", post.ID)
		}
		if detached, err = freeSlots(ctx, tx, post.StationID, slots, cmd.ActorID, reason, now, batch); err != nil {
			return 0, err
		}
	}
	return detached, setPostStatus(ctx, tx, post, slots, target, cmd.ActorID, now, batch)
}

// freeSlots ends the sessions bound to slots and moves held slots to maintenance. The
// slice is updated in place.
func freeSlots(ctx context.Context, tx store.Tx, stationID string, slots []models.Slot, actorID, reason string, now time.Time, batch *[]events.Event) (int, error) {
	var detached int
	for i, slot := range slots {
		b, ok, err := tx.ActiveBookingForSlot(ctx, slot.ID)
		if err != nil {
			return 0, err
		}
		if ok {
			ev := models.EventCancel
			if b.Status == models.BookingInProgress {
				ev = models.EventInterrupt
			}
			_, bookingEvent, err := sessions.Detach(ctx, tx, b, ev, now, reason, actorID)
			if err != nil {
				return 0, err
			}
			*batch = append(*batch, bookingEvent)
			detached++
		}

		if !ok && !status.Holding(string(slot.Status)) && slot.CurrentBookingID == "" {
			continue
		}
		prev := slot.Status
		slot.Status = models.SlotMaintenance
		slot.CurrentBookingID = ""
		slot.UpdatedAt = now
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return 0, err
		}
		slots[i] = slot
		*batch = append(*batch, sessions.SlotEvent(slot, stationID, prev, actorID, now))
	}
	return detached, nil
}

// setPostStatus writes the post status and refreshes its slot counters from slots.
func setPostStatus(ctx context.Context, tx store.Tx, post models.Post, slots []models.Slot, to models.PostStatus, actorID string, now time.Time, batch *[]events.Event) error {
	prev := post.Status
	post.Status = to
	sessions.CountSlots(&post, slots)
	post.UpdatedAt = now
	if err := tx.UpdatePost(ctx, post); err != nil {
		return err
	}
	if prev != to {
		*batch = append(*batch, events.Event{
			Name:       events.PostStatusChanged,
			OccurredAt: now,
			StationID:  post.StationID,
			PostID:     post.ID,
			ActorID:    actorID,
			From:       string(prev),
			To:         string(to),
		})
	}
	return nil
}

func restartKey(postID string) string {
	return "restart:" + postID
}

// afterPostCommand runs once a post command has committed. Any command on a post
// supersedes a pending restart; a restart arms a new one.
func (c *Coordinator) afterPostCommand(postID string, verb Verb) {
	if verb == VerbRestart || verb == VerbRestartAll {
		c.scheduleRestart(postID)
		return
	}
	if c.sched.Cancel(restartKey(postID)) {
		c.logger.Info("pending restart cancelled", zap.String("post_id", postID), zap.String("verb", string(verb)))
	}
}

func (c *Coordinator) scheduleRestart(postID string) {
	c.sched.Schedule(restartKey(postID), c.cfg.RestartDelay, func(ctx context.Context) {
		c.finishRestart(ctx, postID)
	})
}

// finishRestart brings a restarting post back to available. A post that left the
// restarting state in the meantime is left alone.
func (c *Coordinator) finishRestart(ctx context.Context, postID string) {
	var finished bool
	err := c.run(ctx, "finish_restart", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		finished = false
		post, err := tx.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		if _, err := tx.LockStation(ctx, post.StationID); err != nil {
			return err
		}
		if post, err = tx.GetPost(ctx, postID); err != nil {
			return err
		}
		if post.Status != models.PostRestarting {
			return nil
		}
		slots, err := tx.LockPostSlots(ctx, post.ID)
		if err != nil {
			return err
		}
		finished = true
		return setPostStatus(ctx, tx, post, slots, models.PostAvailable, systemActor, c.now().UTC(), batch)
	})
	switch {
	case err == nil && finished:
		c.logger.Info("post restart finished", zap.String("post_id", postID))
	case err == nil:
	case errors.Is(err, apperr.ErrConflict) && ctx.Err() == nil:
		c.logger.Warn("post restart contended, retrying", zap.String("post_id", postID), zap.Error(err))
		c.scheduleRestart(postID)
	default:
		c.logger.Error("post restart failed", zap.String("post_id", postID), zap.Error(err))
	}
}

func succeeded(affected int, format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...), AffectedCount: affected, Errors: []string{}}
}

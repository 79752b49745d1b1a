package sessions

import (
	"context"
	"time"

	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/status"
	"chargeops/backend/services/station-ops/internal/store"
)

// SlotScope is a locked slot together with its post and station as read under the locks.
type SlotScope struct {
	Slot    models.Slot
	Post    models.Post
	Station models.Station
}

// LockSlotScope takes the station lock of the slot's post and then the slot lock. Every
// writer of a slot goes through the station first, so single-slot operations serialize with
// bulk commands and post counters can be refreshed without further locking.
func LockSlotScope(ctx context.Context, tx store.Tx, slotID string) (SlotScope, error) {
	slot, err := tx.GetSlot(ctx, slotID)
	if err != nil {
		return SlotScope{}, err
	}
	post, err := tx.GetPost(ctx, slot.PostID)
	if err != nil {
		return SlotScope{}, err
	}
	station, err := tx.LockStation(ctx, post.StationID)
	if err != nil {
		return SlotScope{}, err
	}
	if slot, err = tx.LockSlot(ctx, slotID); err != nil {
		return SlotScope{}, err
	}
	if post, err = tx.GetPost(ctx, slot.PostID); err != nil {
		return SlotScope{}, err
	}
	return SlotScope{Slot: slot, Post: post, Station: station}, nil
}

// CountSlots sets the slot counters of post from slots.
func CountSlots(post *models.Post, slots []models.Slot) {
	post.TotalSlots = len(slots)
	post.AvailableSlots = 0
	for _, s := range slots {
		if status.Is(string(s.Status), status.Available) {
			post.AvailableSlots++
		}
	}
}

// RefreshPostCounters recounts the slots of a post after one of them changed. The caller
// holds the station lock.
func RefreshPostCounters(ctx context.Context, tx store.Tx, postID string, now time.Time) error {
	post, err := tx.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	slots, err := tx.LockPostSlots(ctx, postID)
	if err != nil {
		return err
	}
	total, available := post.TotalSlots, post.AvailableSlots
	CountSlots(&post, slots)
	if post.TotalSlots == total && post.AvailableSlots == available {
		return nil
	}
	post.UpdatedAt = now
	return tx.UpdatePost(ctx, post)
}

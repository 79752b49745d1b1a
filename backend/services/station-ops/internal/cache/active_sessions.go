package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chargeops/backend/services/station-ops/internal/events"
)

// ActiveSession is the quick-access view of a booking that holds a slot.
type ActiveSession struct {
	BookingID string    `json:"booking_id"`
	StationID string    `json:"station_id"`
	SlotID    string    `json:"slot_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveSessions projects booking events into redis.
type ActiveSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewActiveSessions returns redis-backed projection.
func NewActiveSessions(client *redis.Client, ttl time.Duration) *ActiveSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ActiveSessions{client: client, ttl: ttl}
}

func activeKey(bookingID string) string {
	return fmt.Sprintf("sessions:active:%s", bookingID)
}

// Save caches session.
func (s *ActiveSessions) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, activeKey(session.BookingID), data, s.ttl).Err()
}

// Get returns cached session or ErrSessionNotCached.
func (s *ActiveSessions) Get(ctx context.Context, bookingID string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, activeKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotCached, bookingID)
	}
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes cached session.
func (s *ActiveSessions) Delete(ctx context.Context, bookingID string) error {
	return s.client.Del(ctx, activeKey(bookingID)).Err()
}

// ErrSessionNotCached is returned by Get on a miss.
var ErrSessionNotCached = errors.New("cache: session not cached")

// Publish implements events.Publisher.
func (s *ActiveSessions) Publish(ctx context.Context, event events.Event) error {
	session, keep, ok := projectSession(event)
	if !ok {
		return nil
	}
	if keep {
		return s.Save(ctx, session)
	}
	return s.Delete(ctx, session.BookingID)
}

// projectSession maps a booking event to the projection. keep is false when the booking
// released its slot.
func projectSession(event events.Event) (session ActiveSession, keep bool, ok bool) {
	if event.BookingID == "" {
		return ActiveSession{}, false, false
	}
	session = ActiveSession{
		BookingID: event.BookingID,
		StationID: event.StationID,
		SlotID:    event.SlotID,
		UserID:    event.UserID,
		Status:    event.To,
		UpdatedAt: event.OccurredAt,
	}
	switch event.Name {
	case events.BookingCreated, events.BookingStarted:
		return session, true, true
	case events.BookingCompleted, events.BookingCancelled, events.BookingInterrupted:
		return session, false, true
	default:
		return ActiveSession{}, false, false
	}
}

// Package memory is an in-process store.Store. Writes are staged per transaction and applied
// atomically on commit; row locks are per-key semaphores held until the transaction ends.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/lock"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

const defaultLockWait = 2 * time.Second

// Store keeps committed rows in maps guarded by mu.
type Store struct {
	mu       sync.RWMutex
	stations map[string]models.Station
	posts    map[string]models.Post
	slots    map[string]models.Slot
	bookings map[string]models.Booking
	invoices map[string]models.Invoice
	issues   map[string]models.Issue
	tokens   map[string]models.QRToken

	locks    *lock.Keyed
	lockWait time.Duration

	faultMu     sync.Mutex
	commitFault func() error
}

// Option customizes a Store.
type Option func(*Store)

// WithLockWait bounds how long a transaction waits for a row lock.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		stations: make(map[string]models.Station),
		posts:    make(map[string]models.Post),
		slots:    make(map[string]models.Slot),
		bookings: make(map[string]models.Booking),
		invoices: make(map[string]models.Invoice),
		issues:   make(map[string]models.Issue),
		tokens:   make(map[string]models.QRToken),
		locks:    lock.NewKeyed(),
		lockWait: defaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// FailCommits installs a hook consulted before every commit. A non-nil error aborts the
// commit and nothing is applied. Pass nil to clear it.
func (s *Store) FailCommits(fn func() error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.commitFault = fn
}

func (s *Store) fault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.commitFault == nil {
		return nil
	}
	return s.commitFault()
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := newTx(s)
	defer t.releaseAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Conflict("transaction aborted: %v", err)
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConstraints(t); err != nil {
		return err
	}
	if err := s.fault(); err != nil {
		return apperr.Storage("commit", err)
	}

	for id, v := range t.stations {
		s.stations[id] = v
	}
	for id, v := range t.posts {
		s.posts[id] = v
	}
	for id, v := range t.slots {
		s.slots[id] = v
	}
	for id, v := range t.bookings {
		s.bookings[id] = v
	}
	for id, v := range t.invoices {
		s.invoices[id] = v
	}
	for id, v := range t.issues {
		s.issues[id] = v
	}
	for id, v := range t.tokens {
		s.tokens[id] = v
	}
	return nil
}

// checkConstraints enforces the unique indexes: one active booking per slot, one invoice
// per booking and one token per digest. Caller holds mu.
func (s *Store) checkConstraints(t *tx) error {
	for id, b := range t.bookings {
		if !b.Status.Active() {
			continue
		}
		for otherID, other := range s.bookings {
			if otherID == id || other.SlotID != b.SlotID {
				continue
			}
			if staged, ok := t.bookings[otherID]; ok {
				other = staged
			}
			if other.Status.Active() {
				return apperr.Conflict("slot %s already has active booking %s", b.SlotID, otherID)
			}
		}
		for otherID, other := range t.bookings {
			if otherID != id && other.SlotID == b.SlotID && other.Status.Active() {
				return apperr.Conflict("slot %s already has active booking %s", b.SlotID, otherID)
			}
		}
	}
	for id, inv := range t.invoices {
		for otherID, other := range s.invoices {
			if otherID != id && other.BookingID == inv.BookingID {
				return apperr.Conflict("booking %s already invoiced", inv.BookingID)
			}
		}
	}
	for id, tok := range t.tokens {
		for otherID, other := range s.tokens {
			if otherID != id && other.Digest == tok.Digest {
				return apperr.Conflict("qr token digest already registered")
			}
		}
	}
	return nil
}

// StationSnapshot implements store.Store.
func (s *Store) StationSnapshot(_ context.Context, stationID string) (models.StationAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	station, ok := s.stations[stationID]
	if !ok {
		return models.StationAggregate{}, apperr.NotFound("station", stationID)
	}
	agg := models.StationAggregate{Station: station}
	for _, p := range sortedPosts(s.posts, stationID) {
		agg.Posts = append(agg.Posts, models.PostWithSlots{Post: p, Slots: sortedSlots(s.slots, p.ID)})
	}
	return agg, nil
}

// ListStationIDs implements store.Store.
func (s *Store) ListStationIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.stations))
	for id, st := range s.stations {
		if st.DeletedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PutStation seeds or replaces a station outside any transaction.
func (s *Store) PutStation(station models.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[station.ID] = station
}

// PutPost seeds or replaces a post.
func (s *Store) PutPost(post models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
}

// PutSlot seeds or replaces a slot.
func (s *Store) PutSlot(slot models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

// PutBooking seeds or replaces a booking.
func (s *Store) PutBooking(booking models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[booking.ID] = booking
}

// Station returns the committed station.
func (s *Store) Station(id string) (models.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.stations[id]
	return v, ok
}

// Post returns the committed post.
func (s *Store) Post(id string) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.posts[id]
	return v, ok
}

// Slot returns the committed slot.
func (s *Store) Slot(id string) (models.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[id]
	return v, ok
}

// Booking returns the committed booking.
func (s *Store) Booking(id string) (models.Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bookings[id]
	return v, ok
}

// Bookings returns every committed booking ordered by creation time.
func (s *Store) Bookings() []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Invoices returns every committed invoice.
func (s *Store) Invoices() []models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Issues returns every committed issue ordered by creation time.
func (s *Store) Issues() []models.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Issue, 0, len(s.issues))
	for _, is := range s.issues {
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// QRToken returns the committed token.
func (s *Store) QRToken(id string) (models.QRToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tokens[id]
	return v, ok
}

func sortedPosts(posts map[string]models.Post, stationID string) []models.Post {
	var out []models.Post
	for _, p := range posts {
		if p.StationID == stationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedSlots(slots map[string]models.Slot, postID string) []models.Slot {
	var out []models.Slot
	for _, sl := range slots {
		if sl.PostID == postID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectorNumber != out[j].ConnectorNumber {
			return out[i].ConnectorNumber < out[j].ConnectorNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func lockError(entity, id string, err error) error {
	if errors.Is(err, lock.ErrTimeout) {
		return apperr.Conflict("%s %s is locked by another operation", entity, id)
	}
	return apperr.Conflict("%s %s lock: %v", entity, id, err)
}

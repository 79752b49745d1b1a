package memory

import (
	"context"
	"sort"
	"time"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

// tx stages writes until commit. Reads see staged rows first.
type tx struct {
	s    *Store
	held map[string]func()

	stations map[string]models.Station
	posts    map[string]models.Post
	slots    map[string]models.Slot
	bookings map[string]models.Booking
	invoices map[string]models.Invoice
	issues   map[string]models.Issue
	tokens   map[string]models.QRToken
}

var _ store.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		held:     make(map[string]func()),
		stations: make(map[string]models.Station),
		posts:    make(map[string]models.Post),
		slots:    make(map[string]models.Slot),
		bookings: make(map[string]models.Booking),
		invoices: make(map[string]models.Invoice),
		issues:   make(map[string]models.Issue),
		tokens:   make(map[string]models.QRToken),
	}
}

func (t *tx) acquire(ctx context.Context, entity, id string) error {
	key := entity + ":" + id
	if _, ok := t.held[key]; ok {
		return nil
	}
	release, err := t.s.locks.Acquire(ctx, key, t.s.lockWait)
	if err != nil {
		return lockError(entity, id, err)
	}
	t.held[key] = release
	return nil
}

func (t *tx) releaseAll() {
	for key, release := range t.held {
		release()
		delete(t.held, key)
	}
}

func (t *tx) GetStation(_ context.Context, id string) (models.Station, error) {
	if v, ok := t.stations[id]; ok {
		return v, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := t.s.stations[id]
	if !ok {
		return models.Station{}, apperr.NotFound("station", id)
	}
	return v, nil
}

func (t *tx) LockStation(ctx context.Context, id string) (models.Station, error) {
	if _, err := t.GetStation(ctx, id); err != nil {
		return models.Station{}, err
	}
	if err := t.acquire(ctx, "station", id); err != nil {
		return models.Station{}, err
	}
	return t.GetStation(ctx, id)
}

func (t *tx) UpdateStation(_ context.Context, station models.Station) error {
	t.stations[station.ID] = station
	return nil
}

func (t *tx) GetPost(_ context.Context, id string) (models.Post, error) {
	if v, ok := t.posts[id]; ok {
		return v, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := t.s.posts[id]
	if !ok {
		return models.Post{}, apperr.NotFound("post", id)
	}
	return v, nil
}

func (t *tx) ListPosts(_ context.Context, stationID string) ([]models.Post, error) {
	t.s.mu.RLock()
	posts := sortedPosts(t.s.posts, stationID)
	t.s.mu.RUnlock()
	for i, p := range posts {
		if staged, ok := t.posts[p.ID]; ok {
			posts[i] = staged
		}
	}
	return posts, nil
}

func (t *tx) UpdatePost(_ context.Context, post models.Post) error {
	t.posts[post.ID] = post
	return nil
}

func (t *tx) GetSlot(_ context.Context, id string) (models.Slot, error) {
	if v, ok := t.slots[id]; ok {
		return v, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := t.s.slots[id]
	if !ok {
		return models.Slot{}, apperr.NotFound("slot", id)
	}
	return v, nil
}

func (t *tx) LockSlot(ctx context.Context, id string) (models.Slot, error) {
	if _, err := t.GetSlot(ctx, id); err != nil {
		return models.Slot{}, err
	}
	if err := t.acquire(ctx, "slot", id); err != nil {
		return models.Slot{}, err
	}
	return t.GetSlot(ctx, id)
}

func (t *tx) LockPostSlots(ctx context.Context, postID string) ([]models.Slot, error) {
	t.s.mu.RLock()
	committed := sortedSlots(t.s.slots, postID)
	t.s.mu.RUnlock()

	ids := make([]string, 0, len(committed))
	for _, sl := range committed {
		ids = append(ids, sl.ID)
	}
	sort.Strings(ids)

	out := make([]models.Slot, 0, len(ids))
	for _, id := range ids {
		sl, err := t.LockSlot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

func (t *tx) UpdateSlot(_ context.Context, slot models.Slot) error {
	t.slots[slot.ID] = slot
	return nil
}

func (t *tx) GetBooking(_ context.Context, id string) (models.Booking, error) {
	if v, ok := t.bookings[id]; ok {
		return v, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := t.s.bookings[id]
	if !ok {
		return models.Booking{}, apperr.NotFound("booking", id)
	}
	return v, nil
}

func (t *tx) ActiveBookingForSlot(_ context.Context, slotID string) (models.Booking, bool, error) {
	for _, b := range t.bookings {
		if b.SlotID == slotID && b.Status.Active() {
			return b, true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, b := range t.s.bookings {
		if _, staged := t.bookings[id]; staged {
			continue
		}
		if b.SlotID == slotID && b.Status.Active() {
			return b, true, nil
		}
	}
	return models.Booking{}, false, nil
}

func (t *tx) CreateBooking(ctx context.Context, booking models.Booking) error {
	if _, err := t.GetBooking(ctx, booking.ID); err == nil {
		return apperr.Conflict("booking %s already exists", booking.ID)
	}
	t.bookings[booking.ID] = booking
	return nil
}

func (t *tx) UpdateBooking(ctx context.Context, booking models.Booking) error {
	if _, err := t.GetBooking(ctx, booking.ID); err != nil {
		return err
	}
	t.bookings[booking.ID] = booking
	return nil
}

func (t *tx) CreateInvoice(_ context.Context, invoice models.Invoice) error {
	for _, inv := range t.invoices {
		if inv.BookingID == invoice.BookingID {
			return apperr.Conflict("booking %s already invoiced", invoice.BookingID)
		}
	}
	t.invoices[invoice.ID] = invoice
	return nil
}

func (t *tx) CreateIssue(_ context.Context, issue models.Issue) error {
	t.issues[issue.ID] = issue
	return nil
}

func (t *tx) ResolveIssues(_ context.Context, filter models.IssueFilter, at time.Time) (int, error) {
	merged := make(map[string]models.Issue)
	t.s.mu.RLock()
	for id, is := range t.s.issues {
		merged[id] = is
	}
	t.s.mu.RUnlock()
	for id, is := range t.issues {
		merged[id] = is
	}

	resolved := 0
	for id, is := range merged {
		if !filter.Matches(is) {
			continue
		}
		resolvedAt := at
		is.Status = models.IssueResolved
		is.ResolvedAt = &resolvedAt
		t.issues[id] = is
		resolved++
	}
	return resolved, nil
}

func (t *tx) CreateQRToken(_ context.Context, token models.QRToken) error {
	t.tokens[token.ID] = token
	return nil
}

func (t *tx) LockQRTokenByDigest(ctx context.Context, digest string) (models.QRToken, error) {
	id, ok := t.tokenIDByDigest(digest)
	if !ok {
		return models.QRToken{}, apperr.NotFound("qr token", "")
	}
	if err := t.acquire(ctx, "qr", id); err != nil {
		return models.QRToken{}, err
	}
	if v, ok := t.tokens[id]; ok {
		return v, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.tokens[id], nil
}

func (t *tx) tokenIDByDigest(digest string) (string, bool) {
	for id, tok := range t.tokens {
		if tok.Digest == digest {
			return id, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, tok := range t.s.tokens {
		if tok.Digest == digest {
			return id, true
		}
	}
	return "", false
}

func (t *tx) UpdateQRToken(_ context.Context, token models.QRToken) error {
	t.tokens[token.ID] = token
	return nil
}

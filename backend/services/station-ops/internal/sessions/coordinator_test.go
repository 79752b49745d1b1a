package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/repository/memory"
)

type fixture struct {
	store *memory.Store
	rec   *events.Recorder
	coord *Coordinator
	now   time.Time
}

func sequentialIDs() func() string {
	var n int64
	return func() string { return fmt.Sprintf("id-%03d", atomic.AddInt64(&n, 1)) }
}

// 09:00 in the reference zone.
var defaultNow = time.Date(2026, 3, 10, 9, 0, 0, 0, ReferenceZone)

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	st := memory.New(memory.WithLockWait(200 * time.Millisecond))
	st.PutStation(models.Station{ID: "st-1", Status: models.StationActive})
	st.PutPost(models.Post{ID: "post-1", StationID: "st-1", Status: models.PostAvailable, RatedPowerKW: 50, TotalSlots: 2, AvailableSlots: 2})
	st.PutSlot(models.Slot{ID: "slot-1", PostID: "post-1", ConnectorNumber: 1, Status: models.SlotAvailable})
	st.PutSlot(models.Slot{ID: "slot-2", PostID: "post-1", ConnectorNumber: 2, Status: models.SlotAvailable})

	f := &fixture{store: st, rec: &events.Recorder{}, now: now}
	f.coord = NewCoordinator(st, f.rec, Config{TaxRate: 0.1, DefaultUnitPrice: 2, Currency: "VND"}, zap.NewNop(),
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(sequentialIDs()),
	)
	return f
}

func (f *fixture) request(slotID string) CreateRequest {
	return CreateRequest{UserID: "user-1", VehicleID: "car-1", SlotID: slotID, StationID: "st-1"}
}

func (f *fixture) slot(t *testing.T, id string) models.Slot {
	t.Helper()
	s, ok := f.store.Slot(id)
	require.True(t, ok)
	return s
}

func (f *fixture) booking(t *testing.T, id string) models.Booking {
	t.Helper()
	b, ok := f.store.Booking(id)
	require.True(t, ok)
	return b
}

// counters returns the stored slot counters of post-1 and asserts they match its slots.
func (f *fixture) counters(t *testing.T) (total, available int) {
	t.Helper()
	agg, err := f.store.StationSnapshot(context.Background(), "st-1")
	require.NoError(t, err)
	for _, p := range agg.Posts {
		free := 0
		for _, s := range p.Slots {
			if s.Status == models.SlotAvailable {
				free++
			}
		}
		require.Equal(t, len(p.Slots), p.Post.TotalSlots, "total slots of %s", p.Post.ID)
		require.Equal(t, free, p.Post.AvailableSlots, "available slots of %s", p.Post.ID)
		if p.Post.ID == "post-1" {
			total, available = p.Post.TotalSlots, p.Post.AvailableSlots
		}
	}
	return total, available
}

func TestCreateSessionRejectsTomorrow(t *testing.T) {
	f := newFixture(t, defaultNow)
	req := f.request("slot-1")
	start := defaultNow.Add(24 * time.Hour)
	req.ScheduledStart = &start

	_, err := f.coord.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "must be today")
	assert.Empty(t, f.store.Bookings())
}

func TestCreateSessionRejectsShortLead(t *testing.T) {
	f := newFixture(t, defaultNow)
	req := f.request("slot-1")
	start := defaultNow.Add(10 * time.Minute)
	req.ScheduledStart = &start

	_, err := f.coord.CreateSession(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "at least 30 minutes ahead")
	assert.Equal(t, models.SlotAvailable, f.slot(t, "slot-1").Status)
}

func TestCreateSessionUsesReferenceZoneDay(t *testing.T) {
	// 23:50 in UTC+7 is still 16:50 of the same UTC day.
	now := time.Date(2026, 3, 10, 16, 50, 0, 0, time.UTC)
	f := newFixture(t, now)
	req := f.request("slot-1")
	start := now.Add(40 * time.Minute)
	req.ScheduledStart = &start

	_, err := f.coord.CreateSession(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "must be today")
}

func TestCreateSessionScheduled(t *testing.T) {
	f := newFixture(t, defaultNow)
	req := f.request("slot-1")
	start := defaultNow.Add(45 * time.Minute)
	soc := 80.0
	req.ScheduledStart = &start
	req.TargetSOC = &soc

	id, err := f.coord.CreateSession(context.Background(), req)
	require.NoError(t, err)

	b := f.booking(t, id)
	assert.Equal(t, models.BookingScheduled, b.Status)
	assert.Equal(t, models.SchedulingScheduled, b.SchedulingType)
	assert.Equal(t, "st-1", b.StationID)
	require.NotNil(t, b.ScheduledStartTime)
	assert.True(t, b.ScheduledStartTime.Equal(start))

	slot := f.slot(t, "slot-1")
	assert.Equal(t, models.SlotReserved, slot.Status)
	assert.Equal(t, id, slot.CurrentBookingID)
	assert.Equal(t, []events.Name{events.BookingCreated, events.SlotStatusChanged}, f.rec.Names())
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, defaultNow)
	zero, over := 0.0, 101.0
	negative := -5

	cases := map[string]func(r *CreateRequest){
		"missing user":       func(r *CreateRequest) { r.UserID = " " },
		"missing vehicle":    func(r *CreateRequest) { r.VehicleID = "" },
		"zero target soc":    func(r *CreateRequest) { r.TargetSOC = &zero },
		"target soc over":    func(r *CreateRequest) { r.TargetSOC = &over },
		"negative duration":  func(r *CreateRequest) { r.EstimatedDurationMinutes = &negative },
		"scheduled no start": func(r *CreateRequest) { r.SchedulingType = models.SchedulingScheduled },
		"qr via create":      func(r *CreateRequest) { r.SchedulingType = models.SchedulingQRImmediate },
		"unknown type":       func(r *CreateRequest) { r.SchedulingType = "later" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.request("slot-1")
			mutate(&req)
			_, err := f.coord.CreateSession(context.Background(), req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateSessionEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("missing slot", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		_, err := f.coord.CreateSession(ctx, f.request("nope"))
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("slot taken", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		_, err := f.coord.CreateSession(ctx, f.request("slot-1"))
		require.NoError(t, err)
		_, err = f.coord.CreateSession(ctx, f.request("slot-1"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("wrong station", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		req := f.request("slot-1")
		req.StationID = "st-2"
		_, err := f.coord.CreateSession(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("station inactive", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		f.store.PutStation(models.Station{ID: "st-1", Status: models.StationInactive})
		_, err := f.coord.CreateSession(ctx, f.request("slot-1"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("station deleted", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		deleted := defaultNow
		f.store.PutStation(models.Station{ID: "st-1", Status: models.StationActive, DeletedAt: &deleted})
		_, err := f.coord.CreateSession(ctx, f.request("slot-1"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("post in maintenance", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		f.store.PutPost(models.Post{ID: "post-1", StationID: "st-1", Status: models.PostMaintenance})
		_, err := f.coord.CreateSession(ctx, f.request("slot-1"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("slot status synonym", func(t *testing.T) {
		f := newFixture(t, defaultNow)
		f.store.PutSlot(models.Slot{ID: "slot-1", PostID: "post-1", Status: "BUSY"})
		_, err := f.coord.CreateSession(ctx, f.request("slot-1"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})
}

func TestSessionHappyPath(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()

	id, err := f.coord.CreateSession(ctx, f.request("slot-1"))
	require.NoError(t, err)

	started, err := f.coord.StartSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingInProgress, started.Status)
	require.NotNil(t, started.ActualStartTime)
	assert.Equal(t, models.SlotCharging, f.slot(t, "slot-1").Status)

	_, err = f.coord.StartSession(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	soc := 92.5
	done, inv, err := f.coord.CompleteSession(ctx, id, CompleteInput{FinalSOC: &soc, TotalEnergyKWh: 10.5, UnitPrice: 3500})
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, done.Status)
	require.NotNil(t, done.ActualEndTime)
	assert.Equal(t, 92.5, *done.FinalSOC)

	assert.Equal(t, id, inv.BookingID)
	assert.Equal(t, 36750.0, inv.Subtotal)
	assert.Equal(t, 3675.0, inv.Tax)
	assert.Equal(t, 40425.0, inv.Total)
	assert.Equal(t, "VND", inv.Currency)
	assert.Regexp(t, `^INV-20260310-[A-Z0-9]+$`, inv.Number)

	slot := f.slot(t, "slot-1")
	assert.Equal(t, models.SlotAvailable, slot.Status)
	assert.Empty(t, slot.CurrentBookingID)
	assert.Len(t, f.store.Invoices(), 1)

	_, _, err = f.coord.CompleteSession(ctx, id, CompleteInput{TotalEnergyKWh: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Len(t, f.store.Invoices(), 1, "invoice is created exactly once")

	assert.Equal(t, []events.Name{
		events.BookingCreated, events.SlotStatusChanged,
		events.BookingStarted, events.SlotStatusChanged,
		events.BookingCompleted, events.SlotStatusChanged, events.InvoiceCreated,
	}, f.rec.Names())
}

func TestCompleteSessionRequiresStart(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()
	id, err := f.coord.CreateSession(ctx, f.request("slot-1"))
	require.NoError(t, err)

	_, _, err = f.coord.CompleteSession(ctx, id, CompleteInput{TotalEnergyKWh: 3})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Empty(t, f.store.Invoices())
	assert.Equal(t, models.SlotReserved, f.slot(t, "slot-1").Status)
}

func TestCompleteSessionDefaultTariff(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()
	id, _ := f.coord.CreateSession(ctx, f.request("slot-1"))
	_, err := f.coord.StartSession(ctx, id)
	require.NoError(t, err)

	_, inv, err := f.coord.CompleteSession(ctx, id, CompleteInput{TotalEnergyKWh: 7.333, UnitPrice: 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, inv.UnitPrice)
	assert.Equal(t, 14.67, inv.Subtotal)
	assert.Equal(t, 1.47, inv.Tax)
	assert.Equal(t, 16.14, inv.Total)
}

func TestCompleteSessionValidation(t *testing.T) {
	f := newFixture(t, defaultNow)
	bad := 120.0
	_, _, err := f.coord.CompleteSession(context.Background(), "whatever", CompleteInput{FinalSOC: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.coord.CompleteSession(context.Background(), "whatever", CompleteInput{TotalEnergyKWh: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.coord.CompleteSession(context.Background(), "missing", CompleteInput{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelSession(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()
	id, err := f.coord.CreateSession(ctx, f.request("slot-1"))
	require.NoError(t, err)

	b, err := f.coord.CancelSession(ctx, id, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Equal(t, "changed plans", b.CancelReason)
	assert.Nil(t, b.ActualEndTime, "never started")

	slot := f.slot(t, "slot-1")
	assert.Equal(t, models.SlotAvailable, slot.Status)
	assert.Empty(t, slot.CurrentBookingID)

	_, err = f.coord.CancelSession(ctx, id, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = f.coord.CancelSession(ctx, "missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.coord.CancelSession(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCancelInProgressSession(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()
	id, _ := f.coord.CreateSession(ctx, f.request("slot-1"))
	_, err := f.coord.StartSession(ctx, id)
	require.NoError(t, err)

	b, err := f.coord.CancelSession(ctx, id, "")
	require.NoError(t, err)
	require.NotNil(t, b.ActualEndTime)
	assert.Equal(t, models.SlotAvailable, f.slot(t, "slot-1").Status)
}

func TestCancelKeepsControlOverride(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()
	id, _ := f.coord.CreateSession(ctx, f.request("slot-1"))

	slot := f.slot(t, "slot-1")
	slot.Status = models.SlotMaintenance
	f.store.PutSlot(slot)

	_, err := f.coord.CancelSession(ctx, id, "")
	require.NoError(t, err)
	slot = f.slot(t, "slot-1")
	assert.Equal(t, models.SlotMaintenance, slot.Status)
	assert.Empty(t, slot.CurrentBookingID)
}

func TestCommitFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, defaultNow)
	f.store.FailCommits(func() error { return errors.New("connection reset") })

	_, err := f.coord.CreateSession(context.Background(), f.request("slot-1"))
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Empty(t, f.store.Bookings())
	assert.Equal(t, models.SlotAvailable, f.slot(t, "slot-1").Status)
	assert.Empty(t, f.rec.Events(), "nothing is published before commit")
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		wins      int32
		conflicts int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.request("slot-1")
			req.UserID = fmt.Sprintf("user-%d", i)
			_, err := f.coord.CreateSession(ctx, req)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, apperr.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(15), conflicts)

	active := 0
	for _, b := range f.store.Bookings() {
		if b.Status.Active() {
			active++
			assert.Equal(t, b.ID, f.slot(t, "slot-1").CurrentBookingID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestPostCountersFollowSlots(t *testing.T) {
	f := newFixture(t, defaultNow)
	ctx := context.Background()

	first, err := f.coord.CreateSession(ctx, f.request("slot-1"))
	require.NoError(t, err)
	_, available := f.counters(t)
	assert.Equal(t, 1, available)

	_, err = f.coord.StartSession(ctx, first)
	require.NoError(t, err)
	_, available = f.counters(t)
	assert.Equal(t, 1, available)

	second, err := f.coord.CreateSession(ctx, f.request("slot-2"))
	require.NoError(t, err)
	total, available := f.counters(t)
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, available)

	_, err = f.coord.CancelSession(ctx, second, "")
	require.NoError(t, err)
	_, available = f.counters(t)
	assert.Equal(t, 1, available)

	_, _, err = f.coord.CompleteSession(ctx, first, CompleteInput{TotalEnergyKWh: 1})
	require.NoError(t, err)
	_, available = f.counters(t)
	assert.Equal(t, 2, available)

	payload, _, err := f.coord.IssueQRToken(ctx, "st-1", "slot-2", 0)
	require.NoError(t, err)
	_, err = f.coord.ScanAndBook(ctx, payload, "user-3", "car-3")
	require.NoError(t, err)
	_, available = f.counters(t)
	assert.Equal(t, 1, available)
}

func TestStartSessionRequiresOperationalPost(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(f *fixture){
		"station in maintenance": func(f *fixture) {
			f.store.PutStation(models.Station{ID: "st-1", Status: models.StationMaintenance})
		},
		"station inactive": func(f *fixture) {
			f.store.PutStation(models.Station{ID: "st-1", Status: models.StationInactive})
		},
		"post restarting": func(f *fixture) {
			post, _ := f.store.Post("post-1")
			post.Status = models.PostRestarting
			f.store.PutPost(post)
		},
	}
	for name, takeDown := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, defaultNow)
			id, err := f.coord.CreateSession(ctx, f.request("slot-1"))
			require.NoError(t, err)
			takeDown(f)
			f.rec.Reset()

			_, err = f.coord.StartSession(ctx, id)
			assert.ErrorIs(t, err, apperr.ErrConflict)
			assert.NotErrorIs(t, err, apperr.ErrInvalidState)
			assert.Equal(t, models.BookingScheduled, f.booking(t, id).Status)
			assert.Equal(t, models.SlotReserved, f.slot(t, "slot-1").Status)
			assert.Empty(t, f.rec.Events())

			_, err = f.coord.CancelSession(ctx, id, "")
			assert.NoError(t, err, "a blocked booking can still be cancelled")
		})
	}
}

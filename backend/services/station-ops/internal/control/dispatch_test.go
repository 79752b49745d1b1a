package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/sessions"
)

func TestParseVerb(t *testing.T) {
	v, ok := ParseVerb(" Disable-All ")
	assert.True(t, ok)
	assert.Equal(t, VerbDisableAll, v)

	_, ok = ParseVerb("explode")
	assert.False(t, ok)
}

func TestDispatchValidationReportsEveryProblem(t *testing.T) {
	f := newFixture(t, time.Minute)

	res, err := f.coord.Dispatch(context.Background(), Command{Verb: "start", EstimatedHours: -1})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 3)

	res, err = f.coord.Dispatch(context.Background(), Command{Scope: ScopeSlot, TargetID: "slot-3", Verb: "restart", ActorID: "a"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Len(t, res.Errors, 1)

	_, err = f.coord.Dispatch(context.Background(), Command{Scope: ScopeStation, TargetID: "st-1", Verb: "stop", ActorID: "a"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDispatchResolvesScopeFromTarget(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	res, err := f.coord.Dispatch(ctx, Command{TargetID: "slot-3", Verb: "maintenance", ActorID: "admin-1", EstimatedHours: 1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.SlotMaintenance, f.slot(t, "slot-3").Status)

	res, err = f.coord.Dispatch(ctx, Command{TargetID: "slot-3", Verb: "start", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "1 issues resolved")
	assert.Equal(t, models.SlotAvailable, f.slot(t, "slot-3").Status)

	_, err = f.coord.Dispatch(ctx, Command{TargetID: "post-2", Verb: "maintenance", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PostMaintenance, f.post(t, "post-2").Status)

	_, err = f.coord.Dispatch(ctx, Command{TargetID: "nowhere", Verb: "stop", ActorID: "admin-1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDispatchSlotStop(t *testing.T) {
	f := newFixture(t, time.Minute)

	res, err := f.coord.Dispatch(context.Background(), Command{Scope: ScopeSlot, TargetID: "slot-1", Verb: "stop", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)
	assert.Equal(t, models.BookingInterrupted, f.booking(t, "b-1").Status)
}

func TestDisableAllTakesStationOutOfService(t *testing.T) {
	f := newFixture(t, time.Minute)

	res, err := f.coord.Dispatch(context.Background(), Command{TargetID: "st-1", Verb: "disable_all", ActorID: "admin-1", Reason: "grid outage"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Contains(t, res.Message, "2 sessions ended")
	assert.Empty(t, res.Errors)

	st, ok := f.store.Station("st-1")
	require.True(t, ok)
	assert.Equal(t, models.StationInactive, st.Status)

	assert.Equal(t, models.BookingInterrupted, f.booking(t, "b-1").Status)
	assert.Equal(t, models.BookingCancelled, f.booking(t, "b-2").Status)
	for _, id := range []string{"slot-1", "slot-2"} {
		slot := f.slot(t, id)
		assert.Equal(t, models.SlotMaintenance, slot.Status, id)
		assert.Empty(t, slot.CurrentBookingID, id)
	}
	assert.Equal(t, models.SlotAvailable, f.slot(t, "slot-3").Status, "free slots are left alone")

	p1 := f.post(t, "post-1")
	assert.Equal(t, models.PostOffline, p1.Status)
	assert.Equal(t, 2, p1.TotalSlots)
	assert.Equal(t, 0, p1.AvailableSlots)
	p2 := f.post(t, "post-2")
	assert.Equal(t, models.PostOffline, p2.Status)
	assert.Equal(t, 1, p2.TotalSlots)
	assert.Equal(t, 1, p2.AvailableSlots)

	var postEvents int
	for _, ev := range f.rec.Events() {
		if ev.Name == events.PostStatusChanged {
			postEvents++
			assert.Equal(t, string(models.PostAvailable), ev.From)
			assert.Equal(t, string(models.PostOffline), ev.To)
		}
	}
	assert.Equal(t, 2, postEvents)
}

func TestBulkCommandRollsBackAsAWhole(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.store.FailCommits(func() error { return errors.New("connection reset") })

	res, err := f.coord.Dispatch(context.Background(), Command{TargetID: "st-1", Verb: "disable_all", ActorID: "admin-1"})
	require.ErrorIs(t, err, apperr.ErrStorage)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)

	st, _ := f.store.Station("st-1")
	assert.Equal(t, models.StationActive, st.Status)
	assert.Equal(t, models.BookingInProgress, f.booking(t, "b-1").Status)
	assert.Equal(t, models.SlotReserved, f.slot(t, "slot-2").Status)
	assert.Equal(t, models.PostAvailable, f.post(t, "post-1").Status)
	assert.Empty(t, f.rec.Events())
}

func TestMaintenanceModeAndEnableAll(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.coord.Dispatch(ctx, Command{TargetID: "st-1", Verb: "maintenance_mode", ActorID: "admin-1"})
	require.NoError(t, err)
	st, _ := f.store.Station("st-1")
	assert.Equal(t, models.StationMaintenance, st.Status)
	assert.Equal(t, models.PostMaintenance, f.post(t, "post-1").Status)
	assert.Equal(t, models.BookingInProgress, f.booking(t, "b-1").Status, "maintenance mode does not end sessions")

	_, err = f.coord.Dispatch(ctx, Command{TargetID: "st-1", Verb: "enable_all", ActorID: "admin-1"})
	require.NoError(t, err)
	st, _ = f.store.Station("st-1")
	assert.Equal(t, models.StationActive, st.Status)
	assert.Equal(t, models.PostAvailable, f.post(t, "post-1").Status)
	assert.Equal(t, models.PostAvailable, f.post(t, "post-2").Status)
}

func TestPostStopFreesItsSlots(t *testing.T) {
	f := newFixture(t, time.Minute)

	res, err := f.coord.Dispatch(context.Background(), Command{Scope: ScopePost, TargetID: "post-1", Verb: "stop", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)
	assert.Equal(t, models.PostOffline, f.post(t, "post-1").Status)
	assert.Equal(t, models.BookingInterrupted, f.booking(t, "b-1").Status)
	assert.Equal(t, models.PostAvailable, f.post(t, "post-2").Status)

	st, _ := f.store.Station("st-1")
	assert.Equal(t, models.StationActive, st.Status, "post commands leave the station status alone")
}

func TestPostRestartCompletesAfterDelay(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	_, err := f.coord.Dispatch(context.Background(), Command{Scope: ScopePost, TargetID: "post-2", Verb: "restart", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PostRestarting, f.post(t, "post-2").Status)
	assert.True(t, f.sched.Pending(restartKey("post-2")))

	waitFor(t, 2*time.Second, func() bool {
		p, _ := f.store.Post("post-2")
		return p.Status == models.PostAvailable
	})
	assert.False(t, f.sched.Pending(restartKey("post-2")))
}

func TestLaterCommandCancelsPendingRestart(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.coord.Dispatch(ctx, Command{TargetID: "st-1", Verb: "restart_all", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.True(t, f.sched.Pending(restartKey("post-1")))
	assert.True(t, f.sched.Pending(restartKey("post-2")))

	_, err = f.coord.Dispatch(ctx, Command{Scope: ScopePost, TargetID: "post-2", Verb: "maintenance", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.False(t, f.sched.Pending(restartKey("post-2")))
	assert.True(t, f.sched.Pending(restartKey("post-1")))
	assert.Equal(t, models.PostMaintenance, f.post(t, "post-2").Status)
}

func TestFinishRestartLeavesChangedPostAlone(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.coord.Dispatch(ctx, Command{Scope: ScopePost, TargetID: "post-2", Verb: "stop", ActorID: "admin-1"})
	require.NoError(t, err)
	f.rec.Reset()

	f.coord.finishRestart(ctx, "post-2")
	assert.Equal(t, models.PostOffline, f.post(t, "post-2").Status)
	assert.Empty(t, f.rec.Events())
}

func TestDisableAllRacesSessionWrites(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, time.Minute)
		sess := sessions.NewCoordinator(f.store, f.rec, sessions.Config{TaxRate: 0.1, DefaultUnitPrice: 2}, zap.NewNop(),
			sessions.WithClock(func() time.Time { return defaultNow }),
			sessions.WithIDGenerator(sequentialIDs("b-new")),
		)
		ctx := context.Background()

		var (
			wg         sync.WaitGroup
			disableErr error
			doneErr    error
			createErr  error
		)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, disableErr = f.coord.Dispatch(ctx, Command{TargetID: "st-1", Verb: "disable_all", ActorID: "admin-1"})
		}()
		go func() {
			defer wg.Done()
			_, _, doneErr = sess.CompleteSession(ctx, "b-1", sessions.CompleteInput{TotalEnergyKWh: 10})
		}()
		go func() {
			defer wg.Done()
			_, createErr = sess.CreateSession(ctx, sessions.CreateRequest{
				UserID: "user-3", VehicleID: "car-3", SlotID: "slot-3", StationID: "st-1",
			})
		}()
		wg.Wait()

		require.NoError(t, disableErr)
		if doneErr != nil {
			assert.ErrorIs(t, doneErr, apperr.ErrInvalidState)
		}
		if createErr != nil {
			assert.ErrorIs(t, createErr, apperr.ErrConflict)
		}

		f.assertConsistent(t)
		for _, b := range f.store.Bookings() {
			assert.False(t, b.Status.Active(), "booking %s survived disable_all as %s", b.ID, b.Status)
		}
		for _, id := range []string{"slot-1", "slot-2", "slot-3"} {
			assert.Empty(t, f.slot(t, id).CurrentBookingID)
		}
		station, ok := f.store.Station("st-1")
		require.True(t, ok)
		assert.Equal(t, models.StationInactive, station.Status)
	}
}

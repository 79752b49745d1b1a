// Package postgres implements store.Store on PostgreSQL through a pgx pool. Slot, station
// and token locks are row locks taken with SELECT ... FOR UPDATE; the wait is bounded by
// lock_timeout for the duration of each transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

//go:embed schema.sql
var schema string

const defaultLockWait = 2 * time.Second

// Postgres error codes mapped to conflicts.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Store is the PostgreSQL store.
type Store struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. lockWait <= 0 uses the default.
func New(pool *pgxpool.Pool, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Store{pool: pool, lockWait: lockWait}
}

// Migrate creates the tables and indexes when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperr.Storage("migrate", err)
	}
	return nil
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("begin", err)
	}
	defer func() {
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	timeout := fmt.Sprintf("%dms", s.lockWait.Milliseconds())
	if _, err := pgTx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
		return mapError("set lock timeout", err)
	}

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

// StationSnapshot implements store.Store.
func (s *Store) StationSnapshot(ctx context.Context, stationID string) (models.StationAggregate, error) {
	station, err := scanStation(s.pool.QueryRow(ctx, selectStation+" WHERE id = $1", stationID))
	if err != nil {
		return models.StationAggregate{}, notFoundOr(err, "station", stationID)
	}

	posts, err := queryPosts(ctx, s.pool, selectPost+" WHERE station_id = $1 ORDER BY id", stationID)
	if err != nil {
		return models.StationAggregate{}, err
	}
	slots, err := querySlots(ctx, s.pool, `
		SELECT s.id, s.post_id, s.connector_number, s.status, s.max_power_kw, s.current_booking_id, s.updated_at
		FROM slots s
		JOIN posts p ON p.id = s.post_id
		WHERE p.station_id = $1
		ORDER BY s.post_id, s.connector_number, s.id
	`, stationID)
	if err != nil {
		return models.StationAggregate{}, err
	}

	byPost := make(map[string][]models.Slot, len(posts))
	for _, sl := range slots {
		byPost[sl.PostID] = append(byPost[sl.PostID], sl)
	}
	agg := models.StationAggregate{Station: station}
	for _, p := range posts {
		agg.Posts = append(agg.Posts, models.PostWithSlots{Post: p, Slots: byPost[p.ID]})
	}
	return agg, nil
}

// ListStationIDs implements store.Store.
func (s *Store) ListStationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM stations WHERE deleted_at IS NULL ORDER BY id")
	if err != nil {
		return nil, mapError("list stations", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("list stations", err)
	}
	return ids, nil
}

// mapError classifies driver errors into apperr kinds.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return apperr.Conflict("%s: lock wait exceeded", op)
		case codeSerializationFailure, codeDeadlockDetected:
			return apperr.Conflict("%s: concurrent update, retry", op)
		case codeUniqueViolation:
			return apperr.Conflict("%s: duplicate %s", op, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Conflict("%s: %v", op, err)
	}
	return apperr.Storage(op, err)
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	return mapError("read "+entity, err)
}

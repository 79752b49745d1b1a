package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	selectStation = `SELECT id, name, status, latitude, longitude, deleted_at, created_at, updated_at FROM stations`
	selectPost    = `SELECT id, station_id, name, status, rated_power_kw, total_slots, available_slots, updated_at FROM posts`
	selectSlot    = `SELECT id, post_id, connector_number, status, max_power_kw, current_booking_id, updated_at FROM slots`
	selectBooking = `SELECT id, slot_id, station_id, user_id, vehicle_id, scheduling_type, status,
		scheduled_start_time, actual_start_time, actual_end_time, target_soc, final_soc,
		estimated_duration_minutes, total_energy_kwh, cancel_reason, created_at, updated_at FROM bookings`
	selectToken = `SELECT id, digest, station_id, slot_id, active, expires_at, consumed_at,
		consumed_by_booking_id, created_at FROM qr_tokens`
)

type tx struct {
	tx pgx.Tx
}

var _ store.Tx = (*tx)(nil)

func scanStation(row pgx.Row) (models.Station, error) {
	var s models.Station
	err := row.Scan(&s.ID, &s.Name, &s.Status, &s.Latitude, &s.Longitude, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanPost(row pgx.Row) (models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.StationID, &p.Name, &p.Status, &p.RatedPowerKW, &p.TotalSlots, &p.AvailableSlots, &p.UpdatedAt)
	return p, err
}

func scanSlot(row pgx.Row) (models.Slot, error) {
	var s models.Slot
	err := row.Scan(&s.ID, &s.PostID, &s.ConnectorNumber, &s.Status, &s.MaxPowerKW, &s.CurrentBookingID, &s.UpdatedAt)
	return s, err
}

func scanBooking(row pgx.Row) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.StationID,
		&b.UserID,
		&b.VehicleID,
		&b.SchedulingType,
		&b.Status,
		&b.ScheduledStartTime,
		&b.ActualStartTime,
		&b.ActualEndTime,
		&b.TargetSOC,
		&b.FinalSOC,
		&b.EstimatedDuration,
		&b.TotalEnergyKWh,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func scanToken(row pgx.Row) (models.QRToken, error) {
	var t models.QRToken
	err := row.Scan(&t.ID, &t.Digest, &t.StationID, &t.SlotID, &t.Active, &t.ExpiresAt, &t.ConsumedAt, &t.ConsumedByBookingID, &t.CreatedAt)
	return t, err
}

func queryPosts(ctx context.Context, q querier, sql string, args ...any) ([]models.Post, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("query posts", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Post, error) { return scanPost(row) })
	if err != nil {
		return nil, mapError("scan posts", err)
	}
	return posts, nil
}

func querySlots(ctx context.Context, q querier, sql string, args ...any) ([]models.Slot, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("query slots", err)
	}
	slots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Slot, error) { return scanSlot(row) })
	if err != nil {
		return nil, mapError("scan slots", err)
	}
	return slots, nil
}

func expectOne(tag pgconn.CommandTag, err error, op, entity, id string) error {
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

func (t *tx) GetStation(ctx context.Context, id string) (models.Station, error) {
	s, err := scanStation(t.tx.QueryRow(ctx, selectStation+" WHERE id = $1", id))
	if err != nil {
		return models.Station{}, notFoundOr(err, "station", id)
	}
	return s, nil
}

func (t *tx) LockStation(ctx context.Context, id string) (models.Station, error) {
	s, err := scanStation(t.tx.QueryRow(ctx, selectStation+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return models.Station{}, notFoundOr(err, "station", id)
	}
	return s, nil
}

func (t *tx) UpdateStation(ctx context.Context, s models.Station) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stations SET name = $2, status = $3, latitude = $4, longitude = $5, deleted_at = $6, updated_at = $7
		WHERE id = $1
	`, s.ID, s.Name, s.Status, s.Latitude, s.Longitude, s.DeletedAt, s.UpdatedAt)
	return expectOne(tag, err, "update station", "station", s.ID)
}

func (t *tx) GetPost(ctx context.Context, id string) (models.Post, error) {
	p, err := scanPost(t.tx.QueryRow(ctx, selectPost+" WHERE id = $1", id))
	if err != nil {
		return models.Post{}, notFoundOr(err, "post", id)
	}
	return p, nil
}

func (t *tx) ListPosts(ctx context.Context, stationID string) ([]models.Post, error) {
	return queryPosts(ctx, t.tx, selectPost+" WHERE station_id = $1 ORDER BY id", stationID)
}

func (t *tx) UpdatePost(ctx context.Context, p models.Post) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE posts SET name = $2, status = $3, rated_power_kw = $4, total_slots = $5, available_slots = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.Name, p.Status, p.RatedPowerKW, p.TotalSlots, p.AvailableSlots, p.UpdatedAt)
	return expectOne(tag, err, "update post", "post", p.ID)
}

func (t *tx) GetSlot(ctx context.Context, id string) (models.Slot, error) {
	s, err := scanSlot(t.tx.QueryRow(ctx, selectSlot+" WHERE id = $1", id))
	if err != nil {
		return models.Slot{}, notFoundOr(err, "slot", id)
	}
	return s, nil
}

func (t *tx) LockSlot(ctx context.Context, id string) (models.Slot, error) {
	s, err := scanSlot(t.tx.QueryRow(ctx, selectSlot+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return models.Slot{}, notFoundOr(err, "slot", id)
	}
	return s, nil
}

func (t *tx) LockPostSlots(ctx context.Context, postID string) ([]models.Slot, error) {
	return querySlots(ctx, t.tx, selectSlot+" WHERE post_id = $1 ORDER BY id FOR UPDATE", postID)
}

func (t *tx) UpdateSlot(ctx context.Context, s models.Slot) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots SET status = $2, max_power_kw = $3, current_booking_id = $4, updated_at = $5
		WHERE id = $1
	`, s.ID, s.Status, s.MaxPowerKW, s.CurrentBookingID, s.UpdatedAt)
	return expectOne(tag, err, "update slot", "slot", s.ID)
}

func (t *tx) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, selectBooking+" WHERE id = $1", id))
	if err != nil {
		return models.Booking{}, notFoundOr(err, "booking", id)
	}
	return b, nil
}

func (t *tx) ActiveBookingForSlot(ctx context.Context, slotID string) (models.Booking, bool, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx,
		selectBooking+" WHERE slot_id = $1 AND status IN ('scheduled', 'in_progress') LIMIT 1", slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Booking{}, false, nil
	}
	if err != nil {
		return models.Booking{}, false, mapError("read active booking", err)
	}
	return b, true, nil
}

func (t *tx) CreateBooking(ctx context.Context, b models.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (
			id, slot_id, station_id, user_id, vehicle_id, scheduling_type, status,
			scheduled_start_time, actual_start_time, actual_end_time, target_soc, final_soc,
			estimated_duration_minutes, total_energy_kwh, cancel_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		b.ID, b.SlotID, b.StationID, b.UserID, b.VehicleID, b.SchedulingType, b.Status,
		b.ScheduledStartTime, b.ActualStartTime, b.ActualEndTime, b.TargetSOC, b.FinalSOC,
		b.EstimatedDuration, b.TotalEnergyKWh, b.CancelReason, b.CreatedAt, b.UpdatedAt,
	)
	return mapError("insert booking", err)
}

func (t *tx) UpdateBooking(ctx context.Context, b models.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $2, actual_start_time = $3, actual_end_time = $4, final_soc = $5,
			total_energy_kwh = $6, cancel_reason = $7, updated_at = $8
		WHERE id = $1
	`, b.ID, b.Status, b.ActualStartTime, b.ActualEndTime, b.FinalSOC, b.TotalEnergyKWh, b.CancelReason, b.UpdatedAt)
	return expectOne(tag, err, "update booking", "booking", b.ID)
}

func (t *tx) CreateInvoice(ctx context.Context, inv models.Invoice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (id, booking_id, user_id, number, energy_kwh, unit_price, subtotal, tax_rate, tax, total, currency, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inv.ID, inv.BookingID, inv.UserID, inv.Number, inv.EnergyKWh, inv.UnitPrice, inv.Subtotal,
		inv.TaxRate, inv.Tax, inv.Total, inv.Currency, inv.IssuedAt)
	return mapError("insert invoice", err)
}

func (t *tx) CreateIssue(ctx context.Context, is models.Issue) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO issues (
			id, station_id, post_id, slot_id, booking_id, customer_id, category, severity, status,
			title, description, reported_by, estimated_completion, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, is.ID, is.StationID, is.PostID, is.SlotID, is.BookingID, is.CustomerID, is.Category, is.Severity,
		is.Status, is.Title, is.Description, is.ReportedBy, is.EstimatedCompletion, is.CreatedAt, is.ResolvedAt)
	return mapError("insert issue", err)
}

func (t *tx) ResolveIssues(ctx context.Context, f models.IssueFilter, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE issues SET status = 'resolved', resolved_at = $1
		WHERE status <> 'resolved'
		  AND ($2::text = '' OR station_id = $2)
		  AND ($3::text = '' OR slot_id = $3)
		  AND ($4::text = '' OR category = $4)
	`, at, f.StationID, f.SlotID, string(f.Category))
	if err != nil {
		return 0, mapError("resolve issues", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *tx) CreateQRToken(ctx context.Context, tok models.QRToken) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO qr_tokens (id, digest, station_id, slot_id, active, expires_at, consumed_at, consumed_by_booking_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, tok.ID, tok.Digest, tok.StationID, tok.SlotID, tok.Active, tok.ExpiresAt, tok.ConsumedAt, tok.ConsumedByBookingID, tok.CreatedAt)
	return mapError("insert qr token", err)
}

func (t *tx) LockQRTokenByDigest(ctx context.Context, digest string) (models.QRToken, error) {
	tok, err := scanToken(t.tx.QueryRow(ctx, selectToken+" WHERE digest = $1 FOR UPDATE", digest))
	if err != nil {
		return models.QRToken{}, notFoundOr(err, "qr token", "")
	}
	return tok, nil
}

func (t *tx) UpdateQRToken(ctx context.Context, tok models.QRToken) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE qr_tokens SET active = $2, consumed_at = $3, consumed_by_booking_id = $4
		WHERE id = $1
	`, tok.ID, tok.Active, tok.ConsumedAt, tok.ConsumedByBookingID)
	return expectOne(tag, err, "update qr token", "qr token", tok.ID)
}

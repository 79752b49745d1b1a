// Package store defines the transactional persistence boundary used by the coordinators.
package store

import (
	"context"
	"time"

	"chargeops/backend/services/station-ops/internal/models"
)

// Store runs units of work and serves unlocked snapshots.
type Store interface {
	// WithinTx runs fn in a single transaction. The transaction commits when fn returns nil
	// and rolls back otherwise. Row locks taken through tx are held until it ends.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// StationSnapshot reads a station with its posts and slots without locking.
	StationSnapshot(ctx context.Context, stationID string) (models.StationAggregate, error)
	// ListStationIDs returns the ids of all stations that are not soft-deleted.
	ListStationIDs(ctx context.Context) ([]string, error)
}

// Tx is a unit of work. Lock* methods serialize writers on the row and fail with
// apperr.ErrConflict when the lock cannot be taken within the configured wait.
type Tx interface {
	GetStation(ctx context.Context, id string) (models.Station, error)
	LockStation(ctx context.Context, id string) (models.Station, error)
	UpdateStation(ctx context.Context, station models.Station) error

	GetPost(ctx context.Context, id string) (models.Post, error)
	ListPosts(ctx context.Context, stationID string) ([]models.Post, error)
	UpdatePost(ctx context.Context, post models.Post) error

	GetSlot(ctx context.Context, id string) (models.Slot, error)
	LockSlot(ctx context.Context, id string) (models.Slot, error)
	// LockPostSlots locks every slot of a post in id order.
	LockPostSlots(ctx context.Context, postID string) ([]models.Slot, error)
	UpdateSlot(ctx context.Context, slot models.Slot) error

	GetBooking(ctx context.Context, id string) (models.Booking, error)
	// ActiveBookingForSlot returns the scheduled or in_progress booking on the slot, if any.
	ActiveBookingForSlot(ctx context.Context, slotID string) (models.Booking, bool, error)
	CreateBooking(ctx context.Context, booking models.Booking) error
	UpdateBooking(ctx context.Context, booking models.Booking) error

	CreateInvoice(ctx context.Context, invoice models.Invoice) error

	CreateIssue(ctx context.Context, issue models.Issue) error
	// ResolveIssues marks every unresolved issue matching filter as resolved and returns the count.
	ResolveIssues(ctx context.Context, filter models.IssueFilter, at time.Time) (int, error)

	CreateQRToken(ctx context.Context, token models.QRToken) error
	// LockQRTokenByDigest finds a token by digest and locks it.
	LockQRTokenByDigest(ctx context.Context, digest string) (models.QRToken, error)
	UpdateQRToken(ctx context.Context, token models.QRToken) error
}

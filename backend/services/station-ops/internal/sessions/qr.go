package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/events"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/store"
)

// QRScheme prefixes the payload printed on a slot.
const QRScheme = "chargeops://qr/"

// ParseQRPayload extracts the raw token from a scanned payload. Bare tokens are accepted.
func ParseQRPayload(payload string) (string, error) {
	token := strings.TrimSpace(payload)
	if strings.HasPrefix(strings.ToLower(token), QRScheme) {
		token = token[len(QRScheme):]
	}
	token = strings.Trim(token, "/")
	if token == "" || strings.ContainsAny(token, " /?#") {
		return "", apperr.Validation("malformed qr payload")
	}
	return token, nil
}

// TokenDigest is the stored fingerprint of a raw token.
func TokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueQRToken registers a single-use token for a slot and returns the payload to print.
// Only the digest is stored. ttl <= 0 uses the configured default.
func (c *Coordinator) IssueQRToken(ctx context.Context, stationID, slotID string, ttl time.Duration) (string, models.QRToken, error) {
	if strings.TrimSpace(stationID) == "" || strings.TrimSpace(slotID) == "" {
		return "", models.QRToken{}, apperr.Validation("station id and slot id are required")
	}
	if ttl <= 0 {
		ttl = c.cfg.QRTTL
	}
	raw, err := newRawToken()
	if err != nil {
		return "", models.QRToken{}, apperr.Storage("generate qr token", err)
	}

	var tok models.QRToken
	err = c.run(ctx, "issue_qr_token", func(ctx context.Context, tx store.Tx, _ *[]events.Event) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		post, err := tx.GetPost(ctx, slot.PostID)
		if err != nil {
			return err
		}
		if post.StationID != stationID {
			return apperr.Conflict("slot %s does not belong to station %s", slotID, stationID)
		}

		now := c.now().UTC()
		tok = models.QRToken{
			ID:        c.newID(),
			Digest:    TokenDigest(raw),
			StationID: stationID,
			SlotID:    slotID,
			Active:    true,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		return tx.CreateQRToken(ctx, tok)
	})
	if err != nil {
		return "", models.QRToken{}, err
	}
	c.logger.Info("qr token issued", zap.String("slot_id", slotID), zap.String("token_id", tok.ID))
	return QRScheme + raw, tok, nil
}

// ScanAndBook resolves a scanned token and books its slot immediately. The token is consumed
// in the same unit of work as the booking.
func (c *Coordinator) ScanAndBook(ctx context.Context, payload, userID, vehicleID string) (string, error) {
	raw, err := ParseQRPayload(payload)
	if err != nil {
		return "", err
	}

	var out models.Booking
	err = c.run(ctx, "scan_and_book", func(ctx context.Context, tx store.Tx, batch *[]events.Event) error {
		tok, err := tx.LockQRTokenByDigest(ctx, TokenDigest(raw))
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("qr token", "")
		}
		if err != nil {
			return err
		}

		now := c.now().UTC()
		if !tok.Active || tok.ConsumedAt != nil {
			return apperr.Conflict("qr token has already been used")
		}
		if !now.Before(tok.ExpiresAt) {
			return apperr.Validation("qr token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
		}

		req := CreateRequest{
			UserID:         userID,
			VehicleID:      vehicleID,
			SlotID:         tok.SlotID,
			StationID:      tok.StationID,
			SchedulingType: models.SchedulingQRImmediate,
		}
		if err := c.validateRequest(&req); err != nil {
			return err
		}
		b, evs, err := c.createInTx(ctx, tx, req)
		if err != nil {
			return err
		}

		consumed := now
		tok.Active = false
		tok.ConsumedAt = &consumed
		tok.ConsumedByBookingID = b.ID
		if err := tx.UpdateQRToken(ctx, tok); err != nil {
			return err
		}

		*batch = append(*batch, evs...)
		out = b
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("session created from qr",
		zap.String("booking_id", out.ID),
		zap.String("slot_id", out.SlotID),
		zap.String("station_id", out.StationID),
	)
	return out.ID, nil
}

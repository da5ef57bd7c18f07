package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, client_id, pro_id, service_id, address_id, start_at, end_at, status, notes,
                        price_cents, commission_cents, commission_rate_bps, currency, authorization_id,
                        cancel_reason, price_mismatch, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var (
		b      models.Booking
		status string
		rate   int64
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &b.ProID, &b.ServiceID, &b.AddressID, &b.StartAt, &b.EndAt, &status, &b.Notes,
		&b.PriceCents, &b.CommissionCents, &rate, &b.Currency, &b.AuthorizationID,
		&b.CancelReason, &b.PriceMismatch, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.CommissionRateBps = pricing.Rate(rate)
	return &b, nil
}

// CreateBookingWithLock inserts the booking unless the professional already
// holds a PENDING or CONFIRMED booking overlapping [StartAt, EndAt).
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var overlapping int
	queryOverlap := `SELECT COUNT(*) FROM bookings
                     WHERE pro_id = ? AND status IN (?, ?) AND start_at < ? AND end_at > ?`
	err = tx.QueryRowContext(ctx, queryOverlap,
		booking.ProID, models.StatusPending, models.StatusConfirmed,
		formatTime(booking.EndAt), formatTime(booking.StartAt),
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	if overlapping > 0 {
		return ErrSlotTaken
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := db.timestamp()

	queryInsert := `INSERT INTO bookings (` + bookingColumns + `)
                    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, queryInsert,
		booking.ID,
		booking.ClientID,
		booking.ProID,
		booking.ServiceID,
		booking.AddressID,
		formatTime(booking.StartAt),
		formatTime(booking.EndAt),
		string(booking.Status),
		booking.Notes,
		booking.PriceCents,
		booking.CommissionCents,
		int64(booking.CommissionRateBps),
		booking.Currency,
		booking.AuthorizationID,
		booking.CancelReason,
		booking.PriceMismatch,
		formatTime(now),
		formatTime(now),
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) GetBookingByAuthorization(ctx context.Context, authorizationID string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE authorization_id = ?`, authorizationID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking with authorization %s: %w", authorizationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by authorization: %w", err)
	}
	return b, nil
}

// SetBookingAuthorization attaches the provider authorization to a booking
// still at fromVersion.
func (db *DB) SetBookingAuthorization(ctx context.Context, id string, fromVersion int64, authorizationID string) error {
	query := `UPDATE bookings SET authorization_id = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, authorizationID, formatTime(db.timestamp()), id, fromVersion)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrAuthorizationInUse
		}
		return fmt.Errorf("failed to set booking authorization: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateBookingStatusWithVersion is a compare-and-swap on the booking version.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status models.BookingStatus, reason string) error {
	query := `UPDATE bookings SET status = ?, cancel_reason = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, string(status), reason, formatTime(db.timestamp()), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ListStalePending returns PENDING bookings created before cutoff, oldest first.
func (db *DB) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND created_at < ?
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// RecordPaymentOutcome stores a provider outcome. Redelivered events with a
// known event id return ErrDuplicateOutcome.
func (db *DB) RecordPaymentOutcome(ctx context.Context, outcome *models.PaymentOutcome) error {
	var eventID any
	if outcome.EventID != "" {
		eventID = outcome.EventID
	}
	var bookingID any
	if outcome.BookingID != "" {
		bookingID = outcome.BookingID
	}

	query := `INSERT OR IGNORE INTO payment_outcomes (event_id, authorization_id, booking_id, succeeded, reason, received_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		eventID, outcome.AuthorizationID, bookingID, outcome.Succeeded, outcome.Reason, formatTime(db.timestamp()),
	)
	if err != nil {
		return fmt.Errorf("failed to record payment outcome: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDuplicateOutcome
	}
	return nil
}

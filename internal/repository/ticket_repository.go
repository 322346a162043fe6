package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kzp/zoo-ticketing/internal/model"
)

// TicketRepo persists tickets, their item snapshots and the booking
// envelope.  The consume methods are the single-use gate: each is one
// conditional UPDATE, so of any number of concurrent callers at most one
// observes a changed row.
type TicketRepo struct{ db *sql.DB }

// NewTicketRepo constructs a TicketRepo.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, ticket_id, booking_id, qr_token, verification_token_hash, visit_date, issue_date,
    total_amount, payment_mode, payment_status, cash_amount, upi_amount, ticket_source,
    visitor_name, visitor_mobile, visitor_email, issued_by, qr_used, qr_used_at, used_via, used_at, created_at`

// Exists reports whether a ticket with ticketID is already stored.
func (r *TicketRepo) Exists(ctx context.Context, ticketID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets WHERE ticket_id = ?", ticketID).Scan(&n)
	return n > 0, err
}

// Issue stores the ticket, its items and the booking in one transaction.
// The ticket row is written first without a booking reference, the
// booking is written next, and the ticket is then linked to it.  A unique
// collision on ticket_id or qr_token surfaces as ErrDuplicateKey.
func (r *TicketRepo) Issue(ctx context.Context, t *model.Ticket, b *model.Booking) error {
	itemsJSON, err := json.Marshal(b.Items)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO tickets
        (ticket_id, booking_id, qr_token, verification_token_hash, visit_date, issue_date, total_amount,
         payment_mode, payment_status, cash_amount, upi_amount, ticket_source, visitor_name, visitor_mobile,
         visitor_email, issued_by, qr_used, created_at)
        VALUES (?,NULL,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,?)`,
		t.TicketID, t.QRToken, t.VerificationTokenHash, t.VisitDate, t.IssueDate.UTC(), t.TotalAmount,
		t.PaymentMode, t.PaymentStatus, t.CashAmount, t.UPIAmount, t.TicketSource, t.VisitorName, t.VisitorMobile,
		nullString(t.VisitorEmail), nullString(t.IssuedBy), t.CreatedAt.UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = uint64(id)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticket_items
        (ticket_id, item_code, label, category, quantity, unit_price, amount) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range t.Items {
		if _, err := stmt.ExecContext(ctx, t.TicketID, it.ItemCode, it.Label, it.Category, it.Quantity, it.UnitPrice, it.Amount); err != nil {
			return err
		}
	}

	res, err = tx.ExecContext(ctx, `INSERT INTO bookings
        (booking_id, ticket_id, visit_date, total_amount, items, payment_mode, payment_status, ticket_source, entry_status, created_at)
        VALUES (?,?,?,?,?,?,?,?,?,?)`,
		b.BookingID, b.TicketID, b.VisitDate, b.TotalAmount, string(itemsJSON), b.PaymentMode, b.PaymentStatus,
		b.TicketSource, b.EntryStatus, b.CreatedAt.UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		b.ID = uint64(id)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE tickets SET booking_id = ? WHERE ticket_id = ?", b.BookingID, t.TicketID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	t.BookingID = b.BookingID
	return nil
}

// Retract deletes a ticket together with its items and booking.  It is
// the compensation path when a committed ticket fails verification.
func (r *TicketRepo) Retract(ctx context.Context, ticketID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, q := range []string{
		"DELETE FROM ticket_items WHERE ticket_id = ?",
		"DELETE FROM bookings WHERE ticket_id = ?",
		"DELETE FROM tickets WHERE ticket_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, ticketID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByTicketID loads a ticket and its items.
func (r *TicketRepo) GetByTicketID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return r.getOne(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE ticket_id = ? LIMIT 1", ticketID)
}

// GetByQRToken loads a ticket by its opaque QR token.
func (r *TicketRepo) GetByQRToken(ctx context.Context, token string) (*model.Ticket, error) {
	return r.getOne(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE qr_token = ? LIMIT 1", token)
}

func (r *TicketRepo) getOne(ctx context.Context, query string, arg any) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, t.TicketID)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return t, nil
}

// ListItems returns the stored item snapshot for a ticket.
func (r *TicketRepo) ListItems(ctx context.Context, ticketID string) ([]model.TicketItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item_code, label, category, quantity, unit_price, amount FROM ticket_items WHERE ticket_id = ? ORDER BY id ASC",
		ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.TicketItem{}
	for rows.Next() {
		var it model.TicketItem
		if err := rows.Scan(&it.ItemCode, &it.Label, &it.Category, &it.Quantity, &it.UnitPrice, &it.Amount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ConsumeByQRToken marks the ticket used if, and only if, it is unused and
// valid for visitDate.  It returns true when this call won the update.
func (r *TicketRepo) ConsumeByQRToken(ctx context.Context, token, visitDate string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET qr_used = 1, qr_used_at = ?, used_via = ?, used_at = ?
         WHERE qr_token = ? AND qr_used = 0 AND visit_date = ?`,
		at.UTC(), model.MethodQRToken, at.UTC(), token, visitDate)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ConsumeByTicketID is the manual-entry counterpart of ConsumeByQRToken.
// Only settled tickets can be consumed this way.
func (r *TicketRepo) ConsumeByTicketID(ctx context.Context, ticketID, visitDate string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET qr_used = 1, qr_used_at = ?, used_via = ?, used_at = ?
         WHERE ticket_id = ? AND qr_used = 0 AND visit_date = ? AND payment_status = ?`,
		at.UTC(), model.MethodManualTicketID, at.UTC(), ticketID, visitDate, model.PaymentPaid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkBookingEntered records entry on the booking envelope.
func (r *TicketRepo) MarkBookingEntered(ctx context.Context, ticketID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE bookings SET entry_status = ? WHERE ticket_id = ?", model.EntryEntered, ticketID)
	return err
}

// ConfirmPayment moves a PENDING ticket and its booking to PAID.  A ticket
// that is already PAID yields ErrConflict.
func (r *TicketRepo) ConfirmPayment(ctx context.Context, ticketID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		"UPDATE tickets SET payment_status = ? WHERE ticket_id = ? AND payment_status = ?",
		model.PaymentPaid, ticketID, model.PaymentPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT payment_status FROM tickets WHERE ticket_id = ?", ticketID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE bookings SET payment_status = ? WHERE ticket_id = ?", model.PaymentPaid, ticketID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetBooking loads the booking envelope for a ticket.
func (r *TicketRepo) GetBooking(ctx context.Context, ticketID string) (*model.Booking, error) {
	var (
		b       model.Booking
		items   string
		created dbTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, booking_id, ticket_id, visit_date, total_amount, items,
        payment_mode, payment_status, ticket_source, entry_status, created_at
        FROM bookings WHERE ticket_id = ? LIMIT 1`, ticketID).
		Scan(&b.ID, &b.BookingID, &b.TicketID, &b.VisitDate, &b.TotalAmount, &items,
			&b.PaymentMode, &b.PaymentStatus, &b.TicketSource, &b.EntryStatus, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &b.Items); err != nil {
		return nil, fmt.Errorf("booking %s: decode items: %w", b.BookingID, err)
	}
	b.CreatedAt = created.Time
	return &b, nil
}

func scanTicket(s rowScanner) (*model.Ticket, error) {
	var (
		t                       model.Ticket
		bookingID, email, by    sql.NullString
		usedVia                 sql.NullString
		issue, qrUsedAt, usedAt dbTime
		created                 dbTime
	)
	err := s.Scan(&t.ID, &t.TicketID, &bookingID, &t.QRToken, &t.VerificationTokenHash, &t.VisitDate, &issue,
		&t.TotalAmount, &t.PaymentMode, &t.PaymentStatus, &t.CashAmount, &t.UPIAmount, &t.TicketSource,
		&t.VisitorName, &t.VisitorMobile, &email, &by, &t.QRUsed, &qrUsedAt, &usedVia, &usedAt, &created)
	if err != nil {
		return nil, err
	}
	t.BookingID = bookingID.String
	if email.Valid {
		v := email.String
		t.VisitorEmail = &v
	}
	if by.Valid {
		v := by.String
		t.IssuedBy = &v
	}
	if usedVia.Valid {
		v := usedVia.String
		t.UsedVia = &v
	}
	t.IssueDate = issue.Time
	t.QRUsedAt = qrUsedAt.ptr()
	t.UsedAt = usedAt.ptr()
	t.CreatedAt = created.Time
	return &t, nil
}

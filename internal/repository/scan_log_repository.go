package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/kzp/zoo-ticketing/internal/model"
)

// ScanLogRepo appends validation attempts to scan_logs.  It exposes no
// update or delete.
type ScanLogRepo struct{ db *sql.DB }

// NewScanLogRepo constructs a ScanLogRepo.
func NewScanLogRepo(db *sql.DB) *ScanLogRepo { return &ScanLogRepo{db: db} }

// Insert stores l, assigning an ID and scan time when they are empty.
func (r *ScanLogRepo) Insert(ctx context.Context, l *model.ScanLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.ScannedAt.IsZero() {
		l.ScannedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO scan_logs (id, ticket_id, method, result, reason, gate_id, scanned_at) VALUES (?,?,?,?,?,?,?)",
		l.ID, l.TicketID, l.Method, l.Result, nullString(l.Reason), l.GateID, l.ScannedAt.UTC())
	return err
}

// ListByTicket returns the attempts recorded against ticketID, newest
// first.  Attempts that matched no ticket are stored under "UNKNOWN".
func (r *ScanLogRepo) ListByTicket(ctx context.Context, ticketID string, limit int) ([]model.ScanLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_id, method, result, reason, gate_id, scanned_at
         FROM scan_logs WHERE ticket_id = ? ORDER BY scanned_at DESC, id DESC LIMIT ?`, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ScanLog{}
	for rows.Next() {
		var (
			l      model.ScanLog
			reason sql.NullString
			at     dbTime
		)
		if err := rows.Scan(&l.ID, &l.TicketID, &l.Method, &l.Result, &reason, &l.GateID, &at); err != nil {
			return nil, err
		}
		if reason.Valid {
			v := reason.String
			l.Reason = &v
		}
		l.ScannedAt = at.Time
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns the number of attempts stored for ticketID.
func (r *ScanLogRepo) Count(ctx context.Context, ticketID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scan_logs WHERE ticket_id = ?", ticketID).Scan(&n)
	return n, err
}

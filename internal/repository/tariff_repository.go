package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/kzp/zoo-ticketing/internal/model"
)

// TariffRepo provides access to the tariffs table.  Ordering and
// de-duplication policy lives in the service layer; the repo only reads
// and writes rows.
type TariffRepo struct{ db *sql.DB }

// NewTariffRepo constructs a TariffRepo.
func NewTariffRepo(db *sql.DB) *TariffRepo { return &TariffRepo{db: db} }

// OrderChange is one row update produced by resequencing.
type OrderChange struct {
	ID           uint64
	DisplayOrder int
	IsActive     bool
}

const tariffColumns = "id, item_code, category_code, label, category, price, display_order, is_active, valid_from, valid_to, created_at, updated_at"

// ListAll returns every tariff row, active or not, in the catalog's
// natural order.
func (r *TariffRepo) ListAll(ctx context.Context) ([]model.TariffEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tariffColumns+" FROM tariffs ORDER BY display_order ASC, updated_at DESC, created_at DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TariffEntry
	for rows.Next() {
		e, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetByID loads a single tariff row.
func (r *TariffRepo) GetByID(ctx context.Context, id uint64) (model.TariffEntry, error) {
	e, err := scanTariff(r.db.QueryRowContext(ctx,
		"SELECT "+tariffColumns+" FROM tariffs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// Insert adds a new tariff row and fills in its ID and timestamps.
func (r *TariffRepo) Insert(ctx context.Context, e *model.TariffEntry) error {
	now := time.Now().UTC()
	if e.CategoryCode == "" {
		e.CategoryCode = e.ItemCode
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tariffs (item_code, category_code, label, category, price, display_order, is_active, valid_from, valid_to, created_at, updated_at)
         VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ItemCode, e.CategoryCode, e.Label, e.Category, e.Price, e.DisplayOrder, e.IsActive,
		nullString(e.ValidFrom), nullString(e.ValidTo), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

// Update rewrites the mutable attributes of a row.  Ordering and the
// active flag have their own methods.
func (r *TariffRepo) Update(ctx context.Context, e *model.TariffEntry) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE tariffs SET category_code = ?, label = ?, category = ?, price = ?, valid_from = ?, valid_to = ?, updated_at = ?
         WHERE id = ?`,
		e.CategoryCode, e.Label, e.Category, e.Price, nullString(e.ValidFrom), nullString(e.ValidTo), now, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.UpdatedAt = now
	return nil
}

// SetActive flips the active flag of a row.
func (r *TariffRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE tariffs SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyOrder writes a batch of resequencing changes in one transaction.
// updated_at is left unchanged: it is a tie-break key of the order being
// written.
func (r *TariffRepo) ApplyOrder(ctx context.Context, changes []OrderChange) error {
	if len(changes) == 0 {
		return nil
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
	stmt, err := tx.PrepareContext(ctx, "UPDATE tariffs SET display_order = ?, is_active = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx, c.DisplayOrder, c.IsActive, c.ID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// DeleteByItemCode removes every row for itemCode, retired duplicates
// included.  Callers check references first.
func (r *TariffRepo) DeleteByItemCode(ctx context.Context, itemCode string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tariffs WHERE item_code = ?", itemCode)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsReferenced reports whether any issued ticket line was recorded under
// one of codes.
func (r *TariffRepo) IsReferenced(ctx context.Context, codes ...string) (bool, error) {
	if len(codes) == 0 {
		return false, nil
	}
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ticket_items WHERE item_code IN ("+marks+")", args...).Scan(&n)
	return n > 0, err
}

func scanTariff(s rowScanner) (model.TariffEntry, error) {
	var (
		e                model.TariffEntry
		from, to         sql.NullString
		created, updated dbTime
	)
	if err := s.Scan(&e.ID, &e.ItemCode, &e.CategoryCode, &e.Label, &e.Category, &e.Price,
		&e.DisplayOrder, &e.IsActive, &from, &to, &created, &updated); err != nil {
		return e, err
	}
	if from.Valid && from.String != "" {
		v := from.String
		e.ValidFrom = &v
	}
	if to.Valid && to.String != "" {
		v := to.String
		e.ValidTo = &v
	}
	e.CreatedAt, e.UpdatedAt = created.Time, updated.Time
	return e, nil
}

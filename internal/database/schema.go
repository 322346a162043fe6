package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// table describes one table in dialect-neutral terms.  Column types are
// chosen so that the same text is valid for MySQL and SQLite; only the
// primary key clause, non-unique indexes and table options differ.
type table struct {
	name    string
	columns []string
	unique  [][]string
	indexes [][]string
}

var schema = []table{
	{
		name: "users",
		columns: []string{
			"email VARCHAR(191) NOT NULL",
			"password_hash VARCHAR(255) NOT NULL",
			"role VARCHAR(16) NOT NULL",
			"is_active TINYINT(1) NOT NULL DEFAULT 1",
			"created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP",
			"updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP",
		},
		unique: [][]string{{"email"}},
	},
	{
		name: "refresh_tokens",
		columns: []string{
			"user_id BIGINT NOT NULL",
			"token_hash CHAR(64) NOT NULL",
			"expires_at DATETIME NOT NULL",
			"revoked_at DATETIME NULL",
			"created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP",
		},
		unique:  [][]string{{"token_hash"}},
		indexes: [][]string{{"user_id"}},
	},
	{
		name: "tariffs",
		columns: []string{
			"item_code VARCHAR(64) NOT NULL",
			"category_code VARCHAR(64) NOT NULL",
			"label VARCHAR(191) NOT NULL",
			"category VARCHAR(16) NOT NULL",
			"price DECIMAL(10,2) NOT NULL DEFAULT 0",
			"display_order INT NOT NULL",
			"is_active TINYINT(1) NOT NULL DEFAULT 1",
			"valid_from CHAR(10) NULL",
			"valid_to CHAR(10) NULL",
			"created_at DATETIME NOT NULL",
			"updated_at DATETIME NOT NULL",
		},
		indexes: [][]string{{"item_code"}, {"display_order"}},
	},
	{
		name: "tickets",
		columns: []string{
			"ticket_id CHAR(17) NOT NULL",
			"booking_id VARCHAR(32) NULL",
			"qr_token VARCHAR(64) NOT NULL",
			"verification_token_hash CHAR(64) NOT NULL",
			"visit_date CHAR(10) NOT NULL",
			"issue_date DATETIME NOT NULL",
			"total_amount DECIMAL(10,2) NOT NULL",
			"payment_mode VARCHAR(16) NOT NULL",
			"payment_status VARCHAR(16) NOT NULL",
			"cash_amount DECIMAL(10,2) NOT NULL DEFAULT 0",
			"upi_amount DECIMAL(10,2) NOT NULL DEFAULT 0",
			"ticket_source VARCHAR(16) NOT NULL",
			"visitor_name VARCHAR(191) NOT NULL",
			"visitor_mobile CHAR(10) NOT NULL",
			"visitor_email VARCHAR(191) NULL",
			"issued_by VARCHAR(64) NULL",
			"qr_used TINYINT(1) NOT NULL DEFAULT 0",
			"qr_used_at DATETIME NULL",
			"used_via VARCHAR(24) NULL",
			"used_at DATETIME NULL",
			"created_at DATETIME NOT NULL",
		},
		unique:  [][]string{{"ticket_id"}, {"qr_token"}},
		indexes: [][]string{{"visit_date"}, {"booking_id"}},
	},
	{
		name: "ticket_items",
		columns: []string{
			"ticket_id CHAR(17) NOT NULL",
			"item_code VARCHAR(64) NOT NULL",
			"label VARCHAR(191) NOT NULL",
			"category VARCHAR(16) NOT NULL",
			"quantity INT NOT NULL",
			"unit_price DECIMAL(10,2) NOT NULL",
			"amount DECIMAL(12,2) NOT NULL",
		},
		indexes: [][]string{{"ticket_id"}, {"item_code"}},
	},
	{
		name: "bookings",
		columns: []string{
			"booking_id VARCHAR(32) NOT NULL",
			"ticket_id CHAR(17) NOT NULL",
			"visit_date CHAR(10) NOT NULL",
			"total_amount DECIMAL(10,2) NOT NULL",
			"items TEXT NOT NULL",
			"payment_mode VARCHAR(16) NOT NULL",
			"payment_status VARCHAR(16) NOT NULL",
			"ticket_source VARCHAR(16) NOT NULL",
			"entry_status VARCHAR(16) NOT NULL",
			"created_at DATETIME NOT NULL",
		},
		unique:  [][]string{{"booking_id"}},
		indexes: [][]string{{"ticket_id"}, {"visit_date"}},
	},
	{
		name: "scan_logs",
		columns: []string{
			"id CHAR(36) NOT NULL PRIMARY KEY",
			"ticket_id VARCHAR(32) NOT NULL",
			"method VARCHAR(24) NOT NULL",
			"result VARCHAR(16) NOT NULL",
			"reason VARCHAR(500) NULL",
			"gate_id VARCHAR(64) NOT NULL",
			"scanned_at DATETIME NOT NULL",
		},
		indexes: [][]string{{"ticket_id"}, {"scanned_at"}},
	},
}

// Migrate creates any missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	for _, stmt := range ddl(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement: %s)", err, firstLine(stmt))
		}
	}
	return nil
}

func ddl(dialect string) []string {
	var out []string
	for _, t := range schema {
		cols := make([]string, 0, len(t.columns)+len(t.unique)+len(t.indexes)+1)
		if !hasOwnPrimaryKey(t) {
			if dialect == DialectSQLite {
				cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
			} else {
				cols = append(cols, "id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY")
			}
		}
		cols = append(cols, t.columns...)
		for _, u := range t.unique {
			cols = append(cols, fmt.Sprintf("CONSTRAINT uq_%s_%s UNIQUE (%s)", t.name, strings.Join(u, "_"), strings.Join(u, ", ")))
		}
		opts := ""
		if dialect == DialectMySQL {
			for _, ix := range t.indexes {
				cols = append(cols, fmt.Sprintf("KEY idx_%s_%s (%s)", t.name, strings.Join(ix, "_"), strings.Join(ix, ", ")))
			}
			opts = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
		}
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)%s", t.name, strings.Join(cols, ",\n  "), opts))
		if dialect == DialectSQLite {
			for _, ix := range t.indexes {
				out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
					t.name, strings.Join(ix, "_"), t.name, strings.Join(ix, ", ")))
			}
		}
	}
	return out
}

func hasOwnPrimaryKey(t table) bool {
	for _, c := range t.columns {
		if strings.Contains(c, "PRIMARY KEY") {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

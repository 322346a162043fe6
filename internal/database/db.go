package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
)

// Dialect identifiers supported by the database layer.
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// MySQLDSN builds the DSN used for MySQL connections.
func MySQLDSN(user, pass, host, port, name string) string {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)
}

// Open connects to the configured dialect and verifies the connection.
func Open(dialect, dsn string) (*sql.DB, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dsn == "" {
		return nil, fmt.Errorf("database: empty dsn")
	}
	var driver string
	switch dialect {
	case DialectMySQL:
		driver = "mysql"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("database: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	if dialect == DialectSQLite {
		// A single connection keeps ":memory:" databases coherent and
		// serialises writers the way SQLite expects.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// openDB opens a bun database for one of the supported drivers:
// sqlite (pure Go), sqlite3 (cgo), postgres (lib/pq) and pgx.
func openDB(driver, dsn string) (*bun.DB, error) {
	var dialect schema.Dialect
	switch driver {
	case "sqlite", "sqlite3":
		dialect = sqlitedialect.New()
	case "postgres", "pgx":
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" || driver == "sqlite3" {
		// Every connection to an in-memory database sees its own database.
		sqldb.SetMaxOpenConns(1)
	}
	return bun.NewDB(sqldb, dialect), nil
}

// Package sqlite implements the storage interfaces on SQLite via
// modernc.org/sqlite, holding the credential records and the model catalogue.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)"

// Store implements storage.Store. SQLite allows one writer at a time, so
// writes go through a single-connection pool while reads fan out.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// New opens the database at dsn (":memory:" for tests), applies embedded
// migrations, and returns a ready Store.
func New(dsn string) (*Store, error) {
	fullDSN := "file:" + dsn + "?" + pragmas
	if dsn == ":memory:" {
		// Shared cache so the reader pool sees the writer's data.
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	}

	writer, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	reader.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := migrate(writer); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{writer: writer, reader: reader}, nil
}

// migrate applies the embedded goose migrations. fs.Sub strips the
// "migrations/" prefix so goose sees the files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping reports connectivity of the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.writer.Close(), s.reader.Close())
}

// Package index keeps a small provenance database next to the store: which
// URL each committed digest came from and when. The store itself never
// reads it; it exists for operators ("where did this object come from?").
package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Index struct {
	db *sql.DB
}

// Entry is one provenance row.
type Entry struct {
	Digest      string
	URL         string
	SizeBytes   int64
	CompletedAt time.Time
}

// Open opens (creating on demand) the provenance database at path and runs
// any pending migrations.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Record upserts the provenance row for a committed digest.
func (ix *Index) Record(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO fetches (digest, url, size_bytes, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (digest) DO UPDATE SET
			url = excluded.url,
			size_bytes = excluded.size_bytes,
			completed_at = excluded.completed_at`,
		e.Digest, e.URL, e.SizeBytes, e.CompletedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Digest, err)
	}
	return nil
}

// List returns all provenance rows, most recent first.
func (ix *Index) List(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT digest, url, size_bytes, completed_at
		FROM fetches ORDER BY completed_at DESC, digest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var completed string
		if err := rows.Scan(&e.Digest, &e.URL, &e.SizeBytes, &completed); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, completed); err == nil {
			e.CompletedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

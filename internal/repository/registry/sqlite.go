package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jgivc/copytodownload/internal/entity"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so created_at sorts as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		scannable INTEGER NOT NULL,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
`

type sqliteRegistry struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLiteRegistry opens (creating if needed) the registry database at path.
func OpenSQLiteRegistry(ctx context.Context, path string, log *slog.Logger) (*sqliteRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open registry database: %w", err)
	}

	// One writer at a time; sqlite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot setup registry database: %w", err)
	}

	return &sqliteRegistry{
		db:  db,
		log: log.With(slog.String("item", "SQLiteRegistry"), slog.String("path", path)),
	}, nil
}

func (r *sqliteRegistry) Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		entry, err := newEntry(fields)
		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, `
			INSERT INTO entries (id, path, title, description, mime_type, scannable, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, entry.ID, entry.ResolvedPath, entry.Title, entry.Description, entry.MIMEType,
			entry.Scannable, entry.Size, entry.CreatedAt.UTC().Format(sqliteTimeLayout))
		if err != nil {
			return nil, fmt.Errorf("cannot insert entry: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("cannot insert entry: %w", err)
		}

		if n == 0 {
			r.log.Warn("Id collision", slog.String("id", entry.ID))

			continue
		}

		return entry, nil
	}

	return nil, exhausted()
}

func (r *sqliteRegistry) Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, path, title, description, mime_type, scannable, size, created_at
		FROM entries WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot get entry %s: %w", id, err)
	}

	return entry, nil
}

func (r *sqliteRegistry) List(ctx context.Context) ([]*entity.RegistryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, path, title, description, mime_type, scannable, size, created_at
		FROM entries ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("cannot list entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.RegistryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot list entries: %w", err)
	}

	return entries, nil
}

func (r *sqliteRegistry) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*entity.RegistryEntry, error) {
	var (
		entry     entity.RegistryEntry
		createdAt string
	)

	err := s.Scan(&entry.ID, &entry.ResolvedPath, &entry.Title, &entry.Description,
		&entry.MIMEType, &entry.Scannable, &entry.Size, &createdAt)
	if err != nil {
		return nil, err
	}

	entry.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("cannot parse created_at: %w", err)
	}

	return &entry, nil
}

// Package sqlite persists counting sessions in a single SQLite file so they
// survive restarts. It implements counting.Store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"movement-tally/internal/counting"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a counting.Store backed by SQLite.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

var _ counting.Store = (*Store)(nil)

// Open creates the database directory if needed, opens the file at path and
// applies pending migrations. logger may be nil.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, logger: logger}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the database handle, mainly for tests.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Load implements counting.Store.Load.
func (s *Store) Load(ctx context.Context, id counting.SessionID) (counting.Record, bool, error) {
	var (
		kind, state, updated string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT kind, state, updated_at FROM sessions WHERE id = ?`, string(id),
	).Scan(&kind, &state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return counting.Record{}, false, nil
	}
	if err != nil {
		return counting.Record{}, false, fmt.Errorf("query session %s: %w", id, err)
	}

	rec := counting.Record{ID: id, Kind: kind}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return counting.Record{}, false, fmt.Errorf("decode session %s state: %w", id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return counting.Record{}, false, fmt.Errorf("decode session %s updated_at: %w", id, err)
	}
	return rec, true, nil
}

// Save implements counting.Store.Save. Existing rows are replaced.
func (s *Store) Save(ctx context.Context, rec counting.Record) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("encode session %s state: %w", rec.ID, err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, kind, state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, state = excluded.state, updated_at = excluded.updated_at`,
		string(rec.ID), rec.Kind, string(state), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// Delete implements counting.Store.Delete.
func (s *Store) Delete(ctx context.Context, id counting.SessionID) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// List implements counting.Store.List. IDs are sorted.
func (s *Store) List(ctx context.Context) ([]counting.SessionID, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []counting.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, counting.SessionID(id))
	}
	return ids, rows.Err()
}

func (s *Store) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		if s.logger != nil {
			s.logger.Info("applied migration", "name", name)
		}
	}
	return nil
}

func (s *Store) isMigrationApplied(name string) bool {
	var exists int
	err := s.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

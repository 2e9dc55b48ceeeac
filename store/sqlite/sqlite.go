// Package sqlite implements store.CanvasStore on an embedded SQLite database.
// It backs single-node deployments and tests (":memory:"). Layers are rows of
// their own so concurrent writers never rewrite each other's layers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteCanvasStore struct {
	conn *sql.DB
}

// NewSQLiteCanvasStore opens dbPath and creates the schema if needed.
func NewSQLiteCanvasStore(dbPath string) (*SQLiteCanvasStore, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &SQLiteCanvasStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteCanvasStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteCanvasStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS canvases (
			id                 TEXT PRIMARY KEY,
			creator_id         TEXT NOT NULL,
			creator_username   TEXT NOT NULL DEFAULT '',
			access_type        TEXT NOT NULL,
			invite_code        TEXT NOT NULL DEFAULT '',
			total_pages        INTEGER NOT NULL DEFAULT 1,
			max_collaborators  INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL,
			expires_at         INTEGER NOT NULL,
			is_expired         INTEGER NOT NULL DEFAULT 0,
			view_count         INTEGER NOT NULL DEFAULT 0,
			like_count         INTEGER NOT NULL DEFAULT 0,
			exported_image_url TEXT NOT NULL DEFAULT '',
			layers_version     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_canvases_expires_at ON canvases(is_expired, expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating canvases table: %w", err)
	}

	// kind is one of allowed, pending, liked.
	_, err = s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS canvas_members (
			canvas_id TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
			user_id   TEXT NOT NULL,
			kind      TEXT NOT NULL,
			added_at  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (canvas_id, kind, user_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating canvas_members table: %w", err)
	}

	// No foreign key: layer rows outlive their canvas until the cleanup worker removes them.
	_, err = s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS layers (
			canvas_id              TEXT NOT NULL,
			id                     TEXT NOT NULL,
			sort_order             INTEGER NOT NULL,
			type                   TEXT NOT NULL,
			x                      REAL NOT NULL DEFAULT 0,
			y                      REAL NOT NULL DEFAULT 0,
			width                  REAL NOT NULL DEFAULT 0,
			height                 REAL NOT NULL DEFAULT 0,
			rotation               REAL NOT NULL DEFAULT 0,
			z_index                INTEGER NOT NULL DEFAULT 0,
			page_index             INTEGER NOT NULL DEFAULT 0,
			image_url              TEXT NOT NULL DEFAULT '',
			caption                TEXT NOT NULL DEFAULT '',
			text                   TEXT NOT NULL DEFAULT '',
			font_size              REAL NOT NULL DEFAULT 0,
			font_color             TEXT NOT NULL DEFAULT '',
			font_family            TEXT NOT NULL DEFAULT '',
			animation              TEXT,
			created_by             TEXT NOT NULL DEFAULT '',
			created_by_username    TEXT NOT NULL DEFAULT '',
			created_by_profile_pic TEXT NOT NULL DEFAULT '',
			created_at             INTEGER NOT NULL,
			updated_at             INTEGER NOT NULL,
			version                INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (canvas_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_layers_order ON layers(canvas_id, sort_order);
	`)
	if err != nil {
		return fmt.Errorf("creating layers table: %w", err)
	}

	return nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteCanvasStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

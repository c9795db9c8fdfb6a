// Package db wraps a Postgres connection and its schema migrations for the
// room broker's persistent store. The session/registry core
// never touches this package — only internal/store and internal/identity do.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type DB struct {
	*sql.DB
}

func Open(databaseURL string) (*DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("TERMRELAY_DATABASE_URL is required")
	}

	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{sqlDB}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			owner_subject TEXT NOT NULL,
			owner_login TEXT NOT NULL,
			shared_left_session TEXT,
			shared_right_session TEXT,
			shared_left_terminal TEXT,
			shared_right_terminal TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			archived_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS room_participants (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			subject TEXT NOT NULL,
			login TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (room_id, subject)
		)`,

		`CREATE TABLE IF NOT EXISTS room_pool (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			adder_subject TEXT NOT NULL,
			hostname TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			closed_graceful BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (room_id, session_id)
		)`,

		`CREATE TABLE IF NOT EXISTS room_invitations (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			inviter_subject TEXT NOT NULL,
			invitee_subject TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_room_invitations_room ON room_invitations(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_invitations_invitee ON room_invitations(invitee_subject, status)`,

		`CREATE TABLE IF NOT EXISTS participant_sessions (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			login TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participant_sessions_expires ON participant_sessions(expires_at)`,

		`CREATE TABLE IF NOT EXISTS participant_profiles (
			subject TEXT PRIMARY KEY,
			login TEXT NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %s: %w", m[:min(50, len(m))], err)
		}
	}

	return nil
}

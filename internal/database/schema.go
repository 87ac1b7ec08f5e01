package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		profile_image TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		is_public  BOOLEAN NOT NULL DEFAULT TRUE,
		creator_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS room_participants (
		room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id   TEXT NOT NULL REFERENCES users(id),
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES users(id),
		filename      TEXT NOT NULL,
		original_name TEXT NOT NULL,
		mime_type     TEXT NOT NULL,
		size          BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		sender_id  TEXT REFERENCES users(id),
		type       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		ai_type    TEXT NOT NULL DEFAULT '',
		file_id    TEXT REFERENCES files(id),
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		reactions  JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS message_reads (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL REFERENCES users(id),
		read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, user_id)
	)`,
}

// EnsureSchema creates the tables the chat server relies on.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

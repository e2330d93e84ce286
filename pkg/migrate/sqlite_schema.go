package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// sqliteSchema mirrors the goose migrations for the embedded SQLite driver used
// in dev mode and tests. Enum columns become CHECK constraints.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS words (
		id TEXT PRIMARY KEY,
		position INTEGER NULL UNIQUE,
		content TEXT NULL,
		withheld_content TEXT NULL,
		content_length INTEGER NOT NULL DEFAULT 0,
		flag_count INTEGER NOT NULL DEFAULT 0 CHECK (flag_count >= 0 AND flag_count <= 20),
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','visible','protected','flagged','redacted','admin_redacted','admin_removed','linebreak')),
		payment_reference TEXT NULL,
		fingerprint TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS position_sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT OR IGNORE INTO position_sequences (name, value) VALUES ('words', 0)`,
	`CREATE TABLE IF NOT EXISTS word_flags (
		id TEXT PRIMARY KEY,
		word_id TEXT NOT NULL REFERENCES words(id) ON DELETE CASCADE,
		fingerprint TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (word_id, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_word_flags_fingerprint ON word_flags (fingerprint)`,
	`CREATE TABLE IF NOT EXISTS checkouts (
		id TEXT PRIMARY KEY,
		payment_reference TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','processing','completed','failed')),
		cart_actions TEXT NOT NULL,
		results TEXT NULL,
		total_amount NUMERIC NOT NULL,
		refund_amount NUMERIC NOT NULL DEFAULT 0,
		refund_status TEXT NOT NULL DEFAULT 'none' CHECK (refund_status IN ('none','issued','failed')),
		refund_reference TEXT NULL,
		refund_error TEXT NULL,
		refund_attempts INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	)`,
}

// ApplySQLiteSchema creates the story tables on a SQLite database. It is idempotent.
func ApplySQLiteSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// Conversations carry the canonical pair. The partial unique index is the
// single storage constraint behind the one-conversation-per-pair policy: rows
// inserted with singleton = FALSE are never constrained.
var postgresMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS conversations (
  id               UUID PRIMARY KEY,
  participant_low  UUID NOT NULL,
  participant_high UUID NOT NULL,
  singleton        BOOLEAN NOT NULL,
  last_message_id  UUID,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL,
  CHECK (participant_low < participant_high)
);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
ON conversations (participant_low, participant_high) WHERE singleton;
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_low_updated
ON conversations (participant_low, updated_at DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_high_updated
ON conversations (participant_high, updated_at DESC);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id              UUID PRIMARY KEY,
  conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
  sender_id       UUID NOT NULL,
  receiver_id     UUID NOT NULL,
  text            TEXT NOT NULL,
  is_read         BOOLEAN NOT NULL DEFAULT FALSE,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  CHECK (sender_id <> receiver_id)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
ON messages (conversation_id, created_at, id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_unread
ON messages (receiver_id, conversation_id) WHERE NOT is_read;
`,
}

var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  id            TEXT PRIMARY KEY,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMP NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS conversations (
  id               TEXT PRIMARY KEY,
  participant_low  TEXT NOT NULL,
  participant_high TEXT NOT NULL,
  singleton        BOOLEAN NOT NULL,
  last_message_id  TEXT,
  created_at       TIMESTAMP NOT NULL,
  updated_at       TIMESTAMP NOT NULL,
  CHECK (participant_low < participant_high)
);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
ON conversations (participant_low, participant_high) WHERE singleton;
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_low_updated
ON conversations (participant_low, updated_at DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_high_updated
ON conversations (participant_high, updated_at DESC);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
  sender_id       TEXT NOT NULL,
  receiver_id     TEXT NOT NULL,
  text            TEXT NOT NULL,
  is_read         BOOLEAN NOT NULL DEFAULT FALSE,
  created_at      TIMESTAMP NOT NULL,
  updated_at      TIMESTAMP NOT NULL,
  CHECK (sender_id <> receiver_id)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
ON messages (conversation_id, created_at, id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_unread
ON messages (receiver_id, conversation_id) WHERE NOT is_read;
`,
}

// Migrate applies pending schema migrations for driver and returns the
// resulting schema version.
func Migrate(ctx context.Context, db *sql.DB, driver string) (int, error) {
	var migrations []string
	switch driver {
	case DriverPostgres:
		migrations = postgresMigrations
	case DriverSQLite:
		migrations = sqliteMigrations
	default:
		return 0, errors.Errorf("unsupported database driver %q", driver)
	}

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return 0, errors.Wrap(err, "create schema_migrations")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin migration transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return 0, errors.Wrap(err, fmt.Sprintf("apply migration %d", i+1))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			return 0, errors.Wrap(err, fmt.Sprintf("record migration %d", i+1))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit migration transaction")
	}

	if version > len(migrations) {
		return version, nil
	}
	return len(migrations), nil
}

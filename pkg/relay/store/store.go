// Copyright 2024-2026 Aiku AI

// Package store persists message mappings in SQLite. It is the durable
// identity bridge of the relay: rows survive restarts and make
// re-delivery idempotent.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_mapping (
	source_channel_id INTEGER NOT NULL,
	source_message_id INTEGER NOT NULL,
	dest_channel_id   INTEGER NOT NULL,
	dest_message_id   INTEGER NOT NULL DEFAULT 0,
	status            TEXT    NOT NULL,
	last_attempt_at   INTEGER NOT NULL,
	PRIMARY KEY (source_channel_id, source_message_id, dest_channel_id)
);
CREATE INDEX IF NOT EXISTS idx_mapping_source
	ON message_mapping (source_channel_id, source_message_id);
`

// SQLite is a relay.Store backed by a single SQLite file in WAL mode.
// Writes are serialized through one connection, which is the store's
// required concurrency discipline.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ relay.Store = (*SQLite)(nil)

// New opens (creating if needed) the mapping database at path.
func New(path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping database: %w", err)
	}
	// Serialize all access through a single connection; the mapping store
	// is shared across route workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create mapping schema: %w", err)
	}
	return &SQLite{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

// Get returns all mapping rows for one source message, ordered by
// destination channel.
func (s *SQLite) Get(ctx context.Context, sourceChannelID, sourceMessageID int64) ([]relay.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_channel_id, source_message_id, dest_channel_id,
		       dest_message_id, status, last_attempt_at
		FROM message_mapping
		WHERE source_channel_id = ? AND source_message_id = ?
		ORDER BY dest_channel_id`,
		sourceChannelID, sourceMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []relay.Mapping
	for rows.Next() {
		var m relay.Mapping
		var lastAttempt int64
		if err := rows.Scan(&m.SourceChannelID, &m.SourceMessageID, &m.DestChannelID,
			&m.DestMessageID, &m.Status, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		m.LastAttemptAt = time.Unix(lastAttempt, 0)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Put upserts a mapping row keyed by the (source channel, source message,
// destination channel) triple: a second forward attempt for the same
// triple updates, never duplicates. A tombstoned row is terminal and is
// never revived by a late Put.
func (s *SQLite) Put(ctx context.Context, m relay.Mapping) error {
	if m.LastAttemptAt.IsZero() {
		m.LastAttemptAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_mapping
			(source_channel_id, source_message_id, dest_channel_id,
			 dest_message_id, status, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_channel_id, source_message_id, dest_channel_id)
		DO UPDATE SET
			dest_message_id = excluded.dest_message_id,
			status = excluded.status,
			last_attempt_at = excluded.last_attempt_at
		WHERE message_mapping.status != ?`,
		m.SourceChannelID, m.SourceMessageID, m.DestChannelID,
		m.DestMessageID, m.Status, m.LastAttemptAt.Unix(),
		relay.StatusTombstoned)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

// Tombstone marks a mapping as deleted. Missing rows are a no-op;
// tombstoning is idempotent.
func (s *SQLite) Tombstone(ctx context.Context, sourceChannelID, sourceMessageID, destChannelID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_mapping
		SET status = ?, last_attempt_at = ?
		WHERE source_channel_id = ? AND source_message_id = ? AND dest_channel_id = ?`,
		relay.StatusTombstoned, time.Now().Unix(),
		sourceChannelID, sourceMessageID, destChannelID)
	if err != nil {
		return fmt.Errorf("failed to tombstone mapping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MessageExists reports whether a (source_id, message_id) pair is already
// stored. Re-ingestion of a stored pair is a no-op upstream.
func (s *Store) MessageExists(ctx context.Context, sourceID, messageID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message WHERE source_id = $1 AND message_id = $2
		)`,
		sourceID, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return exists, nil
}

// SaveMessage inserts an ingested message.
func (s *Store) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message (id, source_id, message_id, from_id, duplicate_id, text, pre_type, message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		m.ID, m.SourceID, m.MessageID, m.FromID, m.DuplicateID, m.Text, m.PreType, m.MessageAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LatestMessage returns the newest stored message of a source by message
// timestamp. Seeding derives its backfill cursor from it.
func (s *Store) LatestMessage(ctx context.Context, sourceID int64) (*Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_id, message_id, from_id, duplicate_id, text, pre_type, message_at, created_at, updated_at
		FROM message
		WHERE source_id = $1
		ORDER BY message_at DESC
		LIMIT 1`,
		sourceID,
	).Scan(
		&m.ID, &m.SourceID, &m.MessageID, &m.FromID, &m.DuplicateID,
		&m.Text, &m.PreType, &m.MessageAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest message: %w", err)
	}
	return &m, nil
}

// UnlinkedMessages returns a source's messages that still carry text and
// are not marked as duplicates, i.e. the origins eligible for fuzzy
// matching. Ordered oldest-first so the duplicate chain roots at the
// earliest stored original.
func (s *Store) UnlinkedMessages(ctx context.Context, sourceID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, message_id, from_id, duplicate_id, text, pre_type, message_at, created_at, updated_at
		FROM message
		WHERE source_id = $1 AND text IS NOT NULL AND duplicate_id IS NULL
		ORDER BY created_at ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unlinked messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SourceID, &m.MessageID, &m.FromID, &m.DuplicateID,
			&m.Text, &m.PreType, &m.MessageAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const sourceColumns = `id, title, username, type, COALESCE(photo_id, 0), is_active, is_seeded, created_at, updated_at`

// SourcesByState returns sources filtered by (is_active, is_seeded).
// Monitoring wants (true, true); a full backfill sweep wants (true, false).
func (s *Store) SourcesByState(ctx context.Context, active, seeded bool) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceColumns+`
		FROM source
		WHERE is_active = $1 AND is_seeded = $2
		ORDER BY id ASC`,
		active, seeded,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(
			&src.ID, &src.Title, &src.Username, &src.Type, &src.PhotoID,
			&src.IsActive, &src.IsSeeded, &src.CreatedAt, &src.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) SourceByID(ctx context.Context, id int64) (*Source, error) {
	var src Source
	err := s.pool.QueryRow(ctx, `
		SELECT `+sourceColumns+`
		FROM source
		WHERE id = $1`,
		id,
	).Scan(
		&src.ID, &src.Title, &src.Username, &src.Type, &src.PhotoID,
		&src.IsActive, &src.IsSeeded, &src.CreatedAt, &src.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source %d: %w", id, err)
	}
	return &src, nil
}

// MarkSeeded records that a source's historical backfill has completed.
func (s *Store) MarkSeeded(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE source SET is_seeded = true, updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark source %d seeded: %w", id, err)
	}
	return nil
}

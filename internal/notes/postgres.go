package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sermonforge/server/pkg/database"
)

// PostgresStore persists notes in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE notes (
//	    id            TEXT PRIMARY KEY,
//	    user_id       TEXT NOT NULL,
//	    title         TEXT NOT NULL,
//	    content       TEXT NOT NULL,
//	    scripture_ref TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX notes_user_id_idx ON notes (user_id, updated_at DESC);
type PostgresStore struct {
	db *database.Database
}

// NewPostgresStore creates a Postgres-backed note store.
func NewPostgresStore(db *database.Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Note, error) {
	query := `
		SELECT id, user_id, title, content, scripture_ref, created_at, updated_at
		FROM notes
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := s.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.ScriptureRef, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	return notes, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, noteID string) (Note, error) {
	query := `
		SELECT id, user_id, title, content, scripture_ref, created_at, updated_at
		FROM notes
		WHERE id = $1 AND user_id = $2
	`

	var n Note
	err := s.db.Pool.QueryRow(ctx, query, noteID, userID).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Content, &n.ScriptureRef, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, ErrNotFound
		}
		return Note{}, fmt.Errorf("failed to load note: %w", err)
	}

	return n, nil
}

func (s *PostgresStore) Create(ctx context.Context, note Note) error {
	query := `
		INSERT INTO notes (id, user_id, title, content, scripture_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Pool.Exec(ctx, query,
		note.ID, note.UserID, note.Title, note.Content, note.ScriptureRef, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	return nil
}

func (s *PostgresStore) Update(ctx context.Context, note Note) error {
	query := `
		UPDATE notes
		SET title = $3, content = $4, scripture_ref = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
	`

	tag, err := s.db.Pool.Exec(ctx, query,
		note.ID, note.UserID, note.Title, note.Content, note.ScriptureRef, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, noteID string) error {
	query := `DELETE FROM notes WHERE id = $1 AND user_id = $2`

	tag, err := s.db.Pool.Exec(ctx, query, noteID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

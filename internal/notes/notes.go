// Package notes stores sermon notes. All operations are scoped to the
// owning user so one account can never read or modify another's notes.
package notes

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a note does not exist or belongs to a
// different user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("note not found")

// Note is a single sermon note.
type Note struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ScriptureRef string    `json:"scripture_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists notes.
type Store interface {
	List(ctx context.Context, userID string) ([]Note, error)
	Get(ctx context.Context, userID, noteID string) (Note, error)
	Create(ctx context.Context, note Note) error
	Update(ctx context.Context, note Note) error
	Delete(ctx context.Context, userID, noteID string) error
}

package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by Store lookups for unknown users.
var ErrUserNotFound = errors.New("user not found")

// User is a registered account. PasswordHash is a bcrypt hash and never
// leaves the auth package.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists user accounts.
type Store interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, user User) error
}

package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("username already taken")
)

// Repo defines persistence operations for users.
type Repo interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, userID string) (User, error)
	List(ctx context.Context) ([]User, error)
}

package users

import (
	"context"
	"database/sql"
	"errors"

	"archive-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

// Create inserts a new user.
func (r *PGRepo) Create(ctx context.Context, user User) error {
	const query = `
INSERT INTO users (id, username, display_name, dataset_path, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.DB.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.DatasetPath,
		user.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrExists
	}
	return err
}

// GetByID returns a user by ID.
func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	const query = `
SELECT id, username, display_name, dataset_path, created_at
FROM users
WHERE id = $1`
	var u User
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.DatasetPath,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// List returns all users ordered by username.
func (r *PGRepo) List(ctx context.Context) ([]User, error) {
	const query = `
SELECT id, username, display_name, dataset_path, created_at
FROM users
ORDER BY username ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.DatasetPath, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

package user

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nexus-im/dm/store/sqldb"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = sqldb.Now()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	query := `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt); err != nil {
		if sqldb.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return errors.Wrap(err, "userStore.Create")
	}
	return nil
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`
	return s.getOne(ctx, query, id)
}

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`
	return s.getOne(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQLStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return errors.Wrap(err, "userStore.UpdatePasswordHash")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "userStore.UpdatePasswordHash.RowsAffected")
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userStore.Scan")
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

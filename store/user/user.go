package user

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a registered account. PasswordHash never leaves this package's
// callers that deal with credentials; the chat core only sees Profile.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the sanitized projection handed to the chat core.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile returns the sanitized projection of u.
func (u *User) Profile() *Profile {
	return &Profile{ID: u.ID, Name: u.Name, Email: u.Email}
}

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrPasswordRequired = errors.New("password is required")
)

// Store defines user persistence operations.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// HashPasswordIfChanged returns current when password still matches it, and
// a fresh hash otherwise.
func HashPasswordIfChanged(current, password string) (hash string, changed bool, err error) {
	if current != "" && CheckPassword(current, password) {
		return current, false, nil
	}
	hash, err = HashPassword(password)
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

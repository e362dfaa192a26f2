package identity

import (
	"errors"
	"time"

	"github.com/habms/habms/internal/platform/session"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUsername    = errors.New("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrFullNameRequired   = errors.New("full name is required")
	ErrAdminNotDeletable  = errors.New("administrator accounts cannot be deleted")
)

type User struct {
	Username     string       `json:"username"`
	PasswordHash string       `json:"-"`
	Role         session.Role `json:"role"`
	FullName     string       `json:"full_name"`
	IDCard       string       `json:"id_card"`
	Phone        string       `json:"phone"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Registration is the self-service sign-up payload.
type Registration struct {
	Username string
	Password string
	FullName string
	IDCard   string
	Phone    string
}

// AccountUpdate changes the caller's own profile. Empty fields are left as is.
type AccountUpdate struct {
	Password string
	FullName string
	Phone    string
}

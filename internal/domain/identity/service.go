package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/habms/habms/internal/platform/session"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

const minPasswordLen = 6

// AppointmentReleaser cancels a patient's appointments and runs fn in the
// same unit of work.
type AppointmentReleaser interface {
	ReleasePatient(ctx context.Context, patient string, fn func(ctx context.Context) error) (int, error)
}

type Service struct {
	users    UserRepository
	releaser AppointmentReleaser
	cost     int

	// dummyHash is compared against when the username is unknown so failed
	// logins take the same time either way.
	dummyHash []byte
}

func NewService(users UserRepository) *Service {
	return newServiceWithCost(users, bcrypt.DefaultCost)
}

func newServiceWithCost(users UserRepository, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return &Service{users: users, cost: cost, dummyHash: dummy}
}

// SetReleaser makes DeleteAccount cancel the account's appointments.
func (s *Service) SetReleaser(r AppointmentReleaser) {
	s.releaser = r
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Register creates a PATIENT account. Self-service sign-up never creates
// administrators.
func (s *Service) Register(ctx context.Context, r Registration) (*User, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.FullName = strings.TrimSpace(r.FullName)
	if !usernamePattern.MatchString(r.Username) {
		return nil, ErrInvalidUsername
	}
	if len(r.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	if r.FullName == "" {
		return nil, ErrFullNameRequired
	}

	hash, err := s.hash(r.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     r.Username,
		PasswordHash: hash,
		Role:         session.RolePatient,
		FullName:     r.FullName,
		IDCard:       strings.TrimSpace(r.IDCard),
		Phone:        strings.TrimSpace(r.Phone),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords both
// yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// AccountExists reports whether username is a registered account.
func (s *Service) AccountExists(ctx context.Context, username string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) Get(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *Service) UpdateAccount(ctx context.Context, username string, upd AccountUpdate) (*User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if upd.Password != "" {
		if len(upd.Password) < minPasswordLen {
			return nil, ErrWeakPassword
		}
		hash, err := s.hash(upd.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if name := strings.TrimSpace(upd.FullName); name != "" {
		u.FullName = name
	}
	if phone := strings.TrimSpace(upd.Phone); phone != "" {
		u.Phone = phone
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteAccount removes a patient's own account together with its
// appointments, so a later registration of the same username starts empty.
// Administrator accounts are refused.
func (s *Service) DeleteAccount(ctx context.Context, username string) error {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if u.Role == session.RoleAdmin {
		return ErrAdminNotDeletable
	}

	remove := func(ctx context.Context) error {
		return s.users.Delete(ctx, username)
	}
	if s.releaser == nil {
		return remove(ctx)
	}
	_, err = s.releaser.ReleasePatient(ctx, username, remove)
	return err
}

// EnsureAdmin creates an administrator unless the username already exists.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, fullName string) (bool, error) {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}

	if !usernamePattern.MatchString(username) {
		return false, ErrInvalidUsername
	}
	if len(password) < minPasswordLen {
		return false, ErrWeakPassword
	}
	hash, err := s.hash(password)
	if err != nil {
		return false, err
	}
	err = s.users.Create(ctx, &User{
		Username:     username,
		PasswordHash: hash,
		Role:         session.RoleAdmin,
		FullName:     fullName,
	})
	if errors.Is(err, ErrUsernameTaken) {
		return false, nil
	}
	return err == nil, err
}

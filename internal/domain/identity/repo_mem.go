package identity

import (
	"context"
	"sync"
	"time"
)

type userRepoMem struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserRepoMem returns an in-process UserRepository.
func NewUserRepoMem() UserRepository {
	return &userRepoMem{users: make(map[string]*User)}
}

func (r *userRepoMem) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.Username]; ok {
		return ErrUsernameTaken
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.users[u.Username] = &cp
	return nil
}

func (r *userRepoMem) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepoMem) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[u.Username]
	if !ok {
		return ErrUserNotFound
	}
	cur.PasswordHash = u.PasswordHash
	cur.FullName = u.FullName
	cur.Phone = u.Phone
	cur.UpdatedAt = time.Now()
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *userRepoMem) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, username)
	return nil
}

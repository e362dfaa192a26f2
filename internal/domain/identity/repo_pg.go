package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habms/habms/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `username, password_hash, role, full_name, id_card, phone, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Role, &u.FullName, &u.IDCard, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role, full_name, id_card, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.Username, u.PasswordHash, u.Role, u.FullName, u.IDCard, u.Phone).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET password_hash = $2, full_name = $3, phone = $4, updated_at = NOW()
		WHERE username = $1
		RETURNING updated_at`,
		u.Username, u.PasswordHash, u.FullName, u.Phone).Scan(&u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update user %s: %w", u.Username, err)
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, username string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

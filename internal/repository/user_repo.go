package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codesync-api/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateVerifyToken(ctx context.Context, id, token string, updatedAt time.Time) error
	MarkVerified(ctx context.Context, id string, updatedAt time.Time) error
	SetCurrentRoom(ctx context.Context, id string, roomID *string, updatedAt time.Time) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, is_verified, verify_token, current_room, icon, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, username, email, password_hash, is_verified, verify_token, current_room, icon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsVerified,
		user.VerifyToken,
		user.CurrentRoom,
		user.Icon,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) UpdateVerifyToken(ctx context.Context, id, token string, updatedAt time.Time) error {
	const query = `
		UPDATE users SET verify_token = $2, updated_at = $3
		WHERE id = $1
	`
	return r.exec(ctx, query, id, token, updatedAt)
}

// MarkVerified limpia el token pendiente en la misma escritura que marca
// la cuenta como verificada. Nunca regresa una cuenta a no-verificada.
func (r *PgUserRepository) MarkVerified(ctx context.Context, id string, updatedAt time.Time) error {
	const query = `
		UPDATE users SET is_verified = TRUE, verify_token = '', updated_at = $2
		WHERE id = $1
	`
	return r.exec(ctx, query, id, updatedAt)
}

func (r *PgUserRepository) SetCurrentRoom(ctx context.Context, id string, roomID *string, updatedAt time.Time) error {
	const query = `
		UPDATE users SET current_room = $2, updated_at = $3
		WHERE id = $1
	`
	return r.exec(ctx, query, id, roomID, updatedAt)
}

func (r *PgUserRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) scanOne(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&u.VerifyToken,
		&u.CurrentRoom,
		&u.Icon,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	return u, err
}

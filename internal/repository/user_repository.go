package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// UserFilter narrows List queries.
type UserFilter struct {
	HelpersOnly bool
}

// UserRepository defines persistence access for chat users.
type UserRepository interface {
	Upsert(ctx context.Context, chatUserID, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByChatID(ctx context.Context, chatUserID string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	SetRoles(ctx context.Context, chatUserID string, helper, admin bool) (*domain.User, error)
}

const userColumns = `id, chat_user_id, username, helper, admin, created_at`

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Upsert(ctx context.Context, chatUserID, username string) (*domain.User, error) {
	query := `
        INSERT INTO users (chat_user_id, username)
        VALUES ($1, $2)
        ON CONFLICT (chat_user_id) DO UPDATE SET username=EXCLUDED.username
        RETURNING ` + userColumns
	return r.fetchSingle(ctx, query, chatUserID, username)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.fetchSingle(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *userRepository) GetByChatID(ctx context.Context, chatUserID string) (*domain.User, error) {
	return r.fetchSingle(ctx, `SELECT `+userColumns+` FROM users WHERE chat_user_id=$1`, chatUserID)
}

func (r *userRepository) SetRoles(ctx context.Context, chatUserID string, helper, admin bool) (*domain.User, error) {
	query := `
        INSERT INTO users (chat_user_id, username, helper, admin)
        VALUES ($1, '', $2, $3)
        ON CONFLICT (chat_user_id) DO UPDATE SET helper=EXCLUDED.helper, admin=EXCLUDED.admin
        RETURNING ` + userColumns
	return r.fetchSingle(ctx, query, chatUserID, helper, admin)
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if filter.HelpersOnly {
		query += ` WHERE helper`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.ID,
			&user.ChatUserID,
			&user.Username,
			&user.Helper,
			&user.Admin,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.ChatUserID,
		&user.Username,
		&user.Helper,
		&user.Admin,
		&user.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &user, nil
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// BotMessageRepository tracks bot replies posted into question threads.
type BotMessageRepository interface {
	Create(ctx context.Context, msg *domain.BotMessage) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.BotMessage, error)
	Delete(ctx context.Context, id int64) error
	DeleteByKey(ctx context.Context, channelID, messageKey string) error
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type botMessageRepository struct {
	pool *pgxpool.Pool
}

// NewBotMessageRepository builds repository.
func NewBotMessageRepository(pool *pgxpool.Pool) BotMessageRepository {
	return &botMessageRepository{pool: pool}
}

func (r *botMessageRepository) Create(ctx context.Context, msg *domain.BotMessage) error {
	return insertBotMessage(ctx, r.pool, msg)
}

func insertBotMessage(ctx context.Context, q rowQuerier, msg *domain.BotMessage) error {
	const query = `
        INSERT INTO bot_messages (ticket_id, channel_id, message_key)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	return q.QueryRow(ctx, query,
		msg.TicketID,
		msg.ChannelID,
		msg.MessageKey,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *botMessageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.BotMessage, error) {
	const query = `
        SELECT id, ticket_id, channel_id, message_key, created_at
        FROM bot_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BotMessage
	for rows.Next() {
		var msg domain.BotMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.ChannelID,
			&msg.MessageKey,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *botMessageRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM bot_messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *botMessageRepository) DeleteByKey(ctx context.Context, channelID, messageKey string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM bot_messages WHERE channel_id=$1 AND message_key=$2`, channelID, messageKey)
	return err
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TagRepository manages both tag taxonomies and their links to tickets.
type TagRepository interface {
	List(ctx context.Context, kind domain.TagKind) ([]domain.Tag, error)
	GetByID(ctx context.Context, id int64) (*domain.Tag, error)
	Create(ctx context.Context, tag *domain.Tag) error
	DeleteByNames(ctx context.Context, kind domain.TagKind, names []string) (int64, error)
	SetTicketCategoryTags(ctx context.Context, ticketID int64, tagIDs []int64) error
	ListTicketCategoryTags(ctx context.Context, ticketID int64) ([]domain.Tag, error)
}

const tagColumns = `id, kind, name, created_by_id, created_at`

type tagRepository struct {
	pool *pgxpool.Pool
}

// NewTagRepository builds repository.
func NewTagRepository(pool *pgxpool.Pool) TagRepository {
	return &tagRepository{pool: pool}
}

func (r *tagRepository) List(ctx context.Context, kind domain.TagKind) ([]domain.Tag, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tagColumns+` FROM tags WHERE kind=$1 ORDER BY name ASC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

func (r *tagRepository) GetByID(ctx context.Context, id int64) (*domain.Tag, error) {
	var tag domain.Tag
	err := r.pool.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE id=$1`, id).Scan(
		&tag.ID,
		&tag.Kind,
		&tag.Name,
		&tag.CreatedByID,
		&tag.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &tag, nil
}

func (r *tagRepository) Create(ctx context.Context, tag *domain.Tag) error {
	const query = `
        INSERT INTO tags (kind, name, created_by_id)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, tag.Kind, tag.Name, tag.CreatedByID).Scan(&tag.ID, &tag.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateTag
	}
	return err
}

func (r *tagRepository) DeleteByNames(ctx context.Context, kind domain.TagKind, names []string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tags WHERE kind=$1 AND name = ANY($2)`, kind, names)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SetTicketCategoryTags replaces the ticket's category tag links.
func (r *tagRepository) SetTicketCategoryTags(ctx context.Context, ticketID int64, tagIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM ticket_category_tags WHERE ticket_id=$1`, ticketID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		const insert = `
            INSERT INTO ticket_category_tags (ticket_id, tag_id)
            VALUES ($1,$2) ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, insert, ticketID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *tagRepository) ListTicketCategoryTags(ctx context.Context, ticketID int64) ([]domain.Tag, error) {
	const query = `
        SELECT t.id, t.kind, t.name, t.created_by_id, t.created_at
        FROM tags t JOIN ticket_category_tags tt ON tt.tag_id = t.id
        WHERE tt.ticket_id=$1 ORDER BY t.name ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows pgx.Rows) ([]domain.Tag, error) {
	var result []domain.Tag
	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(
			&tag.ID,
			&tag.Kind,
			&tag.Name,
			&tag.CreatedByID,
			&tag.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, tag)
	}
	return result, rows.Err()
}

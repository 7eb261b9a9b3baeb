package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketOrder selects the ordering of List results.
type TicketOrder string

const (
	OrderCreatedAsc TicketOrder = "created_asc"
	// OrderLastMessageAsc orders by the latest thread activity, falling back to
	// creation time for tickets nobody has replied to.
	OrderLastMessageAsc TicketOrder = "last_message_asc"
)

// TicketFilter narrows Count and List queries. Zero values do not filter.
type TicketFilter struct {
	OpenedByID        *int64
	ClosedByID        *int64
	ExcludeID         *int64
	Statuses          []domain.TicketStatus
	ExcludeStatuses   []domain.TicketStatus
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	LastActivityTo    *time.Time
	LastMessageByNot  *domain.Participant
	Order             TicketOrder
	Limit             int
}

// TicketPatch lists the fields an Update should change. Nil pointers are left
// untouched. RequireStatus and RequireNotStatus guard the write: when the
// current status does not satisfy them Update returns ErrNotFound.
type TicketPatch struct {
	Status            *domain.TicketStatus
	AssignedToID      *int64
	AssignedAtIfUnset *time.Time
	ClosedByID        *int64
	ClosedAt          *time.Time
	ClearClosed       bool
	ReopenedByID      *int64
	BackendMessageKey *string
	LastMessageAt     *time.Time
	LastMessageBy     *domain.Participant
	QuestionTagID     *int64
	ClearQuestionTag  bool
	Title             *string

	RequireStatus    *domain.TicketStatus
	RequireNotStatus *domain.TicketStatus
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket, reply *domain.BotMessage) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByQuestionKey(ctx context.Context, key string) (*domain.Ticket, error)
	GetOpenByQuestionKey(ctx context.Context, key string) (*domain.Ticket, error)
	GetByBackendKey(ctx context.Context, key string) (*domain.Ticket, error)
	Update(ctx context.Context, id int64, patch TicketPatch) (*domain.Ticket, error)
	Delete(ctx context.Context, id int64) error
	DeleteByQuestionKey(ctx context.Context, key string) error
	Count(ctx context.Context, filter TicketFilter) (int, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

const ticketColumns = `id, question_message_key, backend_message_key, title, description, status,
        opened_by_id, assigned_to_id, closed_by_id, reopened_by_id, question_tag_id,
        last_message_by, created_at, assigned_at, closed_at, last_message_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

// Create inserts the ticket and its first bot reply in one transaction.
func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, reply *domain.BotMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusOpen
	}

	const insertTicket = `
        INSERT INTO tickets (question_message_key, backend_message_key, title, description, status, opened_by_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertTicket,
		ticket.QuestionMessageKey,
		ticket.BackendMessageKey,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.OpenedByID,
	).Scan(&ticket.ID, &ticket.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTicket
		}
		return err
	}

	if reply != nil {
		reply.TicketID = ticket.ID
		if err := insertBotMessage(ctx, tx, reply); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByQuestionKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE question_message_key=$1`
	return r.fetchSingle(ctx, query, key)
}

func (r *ticketRepository) GetOpenByQuestionKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE question_message_key=$1 AND status <> 'CLOSED'`
	return r.fetchSingle(ctx, query, key)
}

func (r *ticketRepository) GetByBackendKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE backend_message_key=$1`
	return r.fetchSingle(ctx, query, key)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return ticket, nil
}

func (r *ticketRepository) Update(ctx context.Context, id int64, patch TicketPatch) (*domain.Ticket, error) {
	sets := []string{}
	args := []any{}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.AssignedToID != nil {
		set("assigned_to_id", *patch.AssignedToID)
	}
	if patch.AssignedAtIfUnset != nil {
		args = append(args, *patch.AssignedAtIfUnset)
		sets = append(sets, fmt.Sprintf("assigned_at=COALESCE(assigned_at, $%d)", len(args)))
	}
	if patch.ClearClosed {
		sets = append(sets, "closed_by_id=NULL", "closed_at=NULL")
	} else {
		if patch.ClosedByID != nil {
			set("closed_by_id", *patch.ClosedByID)
		}
		if patch.ClosedAt != nil {
			set("closed_at", *patch.ClosedAt)
		}
	}
	if patch.ReopenedByID != nil {
		set("reopened_by_id", *patch.ReopenedByID)
	}
	if patch.BackendMessageKey != nil {
		set("backend_message_key", *patch.BackendMessageKey)
	}
	if patch.LastMessageAt != nil {
		set("last_message_at", *patch.LastMessageAt)
	}
	if patch.LastMessageBy != nil {
		set("last_message_by", string(*patch.LastMessageBy))
	}
	if patch.ClearQuestionTag {
		sets = append(sets, "question_tag_id=NULL")
	} else if patch.QuestionTagID != nil {
		set("question_tag_id", *patch.QuestionTagID)
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	clauses := []string{fmt.Sprintf("id=$%d", len(args))}
	if patch.RequireStatus != nil {
		args = append(args, *patch.RequireStatus)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if patch.RequireNotStatus != nil {
		args = append(args, *patch.RequireNotStatus)
		clauses = append(clauses, fmt.Sprintf("status<>$%d", len(args)))
	}

	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), strings.Join(clauses, " AND "), ticketColumns)

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) DeleteByQuestionKey(ctx context.Context, key string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE question_message_key=$1`, key)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	where, args := filterClauses(filter)
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count)
	return count, err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := filterClauses(filter)

	order := "created_at ASC, id ASC"
	if filter.Order == OrderLastMessageAsc {
		order = "COALESCE(last_message_at, created_at) ASC, id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s`, ticketColumns, where, order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func filterClauses(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OpenedByID != nil {
		args = append(args, *filter.OpenedByID)
		clauses = append(clauses, fmt.Sprintf("opened_by_id=$%d", len(args)))
	}
	if filter.ClosedByID != nil {
		args = append(args, *filter.ClosedByID)
		clauses = append(clauses, fmt.Sprintf("closed_by_id=$%d", len(args)))
	}
	if filter.ExcludeID != nil {
		args = append(args, *filter.ExcludeID)
		clauses = append(clauses, fmt.Sprintf("id<>$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", placeholders(&args, filter.Statuses)))
	}
	if len(filter.ExcludeStatuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status NOT IN (%s)", placeholders(&args, filter.ExcludeStatuses)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.LastActivityTo != nil {
		args = append(args, *filter.LastActivityTo)
		clauses = append(clauses, fmt.Sprintf("COALESCE(last_message_at, created_at) < $%d", len(args)))
	}
	if filter.LastMessageByNot != nil {
		args = append(args, string(*filter.LastMessageByNot))
		clauses = append(clauses, fmt.Sprintf("(last_message_by IS NULL OR last_message_by<>$%d)", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

func placeholders(args *[]any, statuses []domain.TicketStatus) string {
	marks := make([]string, len(statuses))
	for i, status := range statuses {
		*args = append(*args, status)
		marks[i] = fmt.Sprintf("$%d", len(*args))
	}
	return strings.Join(marks, ",")
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket        domain.Ticket
		lastMessageBy *string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.QuestionMessageKey,
		&ticket.BackendMessageKey,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.OpenedByID,
		&ticket.AssignedToID,
		&ticket.ClosedByID,
		&ticket.ReopenedByID,
		&ticket.QuestionTagID,
		&lastMessageBy,
		&ticket.CreatedAt,
		&ticket.AssignedAt,
		&ticket.ClosedAt,
		&ticket.LastMessageAt,
	); err != nil {
		return nil, err
	}
	if lastMessageBy != nil {
		p := domain.Participant(*lastMessageBy)
		ticket.LastMessageBy = &p
	}
	return &ticket, nil
}

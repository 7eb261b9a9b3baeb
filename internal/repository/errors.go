package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no row matches, including when an update
	// guard (expected status) rejects the write.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateTicket is returned when a ticket already exists for the
	// question message key.
	ErrDuplicateTicket = errors.New("repository: ticket already exists for question")
	// ErrDuplicateTag is returned when a tag name is already used for its kind.
	ErrDuplicateTag = errors.New("repository: tag already exists")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateSlug is returned by CreateArticle when the slug unique
// constraint rejects an insert.
var ErrDuplicateSlug = errors.New("article slug already exists")

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

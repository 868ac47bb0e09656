package core

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
	}

	// TxRunner runs fn inside a single transaction: every repository call made with exec
	// is committed together, or not at all when fn returns an error.
	TxRunner interface {
		RunInTx(ctx context.Context, fn func(exec DBExecutor) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Pagination is a skip/limit window over an ordered result set. A zero Limit means no limit.
type Pagination struct {
	Skip  uint64 `query:"skip"`
	Limit uint64 `query:"limit" validate:"lte=500"`
}

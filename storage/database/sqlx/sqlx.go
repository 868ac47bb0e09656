// Package sqlxrepos implements the repositories on sqlx, with queries built by squirrel.
// The same queries run on postgres and sqlite.
package sqlxrepos

import (
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
)

// Repositories groups every repository on one database.
type Repositories struct {
	Users        *userRepository
	Classes      *classRepository
	Tasks        *taskRepository
	HelpRequests *helpRequestRepository
}

func NewRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Users:        NewUserRepository(db),
		Classes:      NewClassRepository(db),
		Tasks:        NewTaskRepository(db),
		HelpRequests: NewHelpRequestRepository(db),
	}
}

type base struct {
	db *sqlx.DB
}

func (b base) getExec(exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0]
	}
	return b.db
}

func builder(exec core.DBExecutor) sq.StatementBuilderType {
	if exec.DriverName() == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func isUniqueViolation(err error) bool {
	err = errors.Cause(err)
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNoRows(err error) bool {
	return errors.Cause(err) == sql.ErrNoRows
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

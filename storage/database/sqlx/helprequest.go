package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/helprequest"
)

var helpRequestColumns = []string{
	"id", "task_id", "user_id", "message", "requested_at",
	"resolved", "resolved_at", "resolved_by", "resolution_message",
}

type helpRequestRow struct {
	ID                int       `db:"id"`
	TaskID            int       `db:"task_id"`
	UserID            int       `db:"user_id"`
	Message           string    `db:"message"`
	RequestedAt       time.Time `db:"requested_at"`
	Resolved          bool      `db:"resolved"`
	ResolvedAt        null.Time `db:"resolved_at"`
	ResolvedBy        null.Int  `db:"resolved_by"`
	ResolutionMessage string    `db:"resolution_message"`
}

func (r helpRequestRow) model() helprequest.HelpRequest {
	return helprequest.HelpRequest{
		ID:                r.ID,
		TaskID:            r.TaskID,
		UserID:            r.UserID,
		Message:           r.Message,
		RequestedAt:       utc(r.RequestedAt),
		Resolved:          r.Resolved,
		ResolvedAt:        utcPtr(r.ResolvedAt.Ptr()),
		ResolvedBy:        r.ResolvedBy.Ptr(),
		ResolutionMessage: r.ResolutionMessage,
	}
}

type helpRequestRepository struct {
	base
}

var _ helprequest.Repository = (*helpRequestRepository)(nil)

func NewHelpRequestRepository(db *sqlx.DB) *helpRequestRepository {
	return &helpRequestRepository{base{db: db}}
}

func (repo *helpRequestRepository) CreateHelpRequest(ctx context.Context, hr helprequest.HelpRequest, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Insert("help_requests").
		Columns(helpRequestColumns[1:]...).
		Values(hr.TaskID, hr.UserID, hr.Message, hr.RequestedAt, hr.Resolved,
			null.TimeFromPtr(hr.ResolvedAt), null.IntFromPtr(hr.ResolvedBy), hr.ResolutionMessage).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return helprequest.HelpRequest{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &hr.ID, q, args...); err != nil {
		if isUniqueViolation(err) {
			return helprequest.HelpRequest{}, helprequest.ErrOpenRequestExists
		}
		return helprequest.HelpRequest{}, errors.Wrap(err, "inserting help request")
	}
	return hr, nil
}

func (repo *helpRequestRepository) UpdateHelpRequest(ctx context.Context, hr helprequest.HelpRequest, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Update("help_requests").
		SetMap(map[string]interface{}{
			"message":            hr.Message,
			"resolved":           hr.Resolved,
			"resolved_at":        null.TimeFromPtr(hr.ResolvedAt),
			"resolved_by":        null.IntFromPtr(hr.ResolvedBy),
			"resolution_message": hr.ResolutionMessage,
		}).
		Where(sq.Eq{"id": hr.ID}).
		ToSql()
	if err != nil {
		return helprequest.HelpRequest{}, errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return helprequest.HelpRequest{}, errors.Wrap(err, "updating help request")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return helprequest.HelpRequest{}, helprequest.ErrNotFound
	}
	return hr, nil
}

func (repo *helpRequestRepository) get(ctx context.Context, cond sq.Sqlizer, exec []core.DBExecutor) (helprequest.HelpRequest, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Select(helpRequestColumns...).
		From("help_requests").
		Where(cond).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return helprequest.HelpRequest{}, errors.Wrap(err, "building query")
	}
	var row helpRequestRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		if isNoRows(err) {
			return helprequest.HelpRequest{}, helprequest.ErrNotFound
		}
		return helprequest.HelpRequest{}, errors.Wrap(err, "getting help request")
	}
	return row.model(), nil
}

func (repo *helpRequestRepository) GetHelpRequest(ctx context.Context, id int, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	return repo.get(ctx, sq.Eq{"id": id}, exec)
}

func (repo *helpRequestRepository) GetOpenHelpRequest(ctx context.Context, taskID, userID int, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	return repo.get(ctx, sq.Eq{"task_id": taskID, "user_id": userID, "resolved": false}, exec)
}

func (repo *helpRequestRepository) QueryHelpRequests(ctx context.Context, filter helprequest.QueryFilter, exec ...core.DBExecutor) ([]helprequest.HelpRequest, error) {
	ex := repo.getExec(exec)
	cols := make([]string, 0, len(helpRequestColumns))
	for _, c := range helpRequestColumns {
		cols = append(cols, "hr."+c)
	}
	sb := builder(ex).
		Select(cols...).
		From("help_requests hr").
		OrderBy("hr.requested_at DESC", "hr.id DESC")
	if filter.Resolved != nil {
		sb = sb.Where(sq.Eq{"hr.resolved": *filter.Resolved})
	}
	if filter.UserID != 0 {
		sb = sb.Where(sq.Eq{"hr.user_id": filter.UserID})
	}
	if filter.TaskID != 0 {
		sb = sb.Where(sq.Eq{"hr.task_id": filter.TaskID})
	}
	if filter.ClassID != 0 {
		sb = sb.Join("tasks t ON t.id = hr.task_id").Where(sq.Eq{"t.class_id": filter.ClassID})
	}
	if filter.Limit > 0 {
		sb = sb.Limit(filter.Limit)
	}
	if filter.Skip > 0 {
		if filter.Limit == 0 {
			// OFFSET requires a LIMIT on sqlite
			sb = sb.Limit(1<<63 - 1)
		}
		sb = sb.Offset(filter.Skip)
	}
	q, args, err := sb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []helpRequestRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying help requests")
	}
	hrs := make([]helprequest.HelpRequest, 0, len(rows))
	for _, r := range rows {
		hrs = append(hrs, r.model())
	}
	return hrs, nil
}

package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
)

var classColumns = []string{"id", "name", "description", "created_at", "updated_at"}

type classRow struct {
	ID          int       `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r classRow) model() class.Class {
	return class.Class{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   utc(r.CreatedAt),
		UpdatedAt:   utc(r.UpdatedAt),
	}
}

type classRepository struct {
	base
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *sqlx.DB) *classRepository {
	return &classRepository{base{db: db}}
}

func (repo *classRepository) CreateClass(ctx context.Context, cls class.Class, exec ...core.DBExecutor) (class.Class, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Insert("classes").
		Columns(classColumns[1:]...).
		Values(cls.Name, cls.Description, cls.CreatedAt, cls.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return class.Class{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &cls.ID, q, args...); err != nil {
		return class.Class{}, errors.Wrap(err, "inserting class")
	}
	return cls, nil
}

func (repo *classRepository) UpdateClass(ctx context.Context, cls class.Class, exec ...core.DBExecutor) (class.Class, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Update("classes").
		Set("name", cls.Name).
		Set("description", cls.Description).
		Set("updated_at", cls.UpdatedAt).
		Where(sq.Eq{"id": cls.ID}).
		ToSql()
	if err != nil {
		return class.Class{}, errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "updating class")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return class.Class{}, class.ErrNotFound
	}
	return cls, nil
}

func (repo *classRepository) DeleteClass(ctx context.Context, id int, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Delete("classes").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting class")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return class.ErrNotFound
	}
	return nil
}

func (repo *classRepository) GetClass(ctx context.Context, id int, exec ...core.DBExecutor) (class.Class, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Select(classColumns...).From("classes").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return class.Class{}, errors.Wrap(err, "building query")
	}
	var row classRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		if isNoRows(err) {
			return class.Class{}, class.ErrNotFound
		}
		return class.Class{}, errors.Wrap(err, "getting class")
	}
	return row.model(), nil
}

func (repo *classRepository) QueryClasses(ctx context.Context, exec ...core.DBExecutor) ([]class.Class, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Select(classColumns...).From("classes").OrderBy("name ASC", "id ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []classRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]class.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.model())
	}
	return classes, nil
}

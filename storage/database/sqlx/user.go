package sqlxrepos

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/user"
)

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles", "class_id",
	"password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           int       `db:"id"`
	Name         string    `db:"name"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	IsActive     bool      `db:"is_active"`
	Roles        string    `db:"roles"`
	ClassID      null.Int  `db:"class_id"`
	PasswordHash []byte    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastLogin    null.Time `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	if usr.PasswordHash == nil {
		usr.PasswordHash = []byte{} // NOT NULL
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		IsActive:     usr.IsActive,
		Roles:        strings.Join(usr.Roles, ","),
		ClassID:      null.NewInt(usr.ClassID, usr.ClassID != 0),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt,
		UpdatedAt:    usr.UpdatedAt,
		LastLogin:    null.NewTime(usr.LastLogin, !usr.LastLogin.IsZero()),
	}
}

func (r userRow) model() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		IsActive:     r.IsActive,
		Roles:        []string{},
		ClassID:      r.ClassID.Int,
		PasswordHash: r.PasswordHash,
		CreatedAt:    utc(r.CreatedAt),
		UpdatedAt:    utc(r.UpdatedAt),
	}
	if r.Roles != "" {
		usr.Roles = strings.Split(r.Roles, ",")
	}
	if r.LastLogin.Valid {
		usr.LastLogin = utc(r.LastLogin.Time)
	}
	return usr
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{base{db: db}}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedID int) error {
	exec := repo.db
	cond := sq.Or{sq.Eq{"username": username}}
	if email != "" {
		cond = append(cond, sq.Eq{"email": email})
	}
	q, args, err := builder(exec).
		Select("username", "email").
		From("users").
		Where(sq.And{cond, sq.NotEq{"id": excludedID}}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var found []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err = sqlx.SelectContext(ctx, exec, &found, q, args...); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, f := range found {
		if f.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(found) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	row := newUserRow(usr)
	q, args, err := builder(ex).
		Insert("users").
		Columns(userColumns[1:]...).
		Values(row.Name, row.Username, row.Email, row.IsActive, row.Roles, row.ClassID,
			row.PasswordHash, row.CreatedAt, row.UpdatedAt, row.LastLogin).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &row.ID, q, args...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.model(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	row := newUserRow(usr)
	q, args, err := builder(ex).
		Update("users").
		SetMap(map[string]interface{}{
			"name":          row.Name,
			"username":      row.Username,
			"email":         row.Email,
			"is_active":     row.IsActive,
			"roles":         row.Roles,
			"class_id":      row.ClassID,
			"password_hash": row.PasswordHash,
			"updated_at":    row.UpdatedAt,
			"last_login":    row.LastLogin,
		}).
		Where(sq.Eq{"id": row.ID}).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.model(), nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	sb := builder(ex).Select(userColumns...).From("users")
	switch {
	case filter.ID != 0:
		sb = sb.Where(sq.Eq{"id": filter.ID})
	case filter.UsernameOrEmail != "":
		sb = sb.Where(sq.Or{sq.Eq{"username": filter.UsernameOrEmail}, sq.Eq{"email": filter.UsernameOrEmail}})
	default:
		return user.User{}, user.ErrNotFound
	}
	q, args, err := sb.Limit(1).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}

	var row userRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		if isNoRows(err) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.model(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter, exec ...core.DBExecutor) ([]user.User, error) {
	ex := repo.getExec(exec)
	sb := builder(ex).Select(userColumns...).From("users").OrderBy("id ASC")
	if len(filter.IDs) > 0 {
		sb = sb.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.ClassID != 0 {
		sb = sb.Where(sq.Eq{"class_id": filter.ClassID})
	}
	if filter.Role != "" {
		sb = sb.Where(sq.Like{"roles": "%" + filter.Role + "%"})
	}
	if filter.IsActive != nil {
		sb = sb.Where(sq.Eq{"is_active": *filter.IsActive})
	}
	q, args, err := sb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []userRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.model())
	}
	return users, nil
}

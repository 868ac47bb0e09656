package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/task"
)

var (
	taskColumns = []string{
		"id", "title", "description", "user_id", "class_id", "expected_time", "stage",
		"started_at", "current_stage_started_at", "completed_at",
		"help_needed", "help_message", "help_requested_at", "is_delayed", "created_at", "updated_at",
	}
	historyColumns = []string{
		"id", "task_id", "user_id", "previous_stage", "new_stage", "changed_at", "time_spent", "comment",
	}
	stageConfigColumns = []string{"id", "task_id", "stage", "expected_time", "description", "sort_order"}
)

type taskRow struct {
	ID                    int       `db:"id"`
	Title                 string    `db:"title"`
	Description           string    `db:"description"`
	UserID                int       `db:"user_id"`
	ClassID               null.Int  `db:"class_id"`
	ExpectedTime          int       `db:"expected_time"`
	Stage                 string    `db:"stage"`
	StartedAt             null.Time `db:"started_at"`
	CurrentStageStartedAt null.Time `db:"current_stage_started_at"`
	CompletedAt           null.Time `db:"completed_at"`
	HelpNeeded            bool      `db:"help_needed"`
	HelpMessage           string    `db:"help_message"`
	HelpRequestedAt       null.Time `db:"help_requested_at"`
	IsDelayed             bool      `db:"is_delayed"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func (r taskRow) model() task.Task {
	return task.Task{
		ID:                    r.ID,
		Title:                 r.Title,
		Description:           r.Description,
		UserID:                r.UserID,
		ClassID:               r.ClassID.Int,
		ExpectedTime:          r.ExpectedTime,
		Stage:                 task.Stage(r.Stage),
		StartedAt:             utcPtr(r.StartedAt.Ptr()),
		CurrentStageStartedAt: utcPtr(r.CurrentStageStartedAt.Ptr()),
		CompletedAt:           utcPtr(r.CompletedAt.Ptr()),
		HelpNeeded:            r.HelpNeeded,
		HelpMessage:           r.HelpMessage,
		HelpRequestedAt:       utcPtr(r.HelpRequestedAt.Ptr()),
		IsDelayed:             r.IsDelayed,
		CreatedAt:             utc(r.CreatedAt),
		UpdatedAt:             utc(r.UpdatedAt),
	}
}

type historyRow struct {
	ID            int         `db:"id"`
	TaskID        int         `db:"task_id"`
	UserID        int         `db:"user_id"`
	PreviousStage null.String `db:"previous_stage"`
	NewStage      string      `db:"new_stage"`
	ChangedAt     time.Time   `db:"changed_at"`
	TimeSpent     null.Int64  `db:"time_spent"`
	Comment       string      `db:"comment"`
}

func (r historyRow) model() task.History {
	hist := task.History{
		ID:        r.ID,
		TaskID:    r.TaskID,
		UserID:    r.UserID,
		NewStage:  task.Stage(r.NewStage),
		ChangedAt: utc(r.ChangedAt),
		TimeSpent: r.TimeSpent.Ptr(),
		Comment:   r.Comment,
	}
	if r.PreviousStage.Valid {
		prev := task.Stage(r.PreviousStage.String)
		hist.PreviousStage = &prev
	}
	return hist
}

type stageConfigRow struct {
	ID           int    `db:"id"`
	TaskID       int    `db:"task_id"`
	Stage        string `db:"stage"`
	ExpectedTime int    `db:"expected_time"`
	Description  string `db:"description"`
	Order        int    `db:"sort_order"`
}

func (r stageConfigRow) model() task.StageConfig {
	return task.StageConfig{
		ID:           r.ID,
		TaskID:       r.TaskID,
		Stage:        task.Stage(r.Stage),
		ExpectedTime: r.ExpectedTime,
		Description:  r.Description,
		Order:        r.Order,
	}
}

type taskRepository struct {
	base
}

var _ task.Repository = (*taskRepository)(nil)

func NewTaskRepository(db *sqlx.DB) *taskRepository {
	return &taskRepository{base{db: db}}
}

func (repo *taskRepository) CreateTask(ctx context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Insert("tasks").
		Columns(taskColumns[1:]...).
		Values(
			tsk.Title, tsk.Description, tsk.UserID, null.NewInt(tsk.ClassID, tsk.ClassID != 0), tsk.ExpectedTime,
			tsk.Stage.String(), null.TimeFromPtr(tsk.StartedAt), null.TimeFromPtr(tsk.CurrentStageStartedAt),
			null.TimeFromPtr(tsk.CompletedAt), tsk.HelpNeeded, tsk.HelpMessage, null.TimeFromPtr(tsk.HelpRequestedAt),
			tsk.IsDelayed, tsk.CreatedAt, tsk.UpdatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return task.Task{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &tsk.ID, q, args...); err != nil {
		return task.Task{}, errors.Wrap(err, "inserting task")
	}
	return tsk, nil
}

func (repo *taskRepository) update(ctx context.Context, id int, set map[string]interface{}, exec []core.DBExecutor) error {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Update("tasks").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "updating task")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (repo *taskRepository) UpdateTask(ctx context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	err := repo.update(ctx, tsk.ID, map[string]interface{}{
		"title":         tsk.Title,
		"description":   tsk.Description,
		"expected_time": tsk.ExpectedTime,
		"updated_at":    tsk.UpdatedAt,
	}, exec)
	if err != nil {
		return task.Task{}, err
	}
	return repo.GetTask(ctx, tsk.ID, exec...)
}

func (repo *taskRepository) UpdateStage(ctx context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	err := repo.update(ctx, tsk.ID, map[string]interface{}{
		"stage":                    tsk.Stage.String(),
		"started_at":               null.TimeFromPtr(tsk.StartedAt),
		"current_stage_started_at": null.TimeFromPtr(tsk.CurrentStageStartedAt),
		"completed_at":             null.TimeFromPtr(tsk.CompletedAt),
		"is_delayed":               tsk.IsDelayed,
		"updated_at":               tsk.UpdatedAt,
	}, exec)
	if err != nil {
		return task.Task{}, err
	}
	return repo.GetTask(ctx, tsk.ID, exec...)
}

func (repo *taskRepository) UpdateHelp(ctx context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	err := repo.update(ctx, tsk.ID, map[string]interface{}{
		"help_needed":       tsk.HelpNeeded,
		"help_message":      tsk.HelpMessage,
		"help_requested_at": null.TimeFromPtr(tsk.HelpRequestedAt),
		"updated_at":        tsk.UpdatedAt,
	}, exec)
	if err != nil {
		return task.Task{}, err
	}
	return repo.GetTask(ctx, tsk.ID, exec...)
}

func (repo *taskRepository) UpdateDelayed(ctx context.Context, id int, delayed bool, exec ...core.DBExecutor) error {
	return repo.update(ctx, id, map[string]interface{}{"is_delayed": delayed}, exec)
}

// DeleteTask removes the dependent rows first.
func (repo *taskRepository) DeleteTask(ctx context.Context, id int, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	for _, table := range []string{"help_requests", "stage_configs", "task_histories"} {
		q, args, err := builder(ex).Delete(table).Where(sq.Eq{"task_id": id}).ToSql()
		if err != nil {
			return errors.Wrap(err, "building query")
		}
		if _, err = ex.ExecContext(ctx, q, args...); err != nil {
			return errors.Wrapf(err, "deleting %s", table)
		}
	}

	q, args, err := builder(ex).Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting task")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (repo *taskRepository) GetTask(ctx context.Context, id int, exec ...core.DBExecutor) (task.Task, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Select(taskColumns...).From("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return task.Task{}, errors.Wrap(err, "building query")
	}
	var row taskRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		if isNoRows(err) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, errors.Wrap(err, "getting task")
	}
	return row.model(), nil
}

func (repo *taskRepository) QueryTasks(ctx context.Context, filter task.QueryFilter, exec ...core.DBExecutor) ([]task.Task, error) {
	ex := repo.getExec(exec)
	sb := builder(ex).Select(taskColumns...).From("tasks").OrderBy("created_at DESC", "id DESC")
	if len(filter.IDs) > 0 {
		sb = sb.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.UserID != 0 {
		sb = sb.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.ClassID != 0 {
		sb = sb.Where(sq.Eq{"class_id": filter.ClassID})
	}
	if filter.Stage != "" {
		sb = sb.Where(sq.Eq{"stage": filter.Stage.String()})
	}
	if filter.IsDelayed != nil {
		sb = sb.Where(sq.Eq{"is_delayed": *filter.IsDelayed})
	}
	if filter.Active {
		sb = sb.Where(sq.Eq{"completed_at": nil}).Where(sq.NotEq{"current_stage_started_at": nil})
	}
	q, args, err := sb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []taskRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}
	tasks := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.model())
	}
	return tasks, nil
}

// Histories

func (repo *taskRepository) CreateHistory(ctx context.Context, hist task.History, exec ...core.DBExecutor) (task.History, error) {
	ex := repo.getExec(exec)
	var prev null.String
	if hist.PreviousStage != nil {
		prev = null.StringFrom(hist.PreviousStage.String())
	}
	q, args, err := builder(ex).
		Insert("task_histories").
		Columns(historyColumns[1:]...).
		Values(hist.TaskID, hist.UserID, prev, hist.NewStage.String(), hist.ChangedAt,
			null.Int64FromPtr(hist.TimeSpent), hist.Comment).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return task.History{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &hist.ID, q, args...); err != nil {
		return task.History{}, errors.Wrap(err, "inserting history")
	}
	return hist, nil
}

func (repo *taskRepository) QueryHistories(ctx context.Context, taskID int, exec ...core.DBExecutor) ([]task.History, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Select(historyColumns...).
		From("task_histories").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("changed_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []historyRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying histories")
	}
	hists := make([]task.History, 0, len(rows))
	for _, r := range rows {
		hists = append(hists, r.model())
	}
	return hists, nil
}

// Stage configs

func (repo *taskRepository) CreateStageConfig(ctx context.Context, cfg task.StageConfig, exec ...core.DBExecutor) (task.StageConfig, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Insert("stage_configs").
		Columns(stageConfigColumns[1:]...).
		Values(cfg.TaskID, cfg.Stage.String(), cfg.ExpectedTime, cfg.Description, cfg.Order).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return task.StageConfig{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, ex, &cfg.ID, q, args...); err != nil {
		if isUniqueViolation(err) {
			return task.StageConfig{}, task.ErrStageConfigExists
		}
		return task.StageConfig{}, errors.Wrap(err, "inserting stage config")
	}
	return cfg, nil
}

func (repo *taskRepository) UpdateStageConfig(ctx context.Context, cfg task.StageConfig, exec ...core.DBExecutor) (task.StageConfig, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Update("stage_configs").
		Set("expected_time", cfg.ExpectedTime).
		Set("description", cfg.Description).
		Set("sort_order", cfg.Order).
		Where(sq.Eq{"id": cfg.ID}).
		ToSql()
	if err != nil {
		return task.StageConfig{}, errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return task.StageConfig{}, errors.Wrap(err, "updating stage config")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return task.StageConfig{}, task.ErrStageConfigNotFound
	}
	return cfg, nil
}

func (repo *taskRepository) DeleteStageConfig(ctx context.Context, id int, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).Delete("stage_configs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting stage config")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return task.ErrStageConfigNotFound
	}
	return nil
}

func (repo *taskRepository) GetStageConfig(ctx context.Context, filter task.StageConfigFilter, exec ...core.DBExecutor) (task.StageConfig, error) {
	ex := repo.getExec(exec)
	sb := builder(ex).Select(stageConfigColumns...).From("stage_configs")
	switch {
	case filter.ID != 0:
		sb = sb.Where(sq.Eq{"id": filter.ID})
	case filter.TaskID != 0 && filter.Stage != "":
		sb = sb.Where(sq.Eq{"task_id": filter.TaskID, "stage": filter.Stage.String()})
	default:
		return task.StageConfig{}, task.ErrStageConfigNotFound
	}
	q, args, err := sb.Limit(1).ToSql()
	if err != nil {
		return task.StageConfig{}, errors.Wrap(err, "building query")
	}
	var row stageConfigRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		if isNoRows(err) {
			return task.StageConfig{}, task.ErrStageConfigNotFound
		}
		return task.StageConfig{}, errors.Wrap(err, "getting stage config")
	}
	return row.model(), nil
}

func (repo *taskRepository) QueryStageConfigs(ctx context.Context, taskID int, exec ...core.DBExecutor) ([]task.StageConfig, error) {
	ex := repo.getExec(exec)
	q, args, err := builder(ex).
		Select(stageConfigColumns...).
		From("stage_configs").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("sort_order ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []stageConfigRow
	if err = sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying stage configs")
	}
	cfgs := make([]task.StageConfig, 0, len(rows))
	for _, r := range rows {
		cfgs = append(cfgs, r.model())
	}
	return cfgs, nil
}

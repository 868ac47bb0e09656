package task

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/user"
)

var (
	// errors
	ErrNotFound            = core.NewNotFoundError("task")
	ErrStageConfigNotFound = core.NewNotFoundError("stage config")
	ErrStageConfigExists   = errors.New("a config already exists for this stage")
	ErrForbidden           = core.NewForbiddenError("not allowed to access this task")
)

type (
	// UserFinder looks up the owner of a task.
	UserFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	Service struct {
		db    core.TxRunner
		repo  Repository
		users UserFinder
		pub   event.Publisher
	}
)

func NewService(db core.TxRunner, repo Repository, users UserFinder, pub event.Publisher) *Service {
	return &Service{db: db, repo: repo, users: users, pub: pub}
}

func (svc *Service) get(ctx context.Context, p user.Principal, id int, exec ...core.DBExecutor) (Task, error) {
	tsk, err := svc.repo.GetTask(ctx, id, exec...)
	if err != nil {
		return Task{}, err
	}
	if !user.CanManageTask(p, tsk.UserID, tsk.ClassID) {
		return Task{}, ErrForbidden
	}
	return tsk, nil
}

func (svc *Service) Get(ctx context.Context, p user.Principal, id int) (Task, error) {
	return svc.get(ctx, p, id)
}

// Query scopes filter to what p may see: students see their own tasks, teachers the tasks of their class.
func (svc *Service) Query(ctx context.Context, p user.Principal, filter QueryFilter) ([]Task, error) {
	switch p.Kind {
	case user.KindStudent:
		filter.UserID = p.UserID
	case user.KindTeacher:
		if p.ClassID == 0 {
			return []Task{}, nil
		}
		filter.ClassID = p.ClassID
	}
	return svc.repo.QueryTasks(ctx, filter)
}

func (svc *Service) newTask(ctx context.Context, p user.Principal, nt NewTask, ownerID int) (Task, error) {
	owner, err := svc.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Task{}, core.NewValidationError(err, core.FieldError{Field: "user_id", Error: err.Error()})
		}
		return Task{}, errors.Wrap(err, "finding owner")
	}
	if !user.CanCreateTaskFor(p, owner.ID, owner.ClassID) {
		return Task{}, core.NewForbiddenError("not allowed to create a task for this user")
	}

	now := core.NowFunc()
	return Task{
		Title:                 nt.Title,
		Description:           nt.Description,
		UserID:                owner.ID,
		ClassID:               owner.ClassID,
		ExpectedTime:          nt.ExpectedTime,
		Stage:                 StageTodo,
		CurrentStageStartedAt: &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Create creates a task in todo, owned by nt.UserID or by the caller.
func (svc *Service) Create(ctx context.Context, p user.Principal, nt NewTask) (Task, error) {
	ownerID := nt.UserID
	if ownerID == 0 {
		ownerID = p.UserID
	}
	tsk, err := svc.newTask(ctx, p, nt, ownerID)
	if err != nil {
		return Task{}, err
	}
	if tsk, err = svc.repo.CreateTask(ctx, tsk); err != nil {
		return Task{}, errors.Wrap(err, "creating task")
	}
	svc.pub.Publish(taskEvent(event.TypeTaskCreated, tsk, p.UserID))
	return tsk, nil
}

// CreateForUsers creates one task per owner, all or none.
func (svc *Service) CreateForUsers(ctx context.Context, p user.Principal, nt NewTask, ownerIDs []int) ([]Task, error) {
	tasks := make([]Task, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		tsk, err := svc.newTask(ctx, p, nt, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, tsk)
	}

	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		for i := range tasks {
			tsk, err := svc.repo.CreateTask(ctx, tasks[i], exec)
			if err != nil {
				return errors.Wrap(err, "creating task")
			}
			tasks[i] = tsk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, tsk := range tasks {
		svc.pub.Publish(taskEvent(event.TypeTaskCreated, tsk, p.UserID))
	}
	return tasks, nil
}

func (svc *Service) Update(ctx context.Context, p user.Principal, id int, ut UpdateTask) (Task, error) {
	tsk, err := svc.get(ctx, p, id)
	if err != nil {
		return Task{}, err
	}
	if ut.Title != nil {
		tsk.Title = *ut.Title
	}
	if ut.Description != nil {
		tsk.Description = core.CleanString(*ut.Description)
	}
	if ut.ExpectedTime != nil {
		tsk.ExpectedTime = *ut.ExpectedTime
	}
	tsk.UpdatedAt = core.NowFunc()

	if tsk, err = svc.repo.UpdateTask(ctx, tsk); err != nil {
		return Task{}, errors.Wrap(err, "updating task")
	}
	svc.pub.Publish(taskEvent(event.TypeTaskUpdated, tsk, p.UserID))
	return tsk, nil
}

func (svc *Service) Delete(ctx context.Context, p user.Principal, id int) error {
	tsk, err := svc.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !user.CanDeleteTask(p, tsk.ClassID) {
		return core.NewForbiddenError("only teachers can delete tasks")
	}

	err = svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		return svc.repo.DeleteTask(ctx, id, exec)
	})
	if err != nil {
		return errors.Wrap(err, "deleting task")
	}

	ev := taskEvent(event.TypeTaskDeleted, tsk, p.UserID)
	ev.Payload = event.TaskChanged{TaskID: tsk.ID}
	svc.pub.Publish(ev)
	return nil
}

// MoveStage moves the task to move.Stage and records the transition, atomically.
// The stage_changed notification is published once the transaction committed.
func (svc *Service) MoveStage(ctx context.Context, p user.Principal, id int, move StageMove) (Task, History, error) {
	var tsk Task
	var hist History

	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		orig, err := svc.get(ctx, p, id, exec)
		if err != nil {
			return err
		}
		stage, err := ParseStage(move.Stage)
		if err != nil {
			return err
		}

		tsk, hist = orig.transition(stage, p.UserID, core.CleanString(move.Comment), core.NowFunc())
		if tsk, err = svc.repo.UpdateStage(ctx, tsk, exec); err != nil {
			return errors.Wrap(err, "updating stage")
		}
		if hist, err = svc.repo.CreateHistory(ctx, hist, exec); err != nil {
			return errors.Wrap(err, "creating history")
		}
		return nil
	})
	if err != nil {
		return Task{}, History{}, err
	}

	svc.pub.Publish(stageChangedEvent(tsk, hist))
	return tsk, hist, nil
}

func (svc *Service) Histories(ctx context.Context, p user.Principal, taskID int) ([]History, error) {
	if _, err := svc.get(ctx, p, taskID); err != nil {
		return nil, err
	}
	return svc.repo.QueryHistories(ctx, taskID)
}

// Stage configs

func (svc *Service) getConfigurable(ctx context.Context, p user.Principal, taskID int) (Task, error) {
	tsk, err := svc.repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if !user.CanConfigureStages(p, tsk.ClassID) {
		return Task{}, core.NewForbiddenError("only teachers can configure stages")
	}
	return tsk, nil
}

func (svc *Service) StageConfigs(ctx context.Context, p user.Principal, taskID int) ([]StageConfig, error) {
	if _, err := svc.get(ctx, p, taskID); err != nil {
		return nil, err
	}
	return svc.repo.QueryStageConfigs(ctx, taskID)
}

func (svc *Service) CreateStageConfig(ctx context.Context, p user.Principal, taskID int, nc NewStageConfig) (StageConfig, error) {
	if _, err := svc.getConfigurable(ctx, p, taskID); err != nil {
		return StageConfig{}, err
	}
	stage, err := ParseStage(nc.Stage)
	if err != nil {
		return StageConfig{}, err
	}

	cfg := StageConfig{
		TaskID:       taskID,
		Stage:        stage,
		ExpectedTime: nc.ExpectedTime,
		Description:  nc.Description,
		Order:        stage.Order(),
	}
	if nc.Order != nil {
		cfg.Order = *nc.Order
	}

	cfg, err = svc.repo.CreateStageConfig(ctx, cfg)
	if err != nil {
		if errors.Cause(err) == ErrStageConfigExists {
			return StageConfig{}, core.NewValidationError(err, core.FieldError{Field: "stage", Error: err.Error()})
		}
		return StageConfig{}, errors.Wrap(err, "creating stage config")
	}
	return cfg, nil
}

func (svc *Service) getStageConfig(ctx context.Context, p user.Principal, taskID, id int) (StageConfig, error) {
	if _, err := svc.getConfigurable(ctx, p, taskID); err != nil {
		return StageConfig{}, err
	}
	cfg, err := svc.repo.GetStageConfig(ctx, StageConfigFilter{ID: id})
	if err != nil {
		return StageConfig{}, err
	}
	if cfg.TaskID != taskID {
		return StageConfig{}, ErrStageConfigNotFound
	}
	return cfg, nil
}

func (svc *Service) UpdateStageConfig(ctx context.Context, p user.Principal, taskID, id int, uc UpdateStageConfig) (StageConfig, error) {
	cfg, err := svc.getStageConfig(ctx, p, taskID, id)
	if err != nil {
		return StageConfig{}, err
	}
	if uc.ExpectedTime != nil {
		cfg.ExpectedTime = *uc.ExpectedTime
	}
	if uc.Description != nil {
		cfg.Description = core.CleanString(*uc.Description)
	}
	if uc.Order != nil {
		cfg.Order = *uc.Order
	}
	return svc.repo.UpdateStageConfig(ctx, cfg)
}

func (svc *Service) DeleteStageConfig(ctx context.Context, p user.Principal, taskID, id int) error {
	if _, err := svc.getStageConfig(ctx, p, taskID, id); err != nil {
		return err
	}
	return svc.repo.DeleteStageConfig(ctx, id)
}

// events

func taskEvent(typ string, tsk Task, actorID int) event.Event {
	return event.Event{
		Type:     typ,
		TaskID:   tsk.ID,
		OwnerID:  tsk.UserID,
		ClassID:  tsk.ClassID,
		ActorID:  actorID,
		Audience: event.ToOwner | event.ToAllTeachers,
		Payload:  event.TaskChanged{TaskID: tsk.ID, Task: tsk},
	}
}

func stageChangedEvent(tsk Task, hist History) event.Event {
	payload := event.StageChanged{
		TaskID:           tsk.ID,
		UserID:           tsk.UserID,
		ChangedBy:        hist.UserID,
		NewStage:         hist.NewStage.String(),
		TimeSpentSeconds: hist.TimeSpent,
		Comment:          hist.Comment,
		ChangedAt:        hist.ChangedAt,
	}
	if hist.PreviousStage != nil {
		prev := hist.PreviousStage.String()
		payload.PreviousStage = &prev
	}
	return event.Event{
		Type:     event.TypeStageChanged,
		TaskID:   tsk.ID,
		OwnerID:  tsk.UserID,
		ClassID:  tsk.ClassID,
		ActorID:  hist.UserID,
		Audience: event.ToOwner | event.ToClassTeachers | event.ToClassMembers,
		Payload:  payload,
	}
}

package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/task"
)

type taskRepository struct {
	db *DB
}

var _ task.Repository = (*taskRepository)(nil)

func NewTaskRepository(db *DB) *taskRepository {
	return &taskRepository{db: db}
}

func (repo *taskRepository) CreateTask(_ context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	repo.db.write(exec, func(t *tables) {
		tsk.ID = t.nextID()
		t.tasks[tsk.ID] = tsk
	})
	return tsk, nil
}

// modify applies fn to the stored task and returns the result.
func (repo *taskRepository) modify(id int, exec []core.DBExecutor, fn func(stored *task.Task)) (tsk task.Task, err error) {
	err = task.ErrNotFound
	repo.db.write(exec, func(t *tables) {
		stored, ok := t.tasks[id]
		if !ok {
			return
		}
		fn(&stored)
		t.tasks[id] = stored
		tsk, err = stored, nil
	})
	return tsk, err
}

func (repo *taskRepository) UpdateTask(_ context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	return repo.modify(tsk.ID, exec, func(stored *task.Task) {
		stored.Title = tsk.Title
		stored.Description = tsk.Description
		stored.ExpectedTime = tsk.ExpectedTime
		stored.UpdatedAt = tsk.UpdatedAt
	})
}

func (repo *taskRepository) UpdateStage(_ context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	return repo.modify(tsk.ID, exec, func(stored *task.Task) {
		stored.Stage = tsk.Stage
		stored.StartedAt = tsk.StartedAt
		stored.CurrentStageStartedAt = tsk.CurrentStageStartedAt
		stored.CompletedAt = tsk.CompletedAt
		stored.IsDelayed = tsk.IsDelayed
		stored.UpdatedAt = tsk.UpdatedAt
	})
}

func (repo *taskRepository) UpdateHelp(_ context.Context, tsk task.Task, exec ...core.DBExecutor) (task.Task, error) {
	return repo.modify(tsk.ID, exec, func(stored *task.Task) {
		stored.HelpNeeded = tsk.HelpNeeded
		stored.HelpMessage = tsk.HelpMessage
		stored.HelpRequestedAt = tsk.HelpRequestedAt
		stored.UpdatedAt = tsk.UpdatedAt
	})
}

func (repo *taskRepository) UpdateDelayed(_ context.Context, id int, delayed bool, exec ...core.DBExecutor) error {
	_, err := repo.modify(id, exec, func(stored *task.Task) {
		stored.IsDelayed = delayed
	})
	return err
}

func (repo *taskRepository) DeleteTask(_ context.Context, id int, exec ...core.DBExecutor) error {
	err := task.ErrNotFound
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.tasks[id]; !ok {
			return
		}
		err = nil
		delete(t.tasks, id)
		for hid, h := range t.histories {
			if h.TaskID == id {
				delete(t.histories, hid)
			}
		}
		for cid, cfg := range t.stageConfigs {
			if cfg.TaskID == id {
				delete(t.stageConfigs, cid)
			}
		}
		for rid, hr := range t.helpRequests {
			if hr.TaskID == id {
				delete(t.helpRequests, rid)
			}
		}
	})
	return err
}

func (repo *taskRepository) GetTask(_ context.Context, id int, exec ...core.DBExecutor) (tsk task.Task, err error) {
	err = task.ErrNotFound
	repo.db.read(func(t *tables) {
		if stored, ok := t.tasks[id]; ok {
			tsk, err = stored, nil
		}
	})
	return tsk, err
}

func (repo *taskRepository) QueryTasks(_ context.Context, filter task.QueryFilter, exec ...core.DBExecutor) ([]task.Task, error) {
	tasks := make([]task.Task, 0)
	repo.db.read(func(t *tables) {
		for _, tsk := range t.tasks {
			if matchTask(tsk, filter) {
				tasks = append(tasks, tsk)
			}
		}
	})
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
	return tasks, nil
}

func matchTask(tsk task.Task, filter task.QueryFilter) bool {
	switch {
	case len(filter.IDs) > 0 && !containsInt(filter.IDs, tsk.ID):
		return false
	case filter.UserID != 0 && tsk.UserID != filter.UserID:
		return false
	case filter.ClassID != 0 && tsk.ClassID != filter.ClassID:
		return false
	case filter.Stage != "" && tsk.Stage != filter.Stage:
		return false
	case filter.IsDelayed != nil && tsk.IsDelayed != *filter.IsDelayed:
		return false
	case filter.Active && (tsk.CompletedAt != nil || tsk.CurrentStageStartedAt == nil):
		return false
	}
	return true
}

// Histories

func (repo *taskRepository) CreateHistory(_ context.Context, hist task.History, exec ...core.DBExecutor) (task.History, error) {
	repo.db.write(exec, func(t *tables) {
		hist.ID = t.nextID()
		t.histories[hist.ID] = hist
	})
	return hist, nil
}

func (repo *taskRepository) QueryHistories(_ context.Context, taskID int, exec ...core.DBExecutor) ([]task.History, error) {
	hists := make([]task.History, 0)
	repo.db.read(func(t *tables) {
		for _, h := range t.histories {
			if h.TaskID == taskID {
				hists = append(hists, h)
			}
		}
	})
	sort.Slice(hists, func(i, j int) bool {
		if !hists[i].ChangedAt.Equal(hists[j].ChangedAt) {
			return hists[i].ChangedAt.Before(hists[j].ChangedAt)
		}
		return hists[i].ID < hists[j].ID
	})
	return hists, nil
}

// Stage configs

func (repo *taskRepository) CreateStageConfig(_ context.Context, cfg task.StageConfig, exec ...core.DBExecutor) (task.StageConfig, error) {
	var err error
	repo.db.write(exec, func(t *tables) {
		for _, c := range t.stageConfigs {
			if c.TaskID == cfg.TaskID && c.Stage == cfg.Stage {
				err = task.ErrStageConfigExists
				return
			}
		}
		cfg.ID = t.nextID()
		t.stageConfigs[cfg.ID] = cfg
	})
	if err != nil {
		return task.StageConfig{}, err
	}
	return cfg, nil
}

func (repo *taskRepository) UpdateStageConfig(_ context.Context, cfg task.StageConfig, exec ...core.DBExecutor) (task.StageConfig, error) {
	err := task.ErrStageConfigNotFound
	repo.db.write(exec, func(t *tables) {
		stored, ok := t.stageConfigs[cfg.ID]
		if !ok {
			return
		}
		stored.ExpectedTime = cfg.ExpectedTime
		stored.Description = cfg.Description
		stored.Order = cfg.Order
		t.stageConfigs[cfg.ID] = stored
		cfg, err = stored, nil
	})
	if err != nil {
		return task.StageConfig{}, err
	}
	return cfg, nil
}

func (repo *taskRepository) DeleteStageConfig(_ context.Context, id int, exec ...core.DBExecutor) error {
	err := task.ErrStageConfigNotFound
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.stageConfigs[id]; ok {
			delete(t.stageConfigs, id)
			err = nil
		}
	})
	return err
}

func (repo *taskRepository) GetStageConfig(_ context.Context, filter task.StageConfigFilter, exec ...core.DBExecutor) (cfg task.StageConfig, err error) {
	err = task.ErrStageConfigNotFound
	repo.db.read(func(t *tables) {
		if filter.ID != 0 {
			if c, ok := t.stageConfigs[filter.ID]; ok {
				cfg, err = c, nil
			}
			return
		}
		for _, c := range t.stageConfigs {
			if c.TaskID == filter.TaskID && c.Stage == filter.Stage {
				cfg, err = c, nil
				return
			}
		}
	})
	return cfg, err
}

func (repo *taskRepository) QueryStageConfigs(_ context.Context, taskID int, exec ...core.DBExecutor) ([]task.StageConfig, error) {
	cfgs := make([]task.StageConfig, 0)
	repo.db.read(func(t *tables) {
		for _, c := range t.stageConfigs {
			if c.TaskID == taskID {
				cfgs = append(cfgs, c)
			}
		}
	})
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].Order != cfgs[j].Order {
			return cfgs[i].Order < cfgs[j].Order
		}
		return cfgs[i].ID < cfgs[j].ID
	})
	return cfgs, nil
}

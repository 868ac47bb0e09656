package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
)

type classRepository struct {
	db *DB
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *DB) *classRepository {
	return &classRepository{db: db}
}

func (repo *classRepository) CreateClass(_ context.Context, cls class.Class, exec ...core.DBExecutor) (class.Class, error) {
	repo.db.write(exec, func(t *tables) {
		cls.ID = t.nextID()
		t.classes[cls.ID] = cls
	})
	return cls, nil
}

func (repo *classRepository) UpdateClass(_ context.Context, cls class.Class, exec ...core.DBExecutor) (class.Class, error) {
	var err error
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.classes[cls.ID]; !ok {
			err = class.ErrNotFound
			return
		}
		t.classes[cls.ID] = cls
	})
	if err != nil {
		return class.Class{}, err
	}
	return cls, nil
}

// DeleteClass leaves the members and the tasks of the class without class.
func (repo *classRepository) DeleteClass(_ context.Context, id int, exec ...core.DBExecutor) error {
	var err error
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.classes[id]; !ok {
			err = class.ErrNotFound
			return
		}
		delete(t.classes, id)
		for uid, usr := range t.users {
			if usr.ClassID == id {
				usr.ClassID = 0
				t.users[uid] = usr
			}
		}
		for tid, tsk := range t.tasks {
			if tsk.ClassID == id {
				tsk.ClassID = 0
				t.tasks[tid] = tsk
			}
		}
	})
	return err
}

func (repo *classRepository) GetClass(_ context.Context, id int, exec ...core.DBExecutor) (cls class.Class, err error) {
	err = class.ErrNotFound
	repo.db.read(func(t *tables) {
		if c, ok := t.classes[id]; ok {
			cls, err = c, nil
		}
	})
	return cls, err
}

func (repo *classRepository) QueryClasses(_ context.Context, exec ...core.DBExecutor) ([]class.Class, error) {
	classes := make([]class.Class, 0)
	repo.db.read(func(t *tables) {
		for _, cls := range t.classes {
			classes = append(classes, cls)
		}
	})
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Name != classes[j].Name {
			return classes[i].Name < classes[j].Name
		}
		return classes[i].ID < classes[j].ID
	})
	return classes, nil
}

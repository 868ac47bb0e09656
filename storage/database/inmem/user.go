package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email string, excludedID int) (err error) {
	repo.db.read(func(t *tables) {
		for _, usr := range t.users {
			if usr.ID == excludedID {
				continue
			}
			if usr.Username == username {
				err = user.ErrUsernameExists
				return
			}
			if email != "" && usr.Email == email {
				err = user.ErrEmailExists
			}
		}
	})
	return err
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	var err error
	repo.db.write(exec, func(t *tables) {
		for _, u := range t.users {
			if u.Username == usr.Username {
				err = user.ErrUsernameExists
				return
			}
		}
		usr.ID = t.nextID()
		t.users[usr.ID] = usr
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	var err error
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.users[usr.ID]; !ok {
			err = user.ErrNotFound
			return
		}
		t.users[usr.ID] = usr
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, exec ...core.DBExecutor) (usr user.User, err error) {
	err = user.ErrNotFound
	repo.db.read(func(t *tables) {
		switch {
		case filter.ID != 0:
			if u, ok := t.users[filter.ID]; ok {
				usr, err = u, nil
			}
		case filter.UsernameOrEmail != "":
			for _, u := range t.users {
				if u.Username == filter.UsernameOrEmail || u.Email == filter.UsernameOrEmail {
					usr, err = u, nil
					return
				}
			}
		}
	})
	return usr, err
}

func (repo *userRepository) QueryUsers(_ context.Context, filter user.QueryFilter, exec ...core.DBExecutor) ([]user.User, error) {
	users := make([]user.User, 0)
	repo.db.read(func(t *tables) {
		for _, usr := range t.users {
			if matchUser(usr, filter) {
				users = append(users, usr)
			}
		}
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func matchUser(usr user.User, filter user.QueryFilter) bool {
	if len(filter.IDs) > 0 && !containsInt(filter.IDs, usr.ID) {
		return false
	}
	if filter.ClassID != 0 && usr.ClassID != filter.ClassID {
		return false
	}
	if filter.Role != "" && !strings.Contains(strings.Join(usr.Roles, ","), filter.Role) {
		return false
	}
	return filter.IsActive == nil || usr.IsActive == *filter.IsActive
}

func containsInt(ids []int, id int) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/helprequest"
)

type helpRequestRepository struct {
	db *DB
}

var _ helprequest.Repository = (*helpRequestRepository)(nil)

func NewHelpRequestRepository(db *DB) *helpRequestRepository {
	return &helpRequestRepository{db: db}
}

func (repo *helpRequestRepository) CreateHelpRequest(_ context.Context, hr helprequest.HelpRequest, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	var err error
	repo.db.write(exec, func(t *tables) {
		if !hr.Resolved {
			for _, stored := range t.helpRequests {
				if !stored.Resolved && stored.TaskID == hr.TaskID && stored.UserID == hr.UserID {
					err = helprequest.ErrOpenRequestExists
					return
				}
			}
		}
		hr.ID = t.nextID()
		t.helpRequests[hr.ID] = hr
	})
	if err != nil {
		return helprequest.HelpRequest{}, err
	}
	return hr, nil
}

func (repo *helpRequestRepository) UpdateHelpRequest(_ context.Context, hr helprequest.HelpRequest, exec ...core.DBExecutor) (helprequest.HelpRequest, error) {
	err := helprequest.ErrNotFound
	repo.db.write(exec, func(t *tables) {
		if _, ok := t.helpRequests[hr.ID]; ok {
			t.helpRequests[hr.ID] = hr
			err = nil
		}
	})
	if err != nil {
		return helprequest.HelpRequest{}, err
	}
	return hr, nil
}

func (repo *helpRequestRepository) GetHelpRequest(_ context.Context, id int, exec ...core.DBExecutor) (hr helprequest.HelpRequest, err error) {
	err = helprequest.ErrNotFound
	repo.db.read(func(t *tables) {
		if stored, ok := t.helpRequests[id]; ok {
			hr, err = stored, nil
		}
	})
	return hr, err
}

func (repo *helpRequestRepository) GetOpenHelpRequest(_ context.Context, taskID, userID int, exec ...core.DBExecutor) (hr helprequest.HelpRequest, err error) {
	err = helprequest.ErrNotFound
	repo.db.read(func(t *tables) {
		for _, stored := range t.helpRequests {
			if !stored.Resolved && stored.TaskID == taskID && stored.UserID == userID {
				hr, err = stored, nil
				return
			}
		}
	})
	return hr, err
}

func (repo *helpRequestRepository) QueryHelpRequests(_ context.Context, filter helprequest.QueryFilter, exec ...core.DBExecutor) ([]helprequest.HelpRequest, error) {
	hrs := make([]helprequest.HelpRequest, 0)
	repo.db.read(func(t *tables) {
		for _, hr := range t.helpRequests {
			switch {
			case filter.Resolved != nil && hr.Resolved != *filter.Resolved:
				continue
			case filter.UserID != 0 && hr.UserID != filter.UserID:
				continue
			case filter.TaskID != 0 && hr.TaskID != filter.TaskID:
				continue
			case filter.ClassID != 0 && t.tasks[hr.TaskID].ClassID != filter.ClassID:
				continue
			}
			hrs = append(hrs, hr)
		}
	})
	sort.Slice(hrs, func(i, j int) bool {
		if !hrs[i].RequestedAt.Equal(hrs[j].RequestedAt) {
			return hrs[i].RequestedAt.After(hrs[j].RequestedAt)
		}
		return hrs[i].ID > hrs[j].ID
	})

	if filter.Skip > 0 {
		if filter.Skip >= uint64(len(hrs)) {
			return []helprequest.HelpRequest{}, nil
		}
		hrs = hrs[filter.Skip:]
	}
	if filter.Limit > 0 && filter.Limit < uint64(len(hrs)) {
		hrs = hrs[:filter.Limit]
	}
	return hrs, nil
}

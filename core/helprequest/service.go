package helprequest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("help request")
	ErrOpenRequestExists = errors.New("an unresolved help request already exists for this task")
	ErrForbidden         = core.NewForbiddenError("not allowed to access this help request")
	ErrResolveForbidden  = core.NewForbiddenError("only teachers can resolve help requests")
)

type Service struct {
	db    core.TxRunner
	repo  Repository
	tasks task.Repository
	pub   event.Publisher
}

func NewService(db core.TxRunner, repo Repository, tasks task.Repository, pub event.Publisher) *Service {
	return &Service{db: db, repo: repo, tasks: tasks, pub: pub}
}

// Create opens a help request of the caller on a task. While the caller already has an unresolved request
// on that task, its message is updated instead and created is false.
func (svc *Service) Create(ctx context.Context, p user.Principal, nr NewHelpRequest) (hr HelpRequest, created bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		hr, created, err = svc.create(ctx, p, nr)
		// a concurrent request won the race: retry, the dedup path handles it
		if errors.Cause(err) != ErrOpenRequestExists {
			break
		}
	}
	if err != nil {
		return HelpRequest{}, false, err
	}
	return hr, created, nil
}

func (svc *Service) create(ctx context.Context, p user.Principal, nr NewHelpRequest) (HelpRequest, bool, error) {
	var hr HelpRequest
	var tsk task.Task
	var created bool

	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if tsk, err = svc.tasks.GetTask(ctx, nr.TaskID, exec); err != nil {
			return err
		}
		if !user.CanManageTask(p, tsk.UserID, tsk.ClassID) {
			return task.ErrForbidden
		}

		hr, err = svc.repo.GetOpenHelpRequest(ctx, tsk.ID, p.UserID, exec)
		switch errors.Cause(err) {
		case nil:
			if nr.Message == "" || nr.Message == hr.Message {
				return nil
			}
			hr.Message = nr.Message
			if hr, err = svc.repo.UpdateHelpRequest(ctx, hr, exec); err != nil {
				return errors.Wrap(err, "updating help request")
			}
			if tsk.HelpNeeded {
				tsk.HelpMessage = nr.Message
				if _, err = svc.tasks.UpdateHelp(ctx, tsk, exec); err != nil {
					return errors.Wrap(err, "updating task help")
				}
			}
			return nil
		case ErrNotFound:
		default:
			return errors.Wrap(err, "finding open help request")
		}

		now := core.NowFunc()
		hr, err = svc.repo.CreateHelpRequest(ctx, HelpRequest{
			TaskID:      tsk.ID,
			UserID:      p.UserID,
			Message:     nr.Message,
			RequestedAt: now,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating help request")
		}
		created = true

		tsk.HelpNeeded = true
		tsk.HelpRequestedAt = &now
		tsk.HelpMessage = nr.Message
		tsk.UpdatedAt = now
		if _, err = svc.tasks.UpdateHelp(ctx, tsk, exec); err != nil {
			return errors.Wrap(err, "updating task help")
		}
		return nil
	})
	if err != nil {
		return HelpRequest{}, false, err
	}

	if created {
		svc.pub.Publish(event.Event{
			Type:     event.TypeHelpRequestCreated,
			TaskID:   tsk.ID,
			OwnerID:  tsk.UserID,
			ClassID:  tsk.ClassID,
			ActorID:  p.UserID,
			Audience: event.ToClassTeachers,
			Payload: event.HelpRequestCreated{
				HelpRequestID: hr.ID,
				TaskID:        hr.TaskID,
				UserID:        hr.UserID,
				Message:       hr.Message,
				RequestedAt:   hr.RequestedAt,
			},
		})
	}
	return hr, created, nil
}

// Resolve closes a help request. Resolving an already resolved request returns it unchanged.
// The help flag of the task is cleared once no unresolved request is left on it.
func (svc *Service) Resolve(ctx context.Context, p user.Principal, id int, res Resolution) (HelpRequest, error) {
	var hr HelpRequest
	var tsk task.Task
	var resolved bool

	err := svc.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if hr, err = svc.repo.GetHelpRequest(ctx, id, exec); err != nil {
			return err
		}
		if !user.CanResolveHelp(p) {
			return ErrResolveForbidden
		}
		if hr.Resolved {
			return nil
		}

		now := core.NowFunc()
		resolverID := p.UserID
		hr.Resolved = true
		hr.ResolvedAt = &now
		hr.ResolvedBy = &resolverID
		hr.ResolutionMessage = res.ResolutionMessage
		if hr, err = svc.repo.UpdateHelpRequest(ctx, hr, exec); err != nil {
			return errors.Wrap(err, "updating help request")
		}
		resolved = true

		if tsk, err = svc.tasks.GetTask(ctx, hr.TaskID, exec); err != nil {
			return errors.Wrap(err, "finding task")
		}
		unresolved := false
		open, err := svc.repo.QueryHelpRequests(ctx, QueryFilter{TaskID: tsk.ID, Resolved: &unresolved}, exec)
		if err != nil {
			return errors.Wrap(err, "querying open help requests")
		}
		if len(open) == 0 {
			tsk.HelpNeeded = false
			tsk.HelpMessage = ""
			tsk.HelpRequestedAt = nil
			tsk.UpdatedAt = now
			if _, err = svc.tasks.UpdateHelp(ctx, tsk, exec); err != nil {
				return errors.Wrap(err, "updating task help")
			}
		}
		return nil
	})
	if err != nil {
		return HelpRequest{}, err
	}

	if resolved {
		svc.pub.Publish(event.Event{
			Type:     event.TypeHelpRequestResolved,
			TaskID:   hr.TaskID,
			OwnerID:  hr.UserID,
			ClassID:  tsk.ClassID,
			ActorID:  p.UserID,
			Audience: event.ToOwner | event.ToClassTeachers,
			Payload: event.HelpRequestResolved{
				HelpRequestID:     hr.ID,
				TaskID:            hr.TaskID,
				UserID:            hr.UserID,
				ResolverID:        p.UserID,
				ResolutionMessage: hr.ResolutionMessage,
				ResolvedAt:        *hr.ResolvedAt,
			},
		})
	}
	return hr, nil
}

func (svc *Service) Get(ctx context.Context, p user.Principal, id int) (HelpRequest, error) {
	hr, err := svc.repo.GetHelpRequest(ctx, id)
	if err != nil {
		return HelpRequest{}, err
	}
	tsk, err := svc.tasks.GetTask(ctx, hr.TaskID)
	if err != nil {
		return HelpRequest{}, errors.Wrap(err, "finding task")
	}
	if hr.UserID != p.UserID && !user.CanManageTask(p, tsk.UserID, tsk.ClassID) {
		return HelpRequest{}, ErrForbidden
	}
	return hr, nil
}

// Query scopes filter to what p may see: students see their own requests, teachers the requests of their class.
func (svc *Service) Query(ctx context.Context, p user.Principal, filter QueryFilter) ([]HelpRequest, error) {
	switch p.Kind {
	case user.KindStudent:
		filter.UserID = p.UserID
	case user.KindTeacher:
		if p.ClassID == 0 {
			return []HelpRequest{}, nil
		}
		filter.ClassID = p.ClassID
	}
	return svc.repo.QueryHelpRequests(ctx, filter)
}

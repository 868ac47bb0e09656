package class

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
)

var (
	// errors
	ErrNotFound  = core.NewNotFoundError("class")
	ErrForbidden = core.NewForbiddenError("not allowed to manage this class")
)

type Class struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

type NewClass struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type UpdateClass struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description"`
}

func (uc *UpdateClass) Validate(validate *validator.Validate) error {
	if uc.Name != nil {
		name := core.CleanString(*uc.Name)
		uc.Name = &name
	}
	return validate.Struct(uc)
}

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class, exec ...core.DBExecutor) (Class, error)
		UpdateClass(ctx context.Context, cls Class, exec ...core.DBExecutor) (Class, error)
		// DeleteClass deletes the class; its members and tasks are left without class.
		DeleteClass(ctx context.Context, id int, exec ...core.DBExecutor) error
		GetClass(ctx context.Context, id int, exec ...core.DBExecutor) (Class, error)
		QueryClasses(ctx context.Context, exec ...core.DBExecutor) ([]Class, error)
	}

	Members interface {
		GetByID(ctx context.Context, id int) (user.User, error)
		QueryClassMembers(ctx context.Context, classID int) ([]user.User, error)
		AssignClass(ctx context.Context, id, classID int) (user.User, error)
	}

	TaskCreator interface {
		CreateForUsers(ctx context.Context, p user.Principal, nt task.NewTask, ownerIDs []int) ([]task.Task, error)
	}

	Service struct {
		repo    Repository
		members Members
		tasks   TaskCreator
	}
)

func NewService(repo Repository, members Members, tasks TaskCreator) *Service {
	return &Service{repo: repo, members: members, tasks: tasks}
}

func (svc *Service) getManaged(ctx context.Context, p user.Principal, id int) (Class, error) {
	cls, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if !user.CanManageClass(p, cls.ID) {
		return Class{}, ErrForbidden
	}
	return cls, nil
}

func (svc *Service) Create(ctx context.Context, p user.Principal, nc NewClass) (Class, error) {
	if !user.CanManageClass(p, 0) {
		return Class{}, ErrForbidden
	}
	now := core.NowFunc()
	return svc.repo.CreateClass(ctx, Class{
		Name:        nc.Name,
		Description: nc.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Get is open to the members of the class and to staff.
func (svc *Service) Get(ctx context.Context, p user.Principal, id int) (Class, error) {
	cls, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if !p.IsStaff() && p.ClassID != cls.ID {
		return Class{}, ErrForbidden
	}
	return cls, nil
}

func (svc *Service) Query(ctx context.Context, p user.Principal) ([]Class, error) {
	classes, err := svc.repo.QueryClasses(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	if p.IsStaff() {
		return classes, nil
	}
	own := make([]Class, 0, 1)
	for _, cls := range classes {
		if cls.ID == p.ClassID {
			own = append(own, cls)
		}
	}
	return own, nil
}

func (svc *Service) Update(ctx context.Context, p user.Principal, id int, uc UpdateClass) (Class, error) {
	cls, err := svc.getManaged(ctx, p, id)
	if err != nil {
		return Class{}, err
	}
	if uc.Name != nil {
		cls.Name = *uc.Name
	}
	if uc.Description != nil {
		cls.Description = core.CleanString(*uc.Description)
	}
	cls.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateClass(ctx, cls)
}

func (svc *Service) Delete(ctx context.Context, p user.Principal, id int) error {
	if _, err := svc.getManaged(ctx, p, id); err != nil {
		return err
	}
	return svc.repo.DeleteClass(ctx, id)
}

func (svc *Service) Members(ctx context.Context, p user.Principal, id int) ([]user.User, error) {
	if _, err := svc.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return svc.members.QueryClassMembers(ctx, id)
}

func (svc *Service) AddMember(ctx context.Context, p user.Principal, id, userID int) (user.User, error) {
	if _, err := svc.getManaged(ctx, p, id); err != nil {
		return user.User{}, err
	}
	return svc.members.AssignClass(ctx, userID, id)
}

func (svc *Service) RemoveMember(ctx context.Context, p user.Principal, id, userID int) error {
	if _, err := svc.getManaged(ctx, p, id); err != nil {
		return err
	}
	usr, err := svc.members.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if usr.ClassID != id {
		return user.ErrNotFound
	}
	_, err = svc.members.AssignClass(ctx, userID, 0)
	return err
}

// AssignTask creates nt for every student of the class.
func (svc *Service) AssignTask(ctx context.Context, p user.Principal, id int, nt task.NewTask) ([]task.Task, error) {
	if _, err := svc.getManaged(ctx, p, id); err != nil {
		return nil, err
	}
	members, err := svc.members.QueryClassMembers(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "querying class members")
	}

	ownerIDs := make([]int, 0, len(members))
	for _, m := range members {
		if m.IsStudent() && !m.IsTeacher() && !m.IsAdmin() {
			ownerIDs = append(ownerIDs, m.ID)
		}
	}
	if len(ownerIDs) == 0 {
		return []task.Task{}, nil
	}
	return svc.tasks.CreateForUsers(ctx, p, nt, ownerIDs)
}

package helprequest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/stageboard/core"
)

type HelpRequest struct {
	ID                int        `json:"id"`
	TaskID            int        `json:"task_id"`
	UserID            int        `json:"user_id"`
	Message           string     `json:"message"`
	RequestedAt       time.Time  `json:"requested_at"`
	Resolved          bool       `json:"resolved"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	ResolvedBy        *int       `json:"resolved_by"`
	ResolutionMessage string     `json:"resolution_message,omitempty"`
}

// NewHelpRequest contains information needed to ask for help on a task.
type NewHelpRequest struct {
	TaskID  int    `json:"task_id" validate:"required,gt=0"`
	Message string `json:"message" validate:"max=2000"`
}

func (nr *NewHelpRequest) Validate(validate *validator.Validate) error {
	nr.Message = core.CleanString(nr.Message)
	return validate.Struct(nr)
}

type Resolution struct {
	ResolutionMessage string `json:"resolution_message" validate:"max=2000"`
}

func (r *Resolution) Validate(validate *validator.Validate) error {
	r.ResolutionMessage = core.CleanString(r.ResolutionMessage)
	return validate.Struct(r)
}

// QueryFilter applies an AND on its non-zero fields. Results are ordered newest first.
type QueryFilter struct {
	Resolved *bool `query:"-"` // resolved
	UserID   int   `query:"user_id"`
	TaskID   int   `query:"task_id"`
	ClassID  int   `query:"-"` // class of the task
	core.Pagination
}

type Repository interface {
	// CreateHelpRequest returns ErrOpenRequestExists when (task, user) already has an unresolved request.
	CreateHelpRequest(ctx context.Context, hr HelpRequest, exec ...core.DBExecutor) (HelpRequest, error)
	UpdateHelpRequest(ctx context.Context, hr HelpRequest, exec ...core.DBExecutor) (HelpRequest, error)
	GetHelpRequest(ctx context.Context, id int, exec ...core.DBExecutor) (HelpRequest, error)
	// GetOpenHelpRequest returns the unresolved request of (taskID, userID), ErrNotFound if there is none.
	GetOpenHelpRequest(ctx context.Context, taskID, userID int, exec ...core.DBExecutor) (HelpRequest, error)
	QueryHelpRequests(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]HelpRequest, error)
}

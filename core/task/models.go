package task

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
)

// Stage is one step of the task pipeline.
type Stage string

const (
	StageTodo           Stage = "todo"
	StageRequirements   Stage = "requirements"
	StageDesign         Stage = "design"
	StageImplementation Stage = "implementation"
	StageTesting        Stage = "testing"
	StageReview         Stage = "review"
	StageDone           Stage = "done"
)

// Stages lists every Stage in pipeline order.
var Stages = []Stage{
	StageTodo,
	StageRequirements,
	StageDesign,
	StageImplementation,
	StageTesting,
	StageReview,
	StageDone,
}

var errInvalidStage = errors.New("invalid stage")

// ParseStage is case-insensitive and ignores surrounding whitespace.
func ParseStage(s string) (Stage, error) {
	stage := Stage(core.CleanString(s, true /* lower */))
	if !stage.IsValid() {
		return "", core.NewValidationError(errInvalidStage, core.FieldError{Field: "stage", Error: errInvalidStage.Error()})
	}
	return stage, nil
}

func (s Stage) IsValid() bool {
	return s.Order() >= 0
}

// Order is the position of s in the pipeline, -1 if s is not a Stage.
func (s Stage) Order() int {
	for i, stage := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

func (s Stage) String() string { return string(s) }

type Task struct {
	ID                    int        `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	UserID                int        `json:"user_id"`
	ClassID               int        `json:"class_id,omitempty"`
	ExpectedTime          int        `json:"expected_time"` // minutes
	Stage                 Stage      `json:"stage"`
	StartedAt             *time.Time `json:"started_at"` // first move out of todo
	CurrentStageStartedAt *time.Time `json:"current_stage_started_at"`
	CompletedAt           *time.Time `json:"completed_at"`
	HelpNeeded            bool       `json:"help_needed"`
	HelpMessage           string     `json:"help_message,omitempty"`
	HelpRequestedAt       *time.Time `json:"help_requested_at"`
	IsDelayed             bool       `json:"is_delayed"`
	CreatedAt             time.Time  `json:"created_at"` // UTC
	UpdatedAt             time.Time  `json:"updated_at"` // UTC
}

func (t Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// transition moves t to stage at now and returns the history record of the move.
// Leaving done reopens the task; moving to done again keeps the first completion time.
func (t Task) transition(stage Stage, actorID int, comment string, now time.Time) (Task, History) {
	prev := t.Stage
	hist := History{
		TaskID:    t.ID,
		UserID:    actorID,
		NewStage:  stage,
		ChangedAt: now,
		Comment:   comment,
	}
	if prev != "" {
		hist.PreviousStage = &prev
	}
	if t.CurrentStageStartedAt != nil {
		spent := int64(now.Sub(*t.CurrentStageStartedAt) / time.Second)
		if spent < 0 {
			spent = 0
		}
		hist.TimeSpent = &spent
	}

	t.Stage = stage
	t.CurrentStageStartedAt = &now
	t.IsDelayed = false
	t.UpdatedAt = now
	if t.StartedAt == nil && stage != StageTodo {
		t.StartedAt = &now
	}
	switch {
	case stage == StageDone && t.CompletedAt == nil:
		t.CompletedAt = &now
	case stage != StageDone:
		t.CompletedAt = nil
	}
	return t, hist
}

// NewTask contains information needed to create a new Task.
type NewTask struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description"`
	UserID       int    `json:"user_id" validate:"gte=0"` // defaults to the caller
	ExpectedTime int    `json:"expected_time" validate:"gte=0"`
}

func (nt *NewTask) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

// UpdateTask defines what information may be provided to modify an existing Task.
type UpdateTask struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string `json:"description"`
	ExpectedTime *int    `json:"expected_time" validate:"omitempty,gte=0"`
}

func (ut *UpdateTask) Validate(validate *validator.Validate) error {
	if ut.Title != nil {
		title := core.CleanString(*ut.Title)
		ut.Title = &title
	}
	return validate.Struct(ut)
}

// StageMove requests a Task to be moved to Stage.
type StageMove struct {
	Stage   string `json:"stage" validate:"required,stage"`
	Comment string `json:"comment" validate:"max=1000"`
}

func (sm *StageMove) Validate(validate *validator.Validate) error {
	sm.Comment = core.CleanString(sm.Comment)
	return validate.Struct(sm)
}

// History is the immutable record of one stage transition.
type History struct {
	ID            int       `json:"id"`
	TaskID        int       `json:"task_id"`
	UserID        int       `json:"user_id"`
	PreviousStage *Stage    `json:"previous_stage"`
	NewStage      Stage     `json:"new_stage"`
	ChangedAt     time.Time `json:"changed_at"`
	TimeSpent     *int64    `json:"time_spent"` // seconds spent in PreviousStage
	Comment       string    `json:"comment,omitempty"`
}

// StageConfig overrides the expected time of a Task for one Stage.
type StageConfig struct {
	ID           int    `json:"id"`
	TaskID       int    `json:"task_id"`
	Stage        Stage  `json:"stage"`
	ExpectedTime int    `json:"expected_time"` // minutes
	Description  string `json:"description,omitempty"`
	Order        int    `json:"order"`
}

type NewStageConfig struct {
	Stage        string `json:"stage" validate:"required,stage"`
	ExpectedTime int    `json:"expected_time" validate:"gte=0"`
	Description  string `json:"description"`
	Order        *int   `json:"order" validate:"omitempty,gte=0"` // defaults to the pipeline position of Stage
}

func (nc *NewStageConfig) Validate(validate *validator.Validate) error {
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type UpdateStageConfig struct {
	ExpectedTime *int    `json:"expected_time" validate:"omitempty,gte=0"`
	Description  *string `json:"description"`
	Order        *int    `json:"order" validate:"omitempty,gte=0"`
}

func (uc *UpdateStageConfig) Validate(validate *validator.Validate) error {
	return validate.Struct(uc)
}

// QueryFilter applies an AND on its non-zero fields.
type QueryFilter struct {
	IDs       []int `query:"-"`
	UserID    int   `query:"user_id"`
	ClassID   int   `query:"class_id"`
	Stage     Stage `query:"stage"`
	IsDelayed *bool `query:"-"` // is_delayed
	// Active selects tasks that are not completed and whose current stage has a start time.
	Active bool `query:"-"`
}

// StageConfigFilter selects a single StageConfig: by ID, or by (TaskID, Stage).
type StageConfigFilter struct {
	ID     int
	TaskID int
	Stage  Stage
}

type Repository interface {
	CreateTask(ctx context.Context, tsk Task, exec ...core.DBExecutor) (Task, error)
	// UpdateTask writes the editable fields: title, description and expected time.
	UpdateTask(ctx context.Context, tsk Task, exec ...core.DBExecutor) (Task, error)
	// UpdateStage writes the fields a stage transition touches.
	UpdateStage(ctx context.Context, tsk Task, exec ...core.DBExecutor) (Task, error)
	UpdateHelp(ctx context.Context, tsk Task, exec ...core.DBExecutor) (Task, error)
	UpdateDelayed(ctx context.Context, id int, delayed bool, exec ...core.DBExecutor) error
	// DeleteTask deletes the task with its history, stage configs and help requests.
	DeleteTask(ctx context.Context, id int, exec ...core.DBExecutor) error
	GetTask(ctx context.Context, id int, exec ...core.DBExecutor) (Task, error)
	QueryTasks(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Task, error)

	CreateHistory(ctx context.Context, hist History, exec ...core.DBExecutor) (History, error)
	// QueryHistories returns the history of a task, oldest first.
	QueryHistories(ctx context.Context, taskID int, exec ...core.DBExecutor) ([]History, error)

	// CreateStageConfig returns ErrStageConfigExists if the task already has a config for the stage.
	CreateStageConfig(ctx context.Context, cfg StageConfig, exec ...core.DBExecutor) (StageConfig, error)
	UpdateStageConfig(ctx context.Context, cfg StageConfig, exec ...core.DBExecutor) (StageConfig, error)
	DeleteStageConfig(ctx context.Context, id int, exec ...core.DBExecutor) error
	GetStageConfig(ctx context.Context, filter StageConfigFilter, exec ...core.DBExecutor) (StageConfig, error)
	// QueryStageConfigs returns the configs of a task ordered by Order.
	QueryStageConfigs(ctx context.Context, taskID int, exec ...core.DBExecutor) ([]StageConfig, error)
}

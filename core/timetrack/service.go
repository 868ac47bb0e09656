package timetrack

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
)

// DefaultThreshold flags a task delayed once it spent its whole expected time in the current stage.
const DefaultThreshold = 100.0

var ErrForbidden = core.NewForbiddenError("only teachers can trigger delay scans")

type (
	// DelayStatus is the live delay computation of an active task.
	DelayStatus struct {
		TaskID          int        `json:"task_id"`
		Title           string     `json:"title"`
		UserID          int        `json:"user_id"`
		Username        string     `json:"username"`
		ClassID         int        `json:"class_id,omitempty"`
		CurrentStage    task.Stage `json:"current_stage"`
		ExpectedTime    int        `json:"expected_time"` // minutes
		ElapsedTime     float64    `json:"elapsed_time"`  // minutes
		DelayPercentage float64    `json:"delay_percentage"`
		StartedAt       time.Time  `json:"started_at"`
		IsDelayed       bool       `json:"is_delayed"`
	}

	UserFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	Service struct {
		repo      task.Repository
		users     UserFinder
		pub       event.Publisher
		logger    core.Logger
		threshold float64
	}
)

func NewService(repo task.Repository, users UserFinder, pub event.Publisher, logger core.Logger, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Service{repo: repo, users: users, pub: pub, logger: logger, threshold: threshold}
}

func (svc *Service) Threshold() float64 { return svc.threshold }

// expectedTime resolves the expected minutes of the current stage of tsk:
// its StageConfig when there is one, tsk.ExpectedTime otherwise.
func (svc *Service) expectedTime(ctx context.Context, tsk task.Task) int {
	cfg, err := svc.repo.GetStageConfig(ctx, task.StageConfigFilter{TaskID: tsk.ID, Stage: tsk.Stage})
	if err == nil {
		return cfg.ExpectedTime
	}
	if errors.Cause(err) != task.ErrStageConfigNotFound {
		svc.logger.Warn(fmt.Sprintf("stage config lookup of task %d failed, using task expected time", tsk.ID), err)
	}
	return tsk.ExpectedTime
}

// evaluate computes the delay of tsk at now. ok is false when no ratio can be computed:
// the task is inactive or its expected time is not positive.
func (svc *Service) evaluate(ctx context.Context, tsk task.Task, threshold float64, now time.Time) (st DelayStatus, ok bool) {
	if tsk.IsCompleted() || tsk.CurrentStageStartedAt == nil {
		return DelayStatus{}, false
	}
	expected := svc.expectedTime(ctx, tsk)
	if expected <= 0 {
		return DelayStatus{}, false
	}

	elapsed := now.Sub(*tsk.CurrentStageStartedAt).Minutes()
	pct := elapsed / float64(expected) * 100
	return DelayStatus{
		TaskID:          tsk.ID,
		Title:           tsk.Title,
		UserID:          tsk.UserID,
		ClassID:         tsk.ClassID,
		CurrentStage:    tsk.Stage,
		ExpectedTime:    expected,
		ElapsedTime:     elapsed,
		DelayPercentage: pct,
		StartedAt:       *tsk.CurrentStageStartedAt,
		IsDelayed:       pct >= threshold,
	}, true
}

type usernames struct {
	users UserFinder
	cache map[int]string
}

func (u *usernames) get(ctx context.Context, id int) string {
	if name, ok := u.cache[id]; ok {
		return name
	}
	var name string
	if usr, err := u.users.GetByID(ctx, id); err == nil {
		name = usr.Username
	}
	u.cache[id] = name
	return name
}

// Scan recomputes the delay of every active task and persists the flags that changed.
// A delay_warning is published for each task that just became delayed. It returns the delayed tasks.
func (svc *Service) Scan(ctx context.Context, threshold float64) ([]DelayStatus, error) {
	if threshold <= 0 {
		threshold = svc.threshold
	}
	tasks, err := svc.repo.QueryTasks(ctx, task.QueryFilter{Active: true})
	if err != nil {
		return nil, errors.Wrap(err, "querying active tasks")
	}

	now := core.NowFunc()
	names := usernames{users: svc.users, cache: make(map[int]string)}
	delayed := make([]DelayStatus, 0)
	for _, tsk := range tasks {
		st, ok := svc.evaluate(ctx, tsk, threshold, now)
		if !ok {
			// no expected time left: never delayed
			if tsk.IsDelayed {
				if err = svc.repo.UpdateDelayed(ctx, tsk.ID, false); err != nil {
					svc.logger.Error(fmt.Sprintf("clearing delay flag of task %d", tsk.ID), err)
				}
			}
			continue
		}
		st.Username = names.get(ctx, tsk.UserID)

		if st.IsDelayed != tsk.IsDelayed {
			if err = svc.repo.UpdateDelayed(ctx, tsk.ID, st.IsDelayed); err != nil {
				svc.logger.Error(fmt.Sprintf("updating delay flag of task %d", tsk.ID), err)
				continue
			}
			if st.IsDelayed {
				svc.pub.Publish(delayWarningEvent(st))
			}
		}
		if st.IsDelayed {
			delayed = append(delayed, st)
		}
	}
	return delayed, nil
}

// TriggerScan runs an immediate Scan on behalf of p.
func (svc *Service) TriggerScan(ctx context.Context, p user.Principal, threshold float64) ([]DelayStatus, error) {
	if !user.CanTriggerScan(p) {
		return nil, ErrForbidden
	}
	return svc.Scan(ctx, threshold)
}

// ListDelayed returns the tasks visible to p that are flagged delayed or delayed by live computation,
// optionally restricted to userID. Every entry carries live elapsed and percentage values.
func (svc *Service) ListDelayed(ctx context.Context, p user.Principal, userID int) ([]DelayStatus, error) {
	filter := task.QueryFilter{Active: true, UserID: userID}
	switch p.Kind {
	case user.KindStudent:
		filter.UserID = p.UserID
	case user.KindTeacher:
		if p.ClassID == 0 {
			return []DelayStatus{}, nil
		}
		filter.ClassID = p.ClassID
	}
	tasks, err := svc.repo.QueryTasks(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying active tasks")
	}

	now := core.NowFunc()
	names := usernames{users: svc.users, cache: make(map[int]string)}
	statuses := make([]DelayStatus, 0)
	for _, tsk := range tasks {
		st, ok := svc.evaluate(ctx, tsk, svc.threshold, now)
		if !ok || !(st.IsDelayed || tsk.IsDelayed) {
			continue
		}
		st.Username = names.get(ctx, tsk.UserID)
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func delayWarningEvent(st DelayStatus) event.Event {
	return event.Event{
		Type:     event.TypeDelayWarning,
		TaskID:   st.TaskID,
		OwnerID:  st.UserID,
		ClassID:  st.ClassID,
		Audience: event.ToOwner | event.ToAllTeachers,
		Payload: event.DelayWarning{
			TaskID:       st.TaskID,
			Title:        st.Title,
			UserID:       st.UserID,
			Username:     st.Username,
			Stage:        st.CurrentStage.String(),
			ExpectedTime: st.ExpectedTime,
			ElapsedTime:  round1(st.ElapsedTime),
			Percentage:   round1(st.DelayPercentage),
		},
	}
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

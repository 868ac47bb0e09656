package timetrack

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
)

type (
	StageStatistics struct {
		TaskID       int        `json:"task_id,omitempty"`
		Title        string     `json:"title,omitempty"`
		Stage        task.Stage `json:"stage"`
		ExpectedTime int        `json:"expected_time"` // minutes
		ActualTime   float64    `json:"actual_time"`   // minutes
		// Efficiency is ExpectedTime / ActualTime: 1 on time, < 1 late, > 1 early.
		Efficiency float64 `json:"efficiency"`
	}

	UserStatistics struct {
		UserID            int                            `json:"user_id"`
		Username          string                         `json:"username"`
		CompletedTasks    int                            `json:"completed_tasks"`
		TotalExpectedTime int                            `json:"total_expected_time"`
		TotalActualTime   float64                        `json:"total_actual_time"`
		AverageEfficiency float64                        `json:"average_efficiency"`
		StageStatistics   map[task.Stage]StageStatistics `json:"stage_statistics"`
	}
)

func efficiency(expected int, actual float64) float64 {
	if actual <= 0 {
		return 1
	}
	return float64(expected) / actual
}

// taskStatistics sums the time spent per stage from the task history,
// plus the running time of the current stage of an uncompleted task.
func (svc *Service) taskStatistics(ctx context.Context, tsk task.Task, now time.Time) ([]StageStatistics, error) {
	hists, err := svc.repo.QueryHistories(ctx, tsk.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying histories")
	}
	cfgs, err := svc.repo.QueryStageConfigs(ctx, tsk.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying stage configs")
	}
	expected := make(map[task.Stage]int, len(cfgs))
	for _, cfg := range cfgs {
		expected[cfg.Stage] = cfg.ExpectedTime
	}

	stats := make(map[task.Stage]*StageStatistics)
	add := func(stage task.Stage, minutes float64) {
		st, ok := stats[stage]
		if !ok {
			exp, ok := expected[stage]
			if !ok {
				exp = tsk.ExpectedTime
			}
			st = &StageStatistics{TaskID: tsk.ID, Title: tsk.Title, Stage: stage, ExpectedTime: exp}
			stats[stage] = st
		}
		st.ActualTime += minutes
	}

	for _, h := range hists {
		if h.PreviousStage == nil || h.TimeSpent == nil {
			continue
		}
		add(*h.PreviousStage, float64(*h.TimeSpent)/60)
	}
	if !tsk.IsCompleted() && tsk.CurrentStageStartedAt != nil {
		add(tsk.Stage, now.Sub(*tsk.CurrentStageStartedAt).Minutes())
	}

	res := make([]StageStatistics, 0, len(stats))
	for _, st := range stats {
		st.Efficiency = efficiency(st.ExpectedTime, st.ActualTime)
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Stage.Order() < res[j].Stage.Order() })
	return res, nil
}

// TaskStatistics returns the expected and actual minutes spent by the task in each stage it went through.
func (svc *Service) TaskStatistics(ctx context.Context, p user.Principal, taskID int) ([]StageStatistics, error) {
	tsk, err := svc.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !user.CanManageTask(p, tsk.UserID, tsk.ClassID) {
		return nil, task.ErrForbidden
	}
	return svc.taskStatistics(ctx, tsk, core.NowFunc())
}

// UserStatistics aggregates the statistics of the completed tasks of a user.
func (svc *Service) UserStatistics(ctx context.Context, p user.Principal, userID int) (UserStatistics, error) {
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		return UserStatistics{}, err
	}
	if !user.CanViewUser(p, usr.ID, usr.ClassID) {
		return UserStatistics{}, core.NewForbiddenError("not allowed to view this user's statistics")
	}

	tasks, err := svc.repo.QueryTasks(ctx, task.QueryFilter{UserID: userID})
	if err != nil {
		return UserStatistics{}, errors.Wrap(err, "querying tasks")
	}

	now := core.NowFunc()
	res := UserStatistics{
		UserID:          usr.ID,
		Username:        usr.Username,
		StageStatistics: make(map[task.Stage]StageStatistics),
	}
	for _, tsk := range tasks {
		if !tsk.IsCompleted() {
			continue
		}
		res.CompletedTasks++

		stats, err := svc.taskStatistics(ctx, tsk, now)
		if err != nil {
			return UserStatistics{}, err
		}
		for _, st := range stats {
			res.TotalExpectedTime += st.ExpectedTime
			res.TotalActualTime += st.ActualTime

			agg := res.StageStatistics[st.Stage]
			agg.Stage = st.Stage
			agg.ExpectedTime += st.ExpectedTime
			agg.ActualTime += st.ActualTime
			res.StageStatistics[st.Stage] = agg
		}
	}

	for stage, agg := range res.StageStatistics {
		agg.Efficiency = efficiency(agg.ExpectedTime, agg.ActualTime)
		res.StageStatistics[stage] = agg
	}
	res.AverageEfficiency = efficiency(res.TotalExpectedTime, res.TotalActualTime)
	return res, nil
}

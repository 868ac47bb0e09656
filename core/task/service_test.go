package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
	inmemdb "github.com/trezcool/stageboard/storage/database/inmem"
	"github.com/trezcool/stageboard/testutil"
)

type fixture struct {
	svc      *task.Service
	repo     task.Repository
	rec      *event.Recorder
	clk      *testutil.Clock
	admin    user.Principal
	teacher  user.Principal
	student  user.Principal
	mate     user.Principal
	outsider user.Principal
}

func classOf(name string) class.Class {
	now := core.NowFunc()
	return class.Class{Name: name, CreatedAt: now, UpdatedAt: now}
}

func setup(t *testing.T) *fixture {
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	clsRepo := inmemdb.NewClassRepository(db)
	repo := inmemdb.NewTaskRepository(db)
	rec := new(event.Recorder)
	clk := testutil.NewClock(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	ctx := context.Background()
	cls1, err := clsRepo.CreateClass(ctx, classOf("Class A"))
	require.NoError(t, err)
	cls2, err := clsRepo.CreateClass(ctx, classOf("Class B"))
	require.NoError(t, err)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, 0)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, cls1.ID)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "", "", []string{user.RoleStudent}, cls1.ID)
	mate := testutil.CreateUser(t, usrRepo, "Mate", "mate", "", "", []string{user.RoleStudent}, cls1.ID)
	outsider := testutil.CreateUser(t, usrRepo, "Outsider", "outsider", "", "", []string{user.RoleStudent}, cls2.ID)

	return &fixture{
		svc:      task.NewService(db, repo, user.NewService(usrRepo), rec),
		repo:     repo,
		rec:      rec,
		clk:      clk,
		admin:    user.PrincipalOf(admin),
		teacher:  user.PrincipalOf(teacher),
		student:  user.PrincipalOf(student),
		mate:     user.PrincipalOf(mate),
		outsider: user.PrincipalOf(outsider),
	}
}

func (f *fixture) createTask(t *testing.T, p user.Principal, ownerID, expected int) task.Task {
	tsk, err := f.svc.Create(context.Background(), p, task.NewTask{Title: "Build the thing", UserID: ownerID, ExpectedTime: expected})
	require.NoError(t, err)
	return tsk
}

func (f *fixture) move(t *testing.T, p user.Principal, id int, stage task.Stage) (task.Task, task.History) {
	tsk, hist, err := f.svc.MoveStage(context.Background(), p, id, task.StageMove{Stage: stage.String()})
	require.NoError(t, err)
	return tsk, hist
}

func TestService_Create(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("defaults to the caller", func(t *testing.T) {
		tsk := f.createTask(t, f.student, 0, 30)
		assert.Equal(t, f.student.UserID, tsk.UserID)
		assert.Equal(t, f.student.ClassID, tsk.ClassID)
		assert.Equal(t, task.StageTodo, tsk.Stage)
		require.NotNil(t, tsk.CurrentStageStartedAt)
		assert.True(t, f.clk.Now().Equal(*tsk.CurrentStageStartedAt))
		assert.Nil(t, tsk.StartedAt)
		assert.Nil(t, tsk.CompletedAt)
		assert.False(t, tsk.IsDelayed)

		evs := f.rec.OfType(event.TypeTaskCreated)
		require.Len(t, evs, 1)
		assert.Equal(t, tsk.ID, evs[0].TaskID)
		assert.Equal(t, f.student.UserID, evs[0].OwnerID)
		assert.True(t, evs[0].Audience.Has(event.ToOwner))
		assert.True(t, evs[0].Audience.Has(event.ToAllTeachers))
	})

	t.Run("teacher for a student of the class", func(t *testing.T) {
		tsk := f.createTask(t, f.teacher, f.student.UserID, 10)
		assert.Equal(t, f.student.UserID, tsk.UserID)
	})

	t.Run("teacher for a student of another class", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.teacher, task.NewTask{Title: "x", UserID: f.outsider.UserID})
		assert.True(t, core.IsForbidden(err))
	})

	t.Run("student for someone else", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.student, task.NewTask{Title: "x", UserID: f.mate.UserID})
		assert.True(t, core.IsForbidden(err))
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.admin, task.NewTask{Title: "x", UserID: 9999})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))
	})
}

func TestService_CreateForUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("all or none", func(t *testing.T) {
		_, err := f.svc.CreateForUsers(ctx, f.teacher, task.NewTask{Title: "x"}, []int{f.student.UserID, f.outsider.UserID})
		assert.True(t, core.IsForbidden(err))

		tasks, err := f.svc.Query(ctx, f.admin, task.QueryFilter{})
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("one task per owner", func(t *testing.T) {
		f.rec.Reset()
		tasks, err := f.svc.CreateForUsers(ctx, f.teacher, task.NewTask{Title: "x", ExpectedTime: 5}, []int{f.student.UserID, f.mate.UserID})
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, f.student.UserID, tasks[0].UserID)
		assert.Equal(t, f.mate.UserID, tasks[1].UserID)
		assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
		assert.Len(t, f.rec.OfType(event.TypeTaskCreated), 2)
	})
}

func TestService_MoveStage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 0, 30)
	created := f.clk.Now()

	t.Run("first move out of todo", func(t *testing.T) {
		f.rec.Reset()
		now := f.clk.Advance(10 * time.Minute)
		moved, hist := f.move(t, f.student, tsk.ID, task.StageDesign)

		assert.Equal(t, task.StageDesign, moved.Stage)
		require.NotNil(t, moved.StartedAt)
		assert.True(t, now.Equal(*moved.StartedAt))
		assert.True(t, now.Equal(*moved.CurrentStageStartedAt))

		require.NotNil(t, hist.PreviousStage)
		assert.Equal(t, task.StageTodo, *hist.PreviousStage)
		assert.Equal(t, task.StageDesign, hist.NewStage)
		require.NotNil(t, hist.TimeSpent)
		assert.EqualValues(t, 600, *hist.TimeSpent)
		assert.True(t, now.Sub(created) == 10*time.Minute)

		evs := f.rec.OfType(event.TypeStageChanged)
		require.Len(t, evs, 1)
		assert.True(t, evs[0].Audience.Has(event.ToClassMembers))
		assert.Equal(t, f.student.UserID, evs[0].ActorID)
		payload := evs[0].Payload.(event.StageChanged)
		assert.Equal(t, "todo", *payload.PreviousStage)
		assert.Equal(t, "design", payload.NewStage)
		assert.EqualValues(t, 600, *payload.TimeSpentSeconds)
	})

	t.Run("later moves keep started_at", func(t *testing.T) {
		before, err := f.svc.Get(ctx, f.student, tsk.ID)
		require.NoError(t, err)
		f.clk.Advance(time.Minute)
		moved, _ := f.move(t, f.teacher, tsk.ID, task.StageReview)
		assert.True(t, before.StartedAt.Equal(*moved.StartedAt))
	})

	t.Run("done sets completed_at once", func(t *testing.T) {
		done := f.clk.Advance(time.Minute)
		moved, _ := f.move(t, f.student, tsk.ID, task.StageDone)
		require.NotNil(t, moved.CompletedAt)
		assert.True(t, done.Equal(*moved.CompletedAt))

		f.clk.Advance(time.Minute)
		again, hist := f.move(t, f.student, tsk.ID, task.StageDone)
		assert.True(t, done.Equal(*again.CompletedAt))
		assert.Equal(t, task.StageDone, *hist.PreviousStage)
	})

	t.Run("leaving done reopens", func(t *testing.T) {
		f.clk.Advance(time.Minute)
		moved, _ := f.move(t, f.student, tsk.ID, task.StageTesting)
		assert.Nil(t, moved.CompletedAt)
		assert.False(t, moved.IsCompleted())
	})

	t.Run("move resets the delay flag", func(t *testing.T) {
		require.NoError(t, f.repo.UpdateDelayed(ctx, tsk.ID, true))
		moved, _ := f.move(t, f.student, tsk.ID, task.StageImplementation)
		assert.False(t, moved.IsDelayed)
	})

	t.Run("stage names are case-insensitive", func(t *testing.T) {
		moved, _, err := f.svc.MoveStage(ctx, f.student, tsk.ID, task.StageMove{Stage: " Review "})
		require.NoError(t, err)
		assert.Equal(t, task.StageReview, moved.Stage)
	})

	t.Run("invalid stage", func(t *testing.T) {
		hists, err := f.svc.Histories(ctx, f.student, tsk.ID)
		require.NoError(t, err)

		_, _, err = f.svc.MoveStage(ctx, f.student, tsk.ID, task.StageMove{Stage: "lol"})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))

		after, err := f.svc.Histories(ctx, f.student, tsk.ID)
		require.NoError(t, err)
		assert.Len(t, after, len(hists), "no history on failure")
	})

	t.Run("forbidden", func(t *testing.T) {
		_, _, err := f.svc.MoveStage(ctx, f.mate, tsk.ID, task.StageMove{Stage: "done"})
		assert.True(t, core.IsForbidden(err))
		_, _, err = f.svc.MoveStage(ctx, f.outsider, tsk.ID, task.StageMove{Stage: "done"})
		assert.True(t, core.IsForbidden(err))
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := f.svc.MoveStage(ctx, f.admin, 9999, task.StageMove{Stage: "done"})
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("history is chronological", func(t *testing.T) {
		hists, err := f.svc.Histories(ctx, f.teacher, tsk.ID)
		require.NoError(t, err)
		require.Len(t, hists, 7)
		stages := make([]task.Stage, 0, len(hists))
		for i, h := range hists {
			stages = append(stages, h.NewStage)
			if i > 0 {
				assert.Equal(t, hists[i-1].NewStage, *h.PreviousStage)
				assert.False(t, h.ChangedAt.Before(hists[i-1].ChangedAt))
			}
		}
		assert.Equal(t, []task.Stage{
			task.StageDesign, task.StageReview, task.StageDone, task.StageDone,
			task.StageTesting, task.StageImplementation, task.StageReview,
		}, stages)
	})
}

func TestService_Query(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	own := f.createTask(t, f.student, 0, 10)
	mates := f.createTask(t, f.mate, 0, 10)
	other := f.createTask(t, f.outsider, 0, 10)

	ids := func(tasks []task.Task) []int {
		res := make([]int, 0, len(tasks))
		for _, tsk := range tasks {
			res = append(res, tsk.ID)
		}
		return res
	}

	tests := []struct {
		name   string
		p      user.Principal
		filter task.QueryFilter
		want   []int
	}{
		{name: "student sees own", p: f.student, want: []int{own.ID}},
		{name: "student cannot widen", p: f.student, filter: task.QueryFilter{UserID: f.mate.UserID}, want: []int{own.ID}},
		{name: "teacher sees class", p: f.teacher, want: []int{mates.ID, own.ID}},
		{name: "teacher filters by user", p: f.teacher, filter: task.QueryFilter{UserID: f.mate.UserID}, want: []int{mates.ID}},
		{name: "teacher without class", p: user.Principal{UserID: 99, Kind: user.KindTeacher}, want: []int{}},
		{name: "admin sees all", p: f.admin, want: []int{other.ID, mates.ID, own.ID}},
		{name: "by stage", p: f.admin, filter: task.QueryFilter{Stage: task.StageDone}, want: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := f.svc.Query(ctx, tt.p, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(tasks))
		})
	}

	t.Run("get", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.mate, own.ID)
		assert.True(t, core.IsForbidden(err))
		got, err := f.svc.Get(ctx, f.teacher, own.ID)
		require.NoError(t, err)
		assert.Equal(t, own.ID, got.ID)
	})
}

func TestService_UpdateAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 0, 10)

	title, expected := "Renamed", 45
	updated, err := f.svc.Update(ctx, f.student, tsk.ID, task.UpdateTask{Title: &title, ExpectedTime: &expected})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 45, updated.ExpectedTime)
	assert.Len(t, f.rec.OfType(event.TypeTaskUpdated), 1)

	_, err = f.svc.Update(ctx, f.mate, tsk.ID, task.UpdateTask{Title: &title})
	assert.True(t, core.IsForbidden(err))

	f.move(t, f.student, tsk.ID, task.StageDesign)

	err = f.svc.Delete(ctx, f.student, tsk.ID)
	assert.True(t, core.IsForbidden(err), "students cannot delete")

	require.NoError(t, f.svc.Delete(ctx, f.teacher, tsk.ID))
	_, err = f.svc.Get(ctx, f.admin, tsk.ID)
	assert.True(t, core.IsNotFound(err))
	hists, err := f.repo.QueryHistories(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Empty(t, hists)

	evs := f.rec.OfType(event.TypeTaskDeleted)
	require.Len(t, evs, 1)
	assert.Equal(t, event.TaskChanged{TaskID: tsk.ID}, evs[0].Payload)
}

func TestService_StageConfigs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 0, 10)

	_, err := f.svc.CreateStageConfig(ctx, f.student, tsk.ID, task.NewStageConfig{Stage: "design", ExpectedTime: 60})
	assert.True(t, core.IsForbidden(err))

	cfg, err := f.svc.CreateStageConfig(ctx, f.teacher, tsk.ID, task.NewStageConfig{Stage: "Design", ExpectedTime: 60})
	require.NoError(t, err)
	assert.Equal(t, task.StageDesign, cfg.Stage)
	assert.Equal(t, task.StageDesign.Order(), cfg.Order)

	order := 0
	first, err := f.svc.CreateStageConfig(ctx, f.teacher, tsk.ID, task.NewStageConfig{Stage: "testing", ExpectedTime: 5, Order: &order})
	require.NoError(t, err)

	_, err = f.svc.CreateStageConfig(ctx, f.admin, tsk.ID, task.NewStageConfig{Stage: "design", ExpectedTime: 1})
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr), "duplicate stage")

	cfgs, err := f.svc.StageConfigs(ctx, f.student, tsk.ID)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, first.ID, cfgs[0].ID, "ordered by order")

	expected := 90
	updated, err := f.svc.UpdateStageConfig(ctx, f.teacher, tsk.ID, cfg.ID, task.UpdateStageConfig{ExpectedTime: &expected})
	require.NoError(t, err)
	assert.Equal(t, 90, updated.ExpectedTime)

	other := f.createTask(t, f.mate, 0, 10)
	_, err = f.svc.UpdateStageConfig(ctx, f.teacher, other.ID, cfg.ID, task.UpdateStageConfig{ExpectedTime: &expected})
	assert.True(t, core.IsNotFound(err), "config of another task")

	require.NoError(t, f.svc.DeleteStageConfig(ctx, f.teacher, tsk.ID, cfg.ID))
	cfgs, err = f.svc.StageConfigs(ctx, f.teacher, tsk.ID)
	require.NoError(t, err)
	assert.Len(t, cfgs, 1)
}

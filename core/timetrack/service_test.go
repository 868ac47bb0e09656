package timetrack_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/timetrack"
	"github.com/trezcool/stageboard/core/user"
	logsvc "github.com/trezcool/stageboard/services/logger"
	inmemdb "github.com/trezcool/stageboard/storage/database/inmem"
	"github.com/trezcool/stageboard/testutil"
)

type fixture struct {
	svc     *timetrack.Service
	tasks   *task.Service
	repo    task.Repository
	rec     *event.Recorder
	clk     *testutil.Clock
	teacher user.Principal
	student user.Principal
	mate    user.Principal
}

func setup(t *testing.T) *fixture {
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	repo := inmemdb.NewTaskRepository(db)
	usrSvc := user.NewService(usrRepo)
	rec := new(event.Recorder)
	clk := testutil.NewClock(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "", "", []string{user.RoleTeacher}, 1)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "", "", []string{user.RoleStudent}, 1)
	mate := testutil.CreateUser(t, usrRepo, "Mate", "mate", "", "", []string{user.RoleStudent}, 1)

	return &fixture{
		svc:     timetrack.NewService(repo, usrSvc, rec, logsvc.NewNopLogger(), 0),
		tasks:   task.NewService(db, repo, usrSvc, event.Discard),
		repo:    repo,
		rec:     rec,
		clk:     clk,
		teacher: user.PrincipalOf(teacher),
		student: user.PrincipalOf(student),
		mate:    user.PrincipalOf(mate),
	}
}

func (f *fixture) createTask(t *testing.T, p user.Principal, expected int) task.Task {
	tsk, err := f.tasks.Create(context.Background(), p, task.NewTask{Title: "Task", ExpectedTime: expected})
	require.NoError(t, err)
	return tsk
}

func (f *fixture) move(t *testing.T, id int, stage task.Stage) task.Task {
	tsk, _, err := f.tasks.MoveStage(context.Background(), f.teacher, id, task.StageMove{Stage: stage.String()})
	require.NoError(t, err)
	return tsk
}

func taskIDs(statuses []timetrack.DelayStatus) []int {
	ids := make([]int, 0, len(statuses))
	for _, st := range statuses {
		ids = append(ids, st.TaskID)
	}
	return ids
}

func TestService_Scan_threshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 10)

	f.clk.Advance(9*time.Minute + 59400*time.Millisecond) // 99.9%
	delayed, err := f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, delayed)
	assert.Empty(t, f.rec.Events())

	f.clk.Advance(600 * time.Millisecond) // exactly 100%
	delayed, err = f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	st := delayed[0]
	assert.Equal(t, tsk.ID, st.TaskID)
	assert.Equal(t, "student", st.Username)
	assert.Equal(t, task.StageTodo, st.CurrentStage)
	assert.Equal(t, 10, st.ExpectedTime)
	assert.InDelta(t, 10, st.ElapsedTime, 1e-9)
	assert.InDelta(t, 100, st.DelayPercentage, 1e-9)
	assert.True(t, st.IsDelayed)

	stored, err := f.repo.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDelayed)

	evs := f.rec.OfType(event.TypeDelayWarning)
	require.Len(t, evs, 1)
	assert.Equal(t, f.student.UserID, evs[0].OwnerID)
	assert.True(t, evs[0].Audience.Has(event.ToOwner))
	assert.True(t, evs[0].Audience.Has(event.ToAllTeachers))
	payload := evs[0].Payload.(event.DelayWarning)
	assert.Equal(t, 100.0, payload.Percentage)
	assert.Equal(t, "todo", payload.Stage)
}

func TestService_Scan_notifiesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 10)

	f.clk.Advance(15 * time.Minute)
	for i := 0; i < 3; i++ {
		delayed, err := f.svc.Scan(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, delayed, 1, "still delayed")
	}
	evs := f.rec.OfType(event.TypeDelayWarning)
	require.Len(t, evs, 1)
	assert.Equal(t, 150.0, evs[0].Payload.(event.DelayWarning).Percentage)

	// a stage move resets the flag and the timer
	f.move(t, tsk.ID, task.StageDesign)
	delayed, err := f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, delayed)

	f.clk.Advance(11 * time.Minute)
	_, err = f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, f.rec.OfType(event.TypeDelayWarning), 2)
}

func TestService_Scan_skips(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.createTask(t, f.student, 0) // no expected time
	done := f.createTask(t, f.student, 1)
	f.move(t, done.ID, task.StageDone)
	override := f.createTask(t, f.student, 1000)
	_, err := f.tasks.CreateStageConfig(ctx, f.teacher, override.ID, task.NewStageConfig{Stage: "todo", ExpectedTime: 10})
	require.NoError(t, err)
	disabled := f.createTask(t, f.student, 10)
	_, err = f.tasks.CreateStageConfig(ctx, f.teacher, disabled.ID, task.NewStageConfig{Stage: "todo", ExpectedTime: 0})
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	delayed, err := f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{override.ID}, taskIDs(delayed), "stage config overrides the task expected time")
	assert.Equal(t, 10, delayed[0].ExpectedTime)
}

func TestService_Scan_clearsFlagWithoutExpectedTime(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 10)

	f.clk.Advance(15 * time.Minute)
	delayed, err := f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []int{tsk.ID}, taskIDs(delayed))

	_, err = f.tasks.CreateStageConfig(ctx, f.teacher, tsk.ID, task.NewStageConfig{Stage: "todo", ExpectedTime: 0})
	require.NoError(t, err)
	delayed, err = f.svc.Scan(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, delayed)

	stored, err := f.repo.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDelayed)
	listed, err := f.svc.ListDelayed(ctx, f.teacher, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Len(t, f.rec.OfType(event.TypeDelayWarning), 1)
}

func TestService_Scan_customThreshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.createTask(t, f.student, 10)
	f.clk.Advance(6 * time.Minute)

	delayed, err := f.svc.Scan(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, delayed, 1)

	_, err = f.svc.TriggerScan(ctx, f.student, 50)
	assert.True(t, core.IsForbidden(err))
	delayed, err = f.svc.TriggerScan(ctx, f.teacher, 200)
	require.NoError(t, err)
	assert.Empty(t, delayed)
}

func TestService_ListDelayed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	own := f.createTask(t, f.student, 10)
	mates := f.createTask(t, f.mate, 10)
	flagged := f.createTask(t, f.student, 100)

	f.clk.Advance(20 * time.Minute)
	// flagged by a scan with a lower threshold: 20%
	_, err := f.svc.Scan(ctx, 15)
	require.NoError(t, err)

	list, err := f.svc.ListDelayed(ctx, f.teacher, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{own.ID, mates.ID, flagged.ID}, taskIDs(list))
	for _, st := range list {
		if st.TaskID == flagged.ID {
			assert.False(t, st.IsDelayed, "live value")
			assert.InDelta(t, 20, st.DelayPercentage, 1e-9)
		}
	}

	list, err = f.svc.ListDelayed(ctx, f.teacher, f.mate.UserID)
	require.NoError(t, err)
	assert.Equal(t, []int{mates.ID}, taskIDs(list))

	list, err = f.svc.ListDelayed(ctx, f.student, f.mate.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{own.ID, flagged.ID}, taskIDs(list), "students only see their own tasks")

	list, err = f.svc.ListDelayed(ctx, user.Principal{UserID: 99, Kind: user.KindTeacher}, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Statistics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.student, 10)
	_, err := f.tasks.CreateStageConfig(ctx, f.teacher, tsk.ID, task.NewStageConfig{Stage: "design", ExpectedTime: 30})
	require.NoError(t, err)

	f.clk.Advance(5 * time.Minute)
	f.move(t, tsk.ID, task.StageDesign)
	f.clk.Advance(60 * time.Minute)
	f.move(t, tsk.ID, task.StageTodo)
	f.clk.Advance(5 * time.Minute)
	f.move(t, tsk.ID, task.StageDesign)
	f.clk.Advance(2 * time.Minute)

	t.Run("task in progress", func(t *testing.T) {
		stats, err := f.svc.TaskStatistics(ctx, f.student, tsk.ID)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		assert.Equal(t, task.StageTodo, stats[0].Stage)
		assert.Equal(t, 10, stats[0].ExpectedTime)
		assert.InDelta(t, 10, stats[0].ActualTime, 1e-9)
		assert.InDelta(t, 1, stats[0].Efficiency, 1e-9)

		assert.Equal(t, task.StageDesign, stats[1].Stage)
		assert.Equal(t, 30, stats[1].ExpectedTime)
		assert.InDelta(t, 62, stats[1].ActualTime, 1e-9, "includes the running stage")

		_, err = f.svc.TaskStatistics(ctx, f.mate, tsk.ID)
		assert.True(t, core.IsForbidden(err))
	})

	t.Run("user", func(t *testing.T) {
		stats, err := f.svc.UserStatistics(ctx, f.student, f.student.UserID)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.CompletedTasks, "only completed tasks count")

		f.clk.Advance(28 * time.Minute)
		f.move(t, tsk.ID, task.StageDone)
		f.createTask(t, f.student, 10) // open

		stats, err = f.svc.UserStatistics(ctx, f.teacher, f.student.UserID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.CompletedTasks)
		assert.Equal(t, "student", stats.Username)
		assert.Equal(t, 40, stats.TotalExpectedTime)
		assert.InDelta(t, 100, stats.TotalActualTime, 1e-9)
		assert.InDelta(t, 0.4, stats.AverageEfficiency, 1e-9)
		assert.InDelta(t, 0.333, stats.StageStatistics[task.StageDesign].Efficiency, 1e-3)

		_, err = f.svc.UserStatistics(ctx, f.mate, f.student.UserID)
		assert.True(t, core.IsForbidden(err))
		_, err = f.svc.UserStatistics(ctx, f.teacher, 9999)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestScheduler_Run(t *testing.T) {
	f := setup(t)
	f.createTask(t, f.student, 1)
	f.clk.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	sched := timetrack.NewScheduler(f.svc, 10*time.Millisecond, 0)
	go sched.Run(ctx)

	assert.Eventually(t, func() bool {
		return len(f.rec.OfType(event.TypeDelayWarning)) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-sched.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Len(t, f.rec.OfType(event.TypeDelayWarning), 1, "notified once")
}

package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/helprequest"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/timetrack"
	"github.com/trezcool/stageboard/core/user"
	logsvc "github.com/trezcool/stageboard/services/logger"
	"github.com/trezcool/stageboard/services/realtime"
	inmemdb "github.com/trezcool/stageboard/storage/database/inmem"
	"github.com/trezcool/stageboard/testutil"
)

var (
	t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errPermDenied   = httpErr{Error: "permission denied"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// testApp is a Server over an in-memory database, with live delivery running.
type testApp struct {
	srv    *Server
	clock  *testutil.Clock
	conns  *realtime.Manager
	events *event.Recorder

	classes class.Repository
	users   user.Repository
	tasks   task.Repository

	classA, classB                         class.Class
	admin, teacher, kid, mate, otherTeacher user.User
}

func newTestApp(t *testing.T) *testApp {
	conf := &core.Config{
		AppName:   "StageBoard",
		Env:       "TEST",
		TestMode:  true,
		SecretKey: "secret",
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
		Realtime: core.RealtimeConfig{
			PingInterval: time.Second,
			IdleTimeout:  5 * time.Second,
			WriteTimeout: time.Second,
			AuthTimeout:  time.Second,
		},
		Delays: core.DelaysConfig{ThresholdPercent: timetrack.DefaultThreshold},
	}
	logger := logsvc.NewNopLogger()

	db := inmemdb.Open()
	app := &testApp{
		clock:   testutil.NewClock(t, t0),
		events:  new(event.Recorder),
		classes: inmemdb.NewClassRepository(db),
		users:   inmemdb.NewUserRepository(db),
		tasks:   inmemdb.NewTaskRepository(db),
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.conns = realtime.NewManager(logger)
	dispatcher := realtime.NewDispatcher(app.conns, 64, logger)
	go dispatcher.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-dispatcher.Done()
	})
	pub := event.Multi(dispatcher, app.events)

	usrSvc := user.NewService(app.users)
	taskSvc := task.NewService(db, app.tasks, usrSvc, pub)
	timeSvc := timetrack.NewService(app.tasks, usrSvc, pub, logger, conf.Delays.ThresholdPercent)
	helpSvc := helprequest.NewService(db, inmemdb.NewHelpRequestRepository(db), app.tasks, pub)
	classSvc := class.NewService(app.classes, usrSvc, taskSvc)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	task.InitValidators(validate, translator)

	app.srv = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		ClassSvc:       classSvc,
		TaskSvc:        taskSvc,
		TimeSvc:        timeSvc,
		HelpSvc:        helpSvc,
		Connections:    app.conns,
	})

	app.classA = app.createClass(t, "Class A")
	app.classB = app.createClass(t, "Class B")
	app.admin = testutil.CreateUser(t, app.users, "Admin", "admin", "admin@test.cd", "", user.AllRoles, 0, t0)
	app.teacher = testutil.CreateUser(t, app.users, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, app.classA.ID, t0)
	app.kid = testutil.CreateUser(t, app.users, "Kid", "kid", "kid@test.cd", "secret123", []string{user.RoleStudent}, app.classA.ID, t0)
	app.mate = testutil.CreateUser(t, app.users, "Mate", "mate", "mate@test.cd", "", []string{user.RoleStudent}, app.classA.ID, t0)
	app.otherTeacher = testutil.CreateUser(t, app.users, "Other", "other", "other@test.cd", "", []string{user.RoleTeacher}, app.classB.ID, t0)
	return app
}

func (app *testApp) createClass(t *testing.T, name string) class.Class {
	cls, err := app.classes.CreateClass(context.Background(), class.Class{Name: name, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	return cls
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	token, err := app.srv.auth.GenerateToken(usr)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

// do serves the request and decodes the JSON response into out, when given.
func (app *testApp) do(t *testing.T, method, path, token string, body interface{}, out ...interface{}) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		data = marshallObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	app.srv.ServeHTTP(rec, req)
	if len(out) > 0 && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out[0]), rec.Body.String())
	}
	return rec
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

// checkCodeAndData compares the JSON body only when the test names one.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	assert.Equal(t, wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

func ids(objs interface{}) []int {
	var res []int
	switch v := objs.(type) {
	case []user.User:
		for _, o := range v {
			res = append(res, o.ID)
		}
	case []task.Task:
		for _, o := range v {
			res = append(res, o.ID)
		}
	case []class.Class:
		for _, o := range v {
			res = append(res, o.ID)
		}
	case []helprequest.HelpRequest:
		for _, o := range v {
			res = append(res, o.ID)
		}
	}
	return res
}

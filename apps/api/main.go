package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"sync"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/stageboard/apps/api/echo"
	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/helprequest"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/timetrack"
	"github.com/trezcool/stageboard/core/user"
	emailsvc "github.com/trezcool/stageboard/services/email"
	logsvc "github.com/trezcool/stageboard/services/logger"
	"github.com/trezcool/stageboard/services/realtime"
	"github.com/trezcool/stageboard/storage/database"
	inmemdb "github.com/trezcool/stageboard/storage/database/inmem"
	sqlxrepos "github.com/trezcool/stageboard/storage/database/sqlx"
)

// store is the persistence every service is built on.
type store struct {
	tx      core.TxRunner
	users   user.Repository
	classes class.Repository
	tasks   task.Repository
	help    helprequest.Repository
	close   func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger("api", conf)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger("db", conf)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	st, err := setUpStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = st.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up realtime delivery
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	conns := realtime.NewManager(logsvc.NewRollbarLogger("realtime", conf))
	dispatcher := realtime.NewDispatcher(conns, conf.Realtime.DispatchBuffer, logger)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(st.users)

	var pub event.Publisher = dispatcher
	if conf.Mail.HelpRequests {
		pub = event.Multi(dispatcher, emailsvc.NewHelpRequestMailer(mailSvc, usrSvc, logger))
	}
	taskSvc := task.NewService(st.tx, st.tasks, usrSvc, pub)
	timeSvc := timetrack.NewService(st.tasks, usrSvc, pub, logger, conf.Delays.ThresholdPercent)
	helpSvc := helprequest.NewService(st.tx, st.help, st.tasks, pub)
	classSvc := class.NewService(st.classes, usrSvc, taskSvc)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	task.InitValidators(validate, translator)

	wg.Add(3)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		conns.RunHeartbeat(ctx, conf.Realtime.PingInterval)
	}()
	go func() {
		defer wg.Done()
		timetrack.NewScheduler(timeSvc, conf.Delays.ScanInterval, conf.Delays.ThresholdPercent).Run(ctx)
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("realtime", expvar.Func(func() interface{} {
		users, live := conns.Stats()
		return map[string]int{"users": users, "connections": live}
	}))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			Validate:    validate,
			Translator:  translator,
			UserSvc:     usrSvc,
			ClassSvc:    classSvc,
			TaskSvc:     taskSvc,
			TimeSvc:     timeSvc,
			HelpSvc:     helpSvc,
			Connections: conns,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer shutdownCancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(shutdownCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpStore opens the database of conf.Database.Engine: "inmem" keeps everything in memory,
// any other engine runs on postgres (created and migrated if needed).
func setUpStore(conf *core.Config) (*store, error) {
	if conf.Database.Engine == "inmem" {
		db := inmemdb.Open()
		return &store{
			tx:      db,
			users:   inmemdb.NewUserRepository(db),
			classes: inmemdb.NewClassRepository(db),
			tasks:   inmemdb.NewTaskRepository(db),
			help:    inmemdb.NewHelpRequestRepository(db),
			close:   func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	repos := sqlxrepos.NewRepositories(db)
	return &store{
		tx:      database.NewTransactor(db),
		users:   repos.Users,
		classes: repos.Classes,
		tasks:   repos.Tasks,
		help:    repos.HelpRequests,
		close:   db.Close,
	}, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/timetrack"
	"github.com/trezcool/stageboard/core/user"
	logsvc "github.com/trezcool/stageboard/services/logger"
	"github.com/trezcool/stageboard/storage/database"
	sqlxrepos "github.com/trezcool/stageboard/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger("admin", conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	repos := sqlxrepos.NewRepositories(db)
	usrSvc := user.NewService(repos.Users)

	// no live connection here: warnings are only logged
	warnings := event.PublisherFunc(func(ev event.Event) {
		logger.Info(fmt.Sprintf("%s: task %d", ev.Type, ev.TaskID))
	})

	// start CLI
	cli := commandLine{
		db:      db.DB,
		usrSvc:  usrSvc,
		timeSvc: timetrack.NewService(repos.Tasks, usrSvc, warnings, logger, conf.Delays.ThresholdPercent),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err)
		}
		os.Exit(1)
	}
}

package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/trezcool/goose"

	appfs "github.com/trezcool/stageboard/fs"
)

const migrationsDir = "migrations"

type (
	gooseFunc   func(db *sql.DB, fsys fs.FS, dir string) error
	gooseToFunc func(db *sql.DB, fsys fs.FS, dir string, version int64) error
)

// mockable
var (
	gooseCommands = map[string]gooseFunc{
		"up":        goose.Up,
		"up-by-one": goose.UpByOne,
		"down":      goose.Down,
		"redo":      goose.Redo,
	}
	gooseToCommands = map[string]gooseToFunc{
		"up-to":   goose.UpTo,
		"down-to": goose.DownTo,
	}
)

func (cli *commandLine) migrate(args []string) error {
	command := args[0]
	if run, ok := gooseCommands[command]; ok {
		return run(cli.db, appfs.FS, migrationsDir)
	}
	run, ok := gooseToCommands[command]
	if !ok {
		return fmt.Errorf("%q: no such command", command)
	}
	if len(args) < 2 {
		return fmt.Errorf("%s must be of form: admin migrate %s VERSION", command, command)
	}
	version, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("version must be a number (got '%s')", args[1])
	}
	return run(cli.db, appfs.FS, migrationsDir, version)
}

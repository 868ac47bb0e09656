package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	classID int,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		ClassID:   classID,
		IsActive:  true,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// Clock freezes core.NowFunc for the duration of the test.
type Clock struct {
	now time.Time
}

func NewClock(t *testing.T, now time.Time) *Clock {
	clk := &Clock{now: now.UTC()}
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return clk.now }
	t.Cleanup(func() { core.NowFunc = orig })
	return clk
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

const sqliteSchema = `
CREATE TABLE classes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT      NOT NULL,
    description TEXT      NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT      NOT NULL DEFAULT '',
    username      TEXT      NOT NULL UNIQUE,
    email         TEXT      NOT NULL DEFAULT '',
    is_active     BOOLEAN   NOT NULL DEFAULT 1,
    roles         TEXT      NOT NULL DEFAULT '',
    class_id      INTEGER   REFERENCES classes (id) ON DELETE SET NULL,
    password_hash BLOB      NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL,
    last_login    TIMESTAMP
);
CREATE TABLE tasks (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    title                    TEXT      NOT NULL,
    description              TEXT      NOT NULL DEFAULT '',
    user_id                  INTEGER   NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    class_id                 INTEGER   REFERENCES classes (id) ON DELETE SET NULL,
    expected_time            INTEGER   NOT NULL DEFAULT 0,
    stage                    TEXT      NOT NULL DEFAULT 'todo',
    started_at               TIMESTAMP,
    current_stage_started_at TIMESTAMP,
    completed_at             TIMESTAMP,
    help_needed              BOOLEAN   NOT NULL DEFAULT 0,
    help_message             TEXT      NOT NULL DEFAULT '',
    help_requested_at        TIMESTAMP,
    is_delayed               BOOLEAN   NOT NULL DEFAULT 0,
    created_at               TIMESTAMP NOT NULL,
    updated_at               TIMESTAMP NOT NULL
);
CREATE TABLE task_histories (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id        INTEGER   NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
    user_id        INTEGER   NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    previous_stage TEXT,
    new_stage      TEXT      NOT NULL,
    changed_at     TIMESTAMP NOT NULL,
    time_spent     INTEGER,
    comment        TEXT      NOT NULL DEFAULT ''
);
CREATE TABLE stage_configs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id       INTEGER NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
    stage         TEXT    NOT NULL,
    expected_time INTEGER NOT NULL DEFAULT 0,
    description   TEXT    NOT NULL DEFAULT '',
    sort_order    INTEGER NOT NULL DEFAULT 0,
    UNIQUE (task_id, stage)
);
CREATE TABLE help_requests (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id            INTEGER   NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
    user_id            INTEGER   NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    message            TEXT      NOT NULL DEFAULT '',
    requested_at       TIMESTAMP NOT NULL,
    resolved           BOOLEAN   NOT NULL DEFAULT 0,
    resolved_at        TIMESTAMP,
    resolved_by        INTEGER   REFERENCES users (id) ON DELETE SET NULL,
    resolution_message TEXT      NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX help_requests_open_idx ON help_requests (task_id, user_id) WHERE NOT resolved;
`

// OpenSQLite opens a private in-memory sqlite database holding the application schema.
func OpenSQLite(t *testing.T) *sqlx.DB {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	// every connection of ":memory:" is a distinct database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	if _, err = db.Exec(sqliteSchema); err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	return db
}

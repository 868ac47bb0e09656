// Package inmemdb keeps every table in memory. It backs the tests and the DEV database engine "inmem".
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/class"
	"github.com/trezcool/stageboard/core/helprequest"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
)

type (
	tables struct {
		users        map[int]user.User
		classes      map[int]class.Class
		tasks        map[int]task.Task
		histories    map[int]task.History
		stageConfigs map[int]task.StageConfig
		helpRequests map[int]helprequest.HelpRequest
		seq          int
	}

	// DB guards its tables with one lock. Transactions are serialized and
	// rolled back by restoring a snapshot taken when they began. Writes made
	// outside a transaction wait for the open one to finish.
	DB struct {
		mu   sync.RWMutex
		txMu sync.Mutex
		t    *tables
	}

	// txExec marks the repository calls made inside RunInTx. It runs no SQL.
	txExec struct {
		core.DBExecutor
	}
)

var _ core.TxRunner = (*DB)(nil)

func Open() *DB {
	return &DB{t: &tables{
		users:        make(map[int]user.User),
		classes:      make(map[int]class.Class),
		tasks:        make(map[int]task.Task),
		histories:    make(map[int]task.History),
		stageConfigs: make(map[int]task.StageConfig),
		helpRequests: make(map[int]helprequest.HelpRequest),
	}}
}

func (t *tables) nextID() int {
	t.seq++
	return t.seq
}

func (t *tables) clone() *tables {
	c := &tables{
		users:        make(map[int]user.User, len(t.users)),
		classes:      make(map[int]class.Class, len(t.classes)),
		tasks:        make(map[int]task.Task, len(t.tasks)),
		histories:    make(map[int]task.History, len(t.histories)),
		stageConfigs: make(map[int]task.StageConfig, len(t.stageConfigs)),
		helpRequests: make(map[int]helprequest.HelpRequest, len(t.helpRequests)),
		seq:          t.seq,
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.tasks {
		c.tasks[k] = v
	}
	for k, v := range t.histories {
		c.histories[k] = v
	}
	for k, v := range t.stageConfigs {
		c.stageConfigs[k] = v
	}
	for k, v := range t.helpRequests {
		c.helpRequests[k] = v
	}
	return c
}

// RunInTx runs fn with an executor the repositories only use to tell transactional writes apart.
// The snapshot is restored when fn fails or ctx is done.
func (db *DB) RunInTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.t.clone()
	db.mu.RUnlock()

	err := fn(txExec{})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		db.mu.Lock()
		db.t = snapshot
		db.mu.Unlock()
	}
	return err
}

func inTx(exec []core.DBExecutor) bool {
	if len(exec) == 0 {
		return false
	}
	_, ok := exec[0].(txExec)
	return ok
}

func (db *DB) read(fn func(t *tables)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn(db.t)
}

func (db *DB) write(exec []core.DBExecutor, fn func(t *tables)) {
	if !inTx(exec) {
		db.txMu.Lock()
		defer db.txMu.Unlock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.t)
}

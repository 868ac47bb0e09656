package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core"
)

type (
	// Conn is one live channel to a client. Implementations must be safe for concurrent use
	// and deliver the messages of one connection in the order Send calls complete.
	Conn interface {
		ID() string
		Send(msg []byte) error
		Ping() error
	}

	// Identity is the authenticated owner of a Conn. Admins register as teachers of every class.
	Identity struct {
		UserID    int
		IsTeacher bool
		IsAdmin   bool
		ClassID   int
	}

	// Selector picks the live connections of a delivery.
	Selector struct {
		UserIDs []int
		ClassID int
		// ClassTeachers selects the teachers of ClassID, or every teacher when ClassID is 0.
		ClassTeachers bool
		AllTeachers   bool
		// ClassMembers selects the members of ClassID except ExcludeMember.
		ClassMembers  bool
		ExcludeMember int
	}
)

func (sel Selector) match(id Identity) bool {
	for _, uid := range sel.UserIDs {
		if uid == id.UserID {
			return true
		}
	}
	if id.IsTeacher {
		if sel.AllTeachers {
			return true
		}
		if sel.ClassTeachers && (sel.ClassID == 0 || id.IsAdmin || id.ClassID == sel.ClassID) {
			return true
		}
	}
	return sel.ClassMembers && sel.ClassID != 0 && id.ClassID == sel.ClassID && id.UserID != sel.ExcludeMember
}

// Manager tracks the live connections per user, the teacher connections,
// and the reverse mapping from a connection to its Identity.
type Manager struct {
	mu       sync.RWMutex
	users    map[int]map[Conn]struct{}
	teachers map[Conn]struct{}
	idents   map[Conn]Identity
	logger   core.Logger
}

func NewManager(logger core.Logger) *Manager {
	return &Manager{
		users:    make(map[int]map[Conn]struct{}),
		teachers: make(map[Conn]struct{}),
		idents:   make(map[Conn]Identity),
		logger:   logger,
	}
}

// Register records conn for id. Registering a connection again replaces its previous Identity.
func (m *Manager) Register(conn Conn, id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregister(conn)
	conns, ok := m.users[id.UserID]
	if !ok {
		conns = make(map[Conn]struct{})
		m.users[id.UserID] = conns
	}
	conns[conn] = struct{}{}
	if id.IsTeacher {
		m.teachers[conn] = struct{}{}
	}
	m.idents[conn] = id
}

// Unregister forgets conn. It is a no-op for an unknown connection and reports whether conn was registered.
func (m *Manager) Unregister(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregister(conn)
}

func (m *Manager) unregister(conn Conn) bool {
	id, ok := m.idents[conn]
	if !ok {
		return false
	}
	delete(m.idents, conn)
	delete(m.teachers, conn)
	if conns, ok := m.users[id.UserID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.users, id.UserID)
		}
	}
	return true
}

func (m *Manager) IsOnline(userID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

// Stats returns the number of online users and of live connections.
func (m *Manager) Stats() (users, conns int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), len(m.idents)
}

func (m *Manager) userConns(userID int) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Conn, 0, len(m.users[userID]))
	for c := range m.users[userID] {
		conns = append(conns, c)
	}
	return conns
}

func (m *Manager) teacherConns() []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Conn, 0, len(m.teachers))
	for c := range m.teachers {
		conns = append(conns, c)
	}
	return conns
}

func (m *Manager) selectConns(sel Selector) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Conn, 0)
	for c, id := range m.idents {
		if sel.match(id) {
			conns = append(conns, c)
		}
	}
	return conns
}

// send delivers msg on every conn of the snapshot and unregisters the connections that failed.
// It returns the number of successful deliveries.
func (m *Manager) send(conns []Conn, msg []byte) int {
	var sent int
	var failed []Conn
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			m.logger.Debug(fmt.Sprintf("realtime: dropping connection %s", c.ID()), err)
			failed = append(failed, c)
			continue
		}
		sent++
	}
	for _, c := range failed {
		m.Unregister(c)
	}
	return sent
}

func encode(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	case string:
		return []byte(m), nil
	}
	data, err := json.Marshal(msg)
	return data, errors.Wrap(err, "encoding message")
}

// SendToUser delivers msg to every connection of userID. An offline user is not an error.
func (m *Manager) SendToUser(userID int, msg interface{}) (int, error) {
	data, err := encode(msg)
	if err != nil {
		return 0, err
	}
	return m.send(m.userConns(userID), data), nil
}

func (m *Manager) BroadcastToTeachers(msg interface{}) (int, error) {
	data, err := encode(msg)
	if err != nil {
		return 0, err
	}
	return m.send(m.teacherConns(), data), nil
}

// Deliver sends msg once to every connection matched by sel.
func (m *Manager) Deliver(sel Selector, msg interface{}) (int, error) {
	data, err := encode(msg)
	if err != nil {
		return 0, err
	}
	return m.send(m.selectConns(sel), data), nil
}

type taskUpdate struct {
	Type       string      `json:"type"`
	UpdateType string      `json:"update_type"`
	TaskID     int         `json:"task_id"`
	Data       interface{} `json:"data"`
}

// SendTaskUpdate notifies the owner of a task and the teachers.
func (m *Manager) SendTaskUpdate(taskID, userID int, updateType string, data interface{}) (int, error) {
	msg := taskUpdate{Type: "task_update", UpdateType: updateType, TaskID: taskID, Data: data}
	return m.Deliver(Selector{UserIDs: []int{userID}, AllTeachers: true}, msg)
}

// Ping probes every connection and unregisters the ones that failed. It returns the number pruned.
func (m *Manager) Ping() int {
	m.mu.RLock()
	conns := make([]Conn, 0, len(m.idents))
	for c := range m.idents {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	var pruned int
	for _, c := range conns {
		if err := c.Ping(); err != nil {
			if m.Unregister(c) {
				pruned++
			}
		}
	}
	return pruned
}

// RunHeartbeat pings every connection at interval until ctx is done.
func (m *Manager) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := m.Ping(); pruned > 0 {
				m.logger.Debug(fmt.Sprintf("realtime: heartbeat pruned %d connection(s)", pruned))
			}
		}
	}
}

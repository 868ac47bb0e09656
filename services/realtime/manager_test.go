package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/stageboard/core/event"
	logsvc "github.com/trezcool/stageboard/services/logger"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	msgs    []string
	broken  bool
	pingErr bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, string(msg))
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.pingErr {
		return errors.New("broken pipe")
	}
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *fakeConn) types(t *testing.T) []string {
	var typs []string
	for _, msg := range c.messages() {
		var m struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &m))
		typs = append(typs, m.Type)
	}
	return typs
}

func (c *fakeConn) breakConn() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func newTestManager() *Manager {
	return NewManager(logsvc.NewNopLogger())
}

func TestManager_RegisterUnregister(t *testing.T) {
	m := newTestManager()
	c1, c2, c3 := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")

	m.Register(c1, Identity{UserID: 1})
	m.Register(c2, Identity{UserID: 1})
	m.Register(c3, Identity{UserID: 2, IsTeacher: true})
	assert.True(t, m.IsOnline(1))
	users, conns := m.Stats()
	assert.Equal(t, 2, users)
	assert.Equal(t, 3, conns)

	assert.True(t, m.Unregister(c1))
	assert.False(t, m.Unregister(c1), "no-op for an unknown connection")
	assert.True(t, m.IsOnline(1))
	assert.True(t, m.Unregister(c2))
	assert.False(t, m.IsOnline(1))

	// re-registering replaces the identity
	m.Register(c3, Identity{UserID: 3})
	assert.False(t, m.IsOnline(2))
	assert.True(t, m.IsOnline(3))
	n, err := m.BroadcastToTeachers(map[string]string{"type": "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_SendToUser(t *testing.T) {
	m := newTestManager()
	c1, c2, other := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("other")
	m.Register(c1, Identity{UserID: 1})
	m.Register(c2, Identity{UserID: 1})
	m.Register(other, Identity{UserID: 2})

	n, err := m.SendToUser(1, map[string]string{"type": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"type":"hello"}`}, c1.messages())
	assert.Equal(t, []string{`{"type":"hello"}`}, c2.messages())
	assert.Empty(t, other.messages())

	n, err = m.SendToUser(42, "offline")
	require.NoError(t, err)
	assert.Zero(t, n)

	t.Run("failed connections are dropped", func(t *testing.T) {
		c2.breakConn()
		n, err := m.SendToUser(1, []byte(`{"type":"again"}`))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, conns := m.Stats()
		assert.Equal(t, 2, conns)
		assert.True(t, m.IsOnline(1))
	})

	t.Run("unencodable message", func(t *testing.T) {
		_, err := m.SendToUser(1, map[string]interface{}{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestManager_Deliver(t *testing.T) {
	m := newTestManager()
	owner := newFakeConn("owner")
	mate := newFakeConn("mate")
	outsider := newFakeConn("outsider")
	teacher := newFakeConn("teacher")
	otherTeacher := newFakeConn("other-teacher")
	loneTeacher := newFakeConn("lone-teacher")
	admin := newFakeConn("admin")

	m.Register(owner, Identity{UserID: 1, ClassID: 10})
	m.Register(mate, Identity{UserID: 2, ClassID: 10})
	m.Register(outsider, Identity{UserID: 3, ClassID: 11})
	m.Register(teacher, Identity{UserID: 4, IsTeacher: true, ClassID: 10})
	m.Register(otherTeacher, Identity{UserID: 5, IsTeacher: true, ClassID: 11})
	m.Register(loneTeacher, Identity{UserID: 6, IsTeacher: true})
	m.Register(admin, Identity{UserID: 7, IsTeacher: true, IsAdmin: true})

	all := []*fakeConn{owner, mate, outsider, teacher, otherTeacher, loneTeacher, admin}
	received := func() []string {
		var ids []string
		for _, c := range all {
			if len(c.messages()) > 0 {
				ids = append(ids, c.ID())
			}
			c.mu.Lock()
			c.msgs = nil
			c.mu.Unlock()
		}
		return ids
	}

	tests := []struct {
		name string
		sel  Selector
		want []string
	}{
		{name: "owner", sel: Selector{UserIDs: []int{1}}, want: []string{"owner"}},
		{
			name: "owner & class teachers", sel: Selector{UserIDs: []int{1}, ClassID: 10, ClassTeachers: true},
			want: []string{"owner", "teacher", "admin"},
		},
		{
			name: "class teachers without class", sel: Selector{ClassTeachers: true},
			want: []string{"teacher", "other-teacher", "lone-teacher", "admin"},
		},
		{
			name: "all teachers", sel: Selector{UserIDs: []int{1}, ClassID: 10, AllTeachers: true},
			want: []string{"owner", "teacher", "other-teacher", "lone-teacher", "admin"},
		},
		{
			name: "class members but the actor", sel: Selector{ClassID: 10, ClassMembers: true, ExcludeMember: 2},
			want: []string{"owner", "teacher"},
		},
		{name: "class members of no class", sel: Selector{ClassMembers: true}},
		{
			name: "each connection once", sel: Selector{UserIDs: []int{4}, ClassID: 10, ClassTeachers: true, ClassMembers: true},
			want: []string{"owner", "mate", "teacher", "admin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := m.Deliver(tt.sel, map[string]string{"type": "x"})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
			assert.ElementsMatch(t, tt.want, received())
		})
	}
}

func TestManager_SendTaskUpdate(t *testing.T) {
	m := newTestManager()
	owner, teacher, other := newFakeConn("owner"), newFakeConn("teacher"), newFakeConn("other")
	m.Register(owner, Identity{UserID: 1})
	m.Register(teacher, Identity{UserID: 2, IsTeacher: true})
	m.Register(other, Identity{UserID: 3})

	n, err := m.SendTaskUpdate(9, 1, "progress", map[string]int{"percent": 50})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, other.messages())
	require.Len(t, owner.messages(), 1)
	assert.JSONEq(t, `{"type":"task_update","update_type":"progress","task_id":9,"data":{"percent":50}}`, owner.messages()[0])
}

func TestManager_Ping(t *testing.T) {
	m := newTestManager()
	ok, dead := newFakeConn("ok"), newFakeConn("dead")
	dead.pingErr = true
	m.Register(ok, Identity{UserID: 1})
	m.Register(dead, Identity{UserID: 2})

	assert.Equal(t, 1, m.Ping())
	assert.True(t, m.IsOnline(1))
	assert.False(t, m.IsOnline(2))
	assert.Zero(t, m.Ping())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunHeartbeat(ctx, 5*time.Millisecond)
		close(done)
	}()
	ok.breakConn()
	assert.Eventually(t, func() bool { return !m.IsOnline(1) }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDispatcher(t *testing.T) {
	m := newTestManager()
	owner, teacher, mate := newFakeConn("owner"), newFakeConn("teacher"), newFakeConn("mate")
	other := newFakeConn("other")
	m.Register(owner, Identity{UserID: 1, ClassID: 10})
	m.Register(teacher, Identity{UserID: 2, IsTeacher: true, ClassID: 10})
	m.Register(mate, Identity{UserID: 3, ClassID: 10})
	m.Register(other, Identity{UserID: 4, IsTeacher: true, ClassID: 20})

	d := NewDispatcher(m, 16, logsvc.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	typs := []string{event.TypeTaskCreated, event.TypeStageChanged, event.TypeStageChanged, event.TypeTaskDeleted}
	for i, typ := range typs {
		ev := event.Event{Type: typ, TaskID: i, OwnerID: 1, ClassID: 10, ActorID: 1, Audience: event.ToOwner | event.ToClassTeachers}
		if typ == event.TypeStageChanged {
			ev.Audience |= event.ToClassMembers
		}
		d.Publish(ev)
	}

	assert.Eventually(t, func() bool { return len(teacher.messages()) == len(typs) }, time.Second, 5*time.Millisecond)
	want := []string{"task_update", event.TypeStageChanged, event.TypeStageChanged, "task_update"}
	assert.Equal(t, want, teacher.types(t), "publish order")
	assert.Equal(t, want, owner.types(t), "the owner is not excluded from its own audience")
	assert.Equal(t, []string{event.TypeStageChanged, event.TypeStageChanged}, mate.types(t))
	// task edits go to every teacher
	assert.Equal(t, []string{"task_update", "task_update"}, other.types(t))
	assert.JSONEq(t, `{"type":"task_update","update_type":"task_deleted","task_id":3,"data":null}`, owner.messages()[3])

	cancel()
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	d := NewDispatcher(newTestManager(), 1, logsvc.NewNopLogger())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(event.Event{Type: event.TypeTaskCreated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestSelectorOf(t *testing.T) {
	sel := SelectorOf(event.Event{OwnerID: 1, ClassID: 10, ActorID: 2, Audience: event.ToOwner | event.ToClassMembers})
	assert.Equal(t, Selector{UserIDs: []int{1}, ClassID: 10, ClassMembers: true, ExcludeMember: 2}, sel)

	sel = SelectorOf(event.Event{ClassID: 10, Audience: event.ToClassTeachers})
	assert.Equal(t, Selector{ClassID: 10, ClassTeachers: true}, sel)
}

package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("payload fields are flattened", func(t *testing.T) {
		data, err := Encode(TypeTaskDeleted, TaskChanged{TaskID: 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "task_deleted", "task_id": 3}`, string(data))
	})

	t.Run("nil payload", func(t *testing.T) {
		data, err := Encode(TypeInitialTasks, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "initial_tasks"}`, string(data))
	})

	t.Run("payload type cannot be overridden", func(t *testing.T) {
		data, err := Encode(TypeTaskUpdated, map[string]interface{}{"type": "lol", "task_id": 1})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "task_updated", "task_id": 1}`, string(data))
	})

	t.Run("non-object payload", func(t *testing.T) {
		_, err := Encode(TypeTaskUpdated, []int{1, 2})
		assert.Error(t, err)
	})

	t.Run("snapshot", func(t *testing.T) {
		data, err := Encode(TypeInitialDelayedTasks, Snapshot{Count: 0, Data: []int{}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type": "initial_delayed_tasks", "count": 0, "data": []}`, string(data))
	})
}

func TestEvent_MarshalJSON(t *testing.T) {
	ev := Event{Type: TypeDelayWarning, TaskID: 1, OwnerID: 2, Audience: ToOwner, Payload: DelayWarning{TaskID: 1, Percentage: 150}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "delay_warning", fields["type"])
	assert.EqualValues(t, 150, fields["percentage"])
	assert.NotContains(t, fields, "Audience")
}

func TestAudience_Has(t *testing.T) {
	a := ToOwner | ToClassTeachers
	assert.True(t, a.Has(ToOwner))
	assert.True(t, a.Has(ToClassTeachers))
	assert.False(t, a.Has(ToAllTeachers))
	assert.False(t, a.Has(ToClassMembers))
}

func TestMultiAndRecorder(t *testing.T) {
	r1, r2 := new(Recorder), new(Recorder)
	pub := Multi(r1, r2)
	pub.Publish(Event{Type: TypeTaskCreated})
	pub.Publish(Event{Type: TypeTaskDeleted})

	assert.Len(t, r1.Events(), 2)
	assert.Len(t, r2.OfType(TypeTaskDeleted), 1)

	r1.Reset()
	assert.Empty(t, r1.Events())
	Discard.Publish(Event{Type: TypeTaskCreated}) // no-op
}

package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalOf(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  Kind
	}{
		{name: "no role", want: KindStudent},
		{name: "student", roles: []string{RoleStudent}, want: KindStudent},
		{name: "teacher", roles: []string{RoleTeacher}, want: KindTeacher},
		{name: "admin", roles: []string{RoleAdmin}, want: KindAdmin},
		{name: "highest role wins", roles: []string{RoleStudent, RoleTeacher, RoleAdmin}, want: KindAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrincipal(7, tt.roles, 3)
			assert.Equal(t, tt.want, p.Kind)
			assert.Equal(t, 7, p.UserID)
			assert.Equal(t, 3, p.ClassID)
		})
	}
}

func TestPermissions(t *testing.T) {
	admin := Principal{UserID: 1, Kind: KindAdmin}
	teacher := Principal{UserID: 2, Kind: KindTeacher, ClassID: 10}
	loneTeacher := Principal{UserID: 3, Kind: KindTeacher}
	student := Principal{UserID: 4, Kind: KindStudent, ClassID: 10}
	classmate := Principal{UserID: 5, Kind: KindStudent, ClassID: 10}

	t.Run("CanManageTask", func(t *testing.T) {
		assert.True(t, CanManageTask(admin, 4, 10))
		assert.True(t, CanManageTask(teacher, 4, 10))
		assert.False(t, CanManageTask(teacher, 4, 11), "other class")
		assert.False(t, CanManageTask(teacher, 4, 0), "task without class")
		assert.False(t, CanManageTask(loneTeacher, 4, 0))
		assert.True(t, CanManageTask(student, 4, 10))
		assert.False(t, CanManageTask(classmate, 4, 10))
	})

	t.Run("CanViewUser", func(t *testing.T) {
		assert.True(t, CanViewUser(admin, 4, 10))
		assert.True(t, CanViewUser(teacher, 4, 10))
		assert.True(t, CanViewUser(student, 4, 10))
		assert.False(t, CanViewUser(classmate, 4, 10))
	})

	t.Run("CanCreateTaskFor", func(t *testing.T) {
		assert.True(t, CanCreateTaskFor(student, 4, 10))
		assert.False(t, CanCreateTaskFor(student, 5, 10))
		assert.True(t, CanCreateTaskFor(teacher, 4, 10))
		assert.False(t, CanCreateTaskFor(teacher, 4, 11))
		assert.False(t, CanCreateTaskFor(teacher, 2, 0), "own task without a student")
		assert.True(t, CanCreateTaskFor(admin, 1, 0))
	})

	t.Run("CanDeleteTask & CanConfigureStages", func(t *testing.T) {
		for _, can := range []func(Principal, int) bool{CanDeleteTask, CanConfigureStages} {
			assert.True(t, can(admin, 10))
			assert.True(t, can(teacher, 10))
			assert.False(t, can(teacher, 11))
			assert.False(t, can(loneTeacher, 0))
			assert.False(t, can(student, 10))
		}
	})

	t.Run("staff only", func(t *testing.T) {
		for _, can := range []func(Principal) bool{CanResolveHelp, CanTriggerScan} {
			assert.True(t, can(admin))
			assert.True(t, can(teacher))
			assert.True(t, can(loneTeacher))
			assert.False(t, can(student))
		}
	})

	t.Run("CanManageClass", func(t *testing.T) {
		assert.True(t, CanManageClass(admin, 99))
		assert.True(t, CanManageClass(teacher, 10))
		assert.True(t, CanManageClass(teacher, 0), "new class")
		assert.False(t, CanManageClass(teacher, 11))
		assert.False(t, CanManageClass(student, 10))
		assert.False(t, CanManageClass(student, 0))
	})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "admin", KindAdmin.String())
	assert.Equal(t, "teacher", KindTeacher.String())
	assert.Equal(t, "student", KindStudent.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

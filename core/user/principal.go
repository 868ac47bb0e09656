package user

// Kind tags the variant of a Principal.
type Kind uint8

const (
	KindStudent Kind = iota + 1
	KindTeacher
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindTeacher:
		return "teacher"
	case KindStudent:
		return "student"
	}
	return "unknown"
}

// Principal is the authenticated caller, resolved once per request:
// Admin, Teacher(ClassID) or Student(ClassID). A zero ClassID means no class.
type Principal struct {
	UserID  int
	Kind    Kind
	ClassID int
}

func NewPrincipal(userID int, roles []string, classID int) Principal {
	usr := User{ID: userID, Roles: roles, ClassID: classID}
	return PrincipalOf(usr)
}

// PrincipalOf resolves the highest role of usr.
func PrincipalOf(usr User) Principal {
	p := Principal{UserID: usr.ID, ClassID: usr.ClassID, Kind: KindStudent}
	switch {
	case usr.IsAdmin():
		p.Kind = KindAdmin
	case usr.IsTeacher():
		p.Kind = KindTeacher
	}
	return p
}

func (p Principal) IsAdmin() bool   { return p.Kind == KindAdmin }
func (p Principal) IsTeacher() bool { return p.Kind == KindTeacher }
func (p Principal) IsStudent() bool { return p.Kind == KindStudent }

// IsStaff reports whether p may act as a teacher.
func (p Principal) IsStaff() bool { return p.IsAdmin() || p.IsTeacher() }

// teaches reports whether p is a teacher of classID.
func (p Principal) teaches(classID int) bool {
	return p.IsTeacher() && p.ClassID != 0 && p.ClassID == classID
}

// Permissions

// CanManageTask tells whether p may mutate a task owned by ownerID in classID.
func CanManageTask(p Principal, ownerID, classID int) bool {
	return p.IsAdmin() || p.UserID == ownerID || p.teaches(classID)
}

// CanViewUser tells whether p may read the records (tasks, statistics, help requests) of a user.
func CanViewUser(p Principal, userID, classID int) bool {
	return CanManageTask(p, userID, classID)
}

// CanCreateTaskFor tells whether p may create a task owned by ownerID, a member of ownerClassID.
func CanCreateTaskFor(p Principal, ownerID, ownerClassID int) bool {
	if p.IsStudent() {
		return p.UserID == ownerID
	}
	return p.IsAdmin() || p.teaches(ownerClassID)
}

// CanDeleteTask tells whether p may delete a task of classID.
func CanDeleteTask(p Principal, classID int) bool {
	return p.IsAdmin() || p.teaches(classID)
}

// CanConfigureStages tells whether p may manage the stage configs of a task of classID.
func CanConfigureStages(p Principal, classID int) bool {
	return p.IsAdmin() || p.teaches(classID)
}

func CanResolveHelp(p Principal) bool {
	return p.IsStaff()
}

func CanTriggerScan(p Principal) bool {
	return p.IsStaff()
}

// CanManageClass tells whether p may edit classID and its roster. A zero classID stands for a new class.
func CanManageClass(p Principal, classID int) bool {
	if p.IsAdmin() {
		return true
	}
	return p.IsTeacher() && (classID == 0 || p.ClassID == classID)
}

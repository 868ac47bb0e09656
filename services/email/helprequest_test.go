package emailsvc

import (
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/user"
	logsvc "github.com/trezcool/stageboard/services/logger"
	inmemdb "github.com/trezcool/stageboard/storage/database/inmem"
	"github.com/trezcool/stageboard/testutil"
)

func TestHelpRequestMailer(t *testing.T) {
	conf := &core.Config{AppName: "StageBoard", DefaultFromEmail: mail.Address{Name: "StageBoard", Address: "noreply@test.cd"}}
	logger := logsvc.NewNopLogger()
	mailSvc := NewConsoleServiceMock(conf, logger)

	usrRepo := inmemdb.NewUserRepository(inmemdb.Open())
	teacher := testutil.CreateUser(t, usrRepo, "Mrs Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, 1)
	testutil.CreateUser(t, usrRepo, "No Mail", "nomail", "", "", []string{user.RoleTeacher}, 1)
	testutil.CreateUser(t, usrRepo, "Other", "other", "other@test.cd", "", []string{user.RoleTeacher}, 2)
	student := testutil.CreateUser(t, usrRepo, "Kid <script>", "kid", "kid@test.cd", "", []string{user.RoleStudent}, 1)

	mailer := NewHelpRequestMailer(mailSvc, user.NewService(usrRepo), logger)

	// ignored
	mailer.Publish(event.Event{Type: event.TypeTaskCreated, ClassID: 1})
	mailer.Publish(event.Event{Type: event.TypeHelpRequestCreated, ClassID: 1, Payload: "lol"})

	mailer.Publish(event.Event{
		Type:    event.TypeHelpRequestCreated,
		TaskID:  5,
		ClassID: 1,
		Payload: event.HelpRequestCreated{HelpRequestID: 1, TaskID: 5, UserID: student.ID, Message: "I'm stuck"},
	})

	assert.Eventually(t, func() bool { return len(mailSvc.SentMessages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := mailSvc.SentMessages()[0]
	assert.Equal(t, []mail.Address{{Name: teacher.Name, Address: teacher.Email}}, msg.To)
	assert.Equal(t, "Help requested on task #5", msg.Subject)
	assert.Contains(t, msg.TextContent, "Kid <script> asked for help on task #5.")
	assert.Contains(t, msg.TextContent, `"I'm stuck"`)
	assert.Contains(t, msg.HTMLContent, "Kid &lt;script&gt;")
	assert.Contains(t, msg.HTMLContent, "I&#39;m stuck")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, mailSvc.SentMessages(), 1)
}

func TestRenderHelpRequest(t *testing.T) {
	msg, err := renderHelpRequest(helpRequestData{Student: "User #3", TaskID: 2})
	require.NoError(t, err)
	assert.Equal(t, "User #3 asked for help on task #2.\n", msg.TextContent)
	assert.NotContains(t, msg.HTMLContent, "blockquote")
}

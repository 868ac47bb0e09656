package emailsvc

import (
	"bytes"
	"context"
	"fmt"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"
	"time"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/user"
)

const helpRequestText = `{{.Student}} asked for help on task #{{.TaskID}}.
{{if .Message}}
"{{.Message}}"
{{end}}`

const helpRequestHTML = `<p><strong>{{.Student}}</strong> asked for help on task #{{.TaskID}}.</p>
{{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}`

var (
	helpRequestTextTmpl = texttmpl.Must(texttmpl.New("help_request.txt").Parse(helpRequestText))
	helpRequestHTMLTmpl = htmltmpl.Must(htmltmpl.New("help_request.html").Parse(helpRequestHTML))
)

type (
	TeacherFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
		QueryTeachers(ctx context.Context, classID int) ([]user.User, error)
	}

	// HelpRequestMailer mails the teachers of the class when a help request is created.
	HelpRequestMailer struct {
		mailSvc core.EmailService
		users   TeacherFinder
		logger  core.Logger
		timeout time.Duration
	}

	helpRequestData struct {
		Student string
		TaskID  int
		Message string
	}
)

var _ event.Publisher = (*HelpRequestMailer)(nil)

func NewHelpRequestMailer(mailSvc core.EmailService, users TeacherFinder, logger core.Logger) *HelpRequestMailer {
	return &HelpRequestMailer{mailSvc: mailSvc, users: users, logger: logger, timeout: 30 * time.Second}
}

// Publish looks the recipients up in the background.
func (m *HelpRequestMailer) Publish(ev event.Event) {
	if ev.Type != event.TypeHelpRequestCreated {
		return
	}
	payload, ok := ev.Payload.(event.HelpRequestCreated)
	if !ok {
		return
	}
	go m.notify(ev.ClassID, payload)
}

func (m *HelpRequestMailer) notify(classID int, hr event.HelpRequestCreated) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	teachers, err := m.users.QueryTeachers(ctx, classID)
	if err != nil {
		m.logger.Error(fmt.Sprintf("querying teachers of class %d", classID), err)
		return
	}
	to := make([]mail.Address, 0, len(teachers))
	for _, t := range teachers {
		if t.Email != "" {
			to = append(to, mail.Address{Name: t.Name, Address: t.Email})
		}
	}
	if len(to) == 0 {
		return
	}

	data := helpRequestData{TaskID: hr.TaskID, Message: hr.Message, Student: fmt.Sprintf("User #%d", hr.UserID)}
	if student, err := m.users.GetByID(ctx, hr.UserID); err == nil {
		data.Student = student.Name
	}

	msg, err := renderHelpRequest(data)
	if err != nil {
		m.logger.Error("rendering help request email", err)
		return
	}
	msg.To = to
	m.mailSvc.SendMessages(msg)
}

func renderHelpRequest(data helpRequestData) (*core.EmailMessage, error) {
	var text, html bytes.Buffer
	if err := helpRequestTextTmpl.Execute(&text, data); err != nil {
		return nil, err
	}
	if err := helpRequestHTMLTmpl.Execute(&html, data); err != nil {
		return nil, err
	}
	return &core.EmailMessage{
		Subject:     fmt.Sprintf("Help requested on task #%d", data.TaskID),
		TextContent: text.String(),
		HTMLContent: html.String(),
	}, nil
}

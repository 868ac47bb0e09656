// Package event defines the notifications emitted after a business operation commits.
package event

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Notification types
const (
	TypeConnectionEstablished = "connection_established"
	TypeInitialTasks          = "initial_tasks"
	TypeInitialHelpRequests   = "initial_help_requests"
	TypeInitialDelayedTasks   = "initial_delayed_tasks"

	TypeTaskCreated  = "task_created"
	TypeTaskUpdated  = "task_updated"
	TypeTaskDeleted  = "task_deleted"
	TypeStageChanged = "stage_changed"
	TypeDelayWarning = "delay_warning"

	TypeHelpRequestCreated  = "help_request_created"
	TypeHelpRequestResolved = "help_request_resolved"
)

// Audience is a set of recipients, resolved against live connections at delivery time.
type Audience uint8

const (
	ToOwner         Audience = 1 << iota
	ToClassTeachers          // teachers of Event.ClassID; every teacher when the task has no class
	ToAllTeachers
	ToClassMembers // members of Event.ClassID other than Event.ActorID
)

func (a Audience) Has(b Audience) bool { return a&b != 0 }

type Event struct {
	Type     string
	TaskID   int
	OwnerID  int
	ClassID  int
	ActorID  int
	Audience Audience
	Payload  interface{}
}

// MarshalJSON flattens the payload fields next to the "type" tag.
func (ev Event) MarshalJSON() ([]byte, error) {
	return Encode(ev.Type, ev.Payload)
}

// Encode renders payload as a JSON object tagged with typ.
// payload must marshal to a JSON object, or be nil.
func Encode(typ string, payload interface{}) ([]byte, error) {
	fields := make(map[string]interface{})
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshalling payload")
		}
		if err = json.Unmarshal(raw, &fields); err != nil {
			return nil, errors.Wrapf(err, "payload of %q is not an object", typ)
		}
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// Payloads

type (
	StageChanged struct {
		TaskID           int       `json:"task_id"`
		UserID           int       `json:"user_id"`
		ChangedBy        int       `json:"changed_by"`
		PreviousStage    *string   `json:"previous_stage"`
		NewStage         string    `json:"new_stage"`
		TimeSpentSeconds *int64    `json:"time_spent_seconds"`
		Comment          string    `json:"comment,omitempty"`
		ChangedAt        time.Time `json:"changed_at"`
	}

	TaskChanged struct {
		TaskID int         `json:"task_id"`
		Task   interface{} `json:"task,omitempty"`
	}

	DelayWarning struct {
		TaskID       int     `json:"task_id"`
		Title        string  `json:"title"`
		UserID       int     `json:"user_id"`
		Username     string  `json:"username,omitempty"`
		Stage        string  `json:"stage"`
		ExpectedTime int     `json:"expected_time"` // minutes
		ElapsedTime  float64 `json:"elapsed_time"`  // minutes
		Percentage   float64 `json:"percentage"`
	}

	HelpRequestCreated struct {
		HelpRequestID int       `json:"help_request_id"`
		TaskID        int       `json:"task_id"`
		UserID        int       `json:"user_id"`
		Message       string    `json:"message"`
		RequestedAt   time.Time `json:"requested_at"`
	}

	ConnectionEstablished struct {
		UserID    int    `json:"user_id"`
		IsTeacher bool   `json:"is_teacher"`
		Message   string `json:"message"`
	}

	// Snapshot is the initial state sent to a freshly connected client.
	Snapshot struct {
		Count int         `json:"count"`
		Data  interface{} `json:"data"`
	}

	HelpRequestResolved struct {
		HelpRequestID     int       `json:"help_request_id"`
		TaskID            int       `json:"task_id"`
		UserID            int       `json:"user_id"`
		ResolverID        int       `json:"resolver_id"`
		ResolutionMessage string    `json:"resolution_message"`
		ResolvedAt        time.Time `json:"resolved_at"`
	}
)

// Publisher hands events over for asynchronous delivery. Publish must not block on delivery.
type Publisher interface {
	Publish(ev Event)
}

type PublisherFunc func(ev Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

type multiPublisher []Publisher

func (m multiPublisher) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}

// Multi publishes every event to all pubs in order.
func Multi(pubs ...Publisher) Publisher {
	return multiPublisher(pubs)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events tagged typ.
func (r *Recorder) OfType(typ string) []Event {
	var evs []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			evs = append(evs, ev)
		}
	}
	return evs
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

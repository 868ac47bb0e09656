package realtime

import (
	"context"
	"fmt"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/event"
)

// Dispatcher is the event.Publisher of the live connections: services hand events over through a buffered
// channel and a single goroutine delivers them, in publish order, through the Manager.
type Dispatcher struct {
	manager *Manager
	events  chan event.Event
	logger  core.Logger
	done    chan struct{}
}

var _ event.Publisher = (*Dispatcher)(nil)

func NewDispatcher(manager *Manager, buffer int, logger core.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		manager: manager,
		events:  make(chan event.Event, buffer),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Publish never blocks: when the buffer is full the event is dropped.
func (d *Dispatcher) Publish(ev event.Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn(fmt.Sprintf("realtime: dispatcher full, dropping %s of task %d", ev.Type, ev.TaskID))
	}
}

// Run delivers events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.dispatch(ev)
		}
	}
}

// Done is closed once Run returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) dispatch(ev event.Event) {
	var err error
	switch ev.Type {
	case event.TypeTaskCreated, event.TypeTaskUpdated, event.TypeTaskDeleted:
		_, err = d.manager.SendTaskUpdate(ev.TaskID, ev.OwnerID, ev.Type, ev.Payload)
	default:
		_, err = d.manager.Deliver(SelectorOf(ev), ev)
	}
	if err != nil {
		d.logger.Error(fmt.Sprintf("realtime: delivering %s", ev.Type), err)
	}
}

// SelectorOf resolves the audience of ev.
func SelectorOf(ev event.Event) Selector {
	sel := Selector{
		ClassID:       ev.ClassID,
		ClassTeachers: ev.Audience.Has(event.ToClassTeachers),
		AllTeachers:   ev.Audience.Has(event.ToAllTeachers),
		ClassMembers:  ev.Audience.Has(event.ToClassMembers),
		ExcludeMember: ev.ActorID,
	}
	if ev.Audience.Has(event.ToOwner) && ev.OwnerID != 0 {
		sel.UserIDs = []int{ev.OwnerID}
	}
	return sel
}

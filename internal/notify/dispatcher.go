package notify

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/realtime"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Publisher puts events on the stream.
type Publisher interface {
	PublishEvent(ctx context.Context, event realtime.Event) error
}

// Dispatcher renders records into messages for a Sender and publishes the
// matching stream events. Either side may be nil.
type Dispatcher struct {
	sender    Sender
	publisher Publisher
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sender Sender, publisher Publisher, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{sender: sender, publisher: publisher, log: log.WithComponent("notify")}
}

// NotifyNew announces a newly stored record.
func (d *Dispatcher) NotifyNew(ctx context.Context, rec *announcement.Record) error {
	d.publish(ctx, realtime.NewRecordEvent(realtime.KindNew, rec, nil))

	title, body := NewMessage(rec)
	return d.send(ctx, title, body)
}

// NotifyUpdate announces changed fields of a stored record.
func (d *Dispatcher) NotifyUpdate(ctx context.Context, rec *announcement.Record, changes []announcement.Change) error {
	fields := make([]string, len(changes))
	for i, c := range changes {
		fields[i] = c.Field
	}
	d.publish(ctx, realtime.NewRecordEvent(realtime.KindUpdated, rec, fields))

	title, body := UpdateMessage(rec, changes)
	return d.send(ctx, title, body)
}

// Send delivers an arbitrary message.
func (d *Dispatcher) Send(ctx context.Context, title, body string) error {
	return d.send(ctx, title, body)
}

func (d *Dispatcher) send(ctx context.Context, title, body string) error {
	if d.sender == nil {
		return ErrDisabled
	}
	return d.sender.Send(ctx, title, body)
}

// publish is best effort; the stream is a mirror, not the delivery channel.
func (d *Dispatcher) publish(ctx context.Context, event realtime.Event) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		d.log.WithContext(ctx).Warn("failed to publish event", "kind", event.Kind, "fingerprint", event.Fingerprint, "error", err)
	}
}

// Package events carries lifecycle and control notifications to downstream collaborators.
// Events are published only after the unit of work that produced them has committed.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Name identifies an event type. It doubles as the AMQP routing key.
type Name string

const (
	BookingCreated     Name = "booking.created"
	BookingStarted     Name = "booking.started"
	BookingCompleted   Name = "booking.completed"
	BookingCancelled   Name = "booking.cancelled"
	BookingInterrupted Name = "booking.interrupted"
	InvoiceCreated     Name = "invoice.created"
	IssueCreated       Name = "issue.created"
	IssueResolved      Name = "issue.resolved"
	SlotStatusChanged  Name = "slot.status_changed"
	PostStatusChanged  Name = "post.status_changed"
)

// Event is a committed state change.
type Event struct {
	Name       Name           `json:"name"`
	OccurredAt time.Time      `json:"occurred_at"`
	StationID  string         `json:"station_id,omitempty"`
	PostID     string         `json:"post_id,omitempty"`
	SlotID     string         `json:"slot_id,omitempty"`
	BookingID  string         `json:"booking_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes every event to each sink and combines their failures.
type Fanout struct {
	sinks []Publisher
}

// NewFanout drops nil sinks.
func NewFanout(sinks ...Publisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish implements Publisher.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.Publish(ctx, event))
	}
	return err
}

// PublishAll delivers a committed batch. Delivery failures are logged and never surface to
// the caller because the state change already happened.
func PublishAll(ctx context.Context, pub Publisher, logger *zap.Logger, batch []Event) {
	if pub == nil {
		return
	}
	for _, ev := range batch {
		if err := pub.Publish(ctx, ev); err != nil {
			logger.Warn("failed to publish event",
				zap.String("event", string(ev.Name)),
				zap.String("booking_id", ev.BookingID),
				zap.String("slot_id", ev.SlotID),
				zap.Error(err),
			)
		}
	}
}

// LogPublisher writes events to the service log.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher builds a log sink.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("event",
		zap.String("event", string(event.Name)),
		zap.String("station_id", event.StationID),
		zap.String("post_id", event.PostID),
		zap.String("slot_id", event.SlotID),
		zap.String("booking_id", event.BookingID),
		zap.String("actor_id", event.ActorID),
		zap.String("from", event.From),
		zap.String("to", event.To),
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns recorded event names in order.
func (r *Recorder) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Name, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

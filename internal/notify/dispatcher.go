package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intake.org/internal/allocation"
)

// Sink delivers one event to one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Dispatcher implements allocation.Notifier by fanning events out to sinks.
type Dispatcher struct {
	sinks []Sink
	now   func() time.Time
}

var _ allocation.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sinks ...Sink) *Dispatcher {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Dispatcher{sinks: out, now: time.Now}
}

// Sinks lists the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

func (d *Dispatcher) NotifyAllocated(ctx context.Context, rc allocation.Receiver, t allocation.CaseType, party string) error {
	return d.deliver(ctx, allocatedEvent(rc, t, party, d.now().UTC()))
}

func (d *Dispatcher) NotifyUpcoming(ctx context.Context, rc allocation.Receiver, current string, t allocation.CaseType, party string) error {
	return d.deliver(ctx, upcomingEvent(rc, current, t, party, d.now().UTC()))
}

// deliver tries every sink; one failing sink does not stop the others.
func (d *Dispatcher) deliver(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

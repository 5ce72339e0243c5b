package processor

import (
	"context"
	"errors"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

// ErrBufferFull is returned when an event is dropped because the publish
// buffer has no room.
var ErrBufferFull = errors.New("processor: publish buffer full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("processor: closed")

// Publisher forwards canonical events to a downstream queue
type Publisher interface {
	// Publish hands the event to the queue. It must not block on the
	// downstream system.
	Publish(ctx context.Context, e cdevents.Event) error

	// Close flushes pending events and releases the client.
	Close() error

	// Name returns the publisher's identifier
	Name() string
}

// Processor is a Publisher whose delivery runs on a background worker.
type Processor interface {
	Publisher

	// Start begins draining buffered events
	Start(ctx context.Context) error
}

type multi []Publisher

// Multi fans every event out to all publishers.
func Multi(publishers ...Publisher) Publisher {
	return multi(publishers)
}

func (m multi) Name() string { return "multi" }

func (m multi) Publish(ctx context.Context, e cdevents.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

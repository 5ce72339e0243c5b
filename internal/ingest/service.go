// Package ingest runs a webhook delivery through its provider adapter and
// fans the resulting CDEvent out to the configured side channels.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/logger"
	"github.com/fraser-isbester/cdfwd/internal/processor"
	"github.com/fraser-isbester/cdfwd/internal/validation"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

var (
	ErrUnknownProvider = errors.New("ingest: unknown provider")
	ErrNoDetector      = errors.New("ingest: provider cannot detect event types")
	// ErrCanonicalSchema marks an adapter that produced an event violating
	// the CDEvents schema.
	ErrCanonicalSchema = errors.New("ingest: transformed event violates CDEvents schema")
)

const defaultSideEffectTimeout = 30 * time.Second

// Archiver records deliveries for auditing.
type Archiver interface {
	LogReceived(ctx context.Context, provider, eventType string, webhook []byte) error
	LogTransformed(ctx context.Context, provider, eventType string, webhook []byte, event *cdevents.Event) error
}

// Validator checks events against a remote CDEvents validator.
type Validator interface {
	Validate(ctx context.Context, e cdevents.Event) validation.Result
}

type Result struct {
	Provider   string
	EventType  string
	Event      *cdevents.Event
	Ack        *adapter.Acknowledgement
	Validation *validation.Result
	// Published is set when the event was handed to the publisher.
	Published bool
}

type Option func(*Service)

func WithPublisher(p processor.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

func WithValidator(v Validator, timeout time.Duration) Option {
	return func(s *Service) {
		s.validator = v
		s.validateTimeout = timeout
	}
}

func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sideEffectTimeout = d
		}
	}
}

type Service struct {
	registry          *adapter.Registry
	publisher         processor.Publisher
	archive           Archiver
	validator         Validator
	validateTimeout   time.Duration
	sideEffectTimeout time.Duration

	log    zerolog.Logger
	tracer trace.Tracer
	wg     sync.WaitGroup
}

func NewService(registry *adapter.Registry, opts ...Option) *Service {
	s := &Service{
		registry:          registry,
		sideEffectTimeout: defaultSideEffectTimeout,
		log:               logger.GetLogger("ingest"),
		tracer:            otel.Tracer("github.com/fraser-isbester/cdfwd/internal/ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *adapter.Registry {
	return s.registry
}

// DetectEventType asks the provider adapter to derive the event type from the
// delivery headers and body.
func (s *Service) DetectEventType(provider string, header http.Header, payload []byte) (string, error) {
	a, ok := s.registry.Get(provider)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	d, ok := a.(adapter.EventTypeDetector)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoDetector, provider)
	}
	return d.DetectEventType(header, payload)
}

// Ingest transforms payload into a CDEvent. Persistence, publishing and
// remote validation never fail the call.
func (s *Service) Ingest(ctx context.Context, provider, eventType string, payload []byte) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(
		attribute.String("cdfwd.provider", provider),
		attribute.String("cdfwd.event_type", eventType),
	))
	defer span.End()

	log := s.log.With().Str("provider", provider).Str("event_type", eventType).Logger()

	res, err := s.ingest(ctx, log, provider, eventType, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.Event != nil {
		span.SetAttributes(
			attribute.String("cdevents.type", string(res.Event.Context.Type)),
			attribute.String("cdevents.id", res.Event.Context.ID),
			attribute.String("cdevents.subject", res.Event.Subject.ID),
		)
	}
	return res, nil
}

func (s *Service) ingest(ctx context.Context, log zerolog.Logger, provider, eventType string, payload []byte) (*Result, error) {
	s.archiveAsync(ctx, log, provider, eventType, payload, nil)

	a, ok := s.registry.Get(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	out, err := a.Transform(payload, eventType)
	if err != nil {
		log.Warn().Err(err).Msg("transform failed")
		return nil, err
	}

	res := &Result{Provider: provider, EventType: eventType}
	if out.Ack != nil {
		res.Ack = out.Ack
		log.Info().Str("message", out.Ack.Message).Msg("acknowledged delivery")
		return res, nil
	}
	if out.Event == nil {
		return nil, fmt.Errorf("adapter %s returned an empty result for %s", provider, eventType)
	}

	event := *out.Event
	res.Event = &event

	if err := cdevents.ValidateEvent(event); err != nil {
		log.Error().Err(err).Str("event_type", string(event.Context.Type)).Msg("transformed event failed canonical validation")
		return nil, fmt.Errorf("%w: %w", ErrCanonicalSchema, err)
	}

	if s.validator != nil {
		v := s.validate(ctx, event)
		res.Validation = &v
		if !v.Valid {
			log.Warn().Strs("errors", v.Errors).Msg("remote validation rejected event")
		}
	}

	if s.publisher != nil && event.IsQueued() {
		s.publishAsync(ctx, log, event)
		res.Published = true
	}

	s.archiveAsync(ctx, log, provider, eventType, payload, &event)

	log.Info().
		Str("cdevent_type", string(event.Context.Type)).
		Str("cdevent_id", event.Context.ID).
		Str("subject", event.Subject.ID).
		Msg("transformed webhook")
	return res, nil
}

func (s *Service) validate(ctx context.Context, event cdevents.Event) validation.Result {
	ctx, span := s.tracer.Start(ctx, "ingest.validate")
	defer span.End()

	if s.validateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.validateTimeout)
		defer cancel()
	}
	v := s.validator.Validate(ctx, event)
	span.SetAttributes(attribute.Bool("cdfwd.validation.valid", v.Valid))
	return v
}

// detach keeps the span context of ctx while dropping its cancellation.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
}

func (s *Service) publishAsync(ctx context.Context, log zerolog.Logger, event cdevents.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.detach(ctx)
		defer cancel()
		ctx, span := s.tracer.Start(ctx, "ingest.publish")
		defer span.End()

		if err := s.publisher.Publish(ctx, event); err != nil {
			span.RecordError(err)
			log.Warn().Err(err).Str("publisher", s.publisher.Name()).Str("cdevent_id", event.Context.ID).Msg("failed to publish event")
		}
	}()
}

func (s *Service) archiveAsync(ctx context.Context, log zerolog.Logger, provider, eventType string, payload []byte, event *cdevents.Event) {
	if s.archive == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.detach(ctx)
		defer cancel()
		ctx, span := s.tracer.Start(ctx, "ingest.archive")
		defer span.End()

		var err error
		if event == nil {
			err = s.archive.LogReceived(ctx, provider, eventType, payload)
		} else {
			err = s.archive.LogTransformed(ctx, provider, eventType, payload, event)
		}
		if err != nil {
			span.RecordError(err)
			log.Warn().Err(err).Msg("failed to archive webhook")
		}
	}()
}

// Wait blocks until in-flight side effects finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close waits for side effects and then closes the publisher.
func (s *Service) Close() error {
	s.wg.Wait()
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/fraser-isbester/cdfwd/internal/logger"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

type PubSubConfig struct {
	ProjectID    string
	TopicName    string
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	BufferSize   int
}

func DefaultConfig() PubSubConfig {
	return PubSubConfig{
		TopicName:    "cdevents",
		BatchSize:    100,
		BatchBytes:   1000000, // 1MB
		BatchTimeout: 100 * time.Millisecond,
		BufferSize:   1000,
	}
}

// PubSubProcessor publishes events as structured CloudEvents to a Pub/Sub
// topic from a buffered channel.
type PubSubProcessor struct {
	config    PubSubConfig
	client    *pubsub.Client
	topic     *pubsub.Topic
	log       zerolog.Logger
	eventChan chan cloudevents.Event
	done      chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

var _ Processor = (*PubSubProcessor)(nil)

func NewPubSubProcessor(ctx context.Context, config PubSubConfig, opts ...option.ClientOption) (*PubSubProcessor, error) {
	projectID := config.ProjectID
	if projectID == "" {
		projectID = pubsub.DetectProjectID
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(config.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		topic, err = client.CreateTopic(ctx, config.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
	}

	topic.PublishSettings = pubsub.PublishSettings{
		ByteThreshold:  config.BatchBytes,
		CountThreshold: config.BatchSize,
		DelayThreshold: config.BatchTimeout,
	}

	buffer := config.BufferSize
	if buffer <= 0 {
		buffer = DefaultConfig().BufferSize
	}

	return &PubSubProcessor{
		config:    config,
		client:    client,
		topic:     topic,
		log:       logger.GetLogger("processor").With().Str("topic", config.TopicName).Logger(),
		eventChan: make(chan cloudevents.Event, buffer),
		done:      make(chan struct{}),
	}, nil
}

func (p *PubSubProcessor) Name() string { return "pubsub" }

// Publish converts e to a CloudEvent and queues it. A full buffer drops the
// event and returns ErrBufferFull.
func (p *PubSubProcessor) Publish(_ context.Context, e cdevents.Event) error {
	ce, err := cdevents.ToCloudEvent(e)
	if err != nil {
		return fmt.Errorf("convert event %s: %w", e.Context.ID, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.eventChan <- ce:
		return nil
	default:
		p.log.Warn().Str("event_id", ce.ID()).Msg("event channel full, dropping event")
		return ErrBufferFull
	}
}

func (p *PubSubProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	p.log.Info().Msg("starting pubsub processor")
	go p.processEvents(ctx)
	return nil
}

func (p *PubSubProcessor) processEvents(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case event, ok := <-p.eventChan:
			if !ok {
				p.log.Debug().Msg("event channel closed, stopping processor")
				return
			}
			if err := p.publishEvent(ctx, event); err != nil {
				p.log.Error().Err(err).Str("event_id", event.ID()).Msg("error publishing event")
			}
		case <-ctx.Done():
			p.log.Debug().Msg("context cancelled, stopping processor")
			return
		}
	}
}

func (p *PubSubProcessor) publishEvent(ctx context.Context, event cloudevents.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attributes(event),
	}

	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.log.Debug().Str("event_id", event.ID()).Str("message_id", id).Msg("published event")
	return nil
}

// attributes mirrors the CloudEvent context into message attributes so
// subscribers can filter without decoding the body.
func attributes(event cloudevents.Event) map[string]string {
	attrs := map[string]string{
		"ce-id":          event.ID(),
		"ce-source":      event.Source(),
		"ce-type":        event.Type(),
		"ce-specversion": event.SpecVersion(),
		"content-type":   "application/cloudevents+json; charset=UTF-8",
	}
	if s := event.Subject(); s != "" {
		attrs["ce-subject"] = s
	}
	if t := event.Time(); !t.IsZero() {
		attrs["ce-time"] = t.UTC().Format(time.RFC3339Nano)
	}

	for name, value := range event.Extensions() {
		if str, ok := value.(string); ok {
			attrs["ce-"+name] = str
		} else if strVal, err := json.Marshal(value); err == nil {
			attrs["ce-"+name] = string(strVal)
		}
	}
	return attrs
}

// Close stops accepting events, drains the buffer when the worker is
// running and closes the client.
func (p *PubSubProcessor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.eventChan)
	p.mu.Unlock()

	p.log.Info().Msg("stopping pubsub processor")
	if started {
		<-p.done
	}
	p.topic.Stop()
	return p.client.Close()
}

// Package archive keeps an audit trail of webhook deliveries and the events
// derived from them in an object store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fraser-isbester/cdfwd/internal/logger"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

// Store persists opaque objects under a key.
type Store interface {
	Put(ctx context.Context, key string, body []byte, meta map[string]string) error
}

type Stage string

const (
	StageReceived    Stage = "received"
	StageTransformed Stage = "transformed"
)

// Record is the stored document.
type Record struct {
	Timestamp        string          `json:"timestamp"`
	Provider         string          `json:"provider"`
	EventType        string          `json:"eventType"`
	Stage            Stage           `json:"stage"`
	Webhook          json.RawMessage `json:"webhook"`
	TransformedEvent *cdevents.Event `json:"transformedEvent"`
}

// Logger writes webhook records to a Store.
type Logger struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewLogger(store Store) *Logger {
	return &Logger{
		store: store,
		now:   time.Now,
		log:   logger.GetLogger("archive"),
	}
}

// LogReceived stores the raw delivery before it is transformed.
func (l *Logger) LogReceived(ctx context.Context, provider, eventType string, webhook []byte) error {
	return l.write(ctx, provider, eventType, StageReceived, webhook, nil)
}

// LogTransformed stores the delivery next to the event derived from it.
func (l *Logger) LogTransformed(ctx context.Context, provider, eventType string, webhook []byte, event *cdevents.Event) error {
	return l.write(ctx, provider, eventType, StageTransformed, webhook, event)
}

func (l *Logger) write(ctx context.Context, provider, eventType string, stage Stage, webhook []byte, event *cdevents.Event) error {
	now := l.now().UTC()
	id := describe(webhook)
	label := eventType
	if id.Action != "" && !strings.HasSuffix(eventType, "."+id.Action) {
		label = eventType + "." + id.Action
	}

	raw := json.RawMessage(webhook)
	if !json.Valid(webhook) {
		quoted, _ := json.Marshal(string(webhook))
		raw = quoted
	}

	body, err := json.MarshalIndent(Record{
		Timestamp:        cdevents.FormatTimestamp(now),
		Provider:         provider,
		EventType:        label,
		Stage:            stage,
		Webhook:          raw,
		TransformedEvent: event,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := Key(provider, label, stage, now)
	if err := l.store.Put(ctx, key, body, metadata(provider, label, id)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	l.log.Debug().Str("key", key).Str("stage", string(stage)).Msg("archived webhook")
	return nil
}

// Key lays records out as
// <provider>-webhooks/<YYYY-MM-DD>/<eventType>/<unix ms>-<timestamp>[.received].json
// where the timestamp has ':' and '.' replaced by '-'.
func Key(provider, eventType string, stage Stage, at time.Time) string {
	at = at.UTC()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(cdevents.FormatTimestamp(at))
	suffix := ".json"
	if stage == StageReceived {
		suffix = ".received.json"
	}
	return fmt.Sprintf("%s-webhooks/%s/%s/%d-%s%s",
		provider, at.Format(time.DateOnly), eventType, at.UnixMilli(), stamp, suffix)
}

type identity struct {
	Action     string `json:"action"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue *struct {
		Key    string `json:"key"`
		Fields *struct {
			Project *struct {
				Key string `json:"key"`
			} `json:"project"`
		} `json:"fields"`
	} `json:"issue"`
}

// describe pulls the provider identity out of a delivery. Unparseable
// payloads yield an empty identity.
func describe(webhook []byte) identity {
	var id identity
	_ = json.Unmarshal(webhook, &id)
	return id
}

func metadata(provider, eventType string, id identity) map[string]string {
	meta := map[string]string{
		"eventType": eventType,
		"provider":  provider,
	}
	if id.Repository != nil && id.Repository.FullName != "" {
		meta["repository"] = id.Repository.FullName
	}
	if id.Issue != nil && id.Issue.Key != "" {
		meta["issueKey"] = id.Issue.Key
		if id.Issue.Fields != nil && id.Issue.Fields.Project != nil {
			meta["projectKey"] = id.Issue.Fields.Project.Key
		}
	}
	return meta
}

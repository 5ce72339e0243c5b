// Package adapter defines the contract provider adapters implement to turn
// webhook deliveries into CDEvents.
package adapter

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

// Adapter transforms the deliveries of one provider. Implementations are
// stateless and safe for concurrent use.
type Adapter interface {
	Name() string
	Version() string
	Description() string
	SupportedEvents() []string

	// ValidateWebhook is a cheap structural check used to reject payloads
	// before attempting a transform.
	ValidateWebhook(payload []byte) bool

	// WebhookSchema returns the payload schema for an event type, or nil.
	WebhookSchema(eventType string) *schema.Schema

	Transform(payload []byte, eventType string) (*Result, error)
}

// EventTypeDetector is implemented by adapters that can derive the event type
// from the delivery itself.
type EventTypeDetector interface {
	DetectEventType(header http.Header, payload []byte) (string, error)
}

// Result is either a CDEvent or an acknowledgement for deliveries that carry
// no lifecycle semantics, such as webhook pings.
type Result struct {
	Event *cdevents.Event
	Ack   *Acknowledgement
}

func EventResult(e cdevents.Event) *Result {
	return &Result{Event: &e}
}

func AckResult(ack Acknowledgement) *Result {
	return &Result{Ack: &ack}
}

type Acknowledgement struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Ping    any    `json:"ping,omitempty"`
}

// Supports reports whether a declares eventType.
func Supports(a Adapter, eventType string) bool {
	return slices.Contains(a.SupportedEvents(), eventType)
}

// Info is the self-description of an adapter.
type Info struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	SupportedEvents []string          `json:"supportedEvents"`
	Endpoints       map[string]string `json:"endpoints"`
	Description     string            `json:"description"`
}

func Describe(a Adapter) Info {
	base := "/adapters/" + a.Name()
	endpoints := map[string]string{
		"info":    base,
		"events":  base + "/events/{eventType}",
		"schemas": base + "/schemas/{eventType}",
	}
	if _, ok := a.(EventTypeDetector); ok {
		endpoints["webhook"] = base + "/webhook"
	}
	return Info{
		Name:            a.Name(),
		Version:         a.Version(),
		SupportedEvents: slices.Clone(a.SupportedEvents()),
		Endpoints:       endpoints,
		Description:     a.Description(),
	}
}

// Decode validates payload against s and unmarshals it into v. Failures are
// returned as *TransformError.
func Decode(s *schema.Schema, payload []byte, v any) error {
	if err := s.Validate(payload); err != nil {
		return TransformFailed(err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return TransformFailed(err)
	}
	return nil
}

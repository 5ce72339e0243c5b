package cdevents

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const SchemaBaseURL = "https://cdfwd.dev/schemas/cdevents/"

var schemas = schema.MustLoad(SchemaBaseURL, schemaFS, "schemas")

var ErrUnknownEventType = errors.New("cdevents: unknown event type")

var schemaNames = map[EventType]string{
	PipelineRunQueuedEventType:   "pipelinerun-queued",
	PipelineRunStartedEventType:  "pipelinerun-started",
	PipelineRunFinishedEventType: "pipelinerun-finished",
	TaskRunStartedEventType:      "taskrun-started",
	TaskRunFinishedEventType:     "taskrun-finished",
}

// SchemaFor returns the concrete schema of an event type.
func SchemaFor(t EventType) (*schema.Schema, bool) {
	name, ok := schemaNames[t]
	if !ok {
		return nil, false
	}
	return schemas.Get(name)
}

// GenericSchema accepts any well formed CDEvent regardless of its type.
func GenericSchema() *schema.Schema {
	s, _ := schemas.Get("event")
	return s
}

// CoreSchema accepts events matching one of the concrete event schemas.
func CoreSchema() *schema.Schema {
	s, _ := schemas.Get("core")
	return s
}

func parse(s *schema.Schema, raw []byte) (Event, error) {
	if err := s.Validate(raw); err != nil {
		return Event{}, err
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

func parseAs(t EventType, raw []byte) (Event, error) {
	s, ok := SchemaFor(t)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	return parse(s, raw)
}

// Validate checks raw against the generic CDEvent schema.
func Validate(raw []byte) (Event, error) {
	return parse(GenericSchema(), raw)
}

// ValidateCore checks raw against the union of the concrete event schemas.
func ValidateCore(raw []byte) (Event, error) {
	return parse(CoreSchema(), raw)
}

// ValidateAs checks raw against the concrete schema of t.
func ValidateAs(t EventType, raw []byte) (Event, error) {
	return parseAs(t, raw)
}

func ValidatePipelineRunQueued(raw []byte) (Event, error) {
	return parseAs(PipelineRunQueuedEventType, raw)
}

func ValidatePipelineRunStarted(raw []byte) (Event, error) {
	return parseAs(PipelineRunStartedEventType, raw)
}

func ValidatePipelineRunFinished(raw []byte) (Event, error) {
	return parseAs(PipelineRunFinishedEventType, raw)
}

func ValidateTaskRunStarted(raw []byte) (Event, error) {
	return parseAs(TaskRunStartedEventType, raw)
}

func ValidateTaskRunFinished(raw []byte) (Event, error) {
	return parseAs(TaskRunFinishedEventType, raw)
}

// ValidateEvent checks a constructed event against the schema of its own type.
func ValidateEvent(e Event) error {
	s, ok := SchemaFor(e.Context.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, e.Context.Type)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.Validate(raw)
}

// Package cdevents models CDEvents (https://cdevents.dev) pipeline-run and
// task-run events and validates them against embedded JSON Schemas.
package cdevents

const (
	// SpecVersion is the CDEvents specification version carried in context.version.
	SpecVersion = "0.4.1"

	DefaultCustomDataContentType = "application/json"
)

type EventType string

const (
	PipelineRunQueuedEventType   EventType = "dev.cdevents.pipelinerun.queued.0.2.0"
	PipelineRunStartedEventType  EventType = "dev.cdevents.pipelinerun.started.0.2.0"
	PipelineRunFinishedEventType EventType = "dev.cdevents.pipelinerun.finished.0.2.0"
	TaskRunStartedEventType      EventType = "dev.cdevents.taskrun.started.0.2.0"
	TaskRunFinishedEventType     EventType = "dev.cdevents.taskrun.finished.0.2.0"
)

// EventTypes lists every event type this package can construct and validate.
var EventTypes = []EventType{
	PipelineRunQueuedEventType,
	PipelineRunStartedEventType,
	PipelineRunFinishedEventType,
	TaskRunStartedEventType,
	TaskRunFinishedEventType,
}

// SubjectType returns the subject type implied by the event type, or "" for
// unknown types.
func (t EventType) SubjectType() SubjectType {
	switch t {
	case PipelineRunQueuedEventType, PipelineRunStartedEventType, PipelineRunFinishedEventType:
		return PipelineRunSubjectType
	case TaskRunStartedEventType, TaskRunFinishedEventType:
		return TaskRunSubjectType
	}
	return ""
}

func (t EventType) IsKnown() bool {
	return t.SubjectType() != ""
}

type SubjectType string

const (
	PipelineRunSubjectType SubjectType = "pipelineRun"
	TaskRunSubjectType     SubjectType = "taskRun"
)

// Outcome classifies how a pipeline or task run ended. Failure means the work
// ran and produced a negative result; error means it did not complete normally.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeError, OutcomeFailure:
		return true
	}
	return false
}

type LinkType string

const (
	LinkTypePath     LinkType = "PATH"
	LinkTypeRelation LinkType = "RELATION"
	LinkTypeEnd      LinkType = "END"
)

type LinkKind string

const (
	LinkKindTrigger     LinkKind = "TRIGGER"
	LinkKindComposition LinkKind = "COMPOSITION"
	LinkKindDependency  LinkKind = "DEPENDENCY"
)

type ContextReference struct {
	ContextID string `json:"context_id"`
}

type Link struct {
	LinkType LinkType          `json:"link_type"`
	LinkKind LinkKind          `json:"link_kind,omitempty"`
	Target   *ContextReference `json:"target,omitempty"`
	From     *ContextReference `json:"from,omitempty"`
}

type Context struct {
	Version   string    `json:"version"`
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	SchemaURI string    `json:"schemaUri,omitempty"`
	ChainID   string    `json:"chain_id,omitempty"`
	Links     []Link    `json:"links,omitempty"`
}

// SubjectReference points at another subject without embedding it.
type SubjectReference struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
}

// Content is the union of the subject content fields of all supported event
// types. Which fields may be set depends on Context.Type and is enforced by
// the event schemas.
type Content struct {
	PipelineName string            `json:"pipelineName,omitempty"`
	TaskName     string            `json:"taskName,omitempty"`
	PipelineRun  *SubjectReference `json:"pipelineRun,omitempty"`
	URL          string            `json:"url,omitempty"`
	Outcome      Outcome           `json:"outcome,omitempty"`
	Errors       string            `json:"errors,omitempty"`
}

type Subject struct {
	ID      string      `json:"id"`
	Source  string      `json:"source,omitempty"`
	Type    SubjectType `json:"type,omitempty"`
	Content Content     `json:"content"`
}

// Event is a CDEvent envelope. Events are built once by the constructors in
// this package and passed by value afterwards.
type Event struct {
	Context               Context `json:"context"`
	Subject               Subject `json:"subject"`
	CustomData            any     `json:"customData,omitempty"`
	CustomDataContentType string  `json:"customDataContentType,omitempty"`
}

func (e Event) Type() EventType {
	return e.Context.Type
}

// IsQueued reports whether the event announces newly queued work.
func (e Event) IsQueued() bool {
	return e.Context.Type == PipelineRunQueuedEventType
}

// Package jira maps Jira issue, comment and worklog webhooks to pipeline-run
// and task-run CDEvents.
package jira

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

const (
	Name    = "jira"
	Version = "1.0.0"

	EventIssueCreated   = "jira:issue_created"
	EventIssueUpdated   = "jira:issue_updated"
	EventIssueDeleted   = "jira:issue_deleted"
	EventCommentCreated = "comment_created"
	EventCommentUpdated = "comment_updated"
	EventCommentDeleted = "comment_deleted"
	EventWorklogCreated = "worklog_created"
	EventWorklogUpdated = "worklog_updated"
	EventWorklogDeleted = "worklog_deleted"

	genericSchema = "generic"
	defaultSource = "https://jira.com"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemas = schema.MustLoad("https://cdfwd.dev/schemas/jira/", schemaFS, "schemas")

var supportedEvents = []string{
	EventIssueCreated,
	EventIssueUpdated,
	EventIssueDeleted,
	EventCommentCreated,
	EventCommentUpdated,
	EventCommentDeleted,
	EventWorklogCreated,
	EventWorklogUpdated,
	EventWorklogDeleted,
	"issuelink_created",
	"issuelink_deleted",
	"issue_property_set",
	"issue_property_deleted",
	"project_created",
	"project_updated",
	"project_deleted",
	"jira:version_released",
	"jira:version_unreleased",
	"jira:version_created",
	"jira:version_updated",
	"jira:version_deleted",
	"sprint_started",
	"sprint_closed",
	"board_created",
	"board_updated",
}

// narrowed maps event types to a schema that pins webhookEvent to that exact
// type. Event types not listed validate against the generic schema.
var narrowed = map[string]string{
	EventIssueCreated:   "issue_created",
	EventIssueUpdated:   "issue_updated",
	EventIssueDeleted:   "issue_deleted",
	EventCommentCreated: "comment_created",
	EventCommentUpdated: "comment_updated",
	EventCommentDeleted: "comment_deleted",
	EventWorklogCreated: "worklog_created",
	EventWorklogUpdated: "worklog_updated",
	EventWorklogDeleted: "worklog_deleted",
}

// Adapter transforms Jira webhooks.
type Adapter struct {
	statuses classifier
	now      func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.EventTypeDetector = (*Adapter)(nil)

type Option func(*Adapter)

// WithStatusBuckets replaces the default status bucket lists.
func WithStatusBuckets(b StatusBuckets) Option {
	return func(a *Adapter) {
		a.statuses = newClassifier(b.withDefaults())
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		statuses: newClassifier(DefaultStatusBuckets()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) Version() string { return Version }

func (a *Adapter) Description() string {
	return "Transforms Jira issue, comment and worklog webhooks into CDEvents pipeline and task run events"
}

func (a *Adapter) SupportedEvents() []string {
	return supportedEvents
}

func (a *Adapter) ValidateWebhook(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	s, _ := schemas.Get(genericSchema)
	return s.Validate(payload) == nil
}

func (a *Adapter) WebhookSchema(eventType string) *schema.Schema {
	name, ok := narrowed[eventType]
	if !ok {
		name = genericSchema
	}
	s, _ := schemas.Get(name)
	return s
}

// DetectEventType reads the webhookEvent field of the payload.
func (a *Adapter) DetectEventType(_ http.Header, payload []byte) (string, error) {
	var head struct {
		WebhookEvent string `json:"webhookEvent"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUndetectedEvent, err)
	}
	if head.WebhookEvent == "" {
		return "", fmt.Errorf("%w: missing webhookEvent", adapter.ErrUndetectedEvent)
	}
	return head.WebhookEvent, nil
}

// Transform maps a delivery to a CDEvent. Event types outside SupportedEvents
// still take the generic path when the payload declares that same type as
// its webhookEvent.
func (a *Adapter) Transform(payload []byte, eventType string) (*adapter.Result, error) {
	supported := adapter.Supports(a, eventType)
	if !supported && !declares(payload, eventType) {
		return nil, adapter.Unsupported(eventType)
	}

	var w Webhook
	if err := adapter.Decode(a.WebhookSchema(eventType), payload, &w); err != nil {
		return nil, err
	}

	var e cdevents.Event
	switch eventType {
	case EventIssueCreated:
		e = a.transformIssueCreated(w)
	case EventIssueUpdated:
		e = a.transformIssueUpdated(w)
	case EventIssueDeleted:
		e = a.transformIssueDeleted(w)
	case EventCommentCreated, EventCommentUpdated, EventCommentDeleted:
		e = a.transformComment(w, eventType)
	case EventWorklogCreated, EventWorklogUpdated, EventWorklogDeleted:
		e = a.transformWorklog(w, eventType)
	default:
		e = a.transformGeneric(w, eventType)
	}
	return adapter.EventResult(e), nil
}

func declares(payload []byte, eventType string) bool {
	if eventType == "" {
		return false
	}
	var head struct {
		WebhookEvent string `json:"webhookEvent"`
	}
	return json.Unmarshal(payload, &head) == nil && head.WebhookEvent == eventType
}

func (a *Adapter) transformIssueCreated(w Webhook) cdevents.Event {
	return cdevents.NewTaskRunStartedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), SubjectID(w.Issue.Key),
		a.issueOptions(w, "issue_created", cdevents.WithTaskName(w.Issue.Fields.Summary))...,
	)
}

// transformIssueUpdated classifies the last status transition of the
// changelog. Updates without one, or landing on an unbucketed status, are
// reported as a finished task.
func (a *Adapter) transformIssueUpdated(w Webhook) cdevents.Event {
	id, source, ts, subject := cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), SubjectID(w.Issue.Key)
	summary := w.Issue.Fields.Summary

	changes := w.Changelog.StatusChanges()
	if len(changes) == 0 {
		return cdevents.NewTaskRunFinishedEvent(id, source, ts, subject,
			a.issueOptions(w, "issue_updated",
				cdevents.WithTaskName(summary),
				cdevents.WithOutcome(cdevents.OutcomeSuccess))...,
		)
	}

	status := changes[len(changes)-1].ToString
	switch a.statuses.phase(status) {
	case phaseQueued:
		return cdevents.NewPipelineRunQueuedEvent(id, source, ts, subject,
			a.issueOptions(w, "status_change_queued", cdevents.WithPipelineName(summary))...,
		)
	case phaseInProgress:
		return cdevents.NewPipelineRunStartedEvent(id, source, ts, subject,
			a.issueOptions(w, "status_change_started", cdevents.WithPipelineName(summary))...,
		)
	case phaseCompleted:
		outcome := OutcomeFor(status)
		opts := []cdevents.Option{cdevents.WithPipelineName(summary), cdevents.WithOutcome(outcome)}
		if outcome != cdevents.OutcomeSuccess {
			opts = append(opts, cdevents.WithErrors("Issue moved to "+*status))
		}
		return cdevents.NewPipelineRunFinishedEvent(id, source, ts, subject,
			a.issueOptions(w, "status_change_finished", opts...)...,
		)
	}
	return cdevents.NewTaskRunFinishedEvent(id, source, ts, subject,
		a.issueOptions(w, "status_change_generic",
			cdevents.WithTaskName(summary),
			cdevents.WithOutcome(cdevents.OutcomeSuccess))...,
	)
}

func (a *Adapter) transformIssueDeleted(w Webhook) cdevents.Event {
	return cdevents.NewPipelineRunFinishedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), SubjectID(w.Issue.Key),
		a.issueOptions(w, "issue_deleted",
			cdevents.WithPipelineName(w.Issue.Fields.Summary),
			cdevents.WithOutcome(cdevents.OutcomeError),
			cdevents.WithErrors("Issue was deleted"))...,
	)
}

func (a *Adapter) transformComment(w Webhook, eventType string) cdevents.Event {
	summary := w.Issue.Fields.Summary
	subject := fmt.Sprintf("%s-comment-%s", SubjectID(w.Issue.Key), w.Comment.ID)
	opts := []cdevents.Option{a.parentRun(w)}

	switch eventType {
	case EventCommentCreated:
		opts = append(opts, cdevents.WithTaskName("Comment on "+summary))
		return cdevents.NewTaskRunStartedEvent(
			cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), subject,
			a.issueOptions(w, "comment_created", opts...)...,
		)
	case EventCommentUpdated:
		opts = append(opts, cdevents.WithTaskName("Comment updated on "+summary), cdevents.WithOutcome(cdevents.OutcomeSuccess))
	default:
		opts = append(opts,
			cdevents.WithTaskName("Comment deleted from "+summary),
			cdevents.WithOutcome(cdevents.OutcomeError),
			cdevents.WithErrors("Comment was deleted"))
	}
	return cdevents.NewTaskRunFinishedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), subject,
		a.issueOptions(w, eventType, opts...)...,
	)
}

func (a *Adapter) transformWorklog(w Webhook, eventType string) cdevents.Event {
	summary := w.Issue.Fields.Summary
	subject := fmt.Sprintf("%s-worklog-%s", SubjectID(w.Issue.Key), w.Worklog.ID)
	opts := []cdevents.Option{a.parentRun(w)}

	switch eventType {
	case EventWorklogCreated:
		opts = append(opts, cdevents.WithTaskName("Work logged on "+summary))
		return cdevents.NewTaskRunStartedEvent(
			cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), subject,
			a.issueOptions(w, "worklog_created", opts...)...,
		)
	case EventWorklogUpdated:
		opts = append(opts, cdevents.WithTaskName("Worklog updated on "+summary), cdevents.WithOutcome(cdevents.OutcomeSuccess))
	default:
		opts = append(opts,
			cdevents.WithTaskName("Worklog deleted from "+summary),
			cdevents.WithOutcome(cdevents.OutcomeError),
			cdevents.WithErrors("Worklog was deleted"))
	}
	return cdevents.NewTaskRunFinishedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Issue), a.timestamp(w), subject,
		a.issueOptions(w, eventType, opts...)...,
	)
}

// transformGeneric reports provider events without a dedicated mapping as a
// successful task.
func (a *Adapter) transformGeneric(w Webhook, eventType string) cdevents.Event {
	source := defaultSource
	subject := fmt.Sprintf("jira-%s-%d", eventType, a.now().UnixMilli())
	taskName := fmt.Sprintf("Jira %s event", eventType)
	if w.Issue != nil {
		source = sourceURI(w.Issue)
		subject = SubjectID(w.Issue.Key)
		if w.Issue.Fields.Summary != "" {
			taskName = w.Issue.Fields.Summary
		}
	}

	opts := []cdevents.Option{
		cdevents.WithSubjectSource(source),
		cdevents.WithTaskName(taskName),
		cdevents.WithOutcome(cdevents.OutcomeSuccess),
		cdevents.WithCustomData(a.customData(w, eventType, "generic")),
	}
	if url := issueURL(w.Issue); url != "" {
		opts = append(opts, cdevents.WithURL(url))
	}
	return cdevents.NewTaskRunFinishedEvent(cdevents.NewEventID(Name), source, a.timestamp(w), subject, opts...)
}

// issueOptions returns the options shared by every issue-scoped event,
// followed by extra.
func (a *Adapter) issueOptions(w Webhook, eventContext string, extra ...cdevents.Option) []cdevents.Option {
	opts := []cdevents.Option{
		cdevents.WithSubjectSource(sourceURI(w.Issue)),
		cdevents.WithCustomData(a.customData(w, w.WebhookEvent, eventContext)),
	}
	if url := issueURL(w.Issue); url != "" {
		opts = append(opts, cdevents.WithURL(url))
	}
	return append(opts, extra...)
}

// parentRun links a comment or worklog task to the run of its issue.
func (a *Adapter) parentRun(w Webhook) cdevents.Option {
	return cdevents.WithPipelineRun(cdevents.SubjectReference{
		ID:     SubjectID(w.Issue.Key),
		Source: sourceURI(w.Issue),
	})
}

func (a *Adapter) customData(w Webhook, eventType, eventContext string) CustomData {
	if w.WebhookEvent != "" {
		eventType = w.WebhookEvent
	}
	return CustomData{Jira: Details{
		EventType:    eventType,
		EventContext: eventContext,
		Timestamp:    a.timestamp(w),
		User:         userDetails(w.User),
		Issue:        issueDetails(w.Issue),
		Comment:      w.Comment,
		Worklog:      w.Worklog,
		Changelog:    w.Changelog,
	}}
}

func (a *Adapter) timestamp(w Webhook) string {
	if w.Timestamp != nil {
		return cdevents.FormatMillis(*w.Timestamp)
	}
	return cdevents.FormatTimestamp(a.now())
}

// SubjectID is shared by every issue-level event of one issue.
func SubjectID(issueKey string) string {
	return "jira-issue-" + issueKey
}

func sourceURI(issue *Issue) string {
	if issue == nil {
		return defaultSource
	}
	return fmt.Sprintf("%s/%s/%s", defaultSource, issue.Fields.Project.Key, issue.Key)
}

// issueURL turns the REST self link of an issue into its browse link.
func issueURL(issue *Issue) string {
	if issue == nil {
		return ""
	}
	i := strings.Index(issue.Self, "/rest/api")
	if i < 0 {
		return ""
	}
	return issue.Self[:i] + "/browse/" + issue.Key
}

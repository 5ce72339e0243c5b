// Package github maps GitHub Actions workflow_job deliveries to pipeline-run
// CDEvents.
package github

import (
	"embed"
	"fmt"
	"time"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

const (
	Name    = "github"
	Version = "1.0.0"

	EventWorkflowJobQueued     = "workflow_job.queued"
	EventWorkflowJobWaiting    = "workflow_job.waiting"
	EventWorkflowJobInProgress = "workflow_job.in_progress"
	EventWorkflowJobCompleted  = "workflow_job.completed"
	EventPing                  = "ping"

	genericSchema = "workflow_job"
	pingMessage   = "GitHub webhook ping received successfully"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemas = schema.MustLoad("https://cdfwd.dev/schemas/github/", schemaFS, "schemas")

var supportedEvents = []string{
	EventWorkflowJobQueued,
	EventWorkflowJobWaiting,
	EventWorkflowJobInProgress,
	EventWorkflowJobCompleted,
	EventPing,
}

// Adapter transforms GitHub workflow_job and ping deliveries.
type Adapter struct {
	now func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.EventTypeDetector = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{now: time.Now}
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) Version() string { return Version }

func (a *Adapter) Description() string {
	return "Transforms GitHub Actions workflow_job webhooks into CDEvents pipeline run events"
}

func (a *Adapter) SupportedEvents() []string {
	return supportedEvents
}

// ValidateWebhook accepts workflow_job deliveries of any action and pings.
func (a *Adapter) ValidateWebhook(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	generic, _ := schemas.Get(genericSchema)
	if generic.Validate(payload) == nil {
		return true
	}
	ping, _ := schemas.Get(EventPing)
	return ping.Validate(payload) == nil
}

// WebhookSchema returns the schema narrowed to eventType, falling back to the
// generic workflow_job schema.
func (a *Adapter) WebhookSchema(eventType string) *schema.Schema {
	if s, ok := schemas.Get(eventType); ok {
		return s
	}
	s, _ := schemas.Get(genericSchema)
	return s
}

func (a *Adapter) Transform(payload []byte, eventType string) (*adapter.Result, error) {
	if !adapter.Supports(a, eventType) {
		return nil, adapter.Unsupported(eventType)
	}

	if eventType == EventPing {
		var ping PingEvent
		if err := adapter.Decode(a.WebhookSchema(eventType), payload, &ping); err != nil {
			return nil, err
		}
		return adapter.AckResult(pingAck(ping)), nil
	}

	var webhook WorkflowJobEvent
	if err := adapter.Decode(a.WebhookSchema(eventType), payload, &webhook); err != nil {
		return nil, err
	}

	switch eventType {
	case EventWorkflowJobQueued, EventWorkflowJobWaiting:
		return adapter.EventResult(a.transformQueued(webhook)), nil
	case EventWorkflowJobInProgress:
		return adapter.EventResult(a.transformInProgress(webhook)), nil
	case EventWorkflowJobCompleted:
		return adapter.EventResult(a.transformCompleted(webhook)), nil
	}
	return nil, adapter.TransformFailed(fmt.Errorf("transformation not implemented for event type: %s", eventType))
}

func (a *Adapter) transformQueued(w WorkflowJobEvent) cdevents.Event {
	return cdevents.NewPipelineRunQueuedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Repository), a.timestamp(w), SubjectID(w.WorkflowJob.ID),
		a.options(w, jobDetails(w.WorkflowJob))...,
	)
}

func (a *Adapter) transformInProgress(w WorkflowJobEvent) cdevents.Event {
	job := jobDetails(w.WorkflowJob)
	job.StartedAt = w.WorkflowJob.StartedAt
	job.RunnerID = w.WorkflowJob.RunnerID
	job.RunnerName = w.WorkflowJob.RunnerName

	return cdevents.NewPipelineRunStartedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Repository), a.timestamp(w), SubjectID(w.WorkflowJob.ID),
		a.options(w, job)...,
	)
}

func (a *Adapter) transformCompleted(w WorkflowJobEvent) cdevents.Event {
	job := jobDetails(w.WorkflowJob)
	job.Conclusion = w.WorkflowJob.Conclusion
	job.CompletedAt = w.WorkflowJob.CompletedAt
	job.Steps = w.WorkflowJob.Steps

	outcome := OutcomeFor(w.WorkflowJob.Conclusion)
	opts := append(a.options(w, job), cdevents.WithOutcome(outcome))
	if outcome != cdevents.OutcomeSuccess {
		opts = append(opts, cdevents.WithErrors(errorMessage(w.WorkflowJob.Name, w.WorkflowJob.Conclusion)))
	}

	return cdevents.NewPipelineRunFinishedEvent(
		cdevents.NewEventID(Name), sourceURI(w.Repository), a.timestamp(w), SubjectID(w.WorkflowJob.ID),
		opts...,
	)
}

func (a *Adapter) options(w WorkflowJobEvent, job JobDetails) []cdevents.Option {
	opts := []cdevents.Option{
		cdevents.WithSubjectSource(sourceURI(w.Repository)),
		cdevents.WithCustomData(CustomData{GitHub: Details{
			Action:      w.Action,
			WorkflowJob: job,
			Workflow:    w.Workflow,
			Repository: RepositoryIdent{
				ID:       w.Repository.ID,
				Name:     w.Repository.Name,
				FullName: w.Repository.FullName,
				Owner:    w.Repository.Owner.Login,
			},
			Sender: w.Sender,
		}}),
	}
	if name := pipelineName(w); name != "" {
		opts = append(opts, cdevents.WithPipelineName(name))
	}
	if w.WorkflowJob.HTMLURL != "" {
		opts = append(opts, cdevents.WithURL(w.WorkflowJob.HTMLURL))
	}
	return opts
}

// timestamp picks the payload time describing the transition, falling back
// to the current time.
func (a *Adapter) timestamp(w WorkflowJobEvent) string {
	job := w.WorkflowJob
	candidates := []*string{job.StartedAt, job.CreatedAt}
	if w.Action == "completed" {
		candidates = append([]*string{job.CompletedAt}, candidates...)
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, *c); err == nil {
			return cdevents.FormatTimestamp(t)
		}
	}
	return cdevents.FormatTimestamp(a.now())
}

// SubjectID is shared by every event of one job so consumers can correlate
// its lifecycle.
func SubjectID(jobID int64) string {
	return fmt.Sprintf("github-workflow-job-%d", jobID)
}

func sourceURI(repo Repository) string {
	return fmt.Sprintf("https://github.com/%s/%s", repo.Owner.Login, repo.Name)
}

func pipelineName(w WorkflowJobEvent) string {
	if w.Workflow != nil && w.Workflow.Name != "" {
		return w.Workflow.Name
	}
	if w.WorkflowJob.WorkflowName != nil && *w.WorkflowJob.WorkflowName != "" {
		return *w.WorkflowJob.WorkflowName
	}
	return w.WorkflowJob.Name
}

func jobDetails(job WorkflowJob) JobDetails {
	return JobDetails{
		ID:           job.ID,
		RunID:        job.RunID,
		Name:         job.Name,
		Labels:       job.Labels,
		Status:       job.Status,
		WorkflowName: job.WorkflowName,
		HeadBranch:   job.HeadBranch,
	}
}

func pingAck(p PingEvent) adapter.Acknowledgement {
	details := PingDetails{Zen: p.Zen, HookID: p.HookID}
	if p.Repository != nil {
		details.Repository = p.Repository.FullName
	}
	if p.Sender != nil {
		details.Sender = p.Sender.Login
	}
	return adapter.Acknowledgement{
		Success: true,
		Message: pingMessage,
		Ping:    details,
	}
}

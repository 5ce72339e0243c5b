// Package kubernetes maps batch/v1 Job state to pipeline-run CDEvents.
package kubernetes

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

const (
	Name    = "kubernetes"
	Version = "1.0.0"

	EventJobQueued   = "job.queued"
	EventJobStarted  = "job.started"
	EventJobFinished = "job.finished"

	jobSchema      = "job"
	defaultCluster = "unknown"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemas = schema.MustLoad("https://cdfwd.dev/schemas/kubernetes/", schemaFS, "schemas")

var supportedEvents = []string{
	EventJobQueued,
	EventJobStarted,
	EventJobFinished,
}

// failureReasons are Failed condition reasons caused by the workload itself.
// Any other reason means the Job could not run as intended.
var failureReasons = map[string]bool{
	batchv1.JobReasonBackoffLimitExceeded: true,
	batchv1.JobReasonDeadlineExceeded:     true,
	batchv1.JobReasonPodFailurePolicy:     true,
}

var errNotFinished = errors.New("job has no terminal condition")

type Adapter struct {
	cluster string
	now     func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.EventTypeDetector = (*Adapter)(nil)

type Option func(*Adapter)

// WithCluster sets the cluster name used in event sources.
func WithCluster(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.cluster = name
		}
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{cluster: defaultCluster, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) Version() string { return Version }

func (a *Adapter) Description() string {
	return "Transforms Kubernetes batch/v1 Job state into CDEvents pipeline run events"
}

func (a *Adapter) SupportedEvents() []string {
	return supportedEvents
}

func (a *Adapter) ValidateWebhook(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return a.WebhookSchema("").Validate(payload) == nil
}

// WebhookSchema returns the Job schema for every event type.
func (a *Adapter) WebhookSchema(string) *schema.Schema {
	s, _ := schemas.Get(jobSchema)
	return s
}

func (a *Adapter) DetectEventType(_ http.Header, payload []byte) (string, error) {
	var job batchv1.Job
	if err := adapter.Decode(a.WebhookSchema(""), payload, &job); err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUndetectedEvent, err)
	}
	return EventTypeFor(&job), nil
}

func (a *Adapter) Transform(payload []byte, eventType string) (*adapter.Result, error) {
	if !adapter.Supports(a, eventType) {
		return nil, adapter.Unsupported(eventType)
	}

	var job batchv1.Job
	if err := adapter.Decode(a.WebhookSchema(eventType), payload, &job); err != nil {
		return nil, err
	}

	e, err := a.TransformJob(&job, eventType)
	if err != nil {
		return nil, err
	}
	return adapter.EventResult(e), nil
}

// TransformJob builds the event for a Job already decoded, as delivered by
// an informer.
func (a *Adapter) TransformJob(job *batchv1.Job, eventType string) (cdevents.Event, error) {
	id, source, subject := cdevents.NewEventID(Name), a.sourceURI(job), SubjectID(job)
	opts := a.options(job)

	switch eventType {
	case EventJobQueued:
		return cdevents.NewPipelineRunQueuedEvent(id, source, a.timestamp(job.CreationTimestamp), subject, opts...), nil
	case EventJobStarted:
		return cdevents.NewPipelineRunStartedEvent(id, source, a.timestamp(startTime(job)), subject, opts...), nil
	case EventJobFinished:
		cond, ok := terminalCondition(job)
		if !ok {
			return cdevents.Event{}, adapter.TransformFailed(fmt.Errorf("%w: %s/%s", errNotFinished, job.Namespace, job.Name))
		}
		outcome := OutcomeFor(cond)
		opts = append(opts, cdevents.WithOutcome(outcome))
		if outcome != cdevents.OutcomeSuccess {
			opts = append(opts, cdevents.WithErrors(errorMessage(job.Name, cond)))
		}
		ts := cond.LastTransitionTime
		if job.Status.CompletionTime != nil {
			ts = *job.Status.CompletionTime
		}
		return cdevents.NewPipelineRunFinishedEvent(id, source, a.timestamp(ts), subject, opts...), nil
	}
	return cdevents.Event{}, adapter.Unsupported(eventType)
}

// EventTypeFor derives the lifecycle phase of a Job from its status.
func EventTypeFor(job *batchv1.Job) string {
	if _, ok := terminalCondition(job); ok {
		return EventJobFinished
	}
	if isSuspended(job) || !hasRun(job) {
		return EventJobQueued
	}
	return EventJobStarted
}

// OutcomeFor maps the terminal condition of a Job to an outcome.
func OutcomeFor(cond batchv1.JobCondition) cdevents.Outcome {
	switch cond.Type {
	case batchv1.JobComplete:
		return cdevents.OutcomeSuccess
	case batchv1.JobFailed:
		if failureReasons[cond.Reason] {
			return cdevents.OutcomeFailure
		}
	}
	return cdevents.OutcomeError
}

// SubjectID is shared by every event of one Job.
func SubjectID(job *batchv1.Job) string {
	return fmt.Sprintf("kubernetes-job-%s", job.UID)
}

// ChainID correlates the events of one Job. Job uids are already uuids;
// anything else is hashed into one.
func ChainID(job *batchv1.Job) string {
	if id, err := uuid.Parse(string(job.UID)); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("kubernetes-job:"+string(job.UID))).String()
}

func (a *Adapter) sourceURI(job *batchv1.Job) string {
	return fmt.Sprintf("kubernetes://%s/%s", a.cluster, job.Namespace)
}

func (a *Adapter) options(job *batchv1.Job) []cdevents.Option {
	return []cdevents.Option{
		cdevents.WithSubjectSource(a.sourceURI(job)),
		cdevents.WithPipelineName(job.Name),
		cdevents.WithChainID(ChainID(job)),
		cdevents.WithCustomData(CustomData{Kubernetes: a.details(job)}),
	}
}

func (a *Adapter) timestamp(t metav1.Time) string {
	if t.IsZero() {
		return cdevents.FormatTimestamp(a.now())
	}
	return cdevents.FormatTimestamp(t.Time)
}

func startTime(job *batchv1.Job) metav1.Time {
	if job.Status.StartTime != nil {
		return *job.Status.StartTime
	}
	return job.CreationTimestamp
}

func terminalCondition(job *batchv1.Job) (batchv1.JobCondition, bool) {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		if c.Type == batchv1.JobComplete || c.Type == batchv1.JobFailed {
			return c, true
		}
	}
	return batchv1.JobCondition{}, false
}

// hasRun reports whether any pod of the Job is running or has finished. A
// Job between pod retries has none active but is still started.
func hasRun(job *batchv1.Job) bool {
	st := job.Status
	return st.Active > 0 || st.Succeeded > 0 || st.Failed > 0
}

func isSuspended(job *batchv1.Job) bool {
	if job.Spec.Suspend != nil && *job.Spec.Suspend {
		return true
	}
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobSuspended && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func errorMessage(name string, cond batchv1.JobCondition) string {
	if cond.Message != "" {
		return fmt.Sprintf("Job %q failed: %s", name, cond.Message)
	}
	if cond.Reason != "" {
		return fmt.Sprintf("Job %q failed: %s", name, cond.Reason)
	}
	return fmt.Sprintf("Job %q failed", name)
}

package github_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/adapter/github"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

func load(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

// mutate decodes raw, applies fn and re-encodes the result.
func mutate(t *testing.T, raw []byte, fn func(doc map[string]any)) []byte {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	fn(doc)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func withConclusion(t *testing.T, conclusion any) []byte {
	return mutate(t, load(t, "workflow_job_completed.json"), func(doc map[string]any) {
		doc["workflow_job"].(map[string]any)["conclusion"] = conclusion
	})
}

func transformEvent(t *testing.T, payload []byte, eventType string) cdevents.Event {
	t.Helper()
	result, err := github.New().Transform(payload, eventType)
	require.NoError(t, err)
	require.NotNil(t, result.Event)
	require.Nil(t, result.Ack)
	require.NoError(t, cdevents.ValidateEvent(*result.Event))
	return *result.Event
}

func TestIdentity(t *testing.T) {
	a := github.New()
	assert.Equal(t, "github", a.Name())
	assert.Equal(t, "1.0.0", a.Version())
	assert.Equal(t, []string{
		"workflow_job.queued",
		"workflow_job.waiting",
		"workflow_job.in_progress",
		"workflow_job.completed",
		"ping",
	}, a.SupportedEvents())
}

func TestTransformQueued(t *testing.T) {
	e := transformEvent(t, load(t, "workflow_job_queued.json"), github.EventWorkflowJobQueued)

	assert.Equal(t, cdevents.PipelineRunQueuedEventType, e.Context.Type)
	assert.Equal(t, "0.4.1", e.Context.Version)
	assert.Regexp(t, `^github-\d+-[0-9a-z]{9}$`, e.Context.ID)
	assert.Equal(t, "https://github.com/owner/repo", e.Context.Source)
	assert.Equal(t, "2023-10-01T12:00:00.000Z", e.Context.Timestamp)

	assert.Equal(t, "github-workflow-job-123456789", e.Subject.ID)
	assert.Equal(t, "https://github.com/owner/repo", e.Subject.Source)
	assert.Equal(t, cdevents.PipelineRunSubjectType, e.Subject.Type)
	assert.Equal(t, "CI Pipeline", e.Subject.Content.PipelineName)
	assert.Equal(t, "https://github.com/owner/repo/actions/runs/987654321/jobs/123456789", e.Subject.Content.URL)
	assert.Empty(t, e.Subject.Content.Outcome)

	data := e.CustomData.(github.CustomData).GitHub
	assert.Equal(t, "queued", data.Action)
	assert.Equal(t, int64(123456789), data.WorkflowJob.ID)
	assert.Equal(t, int64(987654321), data.WorkflowJob.RunID)
	assert.Equal(t, []string{"ubuntu-latest"}, data.WorkflowJob.Labels)
	assert.Equal(t, "main", *data.WorkflowJob.HeadBranch)
	assert.Nil(t, data.WorkflowJob.RunnerName)
	assert.Equal(t, "owner/repo", data.Repository.FullName)
	assert.Equal(t, "owner", data.Repository.Owner)
	assert.Equal(t, "developer", data.Sender.Login)
	assert.Equal(t, "application/json", e.CustomDataContentType)
}

func TestTransformWaitingMapsToQueued(t *testing.T) {
	payload := mutate(t, load(t, "workflow_job_queued.json"), func(doc map[string]any) {
		doc["action"] = "waiting"
		doc["workflow_job"].(map[string]any)["status"] = "waiting"
	})

	e := transformEvent(t, payload, github.EventWorkflowJobWaiting)
	assert.Equal(t, cdevents.PipelineRunQueuedEventType, e.Context.Type)
	assert.Equal(t, "github-workflow-job-123456789", e.Subject.ID)
}

func TestTransformInProgress(t *testing.T) {
	e := transformEvent(t, load(t, "workflow_job_in_progress.json"), github.EventWorkflowJobInProgress)

	assert.Equal(t, cdevents.PipelineRunStartedEventType, e.Context.Type)
	assert.Equal(t, "2023-10-01T12:01:00.000Z", e.Context.Timestamp)

	job := e.CustomData.(github.CustomData).GitHub.WorkflowJob
	assert.Equal(t, "runner-1", *job.RunnerName)
	assert.Equal(t, int64(1), *job.RunnerID)
	assert.Equal(t, "2023-10-01T12:01:00Z", *job.StartedAt)
	assert.Nil(t, job.Conclusion)
}

func TestTransformCompleted(t *testing.T) {
	e := transformEvent(t, load(t, "workflow_job_completed.json"), github.EventWorkflowJobCompleted)

	assert.Equal(t, cdevents.PipelineRunFinishedEventType, e.Context.Type)
	assert.Equal(t, "2023-10-01T12:05:00.000Z", e.Context.Timestamp)
	assert.Equal(t, cdevents.OutcomeSuccess, e.Subject.Content.Outcome)
	assert.Empty(t, e.Subject.Content.Errors)
	assert.Equal(t, "CI/CD Pipeline", e.Subject.Content.PipelineName)

	data := e.CustomData.(github.CustomData).GitHub
	require.NotNil(t, data.Workflow)
	assert.Equal(t, "CI/CD Pipeline", data.Workflow.Name)
	assert.Equal(t, "success", *data.WorkflowJob.Conclusion)
	assert.Len(t, data.WorkflowJob.Steps, 1)
}

func TestTransformCompletedOutcomes(t *testing.T) {
	tests := []struct {
		conclusion any
		outcome    cdevents.Outcome
		errors     string
	}{
		{"success", cdevents.OutcomeSuccess, ""},
		{"failure", cdevents.OutcomeFailure, `Workflow job "build" failed`},
		{"timed_out", cdevents.OutcomeFailure, `Workflow job "build" timed out`},
		{"action_required", cdevents.OutcomeFailure, `Workflow job "build" requires action`},
		{"cancelled", cdevents.OutcomeError, `Workflow job "build" was cancelled`},
		{"skipped", cdevents.OutcomeError, `Workflow job "build" completed with conclusion: skipped`},
		{"neutral", cdevents.OutcomeError, `Workflow job "build" completed with conclusion: neutral`},
		{"startup_failure", cdevents.OutcomeError, `Workflow job "build" completed with conclusion: startup_failure`},
		{nil, cdevents.OutcomeError, `Workflow job "build" completed with conclusion: null`},
	}

	for _, tt := range tests {
		name, _ := tt.conclusion.(string)
		if name == "" {
			name = "null"
		}
		t.Run(name, func(t *testing.T) {
			e := transformEvent(t, withConclusion(t, tt.conclusion), github.EventWorkflowJobCompleted)
			assert.Equal(t, tt.outcome, e.Subject.Content.Outcome)
			assert.Equal(t, tt.errors, e.Subject.Content.Errors)
		})
	}
}

func TestTransformCompletedKeepsJobNameVerbatim(t *testing.T) {
	payload := mutate(t, withConclusion(t, "failure"), func(doc map[string]any) {
		doc["workflow_job"].(map[string]any)["name"] = `say "hi"`
	})
	e := transformEvent(t, payload, github.EventWorkflowJobCompleted)
	assert.Equal(t, `Workflow job "say "hi"" failed`, e.Subject.Content.Errors)
}

func TestOutcomeForNeverDefaultsToSuccess(t *testing.T) {
	for _, c := range []string{"", "SUCCESS", "passed", "unknown"} {
		assert.Equal(t, cdevents.OutcomeError, github.OutcomeFor(&c), c)
	}
	assert.Equal(t, cdevents.OutcomeError, github.OutcomeFor(nil))
}

func TestSubjectIDStableAcrossLifecycle(t *testing.T) {
	queued := transformEvent(t, load(t, "workflow_job_queued.json"), github.EventWorkflowJobQueued)
	started := transformEvent(t, load(t, "workflow_job_in_progress.json"), github.EventWorkflowJobInProgress)
	finished := transformEvent(t, load(t, "workflow_job_completed.json"), github.EventWorkflowJobCompleted)

	assert.Equal(t, queued.Subject.ID, started.Subject.ID)
	assert.Equal(t, started.Subject.ID, finished.Subject.ID)
}

func TestTransformIsIdempotent(t *testing.T) {
	payload := withConclusion(t, "failure")
	first := transformEvent(t, payload, github.EventWorkflowJobCompleted)
	second := transformEvent(t, payload, github.EventWorkflowJobCompleted)

	assert.Equal(t, first.Subject, second.Subject)
	assert.Equal(t, first.Context.Type, second.Context.Type)
	assert.Equal(t, first.Context.Timestamp, second.Context.Timestamp)
}

func TestTransformTimestampFallsBackToNow(t *testing.T) {
	payload := mutate(t, load(t, "workflow_job_queued.json"), func(doc map[string]any) {
		delete(doc["workflow_job"].(map[string]any), "created_at")
	})
	e := transformEvent(t, payload, github.EventWorkflowJobQueued)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, e.Context.Timestamp)
}

func TestTransformPipelineNameFallsBackToJobName(t *testing.T) {
	payload := mutate(t, load(t, "workflow_job_queued.json"), func(doc map[string]any) {
		doc["workflow_job"].(map[string]any)["workflow_name"] = nil
	})
	e := transformEvent(t, payload, github.EventWorkflowJobQueued)
	assert.Equal(t, "test-job", e.Subject.Content.PipelineName)
}

func TestTransformPing(t *testing.T) {
	result, err := github.New().Transform(load(t, "ping.json"), github.EventPing)
	require.NoError(t, err)
	require.Nil(t, result.Event)
	require.NotNil(t, result.Ack)

	assert.True(t, result.Ack.Success)
	assert.Equal(t, "GitHub webhook ping received successfully", result.Ack.Message)
	assert.Equal(t, github.PingDetails{
		Zen:        "Design for failure.",
		HookID:     12345678,
		Repository: "owner/repo",
		Sender:     "developer",
	}, result.Ack.Ping)
}

func TestTransformUnsupportedEvent(t *testing.T) {
	_, err := github.New().Transform(load(t, "workflow_job_queued.json"), "workflow_job.bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrUnsupportedEvent)
	assert.Contains(t, err.Error(), "Unsupported event type")
}

func TestTransformMalformedPayload(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   []byte
	}{
		{
			name:      "missing workflow_job",
			eventType: github.EventWorkflowJobQueued,
			payload:   []byte(`{"action": "queued", "repository": {"name": "repo", "owner": {"login": "owner"}}, "sender": {"login": "developer", "id": 123}}`),
		},
		{
			name:      "action does not match event type",
			eventType: github.EventWorkflowJobCompleted,
			payload:   load(t, "workflow_job_queued.json"),
		},
		{
			name:      "in_progress without started_at",
			eventType: github.EventWorkflowJobInProgress,
			payload: mutate(t, load(t, "workflow_job_in_progress.json"), func(doc map[string]any) {
				doc["workflow_job"].(map[string]any)["started_at"] = nil
			}),
		},
		{
			name:      "bad status enum",
			eventType: github.EventWorkflowJobQueued,
			payload: mutate(t, load(t, "workflow_job_queued.json"), func(doc map[string]any) {
				doc["workflow_job"].(map[string]any)["status"] = "sleeping"
			}),
		},
		{
			name:      "not json",
			eventType: github.EventWorkflowJobQueued,
			payload:   []byte(`{"action":`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := github.New().Transform(tt.payload, tt.eventType)
			require.Error(t, err)

			var terr *adapter.TransformError
			require.ErrorAs(t, err, &terr)
			assert.ErrorIs(t, err, schema.ErrInvalid)
			assert.Contains(t, err.Error(), "Failed to transform webhook: ")
		})
	}
}

func TestValidateWebhook(t *testing.T) {
	a := github.New()
	assert.True(t, a.ValidateWebhook(load(t, "workflow_job_queued.json")))
	assert.True(t, a.ValidateWebhook(load(t, "workflow_job_in_progress.json")))
	assert.True(t, a.ValidateWebhook(load(t, "workflow_job_completed.json")))
	assert.True(t, a.ValidateWebhook(load(t, "ping.json")))

	assert.False(t, a.ValidateWebhook(nil))
	assert.False(t, a.ValidateWebhook([]byte(`null`)))
	assert.False(t, a.ValidateWebhook([]byte(`{"action": "queued", "sender": {"login": "developer", "id": 123}}`)))
}

func TestWebhookSchema(t *testing.T) {
	a := github.New()
	assert.Equal(t, "workflow_job.queued", a.WebhookSchema(github.EventWorkflowJobQueued).Name)
	assert.Equal(t, "ping", a.WebhookSchema(github.EventPing).Name)
	assert.Equal(t, "workflow_job", a.WebhookSchema("push").Name)
}

func TestDetectEventType(t *testing.T) {
	a := github.New()
	header := func(kind string) http.Header {
		h := http.Header{}
		if kind != "" {
			h.Set("X-GitHub-Event", kind)
		}
		return h
	}

	tests := []struct {
		name    string
		header  http.Header
		payload []byte
		want    string
	}{
		{"header workflow_job", header("workflow_job"), load(t, "workflow_job_completed.json"), "workflow_job.completed"},
		{"header ping", header("ping"), load(t, "ping.json"), "ping"},
		{"ping without header", header(""), load(t, "ping.json"), "ping"},
		{"workflow_job without header", header(""), load(t, "workflow_job_queued.json"), "workflow_job.queued"},
		{"other event", header("push"), []byte(`{"ref": "refs/heads/main"}`), "push"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.DetectEventType(tt.header, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := a.DetectEventType(header(""), []byte(`not json`))
	assert.ErrorIs(t, err, adapter.ErrUndetectedEvent)
}

func TestDeliveryID(t *testing.T) {
	h := http.Header{}
	h.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	assert.Equal(t, "72d3162e-cc78-11e3-81ab-4c9367dc0958", github.DeliveryID(h))
}

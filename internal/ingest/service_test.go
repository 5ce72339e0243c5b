package ingest

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/adapter/github"
	"github.com/fraser-isbester/cdfwd/internal/adapter/jira"
	"github.com/fraser-isbester/cdfwd/internal/validation"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

func fixture(t *testing.T, provider, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "adapter", provider, "testdata", name))
	require.NoError(t, err)
	return b
}

type fakePublisher struct {
	mu     sync.Mutex
	events []cdevents.Event
	err    error
	closed bool
}

func (f *fakePublisher) Name() string { return "fake" }

func (f *fakePublisher) Publish(_ context.Context, e cdevents.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func (f *fakePublisher) published() []cdevents.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cdevents.Event(nil), f.events...)
}

type archived struct {
	provider  string
	eventType string
	event     *cdevents.Event
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []archived
	err     error
}

func (f *fakeArchiver) LogReceived(_ context.Context, provider, eventType string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, archived{provider: provider, eventType: eventType})
	return f.err
}

func (f *fakeArchiver) LogTransformed(_ context.Context, provider, eventType string, _ []byte, e *cdevents.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, archived{provider: provider, eventType: eventType, event: e})
	return f.err
}

func (f *fakeArchiver) all() []archived {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archived(nil), f.records...)
}

type fakeValidator struct {
	result validation.Result
	calls  int
}

func (f *fakeValidator) Validate(context.Context, cdevents.Event) validation.Result {
	f.calls++
	return f.result
}

type brokenAdapter struct{}

func (brokenAdapter) Name() string                        { return "broken" }
func (brokenAdapter) Version() string                     { return "0.0.1" }
func (brokenAdapter) Description() string                 { return "emits invalid events" }
func (brokenAdapter) SupportedEvents() []string           { return []string{"thing"} }
func (brokenAdapter) ValidateWebhook([]byte) bool         { return true }
func (brokenAdapter) WebhookSchema(string) *schema.Schema { return nil }
func (brokenAdapter) Transform([]byte, string) (*adapter.Result, error) {
	return adapter.EventResult(cdevents.NewPipelineRunQueuedEvent("id", "src", "yesterday", "subject")), nil
}

func newTestService(opts ...Option) *Service {
	registry := adapter.NewRegistry(github.New(), jira.New(), brokenAdapter{})
	return NewService(registry, opts...)
}

func TestIngestQueuedPublishes(t *testing.T) {
	pub := &fakePublisher{}
	arch := &fakeArchiver{}
	s := newTestService(WithPublisher(pub), WithArchiver(arch))

	res, err := s.Ingest(context.Background(), "github", "workflow_job.queued", fixture(t, "github", "workflow_job_queued.json"))
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, cdevents.PipelineRunQueuedEventType, res.Event.Context.Type)
	assert.True(t, res.Published)
	assert.Nil(t, res.Validation)

	s.Wait()
	published := pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, res.Event.Context.ID, published[0].Context.ID)

	records := arch.all()
	require.Len(t, records, 2)
	var transformed int
	for _, r := range records {
		assert.Equal(t, "github", r.provider)
		assert.Equal(t, "workflow_job.queued", r.eventType)
		if r.event != nil {
			transformed++
			assert.Equal(t, res.Event.Context.ID, r.event.Context.ID)
		}
	}
	assert.Equal(t, 1, transformed)
}

func TestIngestOnlyPublishesQueued(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestService(WithPublisher(pub))

	for _, tc := range []struct{ eventType, file string }{
		{"workflow_job.in_progress", "workflow_job_in_progress.json"},
		{"workflow_job.completed", "workflow_job_completed.json"},
	} {
		res, err := s.Ingest(context.Background(), "github", tc.eventType, fixture(t, "github", tc.file))
		require.NoError(t, err)
		assert.False(t, res.Published)
	}

	res, err := s.Ingest(context.Background(), "jira", "jira:issue_updated", fixture(t, "jira", "issue_updated.json"))
	require.NoError(t, err)
	assert.Equal(t, cdevents.PipelineRunFinishedEventType, res.Event.Context.Type)
	assert.False(t, res.Published)

	require.NoError(t, s.Close())
	assert.Empty(t, pub.published())
	assert.True(t, pub.closed)
}

func TestIngestSideEffectFailuresDoNotFail(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic unavailable")}
	arch := &fakeArchiver{err: errors.New("bucket unavailable")}
	val := &fakeValidator{result: validation.Result{Valid: false, Errors: []string{"Validation failed with status 503"}}}
	s := newTestService(WithPublisher(pub), WithArchiver(arch), WithValidator(val, 0))

	res, err := s.Ingest(context.Background(), "github", "workflow_job.queued", fixture(t, "github", "workflow_job_queued.json"))
	require.NoError(t, err)
	require.NotNil(t, res.Validation)
	assert.False(t, res.Validation.Valid)
	assert.Equal(t, 1, val.calls)

	require.NoError(t, s.Close())
	assert.Len(t, pub.published(), 1)
}

func TestIngestPing(t *testing.T) {
	pub := &fakePublisher{}
	arch := &fakeArchiver{}
	val := &fakeValidator{}
	s := newTestService(WithPublisher(pub), WithArchiver(arch), WithValidator(val, 0))

	res, err := s.Ingest(context.Background(), "github", "ping", fixture(t, "github", "ping.json"))
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
	assert.Nil(t, res.Event)
	assert.True(t, res.Ack.Success)
	assert.Equal(t, "GitHub webhook ping received successfully", res.Ack.Message)

	s.Wait()
	assert.Len(t, arch.all(), 1)
	assert.Empty(t, pub.published())
	assert.Zero(t, val.calls)
}

func TestIngestErrors(t *testing.T) {
	arch := &fakeArchiver{}
	s := newTestService(WithArchiver(arch))
	ctx := context.Background()

	_, err := s.Ingest(ctx, "gitlab", "push", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = s.Ingest(ctx, "github", "workflow_job.bogus", []byte(`{}`))
	assert.ErrorIs(t, err, adapter.ErrUnsupportedEvent)
	assert.Contains(t, err.Error(), "Unsupported event type")

	_, err = s.Ingest(ctx, "github", "workflow_job.queued", []byte(`{"action":"queued"}`))
	var terr *adapter.TransformError
	assert.ErrorAs(t, err, &terr)

	_, err = s.Ingest(ctx, "broken", "thing", []byte(`{}`))
	assert.ErrorIs(t, err, ErrCanonicalSchema)
	assert.ErrorIs(t, err, schema.ErrInvalid)

	// Raw deliveries are archived even when they fail.
	s.Wait()
	assert.Len(t, arch.all(), 4)
}

func TestDetectEventType(t *testing.T) {
	s := newTestService()

	header := http.Header{}
	header.Set("X-GitHub-Event", "workflow_job")
	eventType, err := s.DetectEventType("github", header, fixture(t, "github", "workflow_job_completed.json"))
	require.NoError(t, err)
	assert.Equal(t, "workflow_job.completed", eventType)

	eventType, err = s.DetectEventType("jira", http.Header{}, fixture(t, "jira", "comment_created.json"))
	require.NoError(t, err)
	assert.Equal(t, "comment_created", eventType)

	_, err = s.DetectEventType("broken", http.Header{}, nil)
	assert.ErrorIs(t, err, ErrNoDetector)

	_, err = s.DetectEventType("gitlab", http.Header{}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

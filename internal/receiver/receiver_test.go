package receiver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/adapter/github"
	"github.com/fraser-isbester/cdfwd/internal/adapter/jira"
	"github.com/fraser-isbester/cdfwd/internal/config"
	"github.com/fraser-isbester/cdfwd/internal/ingest"
	"github.com/fraser-isbester/cdfwd/internal/receiver"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []cdevents.Event
}

func (f *fakePublisher) Name() string { return "fake" }
func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Publish(_ context.Context, e cdevents.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
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

func fixture(provider, name string) []byte {
	b, err := os.ReadFile(filepath.Join("..", "adapter", provider, "testdata", name))
	Expect(err).NotTo(HaveOccurred())
	return b
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
	return body
}

var _ = Describe("Receiver", func() {
	var (
		cfg       config.ServerConfig
		publisher *fakePublisher
		service   *ingest.Service
		handler   http.Handler
	)

	do := func(method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		cfg = config.ServerConfig{Port: 0, MaxBodyBytes: 1 << 20}
		publisher = &fakePublisher{}
	})

	JustBeforeEach(func() {
		registry := adapter.NewRegistry(github.New(), jira.New(), brokenAdapter{})
		service = ingest.NewService(registry, ingest.WithPublisher(publisher))
		handler = receiver.New(cfg, service, receiver.WithVersion("1.2.3")).Handler()
	})

	Describe("service endpoints", func() {
		It("reports health", func() {
			w := do(http.MethodGet, "/healthz", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(HaveKeyWithValue("status", "ok"))
		})

		It("describes the service and its adapters", func() {
			w := do(http.MethodGet, "/", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("version", "1.2.3"))
			Expect(body["adapters"]).To(HaveLen(3))
		})

		It("assigns and echoes request ids", func() {
			w := do(http.MethodGet, "/healthz", nil, nil)
			Expect(w.Header().Get(receiver.RequestIDHeader)).NotTo(BeEmpty())

			w = do(http.MethodGet, "/healthz", nil, http.Header{receiver.RequestIDHeader: {"abc-123"}})
			Expect(w.Header().Get(receiver.RequestIDHeader)).To(Equal("abc-123"))
		})

		It("returns the failure envelope for unknown routes", func() {
			w := do(http.MethodGet, "/nope", nil, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)).To(HaveKeyWithValue("success", false))
		})
	})

	Describe("adapter metadata", func() {
		It("lists adapters", func() {
			w := do(http.MethodGet, "/adapters", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["adapters"]).To(HaveLen(3))
		})

		It("describes one adapter", func() {
			w := do(http.MethodGet, "/adapters/github", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("name", "github"))
			Expect(body["supportedEvents"]).To(ContainElement("workflow_job.queued"))
			Expect(body["endpoints"]).To(HaveKeyWithValue("webhook", "/adapters/github/webhook"))
		})

		It("returns 404 for unknown adapters", func() {
			w := do(http.MethodGet, "/adapters/gitlab", nil, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)).To(HaveKeyWithValue("message", "Adapter not found"))
		})

		It("serves provider schemas", func() {
			w := do(http.MethodGet, "/adapters/github/schemas/workflow_job.queued", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/schema+json"))
			Expect(decode(w)).To(HaveKeyWithValue("title", "GitHub workflow_job queued webhook"))

			w = do(http.MethodGet, "/adapters/github/schemas/workflow_job.bogus", nil, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("event endpoints", func() {
		It("transforms a queued workflow job and publishes it", func() {
			w := do(http.MethodPost, "/adapters/github/events/workflow_job.queued", fixture("github", "workflow_job_queued.json"), nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			body := decode(w)
			Expect(body).To(HaveKeyWithValue("success", true))
			Expect(body).To(HaveKeyWithValue("eventType", "workflow_job.queued"))
			Expect(body["message"]).To(ContainSubstring("successfully transformed"))
			ctx := body["cdevent"].(map[string]any)["context"].(map[string]any)
			Expect(ctx).To(HaveKeyWithValue("type", "dev.cdevents.pipelinerun.queued.0.2.0"))

			service.Wait()
			Expect(publisher.count()).To(Equal(1))
		})

		It("detects the event type for webhook deliveries", func() {
			header := http.Header{"X-Github-Event": {"workflow_job"}, "X-Github-Delivery": {"72d3162e"}}
			w := do(http.MethodPost, "/adapters/github/webhook", fixture("github", "workflow_job_completed.json"), header)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(HaveKeyWithValue("eventType", "workflow_job.completed"))

			w = do(http.MethodPost, "/adapters/jira/webhook", fixture("jira", "issue_created.json"), nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(HaveKeyWithValue("eventType", "jira:issue_created"))

			service.Wait()
			Expect(publisher.count()).To(BeZero())
		})

		It("acknowledges pings without an event", func() {
			header := http.Header{"X-Github-Event": {"ping"}}
			w := do(http.MethodPost, "/adapters/github/webhook", fixture("github", "ping.json"), header)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("success", true))
			Expect(body).To(HaveKeyWithValue("message", "GitHub webhook ping received successfully"))
			Expect(body).NotTo(HaveKey("cdevent"))
		})

		It("rejects unsupported event types", func() {
			w := do(http.MethodPost, "/adapters/github/events/workflow_job.bogus", fixture("github", "workflow_job_queued.json"), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("success", false))
			Expect(body["message"]).To(ContainSubstring("Unsupported event type"))
		})

		It("rejects malformed payloads with the cause", func() {
			w := do(http.MethodPost, "/adapters/github/events/workflow_job.queued", []byte(`{"action":"queued"}`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("message", "Failed to transform webhook"))
			Expect(body["errors"]).NotTo(BeEmpty())
		})

		It("returns 404 for unknown providers", func() {
			w := do(http.MethodPost, "/adapters/gitlab/events/push", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 422 when an adapter emits a non-conforming event", func() {
			w := do(http.MethodPost, "/adapters/broken/events/thing", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(w)["errors"]).NotTo(BeEmpty())
		})

		It("returns 404 for webhook deliveries to adapters without detection", func() {
			w := do(http.MethodPost, "/adapters/broken/webhook", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		Context("with a small body limit", func() {
			BeforeEach(func() { cfg.MaxBodyBytes = 16 })

			It("returns 413", func() {
				w := do(http.MethodPost, "/adapters/github/events/workflow_job.queued", fixture("github", "workflow_job_queued.json"), nil)
				Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			})
		})

		Context("with rate limiting", func() {
			BeforeEach(func() {
				cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
			})

			It("returns 429 once the bucket is empty", func() {
				Expect(do(http.MethodGet, "/healthz", nil, nil).Code).To(Equal(http.StatusOK))
				w := do(http.MethodGet, "/healthz", nil, nil)
				Expect(w.Code).To(Equal(http.StatusTooManyRequests))
				Expect(decode(w)).To(HaveKeyWithValue("success", false))
			})
		})
	})

	Describe("validation endpoints", func() {
		var event []byte

		BeforeEach(func() {
			e := cdevents.NewPipelineRunQueuedEvent("github-1-abc", "https://github.com/owner/repo",
				"2023-10-01T12:00:00.000Z", "github-workflow-job-123", cdevents.WithPipelineName("CI"))
			var err error
			event, err = json.Marshal(e)
			Expect(err).NotTo(HaveOccurred())
		})

		It("validates any core event", func() {
			w := do(http.MethodPost, "/validate/event", event, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("valid", true))
			Expect(body).To(HaveKeyWithValue("eventType", "dev.cdevents.pipelinerun.queued.0.2.0"))
		})

		It("rejects invalid events", func() {
			w := do(http.MethodPost, "/validate/event", []byte(`{"context":{}}`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("valid", false))
			Expect(body["errors"]).NotTo(BeEmpty())
		})

		It("validates against a typed schema", func() {
			Expect(do(http.MethodPost, "/validate/pipelinerun/queued", event, nil).Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/validate/taskrun/finished", event, nil).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/validate/artifact/published", event, nil).Code).To(Equal(http.StatusNotFound))
		})
	})
})

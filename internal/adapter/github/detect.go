package github

import (
	"encoding/json"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v53/github"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
)

// DetectEventType derives the event type from the X-GitHub-Event header and
// the payload action. Without the header, a payload carrying zen and hook_id
// but no action is a ping.
func (a *Adapter) DetectEventType(header http.Header, payload []byte) (string, error) {
	var probe struct {
		Action string `json:"action"`
		Zen    string `json:"zen"`
		HookID int64  `json:"hook_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUndetectedEvent, err)
	}

	kind := gh.WebHookType(&http.Request{Header: header})
	switch {
	case kind == EventPing:
		return EventPing, nil
	case kind == "" && probe.Zen != "" && probe.HookID != 0 && probe.Action == "":
		return EventPing, nil
	case kind == "":
		kind = "workflow_job"
	}

	if probe.Action == "" {
		return kind, nil
	}
	return kind + "." + probe.Action, nil
}

// DeliveryID returns the X-GitHub-Delivery header.
func DeliveryID(header http.Header) string {
	return gh.DeliveryID(&http.Request{Header: header})
}

// Package validation asks a remote CDEvents validator whether an event
// conforms. It never fails the caller: transport problems are reported as an
// invalid result.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

const maxResponseBody = 64 * 1024

type Result struct {
	Valid     bool     `json:"valid"`
	EventType string   `json:"eventType,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient posts events to <baseURL>/validate/event.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/validate/event",
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Validate(ctx context.Context, e cdevents.Event) Result {
	body, err := json.Marshal(e)
	if err != nil {
		return failed("Validation request failed: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed("Validation request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return failed("Validation request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return failed("Validation request failed: read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res := failed("Validation failed with status %d", resp.StatusCode)
		var reply struct {
			Error  string   `json:"error"`
			Errors []string `json:"errors"`
		}
		if json.Unmarshal(respBody, &reply) == nil {
			if reply.Error != "" {
				res.Errors = append(res.Errors, reply.Error)
			}
			res.Errors = append(res.Errors, reply.Errors...)
		}
		return res
	}

	var res Result
	if err := json.Unmarshal(respBody, &res); err != nil {
		return failed("Validation response is not JSON: %v", err)
	}
	if res.EventType == "" {
		res.EventType = string(e.Context.Type)
	}
	return res
}

func failed(format string, args ...any) Result {
	return Result{Valid: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

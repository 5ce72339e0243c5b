package receiver

import (
	"errors"
	"net/http"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/ingest"
	"github.com/fraser-isbester/cdfwd/internal/validation"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

var errUnreadableBody = errors.New("receiver: unreadable request body")

type Failure struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func failure(message string, errs ...string) Failure {
	if errs == nil {
		errs = []string{}
	}
	return Failure{Success: false, Message: message, Errors: errs}
}

type Success struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	EventType  string             `json:"eventType"`
	CDEvent    *cdevents.Event    `json:"cdevent"`
	Validation *validation.Result `json:"validation,omitempty"`
}

// ValidationReply is returned by the /validate endpoints.
type ValidationReply struct {
	Valid     bool     `json:"valid"`
	EventType string   `json:"eventType,omitempty"`
	Error     string   `json:"error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// causes flattens schema violations into one message per location.
func causes(err error) []string {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr.Causes
	}
	return []string{err.Error()}
}

// failureFor maps an ingest error to a status code and envelope.
func failureFor(err error) (int, Failure) {
	var (
		terr     *adapter.TransformError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.Is(err, ingest.ErrUnknownProvider):
		return http.StatusNotFound, failure("Adapter not found", err.Error())
	case errors.Is(err, ingest.ErrNoDetector):
		return http.StatusNotFound, failure("Adapter does not detect event types", err.Error())
	case errors.Is(err, adapter.ErrUnsupportedEvent):
		return http.StatusBadRequest, failure(err.Error(), err.Error())
	case errors.Is(err, adapter.ErrUndetectedEvent):
		return http.StatusBadRequest, failure("Unable to determine event type", err.Error())
	case errors.As(err, &terr):
		return http.StatusBadRequest, failure("Failed to transform webhook", causes(terr.Cause)...)
	case errors.Is(err, ingest.ErrCanonicalSchema):
		return http.StatusUnprocessableEntity, failure("Transformed event does not match the CDEvents schema", causes(err)...)
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, failure("Request body too large", err.Error())
	case errors.Is(err, errUnreadableBody):
		return http.StatusBadRequest, failure("Invalid request body", err.Error())
	default:
		return http.StatusInternalServerError, failure("Internal server error", err.Error())
	}
}

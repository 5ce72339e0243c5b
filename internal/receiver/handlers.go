package receiver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/adapter/github"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

func (r *Receiver) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Receiver) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "cdfwd",
		"version":     r.version,
		"description": "Transforms provider webhooks into CDEvents",
		"endpoints": gin.H{
			"health":   "/healthz",
			"adapters": "/adapters",
			"validation": gin.H{
				"generic": "/validate/event",
				"typed":   "/validate/{subject}/{verb}",
			},
		},
		"adapters": r.service.Registry().Infos(),
		"specification": gin.H{
			"version": cdevents.SpecVersion,
			"url":     "https://cdevents.dev",
		},
	})
}

func (r *Receiver) listAdapters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"adapters": r.service.Registry().Infos()})
}

func (r *Receiver) adapterInfo(c *gin.Context) {
	info, ok := r.service.Registry().Info(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, failure("Adapter not found", c.Param("provider")))
		return
	}
	c.JSON(http.StatusOK, info)
}

func (r *Receiver) webhookSchema(c *gin.Context) {
	provider, eventType := c.Param("provider"), c.Param("eventType")
	a, ok := r.service.Registry().Get(provider)
	if !ok {
		c.JSON(http.StatusNotFound, failure("Adapter not found", provider))
		return
	}
	s := a.WebhookSchema(eventType)
	if s == nil || !adapter.Supports(a, eventType) {
		c.JSON(http.StatusNotFound, failure("Schema not found", fmt.Sprintf("%s has no schema for %s", provider, eventType)))
		return
	}
	c.Data(http.StatusOK, "application/schema+json", s.Document())
}

// webhook handles deliveries whose event type is derived from the request.
func (r *Receiver) webhook(c *gin.Context) {
	provider := c.Param("provider")
	body, ok := r.readBody(c)
	if !ok {
		return
	}

	if id := github.DeliveryID(c.Request.Header); id != "" {
		r.log.Debug().Str("request_id", requestID(c)).Str("delivery_id", id).Msg("github delivery")
	}

	eventType, err := r.service.DetectEventType(provider, c.Request.Header, body)
	if err != nil {
		r.fail(c, err)
		return
	}
	r.ingest(c, provider, eventType, body)
}

func (r *Receiver) event(c *gin.Context) {
	body, ok := r.readBody(c)
	if !ok {
		return
	}
	r.ingest(c, c.Param("provider"), c.Param("eventType"), body)
}

func (r *Receiver) ingest(c *gin.Context, provider, eventType string, body []byte) {
	res, err := r.service.Ingest(c.Request.Context(), provider, eventType, body)
	if err != nil {
		r.fail(c, err)
		return
	}

	if res.Ack != nil {
		c.JSON(http.StatusOK, res.Ack)
		return
	}
	c.JSON(http.StatusOK, Success{
		Success:    true,
		Message:    fmt.Sprintf("%s %s webhook successfully transformed to CD Event", provider, eventType),
		EventType:  eventType,
		CDEvent:    res.Event,
		Validation: res.Validation,
	})
}

func (r *Receiver) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if !errors.As(err, &maxBytes) {
			err = fmt.Errorf("%w: %w", errUnreadableBody, err)
		}
		r.fail(c, err)
		return nil, false
	}
	return body, true
}

func (r *Receiver) fail(c *gin.Context, err error) {
	status, body := failureFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		r.log.Error().Err(err).Str("request_id", requestID(c)).Msg("request failed")
	}
	c.JSON(status, body)
}

func (r *Receiver) validateEvent(c *gin.Context) {
	body, ok := r.readBody(c)
	if !ok {
		return
	}
	e, err := cdevents.ValidateCore(body)
	r.replyValidation(c, e, err)
}

func (r *Receiver) validateTyped(c *gin.Context) {
	t := cdevents.EventType(fmt.Sprintf("dev.cdevents.%s.%s.0.2.0", c.Param("subject"), c.Param("verb")))
	if !t.IsKnown() {
		c.JSON(http.StatusNotFound, failure("Unknown event type", string(t)))
		return
	}
	body, ok := r.readBody(c)
	if !ok {
		return
	}
	e, err := cdevents.ValidateAs(t, body)
	r.replyValidation(c, e, err)
}

func (r *Receiver) replyValidation(c *gin.Context, e cdevents.Event, err error) {
	if err != nil {
		c.JSON(http.StatusBadRequest, ValidationReply{
			Valid:  false,
			Error:  err.Error(),
			Errors: causes(err),
		})
		return
	}
	c.JSON(http.StatusOK, ValidationReply{Valid: true, EventType: string(e.Context.Type)})
}

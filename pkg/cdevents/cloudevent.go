package cdevents

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// ToCloudEvent wraps e following the CDEvents CloudEvents binding: the
// CloudEvent attributes mirror the CDEvent context and the data is the whole
// CDEvent.
func ToCloudEvent(e Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(e.Context.ID)
	ce.SetSource(e.Context.Source)
	ce.SetType(string(e.Context.Type))
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetSubject(e.Subject.ID)

	if ts, err := time.Parse(time.RFC3339Nano, e.Context.Timestamp); err == nil {
		ce.SetTime(ts)
	}

	if err := ce.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return ce, fmt.Errorf("failed to set event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return ce, nil
}

// FromCloudEvent extracts and validates the CDEvent carried by ce.
func FromCloudEvent(ce cloudevents.Event) (Event, error) {
	return ValidateCore(ce.Data())
}

package jira

import (
	"strings"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

// StatusBuckets groups workflow status names by the pipeline phase they
// represent. Matching ignores case and surrounding space.
type StatusBuckets struct {
	Queued     []string
	InProgress []string
	Completed  []string
}

// DefaultStatusBuckets returns the bucket lists of a stock Jira workflow.
func DefaultStatusBuckets() StatusBuckets {
	return StatusBuckets{
		Queued:     []string{"To Do", "Open", "Selected for Development", "Backlog", "Ready"},
		InProgress: []string{"In Progress", "In Review", "Testing", "In Development", "Code Review"},
		Completed:  []string{"Done", "Closed", "Resolved", "Ready for Deploy", "Deployed", "Complete"},
	}
}

// withDefaults replaces empty buckets with the built-in lists.
func (b StatusBuckets) withDefaults() StatusBuckets {
	d := DefaultStatusBuckets()
	if len(b.Queued) == 0 {
		b.Queued = d.Queued
	}
	if len(b.InProgress) == 0 {
		b.InProgress = d.InProgress
	}
	if len(b.Completed) == 0 {
		b.Completed = d.Completed
	}
	return b
}

type phase int

const (
	phaseNone phase = iota
	phaseQueued
	phaseInProgress
	phaseCompleted
)

// classifier is built once per adapter and never mutated afterwards.
type classifier map[string]phase

func newClassifier(b StatusBuckets) classifier {
	c := make(classifier)
	add := func(names []string, p phase) {
		for _, name := range names {
			if key := normalize(name); key != "" {
				c[key] = p
			}
		}
	}
	// Later buckets win when an administrator lists a status twice.
	add(b.Queued, phaseQueued)
	add(b.InProgress, phaseInProgress)
	add(b.Completed, phaseCompleted)
	return c
}

func (c classifier) phase(status *string) phase {
	if status == nil {
		return phaseNone
	}
	return c[normalize(*status)]
}

func normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

var statusOutcomes = map[string]cdevents.Outcome{
	"done":             cdevents.OutcomeSuccess,
	"closed":           cdevents.OutcomeSuccess,
	"resolved":         cdevents.OutcomeSuccess,
	"complete":         cdevents.OutcomeSuccess,
	"deployed":         cdevents.OutcomeSuccess,
	"rejected":         cdevents.OutcomeFailure,
	"cancelled":        cdevents.OutcomeFailure,
	"failed":           cdevents.OutcomeFailure,
	"blocked":          cdevents.OutcomeFailure,
	"reopened":         cdevents.OutcomeError,
	"duplicate":        cdevents.OutcomeError,
	"won't fix":        cdevents.OutcomeError,
	"wontfix":          cdevents.OutcomeError,
	"cannot reproduce": cdevents.OutcomeError,
	"cannotreproduce":  cdevents.OutcomeError,
}

// OutcomeFor maps the status an issue finished in to an outcome. Completed
// statuses missing from the table count as success; a missing status is an
// error.
func OutcomeFor(status *string) cdevents.Outcome {
	if status == nil {
		return cdevents.OutcomeError
	}
	if outcome, ok := statusOutcomes[normalize(*status)]; ok {
		return outcome
	}
	return cdevents.OutcomeSuccess
}

package github

import (
	"fmt"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

// conclusionOutcomes maps job conclusions to outcomes. Conclusions missing
// from the table, including null, map to error.
var conclusionOutcomes = map[string]cdevents.Outcome{
	"success":         cdevents.OutcomeSuccess,
	"failure":         cdevents.OutcomeFailure,
	"timed_out":       cdevents.OutcomeFailure,
	"action_required": cdevents.OutcomeFailure,
	"cancelled":       cdevents.OutcomeError,
	"skipped":         cdevents.OutcomeError,
	"neutral":         cdevents.OutcomeError,
	"stale":           cdevents.OutcomeError,
}

// OutcomeFor maps a workflow job conclusion to an outcome.
func OutcomeFor(conclusion *string) cdevents.Outcome {
	if conclusion == nil {
		return cdevents.OutcomeError
	}
	if outcome, ok := conclusionOutcomes[*conclusion]; ok {
		return outcome
	}
	return cdevents.OutcomeError
}

func errorMessage(jobName string, conclusion *string) string {
	c := "null"
	if conclusion != nil {
		c = *conclusion
	}
	switch c {
	case "failure":
		return fmt.Sprintf(`Workflow job "%s" failed`, jobName)
	case "timed_out":
		return fmt.Sprintf(`Workflow job "%s" timed out`, jobName)
	case "cancelled":
		return fmt.Sprintf(`Workflow job "%s" was cancelled`, jobName)
	case "action_required":
		return fmt.Sprintf(`Workflow job "%s" requires action`, jobName)
	}
	return fmt.Sprintf(`Workflow job "%s" completed with conclusion: %s`, jobName, c)
}

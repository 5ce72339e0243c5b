package schema

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("schema: document does not match schema")

// ValidationError reports why a document failed validation. Causes holds one
// entry per failing location.
type ValidationError struct {
	Schema string
	Causes []string
	err    error
}

func newValidationError(name string, err error) *ValidationError {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	causes := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		// The first line is a summary when details follow.
		if i == 0 && len(lines) > 1 {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		if line != "" {
			causes = append(causes, line)
		}
	}
	if len(causes) == 0 {
		causes = append(causes, err.Error())
	}
	return &ValidationError{Schema: name, Causes: causes, err: err}
}

func (e *ValidationError) Error() string {
	return e.Schema + ": " + strings.Join(e.Causes, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

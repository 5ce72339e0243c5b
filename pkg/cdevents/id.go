package cdevents

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	base36          = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength    = 9
)

// NewEventID returns an id of the form {prefix}-{epoch-ms}-{random}.
func NewEventID(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	u := uuid.New()
	b := make([]byte, suffixLength)
	for i := range b {
		b[i] = base36[int(u[i])%len(base36)]
	}
	return string(b)
}

// NewChainID returns a fresh id for context.chain_id.
func NewChainID() string {
	return uuid.NewString()
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// FormatMillis renders epoch milliseconds as a context timestamp.
func FormatMillis(ms int64) string {
	return FormatTimestamp(time.UnixMilli(ms))
}

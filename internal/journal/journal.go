// Package journal records every finished recognition request so operators
// can audit what the recognizer heard and why each request completed.
//
// [Journal] has two implementations: [Memory] for development and tests, and
// the PostgreSQL-backed store in the postgres sub-package.
package journal

import (
	"context"
	"time"
)

// Entry is one RECOGNITION-COMPLETE as sent to the client.
type Entry struct {
	// ChannelID identifies the channel the request ran on.
	ChannelID string

	// RequestID is the client-assigned request identifier.
	RequestID uint32

	// Cause is the completion cause, e.g. "success" or "no-input-timeout".
	Cause string

	// Text is the recognised text. Empty for no-input completions.
	Text string

	// Elapsed is the time between RECOGNIZE and completion.
	Elapsed time.Duration

	// CompletedAt is when the completion was sent.
	CompletedAt time.Time
}

// Query filters [Journal.Recent] and [Journal.Search] results. Zero values
// disable the corresponding filter.
type Query struct {
	ChannelID string
	Cause     string
	After     time.Time
	Limit     int
}

// Journal persists completion entries.
//
// Implementations must be safe for concurrent use.
type Journal interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns the entries matching q, newest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)

	// Search returns entries whose text matches text, newest first.
	Search(ctx context.Context, text string, q Query) ([]Entry, error)
}

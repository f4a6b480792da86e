package orchestrator

import "context"

// TrailSink receives every trail entry as it is appended, across sessions.
// Implementations must be safe for concurrent use and append-only.
type TrailSink interface {
	Record(ctx context.Context, sessionID string, entry TrailEntry) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, TrailEntry) error { return nil }

// Package trail provides sinks for the per-iteration decision trail.
//
// The engine records every trail entry in the session context itself; sinks
// receive a copy for cross-session observation. A sink failure is logged by
// the engine and never fails a turn.
package trail

import (
	"context"
	"errors"
	"sync"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// MemorySink keeps every entry in memory, grouped by session.
type MemorySink struct {
	mu      sync.RWMutex
	entries map[string][]orchestrator.TrailEntry
	total   int
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[string][]orchestrator.TrailEntry)}
}

// Record implements orchestrator.TrailSink.
func (m *MemorySink) Record(_ context.Context, sessionID string, entry orchestrator.TrailEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	m.total++
	return nil
}

// Entries returns a copy of the entries recorded for sessionID.
func (m *MemorySink) Entries(sessionID string) []orchestrator.TrailEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]orchestrator.TrailEntry(nil), m.entries[sessionID]...)
}

// Len returns the number of entries recorded across sessions.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Multi fans entries out to every sink. All sinks are tried; their errors are
// joined.
func Multi(sinks ...orchestrator.TrailSink) orchestrator.TrailSink {
	return multiSink(sinks)
}

type multiSink []orchestrator.TrailSink

func (m multiSink) Record(ctx context.Context, sessionID string, entry orchestrator.TrailEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, sessionID, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

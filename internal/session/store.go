package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// ErrNotFound is returned when a session has no stored record.
var ErrNotFound = errors.New("session not found")

// HistoryEntry is one request in a session's conversation history.
type HistoryEntry struct {
	Request   int                    `json:"request"`
	TurnID    string                 `json:"turn_id"`
	Query     string                 `json:"query"`
	Outcome   orchestrator.Outcome   `json:"outcome"`
	SQL       string                 `json:"sql_or_plan,omitempty"`
	Response  string                 `json:"response,omitempty"`
	ErrorKind orchestrator.ErrorKind `json:"error_kind,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Record is the persisted state of one session: the context of its latest
// turn, verbatim, and its history.
type Record struct {
	SessionID string                       `json:"session_id"`
	Context   *orchestrator.SessionContext `json:"context,omitempty"`
	History   []HistoryEntry               `json:"history"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// Store persists session records.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps records in process memory. Records are stored as JSON so
// callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	data, ok := m.records[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.SessionID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SessionID] = data
	return nil
}

// Delete implements Store. Deleting an unknown session is not an error.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Package session exposes the orchestration engine per conversation.
//
// A Service serializes turns within a session and runs sessions in
// parallel. A turn that answers a pending clarification resumes the stored
// context; any other turn starts a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// Errors returned for invalid input.
var (
	ErrEmptySessionID = errors.New("session id is required")
	ErrEmptyQuery     = errors.New("query is required")
)

// Stats summarizes turns across one or all sessions.
type Stats struct {
	Sessions       int     `json:"sessions"`
	Total          int     `json:"total_requests"`
	Successful     int     `json:"successful_requests"`
	Failed         int     `json:"failed_requests"`
	Clarifications int     `json:"clarification_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

// Service runs turns through an engine and persists the results.
type Service struct {
	engine *orchestrator.Engine
	store  Store
	logger *zap.Logger
	newID  func() string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithStore sets the session store. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// WithIDGenerator overrides turn ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(svc *Service) {
		if fn != nil {
			svc.newID = fn
		}
	}
}

// NewService returns a service over engine.
func NewService(engine *orchestrator.Engine, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  NewMemoryStore(),
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		locks:  make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// SubmitTurn runs one turn of sessionID. The returned error is non-nil only
// for invalid input, storage failures and fatal engine errors; every other
// failure is reported in the result.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, query string) (*orchestrator.TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	query = strings.TrimSpace(query)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}

	unlock := s.lock(sessionID)
	defer unlock()

	start := time.Now()
	rec, err := s.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{SessionID: sessionID}
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	turnID := s.newID()
	var c *orchestrator.SessionContext
	if rec.Context != nil && rec.Context.State == orchestrator.StateAwaitingClarification {
		c, err = orchestrator.ResumeSessionContext(rec.Context, turnID, query)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		ResumedTurnsTotal.Inc()
	} else {
		c = s.engine.NewContext(sessionID, turnID, query)
	}

	res, err := s.engine.RunTurn(ctx, c)
	TurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		TurnsTotal.WithLabelValues(outcomeError).Inc()
		s.logger.Error("turn failed fatally",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID),
			zap.Error(err))
		return nil, err
	}
	TurnsTotal.WithLabelValues(string(res.Outcome)).Inc()

	rec.Context = res.Context
	rec.History = append(rec.History, historyEntry(len(rec.History)+1, turnID, query, res))
	rec.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}

	s.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("iterations", res.Context.IterationCount),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// PendingQuestion returns the open clarification question of sessionID.
func (s *Service) PendingQuestion(ctx context.Context, sessionID string) (string, bool, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec.Context == nil {
		return "", false, nil
	}
	ex, ok := rec.Context.PendingQuestion()
	return ex.Question, ok, nil
}

// History returns the conversation history of sessionID.
func (s *Service) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return []HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return rec.History, nil
}

// Reset forgets sessionID, including any pending clarification.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	s.logger.Info("session reset", zap.String("session_id", sessionID))
	return nil
}

// Stats summarizes sessionID, or every session when sessionID is empty.
func (s *Service) Stats(ctx context.Context, sessionID string) (Stats, error) {
	ids := []string{sessionID}
	if sessionID == "" {
		var err error
		if ids, err = s.store.List(ctx); err != nil {
			return Stats{}, fmt.Errorf("list sessions: %w", err)
		}
	}

	var st Stats
	for _, id := range ids {
		hist, err := s.History(ctx, id)
		if err != nil {
			return Stats{}, err
		}
		if len(hist) > 0 {
			st.Sessions++
		}
		for _, h := range hist {
			st.Total++
			switch h.Outcome {
			case orchestrator.OutcomeAnswered:
				st.Successful++
			case orchestrator.OutcomeNeedsClarification:
				st.Clarifications++
			default:
				st.Failed++
			}
		}
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return st, nil
}

// lock serializes work on one session; the returned func releases it.
func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

func historyEntry(n int, turnID, query string, res *orchestrator.TurnResult) HistoryEntry {
	h := HistoryEntry{
		Request:   n,
		TurnID:    turnID,
		Query:     query,
		Outcome:   res.Outcome,
		Timestamp: time.Now(),
	}
	switch {
	case res.Answered != nil:
		h.SQL = res.Answered.SQLOrPlanSummary
		h.Response = res.Answered.Explanation
	case res.Clarification != nil:
		h.Response = res.Clarification.Question
	case res.Failed != nil:
		h.Response = res.Failed.Message
		h.ErrorKind = res.Failed.ErrorKind
	}
	return h
}

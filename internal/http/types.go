package http

import (
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

// TurnRequest is the request body for POST /api/v1/sessions/:id/turns.
type TurnRequest struct {
	Query string `json:"query"`
}

// TurnResponse is the response body for a submitted turn.
type TurnResponse struct {
	SessionID string `json:"session_id"`
	*orchestrator.TurnResult
}

// SessionResponse is the response body for POST /api/v1/sessions.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// PendingResponse is the response body for GET /api/v1/sessions/:id/pending.
type PendingResponse struct {
	Pending  bool   `json:"pending"`
	Question string `json:"question,omitempty"`
}

// HistoryResponse is the response body for GET /api/v1/sessions/:id/history.
type HistoryResponse struct {
	SessionID string                 `json:"session_id"`
	History   []session.HistoryEntry `json:"history"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Telemetry string `json:"telemetry,omitempty"`
}

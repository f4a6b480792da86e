package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

type submitTurnInput struct {
	SessionID string `json:"session_id" jsonschema:"Conversation session identifier; reuse it to answer a clarification question"`
	Query     string `json:"query" jsonschema:"Natural-language question, or the answer to a pending clarification"`
	Trail     bool   `json:"include_trail,omitempty" jsonschema:"Include the decision trail in the result"`
}

type submitTurnOutput struct {
	SessionID string `json:"session_id"`
	*orchestrator.TurnResult
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Conversation session identifier"`
}

type historyInput struct {
	SessionID string `json:"session_id" jsonschema:"Conversation session identifier"`
	Clear     bool   `json:"clear,omitempty" jsonschema:"Delete the session after returning its history"`
}

type historyOutput struct {
	SessionID string                 `json:"session_id"`
	History   []session.HistoryEntry `json:"history"`
	Cleared   bool                   `json:"cleared,omitempty"`
}

type statsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Limit statistics to one session; empty covers all sessions"`
}

// jsonResult renders v as the tool's text content. Results carry
// timestamps and free-form rows, so no output schema is declared.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

// instrument wraps a tool body with active/invocation metrics and logging.
func (s *Server) instrument(ctx context.Context, tool string, fn func() error) error {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	err := fn()
	s.metrics.DecrementActive(ctx, tool)
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	if err != nil {
		s.logger.Warn("tool failed", zap.String("tool", tool), zap.Error(err))
	}
	return err
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "submit_turn",
		Description: "Ask a data question in a session. Returns an answer, a clarification question " +
			"to answer with another submit_turn in the same session, or a failure.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args submitTurnInput) (*mcp.CallToolResult, any, error) {
		var out submitTurnOutput
		err := s.instrument(ctx, "submit_turn", func() error {
			res, err := s.service.SubmitTurn(ctx, args.SessionID, args.Query)
			if err != nil {
				return err
			}
			if !args.Trail {
				res = res.WithoutTrail()
			}
			out = submitTurnOutput{SessionID: args.SessionID, TurnResult: res}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(out)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_history",
		Description: "List the turns of a session in order, optionally clearing the session afterwards",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args historyInput) (*mcp.CallToolResult, any, error) {
		out := historyOutput{SessionID: args.SessionID}
		err := s.instrument(ctx, "session_history", func() error {
			hist, err := s.service.History(ctx, args.SessionID)
			if err != nil {
				return err
			}
			out.History = hist
			if out.History == nil {
				out.History = []session.HistoryEntry{}
			}
			if args.Clear {
				if err := s.service.Reset(ctx, args.SessionID); err != nil {
					return err
				}
				out.Cleared = true
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(out)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_stats",
		Description: "Request counts and success rate for one session or all sessions",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args statsInput) (*mcp.CallToolResult, any, error) {
		var out session.Stats
		err := s.instrument(ctx, "session_stats", func() error {
			var err error
			out, err = s.service.Stats(ctx, args.SessionID)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(out)
	})
}

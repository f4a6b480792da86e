package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/schema"
)

const plannerSystemPrompt = `You are a query planning agent for a SQL data warehouse.
Decide whether the user's question can be answered from the schema below.
Respond with a single JSON object and nothing else:
{
  "status": "answerable" | "needs_clarification",
  "analysis": {
    "intent": "<one sentence>",
    "tables_needed": ["<table>"],
    "columns": ["<table.column>"],
    "joins": ["<join condition>"],
    "filters": ["<filter>"],
    "aggregations": ["<aggregation>"],
    "confidence": 0.0,
    "feasible": true,
    "notes": "<anything the SQL author must know>"
  },
  "clarification": "<question for the user when status is needs_clarification>",
  "ambiguity": "<what is ambiguous>"
}
Only reference tables that appear in the schema.`

type planResponse struct {
	Status   string `json:"status"`
	Analysis *struct {
		Intent       string   `json:"intent"`
		TablesNeeded []string `json:"tables_needed"`
		Columns      []string `json:"columns"`
		Joins        []string `json:"joins"`
		Filters      []string `json:"filters"`
		Aggregations []string `json:"aggregations"`
		Confidence   float64  `json:"confidence"`
		Feasible     *bool    `json:"feasible"`
		Notes        string   `json:"notes"`
	} `json:"analysis"`
	Clarification string `json:"clarification"`
	Ambiguity     string `json:"ambiguity"`
}

// LLMPlanner plans questions against the schema artifact with a model.
type LLMPlanner struct {
	model  Completer
	schema *schema.Artifact
	logger *zap.Logger
}

// NewLLMPlanner returns a planner. A nil logger is replaced with a no-op.
func NewLLMPlanner(model Completer, art *schema.Artifact, logger *zap.Logger) *LLMPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPlanner{model: model, schema: art, logger: logger}
}

// Plan implements orchestrator.Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req orchestrator.PlanRequest) (*orchestrator.PlanOutcome, error) {
	raw, err := p.model.Complete(ctx, plannerSystemPrompt, p.prompt(req))
	if err != nil {
		return nil, modelError(orchestrator.CollaboratorPlanner, err)
	}

	body, ok := llm.ExtractJSON(raw)
	if !ok {
		return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorPlanner, CodeParseError,
			"planner response contained no JSON object", nil)
	}
	var resp planResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorPlanner, CodeParseError,
			"planner response is not valid JSON", err)
	}

	switch resp.Status {
	case "needs_clarification":
		question := strings.TrimSpace(resp.Clarification)
		if question == "" {
			question = orchestrator.DefaultClarificationQuestion
		}
		p.logger.Debug("planner needs clarification",
			zap.String("session_id", req.SessionID),
			zap.String("ambiguity", resp.Ambiguity))
		return &orchestrator.PlanOutcome{Clarification: &orchestrator.ClarificationMarker{
			Question:  question,
			Ambiguity: resp.Ambiguity,
		}}, nil
	case "answerable":
		if resp.Analysis == nil {
			return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorPlanner, CodeParseError,
				"answerable plan is missing its analysis", nil)
		}
	default:
		return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorPlanner, CodeParseError,
			fmt.Sprintf("invalid planner status %q", resp.Status), nil)
	}

	a := resp.Analysis
	plan := &orchestrator.Plan{
		Intent:       a.Intent,
		Tables:       a.TablesNeeded,
		Columns:      a.Columns,
		Joins:        a.Joins,
		Filters:      a.Filters,
		Aggregations: a.Aggregations,
		Confidence:   a.Confidence,
		Feasible:     true,
		Notes:        a.Notes,
	}
	if a.Feasible != nil {
		plan.Feasible = *a.Feasible
	}
	if len(plan.Tables) == 0 {
		plan.Feasible = false
	}
	if p.schema != nil {
		for _, t := range plan.Tables {
			if !p.schema.HasTable(t) {
				plan.Feasible = false
				plan.Notes = strings.TrimSpace(plan.Notes + " unknown table: " + t)
			}
		}
	}

	p.logger.Debug("planner produced plan",
		zap.String("session_id", req.SessionID),
		zap.Strings("tables", plan.Tables),
		zap.Bool("feasible", plan.Feasible))
	return &orchestrator.PlanOutcome{Plan: plan}, nil
}

func (p *LLMPlanner) prompt(req orchestrator.PlanRequest) string {
	var b strings.Builder
	if p.schema != nil {
		b.WriteString("SCHEMA CONTEXT:\n")
		b.WriteString(p.schema.Text())
	}
	current := req.LatestInput
	if current == "" {
		current = req.Query
	}
	b.WriteString(renderHistory(req.Clarifications, current))
	if len(req.PriorErrors) > 0 {
		b.WriteString("\n\nPREVIOUS ATTEMPTS FAILED:\n")
		for _, e := range req.PriorErrors {
			fmt.Fprintf(&b, "- %s", e.Message)
			if e.Code != "" {
				fmt.Fprintf(&b, " (%s)", e.Code)
			}
			b.WriteString("\n")
		}
		b.WriteString("Produce a different plan that avoids these failures.\n")
	}
	fmt.Fprintf(&b, "\n\nUSER QUESTION: %s\n", req.Query)
	return b.String()
}

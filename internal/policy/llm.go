package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
)

const systemPrompt = `You are the supervisor of a text-to-SQL workflow.
Given the current workflow state, choose exactly ONE next action from the allowed actions.
Respond with a single JSON object and nothing else:
{"action": "<ACTION>", "rationale": "<short reason>", "parameters": {}, "proposed_next_state": "<STATE>"}`

// decisionSchema is the shape every model decision must have. Action tags
// are checked afterwards so legacy names still decode.
const decisionSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "minLength": 1},
    "rationale": {"type": "string"},
    "reason": {"type": "string"},
    "parameters": {"type": ["object", "null"]},
    "proposed_next_state": {"type": "string"},
    "next_state": {"type": "string"}
  }
}`

// Completer sends a prompt to a model. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLM asks a model for each decision.
type LLM struct {
	model  Completer
	schema *jsonschema.Schema
	logger *zap.Logger
}

// NewLLM returns a model-backed policy.
func NewLLM(model Completer, logger *zap.Logger) (*LLM, error) {
	var doc any
	if err := json.Unmarshal([]byte(decisionSchema), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal decision schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, fmt.Errorf("add decision schema: %w", err)
	}
	sch, err := c.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{model: model, schema: sch, logger: logger}, nil
}

// Decide implements orchestrator.Policy.
func (p *LLM) Decide(ctx context.Context, snap orchestrator.Snapshot, catalog orchestrator.Catalog) (orchestrator.Decision, error) {
	prompt, err := buildPrompt(snap, catalog)
	if err != nil {
		return orchestrator.Decision{}, err
	}
	raw, err := p.model.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return orchestrator.Decision{}, fmt.Errorf("policy model call: %w", err)
	}

	body, ok := llm.ExtractJSON(raw)
	if !ok {
		return orchestrator.Decision{}, &orchestrator.PolicyDecodeError{Raw: raw, Reason: "no JSON object in output"}
	}
	var inst any
	if err := json.Unmarshal([]byte(body), &inst); err != nil {
		return orchestrator.Decision{}, &orchestrator.PolicyDecodeError{Raw: raw, Reason: "malformed JSON", Err: err}
	}
	if err := p.schema.Validate(inst); err != nil {
		return orchestrator.Decision{}, &orchestrator.PolicyDecodeError{Raw: raw, Reason: "decision does not match schema", Err: err}
	}

	d, err := orchestrator.DecodeDecision([]byte(body))
	if err != nil {
		return orchestrator.Decision{}, err
	}
	p.logger.Debug("policy decided",
		zap.String("session_id", snap.SessionID),
		zap.String("state", string(snap.State)),
		zap.String("action", string(d.Action)),
		zap.String("rationale", d.Rationale))
	return d, nil
}

// stateView is the part of the snapshot shown to the model.
type stateView struct {
	State              orchestrator.State                   `json:"state"`
	UserQuery          string                               `json:"user_query"`
	OriginalQuery      string                               `json:"original_query,omitempty"`
	HasPlan            bool                                 `json:"has_plan"`
	Plan               *orchestrator.Plan                   `json:"plan,omitempty"`
	HasResults         bool                                 `json:"has_results"`
	RowCount           int                                  `json:"row_count,omitempty"`
	PartialResults     bool                                 `json:"partial_results,omitempty"`
	HasResponse        bool                                 `json:"has_response"`
	Error              *orchestrator.ErrorInfo              `json:"error,omitempty"`
	ClarificationRound int                                  `json:"clarification_round"`
	MaxClarifications  int                                  `json:"max_clarification_rounds"`
	Iteration          int                                  `json:"iteration"`
	MaxIterations      int                                  `json:"max_iterations"`
	Clarifications     []orchestrator.ClarificationExchange `json:"clarifications,omitempty"`
	RecentActions      []orchestrator.Action                `json:"recent_actions,omitempty"`
}

const recentActions = 5

func buildPrompt(snap orchestrator.Snapshot, catalog orchestrator.Catalog) (string, error) {
	view := stateView{
		State:              snap.State,
		UserQuery:          snap.UserQuery,
		HasPlan:            snap.Plan != nil,
		Plan:               snap.Plan,
		HasResults:         snap.ExecutionResult != nil,
		HasResponse:        snap.FormattedResponse != nil,
		Error:              snap.Err,
		ClarificationRound: snap.ClarificationRound,
		MaxClarifications:  snap.Limits.MaxClarificationRounds,
		Iteration:          snap.IterationCount,
		MaxIterations:      snap.Limits.MaxIterations,
		Clarifications:     snap.ClarificationHistory,
	}
	if snap.OriginalQuery != snap.UserQuery {
		view.OriginalQuery = snap.OriginalQuery
	}
	if snap.ExecutionResult != nil {
		view.RowCount = snap.ExecutionResult.Metadata.RowCount
		view.PartialResults = snap.ExecutionResult.Partial
	}
	trail := snap.DecisionTrail
	if len(trail) > recentActions {
		trail = trail[len(trail)-recentActions:]
	}
	for _, e := range trail {
		view.RecentActions = append(view.RecentActions, e.Action)
	}

	state, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal state view: %w", err)
	}

	var b strings.Builder
	b.WriteString("AVAILABLE ACTIONS:\n")
	for _, spec := range catalog.Actions {
		fmt.Fprintf(&b, "- %s: %s", spec.Action, spec.Description)
		if len(spec.Parameters) > 0 {
			fmt.Fprintf(&b, " (parameters: %s)", strings.Join(spec.Parameters, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nALLOWED ACTIONS IN THE CURRENT STATE: ")
	allowed := make([]string, len(snap.AllowedActions))
	for i, a := range snap.AllowedActions {
		allowed[i] = string(a)
	}
	b.WriteString(strings.Join(allowed, ", "))
	b.WriteString("\n")
	if snap.State == orchestrator.StateResponseComplete {
		b.WriteString("\nWARNING: the response is already formatted. The only correct action is FINISH.\n")
	}
	b.WriteString("\nCURRENT STATE:\n")
	b.Write(state)
	b.WriteString("\n")
	return b.String(), nil
}

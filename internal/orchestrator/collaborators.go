package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Planner turns a question into a structured plan, or asks for clarification.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanOutcome, error)
}

// Executor runs a plan against the warehouse.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)
}

// Clarifier phrases a clarification question for an ambiguity.
type Clarifier interface {
	Clarify(ctx context.Context, req ClarifyRequest) (string, error)
}

// Responder turns rows and metadata into prose for the user.
type Responder interface {
	Respond(ctx context.Context, req RespondRequest) (*FormattedResponse, error)
}

// PlanRequest is the planner input. PriorErrors is only set on RetryPlan.
type PlanRequest struct {
	SessionID      string
	Query          string
	LatestInput    string
	Clarifications []ClarificationExchange
	PriorErrors    []ErrorInfo
}

// PlanOutcome holds either a plan or a clarification marker.
type PlanOutcome struct {
	Plan          *Plan
	Clarification *ClarificationMarker
}

// ClarificationMarker is the planner's declared "needs clarification" outcome.
type ClarificationMarker struct {
	Question  string `json:"question"`
	Ambiguity string `json:"ambiguity,omitempty"`
}

// Plan describes what data answers the question.
type Plan struct {
	Intent       string   `json:"intent"`
	Tables       []string `json:"tables"`
	Columns      []string `json:"columns,omitempty"`
	Joins        []string `json:"joins,omitempty"`
	Filters      []string `json:"filters,omitempty"`
	Aggregations []string `json:"aggregations,omitempty"`
	Confidence   float64  `json:"confidence"`
	Feasible     bool     `json:"feasible"`
	Notes        string   `json:"notes,omitempty"`
}

// Summary renders the plan on one line.
func (p *Plan) Summary() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Intent)
	if len(p.Tables) > 0 {
		fmt.Fprintf(&b, " [tables: %s]", strings.Join(p.Tables, ", "))
	}
	if len(p.Aggregations) > 0 {
		fmt.Fprintf(&b, " [aggregations: %s]", strings.Join(p.Aggregations, ", "))
	}
	if len(p.Filters) > 0 {
		fmt.Fprintf(&b, " [filters: %s]", strings.Join(p.Filters, ", "))
	}
	return strings.TrimSpace(b.String())
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Tables = append([]string(nil), p.Tables...)
	c.Columns = append([]string(nil), p.Columns...)
	c.Joins = append([]string(nil), p.Joins...)
	c.Filters = append([]string(nil), p.Filters...)
	c.Aggregations = append([]string(nil), p.Aggregations...)
	return &c
}

// ExecuteRequest is the executor input.
type ExecuteRequest struct {
	SessionID string
	Query     string
	Plan      Plan
}

// Row is one record returned by the warehouse.
type Row map[string]any

// ExecutionMetadata describes how a query ran.
type ExecutionMetadata struct {
	Elapsed      time.Duration `json:"elapsed_ns"`
	RowCount     int           `json:"row_count"`
	BytesScanned int64         `json:"bytes_scanned"`
	Truncated    bool          `json:"truncated,omitempty"`
}

// ExecutionResult is a successful execution. Partial marks results the
// executor could only produce in part.
type ExecutionResult struct {
	SQL      string            `json:"sql,omitempty"`
	Columns  []string          `json:"columns,omitempty"`
	Rows     []Row             `json:"rows"`
	Metadata ExecutionMetadata `json:"metadata"`
	Partial  bool              `json:"partial,omitempty"`
}

func (r *ExecutionResult) clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Columns = append([]string(nil), r.Columns...)
	c.Rows = make([]Row, len(r.Rows))
	for i, row := range r.Rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		c.Rows[i] = cp
	}
	return &c
}

// ClarifyRequest is the clarifier input.
type ClarifyRequest struct {
	SessionID string
	Query     string
	Ambiguity string
	History   []ClarificationExchange
}

// RespondRequest is the responder input.
type RespondRequest struct {
	SessionID string
	Query     string
	Plan      *Plan
	Result    ExecutionResult
}

// FormattedResponse is the final natural-language payload.
type FormattedResponse struct {
	Explanation string  `json:"explanation"`
	Summary     string  `json:"summary"`
	Methodology string  `json:"methodology"`
	Confidence  float64 `json:"confidence,omitempty"`
}

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
)

const promptRowLimit = 10

const responderSystemPrompt = `You explain SQL query results to a business user.
Respond with a single JSON object:
{"explanation": "<answer in plain language>", "summary": "<one line>", "methodology": "<how the data was obtained>"}
Use the numbers from the results. Do not invent values.`

// LLMResponder formats execution results with a model.
type LLMResponder struct {
	model Completer
}

// NewLLMResponder returns a responder.
func NewLLMResponder(model Completer) *LLMResponder {
	return &LLMResponder{model: model}
}

// Respond implements orchestrator.Responder.
func (r *LLMResponder) Respond(ctx context.Context, req orchestrator.RespondRequest) (*orchestrator.FormattedResponse, error) {
	var confidence float64
	if req.Plan != nil {
		confidence = req.Plan.Confidence
	}
	if len(req.Result.Rows) == 0 {
		return &orchestrator.FormattedResponse{
			Explanation: fmt.Sprintf("I searched for data related to '%s', but no results were found.", req.Query),
			Summary:     "No results found",
			Methodology: "The query executed successfully but returned no matching records. " +
				"The filtering criteria may be too restrictive or the requested data may not exist.",
			Confidence: confidence,
		}, nil
	}

	raw, err := r.model.Complete(ctx, responderSystemPrompt, r.prompt(req))
	if err != nil {
		return nil, modelError(orchestrator.CollaboratorResponder, err)
	}

	out := &orchestrator.FormattedResponse{Confidence: confidence}
	if body, ok := llm.ExtractJSON(raw); ok && json.Unmarshal([]byte(body), out) == nil && out.Explanation != "" {
		if out.Summary == "" {
			out.Summary = resultSummary(req.Result)
		}
		if out.Methodology == "" {
			out.Methodology = Methodology(req.Result.SQL)
		}
		out.Confidence = confidence
		return out, nil
	}

	// Plain prose is still a usable explanation.
	text := llm.StripFences(raw)
	if text == "" {
		return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorResponder, CodeParseError,
			"responder returned no text", nil)
	}
	return &orchestrator.FormattedResponse{
		Explanation: text,
		Summary:     resultSummary(req.Result),
		Methodology: Methodology(req.Result.SQL),
		Confidence:  confidence,
	}, nil
}

func (r *LLMResponder) prompt(req orchestrator.RespondRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", req.Query)
	if req.Plan != nil {
		fmt.Fprintf(&b, "PLAN: %s\n\n", req.Plan.Summary())
	}
	if req.Result.SQL != "" {
		fmt.Fprintf(&b, "SQL:\n%s\n\n", req.Result.SQL)
	}
	rows := req.Result.Rows
	if len(rows) > promptRowLimit {
		rows = rows[:promptRowLimit]
	}
	data, _ := json.Marshal(rows)
	fmt.Fprintf(&b, "RESULTS (first %d of %d rows):\n%s\n", len(rows), req.Result.Metadata.RowCount, data)
	if req.Result.Metadata.Truncated {
		b.WriteString("The result set was truncated.\n")
	}
	return b.String()
}

func resultSummary(res orchestrator.ExecutionResult) string {
	n := res.Metadata.RowCount
	if n == 0 {
		n = len(res.Rows)
	}
	switch n {
	case 0:
		return "No results found"
	case 1:
		return "1 result found"
	default:
		return fmt.Sprintf("%d results found", n)
	}
}

// Methodology describes what a SQL statement does in one sentence.
func Methodology(query string) string {
	upper := strings.ToUpper(query)
	var ops []string
	if strings.Contains(upper, "JOIN") {
		ops = append(ops, "joined multiple tables")
	}
	if strings.Contains(upper, "GROUP BY") {
		ops = append(ops, "grouped data")
	}
	if strings.Contains(upper, "SUM(") || strings.Contains(upper, "COUNT(") || strings.Contains(upper, "AVG(") {
		ops = append(ops, "calculated aggregations")
	}
	if strings.Contains(upper, "WHERE") {
		ops = append(ops, "filtered data")
	}
	if strings.Contains(upper, "ORDER BY") {
		ops = append(ops, "sorted results")
	}
	if strings.Contains(upper, "LIMIT") {
		ops = append(ops, "limited output")
	}
	if len(ops) == 0 {
		return "Queried the database for the requested information."
	}
	return "Analysis " + strings.Join(ops, ", ") + "."
}

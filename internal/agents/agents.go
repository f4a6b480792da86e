// Package agents provides the model-backed collaborators the orchestrator
// dispatches to: a planner, a SQL executor, a responder and a clarifier.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// Reason codes reported in orchestrator.CollaboratorError.
const (
	CodeLLMError            = "llm_error"
	CodeParseError          = "parse_error"
	CodeSQLGenerationFailed = "sql_generation_failed"
	CodeUnsafeSQL           = "unsafe_sql"
	CodeQueryFailed         = "query_failed"
)

// Completer sends a prompt to a model. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// modelError wraps a failed model call. Deadline and cancellation errors are
// left for the dispatcher to classify.
func modelError(collaborator string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	e := orchestrator.NewCollaboratorError(collaborator, CodeLLMError, "model call failed", err)
	e.Recoverable = true
	return e
}

func renderHistory(history []orchestrator.ClarificationExchange, current string) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nCONVERSATION HISTORY:\n")
	for _, ex := range history {
		fmt.Fprintf(&b, "Round %d:\n", ex.Round)
		fmt.Fprintf(&b, "  User asked: %q\n", ex.Query)
		if ex.Question != "" {
			fmt.Fprintf(&b, "  System asked: %q\n", ex.Question)
		}
		if ex.Answer != "" {
			fmt.Fprintf(&b, "  User clarified: %q\n", ex.Answer)
		}
	}
	fmt.Fprintf(&b, "\nCurrent user input: %q\n", current)
	b.WriteString("Merge the history above into one complete statement of what the user wants.\n")
	return b.String()
}

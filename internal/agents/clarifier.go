package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
)

const clarifierSystemPrompt = `You help a user refine a question about their data.
Ask exactly one short, specific clarification question. Return only the question.`

// LLMClarifier phrases clarification questions with a model.
type LLMClarifier struct {
	model Completer
}

// NewLLMClarifier returns a clarifier.
func NewLLMClarifier(model Completer) *LLMClarifier {
	return &LLMClarifier{model: model}
}

// Clarify implements orchestrator.Clarifier.
func (c *LLMClarifier) Clarify(ctx context.Context, req orchestrator.ClarifyRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "USER QUESTION: %s\n", req.Query)
	if req.Ambiguity != "" {
		fmt.Fprintf(&b, "AMBIGUITY: %s\n", req.Ambiguity)
	}
	b.WriteString(renderHistory(req.History, req.Query))

	raw, err := c.model.Complete(ctx, clarifierSystemPrompt, b.String())
	if err != nil {
		return "", modelError(orchestrator.CollaboratorClarifier, err)
	}
	question := strings.Trim(llm.StripFences(raw), "\" \n")
	if question == "" {
		return "", orchestrator.NewCollaboratorError(orchestrator.CollaboratorClarifier, CodeParseError,
			"clarifier returned no question", nil)
	}
	return question, nil
}

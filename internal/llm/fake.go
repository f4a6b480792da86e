package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// FakeModel is a scripted llms.Model for tests and offline runs. Responses
// are returned in order; the last one repeats once the script runs out.
type FakeModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

// NewFakeModel returns a model that answers with responses in order.
func NewFakeModel(responses ...string) *FakeModel {
	return &FakeModel{responses: responses}
}

// FailNext makes the next call return err before consuming a response.
func (f *FakeModel) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

// Prompts returns every prompt received, system and user text joined.
func (f *FakeModel) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// GenerateContent implements llms.Model.
func (f *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				b.WriteString(text.Text)
				b.WriteString("\n")
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, b.String())
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("fake model has no responses")
	}
	out := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

// Call implements llms.Model.
func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

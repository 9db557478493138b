package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentChatClient streams completions through the openai-agents-go runner.
// Conversation history is flattened into the single run input.
type AgentChatClient struct {
	provider agents.ModelProvider
	model    string
}

// NewAgentChatClient creates an agent-backed client over an OpenAI-compatible
// chat completions endpoint.
func NewAgentChatClient(apiKey, baseURL, model string) *AgentChatClient {
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(baseURL),
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(false),
	})
	return &AgentChatClient{provider: provider, model: model}
}

// Chat streams a completion from the provider.
func (a *AgentChatClient) Chat(ctx context.Context, req ChatRequest, onToken TokenCallback) (*LLMResult, error) {
	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	settings := modelsettings.ModelSettings{}
	if req.MaxTokens > 0 {
		settings.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	agent := agents.New("advisor").
		WithInstructions(req.SystemPrompt).
		WithModel(model).
		WithModelSettings(settings)

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, flattenHistory(req.History, req.Message))
	if err != nil {
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	var textBuf strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onToken != nil {
			onToken(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}

	res := &LLMResult{
		Text:      textBuf.String(),
		Model:     model,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}
	if !ttft.IsZero() {
		res.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return res, nil
}

// flattenHistory renders prior turns as a transcript ahead of the new message.
func flattenHistory(history []Message, message string) string {
	if len(history) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	b.WriteString("\nUser: ")
	b.WriteString(message)
	return b.String()
}

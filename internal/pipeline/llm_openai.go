package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// GroqDefaultModel is the chat model used for advisor replies.
const GroqDefaultModel = "llama-3.3-70b-versatile"

// OpenAIChatClient talks to any OpenAI-compatible chat completions API
// (Groq, OpenAI) through the openai-go SDK.
type OpenAIChatClient struct {
	client openai.Client
	model  string
}

// NewOpenAIChatClient creates a chat client for baseURL. An empty baseURL
// uses the SDK default (api.openai.com).
func NewOpenAIChatClient(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIChatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIChatClient{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAIChatClient) Chat(ctx context.Context, req ChatRequest, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: chatMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	text := ""
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}
	if onToken != nil && text != "" {
		onToken(text)
	}

	latency := float64(time.Since(start).Milliseconds())
	return &LLMResult{
		Text:               text,
		Model:              model,
		InputTokens:        completion.Usage.PromptTokens,
		OutputTokens:       completion.Usage.CompletionTokens,
		LatencyMs:          latency,
		TimeToFirstTokenMs: latency,
	}, nil
}

func chatMessages(req ChatRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return append(msgs, openai.UserMessage(req.Message))
}

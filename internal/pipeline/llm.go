package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/prompts"
)

// MaxMessageChars bounds a single user message.
const MaxMessageChars = 10000

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message is too long, please keep messages under 10,000 characters")
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is everything a backend needs to produce one completion.
type ChatRequest struct {
	SystemPrompt string
	History      []Message
	Message      string
	Model        string
	MaxTokens    int
}

// LLMChatClient produces a chat completion for a request.
type LLMChatClient interface {
	Chat(ctx context.Context, req ChatRequest, onToken TokenCallback) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing and usage.
type LLMResult struct {
	Text               string  `json:"text"`
	Model              string  `json:"model"`
	InputTokens        int64   `json:"input_tokens"`
	OutputTokens       int64   `json:"output_tokens"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
}

// TokenCallback is called for each streamed token.
type TokenCallback func(token string)

// LLMRouter dispatches to the correct LLM backend based on engine name.
type LLMRouter struct {
	*Router[LLMChatClient]
}

// NewLLMRouter creates a router with registered LLM backends and a fallback default.
func NewLLMRouter(backends map[string]LLMChatClient, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Chat routes to the correct backend and records latency.
func (r *LLMRouter) Chat(ctx context.Context, engine string, req ChatRequest, onToken TokenCallback) (*LLMResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := backend.Chat(ctx, req, onToken)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "chat").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return res, nil
}

// ChatService answers advisor questions: it validates input, applies the
// system prompt and substitutes an apology for empty completions.
type ChatService struct {
	router       *LLMRouter
	engine       string
	systemPrompt string
	maxTokens    int
}

// NewChatService creates a chat service that routes to engine.
func NewChatService(router *LLMRouter, engine, systemPrompt string, maxTokens int) *ChatService {
	return &ChatService{
		router:       router,
		engine:       engine,
		systemPrompt: prompts.ForSession(systemPrompt),
		maxTokens:    maxTokens,
	}
}

// Reply generates the assistant's answer to message given prior history.
func (s *ChatService) Reply(ctx context.Context, message string, history []Message) (*LLMResult, error) {
	if err := ValidateMessage(message); err != nil {
		return nil, err
	}
	res, err := s.router.Chat(ctx, s.engine, ChatRequest{
		SystemPrompt: s.systemPrompt,
		History:      history,
		Message:      message,
		MaxTokens:    s.maxTokens,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	if strings.TrimSpace(res.Text) == "" {
		res.Text = prompts.Apology
	}
	return res, nil
}

// Engine reports the configured chat engine.
func (s *ChatService) Engine() string { return s.engine }

// ValidateMessage rejects empty and oversized user messages.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > MaxMessageChars {
		return ErrMessageTooLong
	}
	return nil
}

package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/analytics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/auth"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/pipeline"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Chatter produces the advisor's reply to a message.
type Chatter interface {
	Reply(ctx context.Context, message string, history []pipeline.Message) (*pipeline.LLMResult, error)
}

// HandlerConfig holds the shared backends for all browser sessions.
type HandlerConfig struct {
	Chat      Chatter
	Generator playback.Generator
	Profiles  [2]pipeline.Profile
	Gate      *auth.Gate
	Limiter   ratelimit.Limiter
	Recorder  *analytics.Recorder
	Pricing   analytics.Pricing

	MaxConcurrent int
	MaxHistory    int

	Pause          time.Duration
	WordsPerSecond float64
	Overhead       time.Duration

	Logger *slog.Logger
}

// Handler manages WebSocket chat sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
	log *slog.Logger
}

// NewHandler creates a WebSocket handler with shared backends and concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 40
	}
	if cfg.Gate == nil {
		cfg.Gate = auth.NewGate("", "")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
		log: log.With("component", "ws"),
	}
}

// ServeHTTP upgrades the connection and runs the session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		metrics.Errors.WithLabelValues("ws", "capacity").Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	ip := ratelimit.ClientKey(r)
	ctx, cancel := context.WithCancel(analytics.WithClientIP(context.Background(), ip))
	defer cancel()

	s := newSession(ctx, h, conn, uuid.NewString(), ip)
	s.log.Info("session started")
	s.run()
	s.close()
	s.log.Info("session ended")
}

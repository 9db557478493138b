package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/analytics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/auth"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/media"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/pipeline"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/ratelimit"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/scheduler"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/upstream"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/ws"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, activeCfg)
		},
	}
}

func serve(ctx context.Context, cfg Config) error {
	a, err := buildApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := scheduler.Jobs{
		Media:     a.media,
		Cache:     a.videoCache,
		Analytics: a.analytics,
		Retention: cfg.Analytics.Retention,
	}
	if a.memLimiter != nil {
		jobs.Limiter = a.memLimiter
	}
	sched, err := scheduler.New(jobs, slog.Default())
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	registerRoutes(mux, a)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", "addr", cfg.Server.ListenAddr, "max_sessions", cfg.Server.MaxSessions,
			"chat_engine", cfg.Chat.Engine, "video_mode", cfg.Video.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
	slog.Info("gateway stopped")
	return nil
}

// app holds the gateway's long-lived collaborators.
type app struct {
	cfg Config
	log *slog.Logger

	chat       *pipeline.ChatService
	llm        *pipeline.LLMRouter
	tts        *pipeline.TTSRouter
	avatarTalk *pipeline.AvatarTalkClient
	wav2lip    *pipeline.Wav2LipClient
	sadTalker  *pipeline.SadTalkerClient
	videoCache *pipeline.VideoCache
	profiles   [2]pipeline.Profile
	renderer   *pipeline.SegmentRenderer

	media      *media.Store
	gate       *auth.Gate
	limiter    ratelimit.Limiter
	memLimiter *ratelimit.Memory
	store      analytics.Store
	analytics  *analytics.Service
	recorder   *analytics.Recorder
	pricing    analytics.Pricing
	providers  *upstream.Checker
	ws         http.Handler

	closers []func()
}

func buildApp(ctx context.Context, cfg Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, pricing: analytics.DefaultPricing()}

	httpClient := pipeline.NewPooledHTTPClient(cfg.Server.PoolSize, 2*time.Minute)
	videoClient := pipeline.NewPooledHTTPClient(cfg.Server.PoolSize, cfg.Video.Timeout)

	llmBackends := map[string]pipeline.LLMChatClient{}
	if cfg.Chat.GroqAPIKey != "" {
		llmBackends["groq"] = pipeline.NewOpenAIChatClient(cfg.Chat.GroqAPIKey, pipeline.GroqBaseURL, cfg.Chat.GroqModel, httpClient)
		llmBackends["agent"] = pipeline.NewAgentChatClient(cfg.Chat.GroqAPIKey, pipeline.GroqBaseURL, cfg.Chat.GroqModel)
	}
	if cfg.Chat.OpenAIAPIKey != "" {
		llmBackends["openai"] = pipeline.NewOpenAIChatClient(cfg.Chat.OpenAIAPIKey, cfg.Chat.OpenAIBaseURL, cfg.Chat.OpenAIModel, httpClient)
	}
	if len(llmBackends) == 0 {
		log.Warn("no chat API key configured; chat requests will fail")
	}
	a.llm = pipeline.NewLLMRouter(llmBackends, cfg.Chat.Engine)
	a.chat = pipeline.NewChatService(a.llm, cfg.Chat.Engine, cfg.Chat.SystemPrompt, cfg.Chat.MaxTokens)

	a.profiles = pipeline.DefaultProfiles()
	a.profiles[playback.Primary].PortraitPath = cfg.Video.PrimaryPortrait
	a.profiles[playback.Support].PortraitPath = cfg.Video.SupportPortrait
	a.profiles[playback.Primary].ElevenLabsVoice = cfg.TTS.ElevenLabsPrimaryVoice
	a.profiles[playback.Support].ElevenLabsVoice = cfg.TTS.ElevenLabsSupportVoice
	for i := range a.profiles {
		if err := a.profiles[i].LoadPortrait(); err != nil {
			return nil, err
		}
	}

	ttsBackends := map[string]pipeline.TTSSynthesizer{}
	if cfg.TTS.OpenAIAPIKey != "" {
		ttsBackends["openai"] = pipeline.NewOpenAISynthesizer(cfg.TTS.OpenAIAPIKey, cfg.TTS.OpenAIBaseURL, "nova", httpClient)
	}
	if cfg.TTS.ElevenLabsAPIKey != "" {
		ttsBackends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer("", cfg.TTS.ElevenLabsAPIKey, cfg.TTS.ElevenLabsVoiceID,
			cfg.TTS.ElevenLabsModelID, pipeline.ElevenLabsVoices(a.profiles), httpClient)
	}
	a.tts = pipeline.NewTTSRouter(ttsBackends, cfg.TTS.Engine)

	a.videoCache = pipeline.NewVideoCache(cfg.Video.CacheTTL)
	a.avatarTalk = pipeline.NewAvatarTalkClient(cfg.Video.AvatarTalkURL, cfg.Video.AvatarTalkAPIKey, videoClient)
	a.wav2lip = pipeline.NewWav2LipClient(cfg.Video.Wav2LipURL, cfg.Video.Wav2LipFPS, videoClient)
	a.sadTalker = pipeline.NewSadTalkerClient(cfg.Video.ReplicateURL, cfg.Video.ReplicateToken, cfg.Video.PollInterval, a.videoCache, videoClient)

	a.media = media.NewStore("/media/")
	a.renderer = pipeline.NewSegmentRenderer(pipeline.RendererConfig{
		Mode:       pipeline.RenderMode(cfg.Video.Mode),
		TTS:        a.tts,
		TTSEngine:  cfg.TTS.Engine,
		AvatarTalk: a.avatarTalk,
		Wav2Lip:    a.wav2lip,
		SadTalker:  a.sadTalker,
		Store:      a.media,
		Profiles:   a.profiles,
		MediaTTL:   cfg.Playback.MediaTTL,
		Logger:     log,
	})

	a.gate = auth.NewGate(cfg.Auth.AccessCode, cfg.Auth.AdminPassword)
	if cfg.Auth.AdminPassword == "" {
		log.Warn("no admin password configured; analytics endpoints are locked")
	}

	if err := a.openLimiter(ctx); err != nil {
		return nil, err
	}
	if err := a.openAnalytics(); err != nil {
		a.Close()
		return nil, err
	}
	a.renderer.OnUsage = a.recordUsage

	a.providers = upstream.NewChecker(upstream.NewRegistry(map[string]upstream.ProviderMeta{
		"groq":       {Category: "llm", HealthURL: pipeline.GroqBaseURL + "/models", Token: cfg.Chat.GroqAPIKey, Enabled: cfg.Chat.GroqAPIKey != ""},
		"openai":     {Category: "llm", HealthURL: cfg.Chat.OpenAIBaseURL + "/models", Token: cfg.Chat.OpenAIAPIKey, Enabled: cfg.Chat.OpenAIAPIKey != ""},
		"avatartalk": {Category: "video", Enabled: a.avatarTalk.Configured()},
		"wav2lip":    {Category: "video", HealthURL: cfg.Video.Wav2LipURL + "/health", Enabled: cfg.Video.Wav2LipURL != ""},
		"replicate":  {Category: "video", Enabled: a.sadTalker.Configured()},
	}), nil)

	a.ws = ws.NewHandler(ws.HandlerConfig{
		Chat:           a.chat,
		Generator:      a.renderer,
		Profiles:       a.profiles,
		Gate:           a.gate,
		Limiter:        a.limiter,
		Recorder:       a.recorder,
		Pricing:        a.pricing,
		MaxConcurrent:  cfg.Server.MaxSessions,
		MaxHistory:     cfg.Chat.MaxHistory,
		Pause:          cfg.Playback.Pause,
		WordsPerSecond: cfg.Playback.WordsPerSecond,
		Overhead:       cfg.Playback.Overhead,
		Logger:         log,
	})
	return a, nil
}

func (a *app) openLimiter(ctx context.Context) error {
	rl := a.cfg.RateLimit
	if rl.RedisURL != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, rl.RedisURL)
		if err == nil {
			a.limiter = ratelimit.NewRedis(rdb, rl.Limit, rl.Window, a.log)
			a.closers = append(a.closers, func() { rdb.Close() })
			a.log.Info("rate limiter using redis")
			return nil
		}
		a.log.Warn("redis unavailable, using in-memory rate limiter", "error", err)
	}
	a.memLimiter = ratelimit.NewMemory(rl.Limit, rl.Window)
	a.limiter = a.memLimiter
	return nil
}

func (a *app) openAnalytics() error {
	var store analytics.Store = analytics.NewMemoryStore()
	if a.cfg.Analytics.Driver != "memory" {
		s, err := openStore(a.cfg.Analytics)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		store = s
	}
	a.store = store
	a.analytics = analytics.NewService(store)
	a.recorder = analytics.NewRecorder(store, a.log)
	a.closers = append(a.closers, a.recorder.Close, func() { store.Close() })
	a.log.Info("analytics store opened", "driver", a.cfg.Analytics.Driver)
	return nil
}

// recordUsage prices a render-time upstream call for the session that
// requested it.
func (a *app) recordUsage(ctx context.Context, u pipeline.Usage) {
	ip := analytics.ClientIP(ctx)
	switch u.Kind {
	case "tts":
		a.recorder.Record(a.pricing.TTSRecord(ip, u.Model, int64(u.Characters), u.Duration))
	case "video":
		a.recorder.Record(a.pricing.VideoRecord(ip, u.Model, u.Cached, u.Duration))
	}
}

// Close releases stores and connections in order.
func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}

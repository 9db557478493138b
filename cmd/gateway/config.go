package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/analytics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/auth"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/pipeline"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/ratelimit"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Chat      ChatConfig      `mapstructure:"chat"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Video     VideoConfig     `mapstructure:"video"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MaxSessions int    `mapstructure:"max_sessions"`
	PoolSize    int    `mapstructure:"pool_size"`
}

type ChatConfig struct {
	Engine        string `mapstructure:"engine"`
	GroqAPIKey    string `mapstructure:"groq_api_key"`
	GroqModel     string `mapstructure:"groq_model"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIModel   string `mapstructure:"openai_model"`
	SystemPrompt  string `mapstructure:"system_prompt"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	MaxHistory    int    `mapstructure:"max_history"`
}

type TTSConfig struct {
	Engine            string `mapstructure:"engine"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIBaseURL     string `mapstructure:"openai_base_url"`
	ElevenLabsAPIKey  string `mapstructure:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `mapstructure:"elevenlabs_voice_id"`
	ElevenLabsModelID string `mapstructure:"elevenlabs_model_id"`

	ElevenLabsPrimaryVoice string `mapstructure:"elevenlabs_primary_voice"`
	ElevenLabsSupportVoice string `mapstructure:"elevenlabs_support_voice"`
}

type VideoConfig struct {
	Mode             string        `mapstructure:"mode"`
	AvatarTalkURL    string        `mapstructure:"avatartalk_url"`
	AvatarTalkAPIKey string        `mapstructure:"avatartalk_api_key"`
	Wav2LipURL       string        `mapstructure:"wav2lip_url"`
	Wav2LipFPS       int           `mapstructure:"wav2lip_fps"`
	ReplicateURL     string        `mapstructure:"replicate_url"`
	ReplicateToken   string        `mapstructure:"replicate_token"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	PrimaryPortrait  string        `mapstructure:"primary_portrait"`
	SupportPortrait  string        `mapstructure:"support_portrait"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type PlaybackConfig struct {
	Pause          time.Duration `mapstructure:"pause"`
	WordsPerSecond float64       `mapstructure:"words_per_second"`
	Overhead       time.Duration `mapstructure:"overhead"`
	MediaTTL       time.Duration `mapstructure:"media_ttl"`
}

type AuthConfig struct {
	AccessCode    string `mapstructure:"access_code"`
	AdminPassword string `mapstructure:"admin_password"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Window   time.Duration `mapstructure:"window"`
	RedisURL string        `mapstructure:"redis_url"`
}

type AnalyticsConfig struct {
	Driver      string        `mapstructure:"driver"`
	DatabaseURL string        `mapstructure:"database_url"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	Retention   time.Duration `mapstructure:"retention"`
}

func DefaultConfig() Config {
	profiles := pipeline.DefaultProfiles()
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:  ":5000",
			MaxSessions: 100,
			PoolSize:    50,
		},
		Chat: ChatConfig{
			Engine:        "groq",
			GroqModel:     pipeline.GroqDefaultModel,
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "gpt-4o-mini",
			MaxTokens:     8192,
			MaxHistory:    40,
		},
		TTS: TTSConfig{
			Engine:            "openai",
			OpenAIBaseURL:     "https://api.openai.com/v1",
			ElevenLabsVoiceID: "21m00Tcm4TlvDq8ikWAM",
			ElevenLabsModelID: "eleven_turbo_v2_5",

			ElevenLabsPrimaryVoice: profiles[playback.Primary].ElevenLabsVoice,
			ElevenLabsSupportVoice: profiles[playback.Support].ElevenLabsVoice,
		},
		Video: VideoConfig{
			Mode:          string(pipeline.ModeAudio),
			AvatarTalkURL: pipeline.AvatarTalkBaseURL,
			Wav2LipURL:    "http://localhost:5001",
			Wav2LipFPS:    25,
			ReplicateURL:  pipeline.ReplicateBaseURL,
			PollInterval:  time.Second,
			CacheTTL:      24 * time.Hour,
			Timeout:       5 * time.Minute,
		},
		Playback: PlaybackConfig{
			Pause:          playback.DefaultPause,
			WordsPerSecond: playback.DefaultWordsPerSecond,
			Overhead:       playback.DefaultOverhead,
			MediaTTL:       10 * time.Minute,
		},
		Auth: AuthConfig{
			AccessCode: auth.DefaultAccessCode,
		},
		RateLimit: RateLimitConfig{
			Limit:  ratelimit.DefaultLimit,
			Window: ratelimit.DefaultWindow,
		},
		Analytics: AnalyticsConfig{
			Driver:     "memory",
			SQLitePath: "advisor-analytics.db",
			Retention:  analytics.DefaultRetention,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.String("chat-engine", defaults.Chat.Engine, "Chat engine (groq|openai|agent)")
	fs.String("tts-engine", defaults.TTS.Engine, "TTS engine (openai|elevenlabs)")
	fs.String("video-mode", defaults.Video.Mode, "Segment render mode (audio|wav2lip|avatartalk|sadtalker)")
	fs.String("analytics-driver", defaults.Analytics.Driver, "Analytics store (memory|postgres|sqlite)")
}

var flagKeys = map[string]string{
	"log-level":        "log_level",
	"listen-addr":      "server.listen_addr",
	"chat-engine":      "chat.engine",
	"tts-engine":       "tts.engine",
	"video-mode":       "video.mode",
	"analytics-driver": "analytics.driver",
}

// legacyEnv maps config keys to the unprefixed variable names deployments
// already use.
var legacyEnv = map[string][]string{
	"server.listen_addr":       {"PORT"},
	"chat.groq_api_key":        {"GROQ_API_KEY"},
	"chat.openai_api_key":      {"OPENAI_API_KEY"},
	"tts.openai_api_key":       {"OPENAI_API_KEY"},
	"tts.elevenlabs_api_key":   {"ELEVENLABS_API_KEY"},
	"video.avatartalk_api_key": {"AVATARTALK_API_KEY"},
	"video.replicate_token":    {"REPLICATE_API_TOKEN"},
	"video.wav2lip_url":        {"WAV2LIP_SERVICE_URL"},
	"auth.access_code":         {"ACCESS_CODE"},
	"auth.admin_password":      {"ADMIN_PASSWORD"},
	"rate_limit.redis_url":     {"REDIS_URL"},
	"analytics.database_url":   {"DATABASE_URL"},
}

type LoadOptions struct {
	Flags      *pflag.FlagSet
	ConfigFile string
	Defaults   Config
}

func LoadConfig(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for key, names := range legacyEnv {
		prefixed := "ADVISOR_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("advisor")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Server.ListenAddr != "" && !strings.Contains(cfg.Server.ListenAddr, ":") {
		cfg.Server.ListenAddr = ":" + cfg.Server.ListenAddr
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the gateway cannot start with.
func (c Config) Validate() error {
	if _, err := pipeline.ParseRenderMode(c.Video.Mode); err != nil {
		return err
	}
	switch c.Analytics.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Analytics.DatabaseURL == "" {
			return errors.New("analytics driver postgres needs analytics.database_url")
		}
	default:
		return fmt.Errorf("unknown analytics driver %q", c.Analytics.Driver)
	}
	if c.RateLimit.Limit < 0 {
		return errors.New("rate_limit.limit must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_sessions", c.Server.MaxSessions)
	v.SetDefault("server.pool_size", c.Server.PoolSize)
	v.SetDefault("chat.engine", c.Chat.Engine)
	v.SetDefault("chat.groq_api_key", c.Chat.GroqAPIKey)
	v.SetDefault("chat.groq_model", c.Chat.GroqModel)
	v.SetDefault("chat.openai_api_key", c.Chat.OpenAIAPIKey)
	v.SetDefault("chat.openai_base_url", c.Chat.OpenAIBaseURL)
	v.SetDefault("chat.openai_model", c.Chat.OpenAIModel)
	v.SetDefault("chat.system_prompt", c.Chat.SystemPrompt)
	v.SetDefault("chat.max_tokens", c.Chat.MaxTokens)
	v.SetDefault("chat.max_history", c.Chat.MaxHistory)
	v.SetDefault("tts.engine", c.TTS.Engine)
	v.SetDefault("tts.openai_api_key", c.TTS.OpenAIAPIKey)
	v.SetDefault("tts.openai_base_url", c.TTS.OpenAIBaseURL)
	v.SetDefault("tts.elevenlabs_api_key", c.TTS.ElevenLabsAPIKey)
	v.SetDefault("tts.elevenlabs_voice_id", c.TTS.ElevenLabsVoiceID)
	v.SetDefault("tts.elevenlabs_model_id", c.TTS.ElevenLabsModelID)
	v.SetDefault("tts.elevenlabs_primary_voice", c.TTS.ElevenLabsPrimaryVoice)
	v.SetDefault("tts.elevenlabs_support_voice", c.TTS.ElevenLabsSupportVoice)
	v.SetDefault("video.mode", c.Video.Mode)
	v.SetDefault("video.avatartalk_url", c.Video.AvatarTalkURL)
	v.SetDefault("video.avatartalk_api_key", c.Video.AvatarTalkAPIKey)
	v.SetDefault("video.wav2lip_url", c.Video.Wav2LipURL)
	v.SetDefault("video.wav2lip_fps", c.Video.Wav2LipFPS)
	v.SetDefault("video.replicate_url", c.Video.ReplicateURL)
	v.SetDefault("video.replicate_token", c.Video.ReplicateToken)
	v.SetDefault("video.poll_interval", c.Video.PollInterval)
	v.SetDefault("video.cache_ttl", c.Video.CacheTTL)
	v.SetDefault("video.primary_portrait", c.Video.PrimaryPortrait)
	v.SetDefault("video.support_portrait", c.Video.SupportPortrait)
	v.SetDefault("video.timeout", c.Video.Timeout)
	v.SetDefault("playback.pause", c.Playback.Pause)
	v.SetDefault("playback.words_per_second", c.Playback.WordsPerSecond)
	v.SetDefault("playback.overhead", c.Playback.Overhead)
	v.SetDefault("playback.media_ttl", c.Playback.MediaTTL)
	v.SetDefault("auth.access_code", c.Auth.AccessCode)
	v.SetDefault("auth.admin_password", c.Auth.AdminPassword)
	v.SetDefault("rate_limit.limit", c.RateLimit.Limit)
	v.SetDefault("rate_limit.window", c.RateLimit.Window)
	v.SetDefault("rate_limit.redis_url", c.RateLimit.RedisURL)
	v.SetDefault("analytics.driver", c.Analytics.Driver)
	v.SetDefault("analytics.database_url", c.Analytics.DatabaseURL)
	v.SetDefault("analytics.sqlite_path", c.Analytics.SQLitePath)
	v.SetDefault("analytics.retention", c.Analytics.Retention)
}

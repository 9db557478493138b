package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

// MaxTTSChars is the longest input the speech endpoint accepts.
const MaxTTSChars = 4096

// Voices lists the OpenAI speech voices.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

var ErrInvalidTTS = errors.New("invalid tts request")

// TTSOptions holds per-call TTS tuning parameters.
type TTSOptions struct {
	Speed float64
	Voice string
}

// TTSSynthesizer produces audio from text.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
}

// TTSResult holds synthesized audio with timing.
type TTSResult struct {
	Audio       []byte  `json:"-"`
	ContentType string  `json:"content_type"`
	Characters  int     `json:"characters"`
	LatencyMs   float64 `json:"latency_ms"`
}

// TTSRouter dispatches to the correct TTS backend based on engine name.
// Wraps the generic Router with a TTS-specific Synthesize method that adds timing/metrics.
type TTSRouter struct {
	*Router[TTSSynthesizer]
}

// NewTTSRouter creates a router with registered TTS backends and a fallback default.
func NewTTSRouter(backends map[string]TTSSynthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes to the correct backend, synthesizes audio, and records latency metrics.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error) {
	start := time.Now()

	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}

	audioData, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &TTSResult{
		Audio:       audioData,
		ContentType: "audio/mpeg",
		Characters:  utf8.RuneCountInString(text),
		LatencyMs:   float64(latency.Milliseconds()),
	}, nil
}

// ValidateTTS checks text length, voice and speed against the speech API limits.
func ValidateTTS(text, voice string, speed float64) error {
	n := utf8.RuneCountInString(text)
	if n == 0 || n > MaxTTSChars {
		return fmt.Errorf("%w: text must be 1-%d characters", ErrInvalidTTS, MaxTTSChars)
	}
	if voice != "" && !slices.Contains(Voices, voice) {
		return fmt.Errorf("%w: unknown voice %q", ErrInvalidTTS, voice)
	}
	if speed != 0 && (speed < 0.25 || speed > 4.0) {
		return fmt.Errorf("%w: speed must be between 0.25 and 4.0", ErrInvalidTTS)
	}
	return nil
}

// --- OpenAI backend (tts-1 via the openai-go SDK, returns MP3) ---

type openaiSynthesizer struct {
	client openai.Client
	voice  string
}

// NewOpenAISynthesizer creates an OpenAI speech backend. An empty baseURL uses
// the SDK default.
func NewOpenAISynthesizer(apiKey, baseURL, voice string, httpClient *http.Client) TTSSynthesizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &openaiSynthesizer{client: openai.NewClient(opts...), voice: voice}
}

func (o *openaiSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voice := o.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}

	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(speed),
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// --- ElevenLabs backend (cloud API, returns MP3 via api.elevenlabs.io) ---

type elevenlabsSynthesizer struct {
	baseURL string
	apiKey  string
	voiceID string
	modelID string
	voices  map[string]string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates an ElevenLabs backend. voices maps OpenAI
// voice names to ElevenLabs voice IDs; a per-call voice that is not an
// OpenAI name is taken as an ElevenLabs ID, and anything else uses voiceID.
func NewElevenLabsSynthesizer(baseURL, apiKey, voiceID, modelID string, voices map[string]string, client *http.Client) TTSSynthesizer {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &elevenlabsSynthesizer{baseURL: baseURL, apiKey: apiKey, voiceID: voiceID, modelID: modelID, voices: voices, client: client}
}

func (e *elevenlabsSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voiceID := e.voiceID
	if id, ok := e.voices[opts.Voice]; ok {
		voiceID = id
	} else if opts.Voice != "" && !slices.Contains(Voices, opts.Voice) {
		voiceID = opts.Voice
	}
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	return doTTSRequest(e.client, req)
}

// --- shared HTTP helper ---

func doTTSRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, body)
	}

	return io.ReadAll(resp.Body)
}

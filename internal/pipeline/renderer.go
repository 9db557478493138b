package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/media"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
)

// RenderMode selects how a segment becomes media.
type RenderMode string

const (
	ModeAudio      RenderMode = "audio"
	ModeWav2Lip    RenderMode = "wav2lip"
	ModeAvatarTalk RenderMode = "avatartalk"
	ModeSadTalker  RenderMode = "sadtalker"
)

// ParseRenderMode validates a configured mode name.
func ParseRenderMode(s string) (RenderMode, error) {
	switch m := RenderMode(s); m {
	case ModeAudio, ModeWav2Lip, ModeAvatarTalk, ModeSadTalker:
		return m, nil
	}
	return "", fmt.Errorf("unknown render mode %q", s)
}

var ErrEngineUnavailable = errors.New("render engine not configured")

// Usage describes one billable upstream call made while rendering.
type Usage struct {
	Kind       string // "tts" or "video"
	Model      string
	Characters int
	Cached     bool
	Duration   time.Duration
}

// RendererConfig wires a SegmentRenderer.
type RendererConfig struct {
	Mode       RenderMode
	TTS        *TTSRouter
	TTSEngine  string
	AvatarTalk *AvatarTalkClient
	Wav2Lip    *Wav2LipClient
	SadTalker  *SadTalkerClient
	Store      *media.Store
	Profiles   [2]Profile
	MediaTTL   time.Duration
	Logger     *slog.Logger
}

type rendered struct {
	data        []byte
	contentType string
}

type renderCall struct {
	done chan struct{}
	dups int
	res  rendered
	err  error
}

// SegmentRenderer turns segments into media handles for the playback
// orchestrator. Identical requests in flight at the same time share one
// upstream render.
type SegmentRenderer struct {
	cfg RendererConfig
	log *slog.Logger

	// OnUsage, when set, is told about every upstream call. ctx is the
	// context the render was requested on.
	OnUsage func(ctx context.Context, u Usage)

	mu       sync.Mutex
	inflight map[string]*renderCall
}

func NewSegmentRenderer(cfg RendererConfig) *SegmentRenderer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SegmentRenderer{
		cfg:      cfg,
		log:      log.With("component", "renderer", "mode", cfg.Mode),
		inflight: make(map[string]*renderCall),
	}
}

// Mode reports the configured render mode.
func (r *SegmentRenderer) Mode() RenderMode { return r.cfg.Mode }

// Profile returns the persona's profile.
func (r *SegmentRenderer) Profile(p playback.Persona) Profile { return r.cfg.Profiles[p] }

// Generate renders seg for persona and stores it behind a revocable handle.
func (r *SegmentRenderer) Generate(ctx context.Context, seg playback.Segment, persona playback.Persona) (*playback.Artifact, error) {
	res, err := r.renderOnce(ctx, seg.Text, persona)
	if err != nil {
		return nil, err
	}
	h := r.cfg.Store.Put(res.data, res.contentType, r.cfg.MediaTTL)
	store := r.cfg.Store
	return playback.NewArtifact(seg, persona, h.URL, res.contentType, func() { store.Revoke(h.ID) }), nil
}

// renderOnce collapses concurrent identical renders onto the first caller.
func (r *SegmentRenderer) renderOnce(ctx context.Context, text string, persona playback.Persona) (rendered, error) {
	key := fmt.Sprintf("%s|%d|%s", r.cfg.Mode, persona, text)

	r.mu.Lock()
	if c, ok := r.inflight[key]; ok {
		c.dups++
		r.mu.Unlock()
		r.log.Debug("joining in-flight render", "persona", persona)
		select {
		case <-c.done:
			return c.res, c.err
		case <-ctx.Done():
			return rendered{}, ctx.Err()
		}
	}
	c := &renderCall{done: make(chan struct{})}
	r.inflight[key] = c
	r.mu.Unlock()

	c.res, c.err = r.render(ctx, text, persona)

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
	close(c.done)
	return c.res, c.err
}

func (r *SegmentRenderer) render(ctx context.Context, text string, persona playback.Persona) (rendered, error) {
	profile := r.cfg.Profiles[persona]
	switch r.cfg.Mode {
	case ModeAudio:
		audio, err := r.speech(ctx, text, profile)
		if err != nil {
			return rendered{}, err
		}
		return rendered{data: audio.Audio, contentType: audio.ContentType}, nil

	case ModeAvatarTalk:
		if r.cfg.AvatarTalk == nil || !r.cfg.AvatarTalk.Configured() {
			return rendered{}, fmt.Errorf("avatartalk: %w", ErrEngineUnavailable)
		}
		v, err := r.cfg.AvatarTalk.Generate(ctx, AvatarTalkRequest{Text: text, Avatar: profile.Avatar})
		if err != nil {
			return rendered{}, err
		}
		r.usage(ctx, Usage{Kind: "video", Model: "avatartalk", Duration: msDuration(v.LatencyMs)})
		return rendered{data: v.Video, contentType: v.ContentType}, nil

	case ModeWav2Lip:
		if r.cfg.Wav2Lip == nil || len(profile.Portrait) == 0 {
			return rendered{}, fmt.Errorf("wav2lip: %w", ErrEngineUnavailable)
		}
		audio, err := r.speech(ctx, text, profile)
		if err != nil {
			return rendered{}, err
		}
		v, err := r.cfg.Wav2Lip.Generate(ctx, profile.Portrait, audio.Audio)
		if err != nil {
			return rendered{}, err
		}
		r.usage(ctx, Usage{Kind: "video", Model: "wav2lip", Duration: msDuration(v.LatencyMs)})
		return rendered{data: v.Video, contentType: v.ContentType}, nil

	case ModeSadTalker:
		if r.cfg.SadTalker == nil || !r.cfg.SadTalker.Configured() || len(profile.Portrait) == 0 {
			return rendered{}, fmt.Errorf("sadtalker: %w", ErrEngineUnavailable)
		}
		audio, err := r.speech(ctx, text, profile)
		if err != nil {
			return rendered{}, err
		}
		v, err := r.cfg.SadTalker.Generate(ctx, profile.Name, profile.Portrait, profile.PortraitType, audio.Audio, DefaultSadTalkerOptions())
		if err != nil {
			return rendered{}, err
		}
		r.usage(ctx, Usage{Kind: "video", Model: "sadtalker", Cached: v.Cached, Duration: msDuration(v.LatencyMs)})
		data, ct, err := r.cfg.SadTalker.Download(ctx, v.VideoURL)
		if err != nil {
			return rendered{}, err
		}
		return rendered{data: data, contentType: ct}, nil
	}
	return rendered{}, fmt.Errorf("unknown render mode %q", r.cfg.Mode)
}

func (r *SegmentRenderer) speech(ctx context.Context, text string, profile Profile) (*TTSResult, error) {
	if r.cfg.TTS == nil {
		return nil, fmt.Errorf("tts: %w", ErrEngineUnavailable)
	}
	res, err := r.cfg.TTS.Synthesize(ctx, text, r.cfg.TTSEngine, TTSOptions{Voice: profile.Voice, Speed: 1.0})
	if err != nil {
		return nil, err
	}
	r.usage(ctx, Usage{Kind: "tts", Model: "tts-1", Characters: res.Characters, Duration: msDuration(res.LatencyMs)})
	return res, nil
}

func (r *SegmentRenderer) usage(ctx context.Context, u Usage) {
	if r.OnUsage != nil {
		r.OnUsage(ctx, u)
	}
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

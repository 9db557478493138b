package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/media"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
)

type slowSynth struct {
	calls   atomic.Int32
	release chan struct{}
	voices  sync.Map
	err     error
}

func (s *slowSynth) SynthesizeAudio(_ context.Context, text string, opts TTSOptions) ([]byte, error) {
	s.calls.Add(1)
	s.voices.Store(text, opts.Voice)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("audio:" + text), nil
}

func newAudioRenderer(synth TTSSynthesizer, store *media.Store) *SegmentRenderer {
	return NewSegmentRenderer(RendererConfig{
		Mode:      ModeAudio,
		TTS:       NewTTSRouter(map[string]TTSSynthesizer{"openai": synth}, "openai"),
		TTSEngine: "openai",
		Store:     store,
		Profiles:  DefaultProfiles(),
	})
}

func TestRendererAudioMode(t *testing.T) {
	store := media.NewStore("/media/")
	synth := &slowSynth{}
	r := newAudioRenderer(synth, store)

	var usage []Usage
	r.OnUsage = func(_ context.Context, u Usage) { usage = append(usage, u) }

	seg := playback.Segment{Index: 1, Text: "Second paragraph."}
	a, err := r.Generate(context.Background(), seg, playback.Support)
	require.NoError(t, err)
	assert.Equal(t, playback.Support, a.Persona)
	assert.Equal(t, "audio/mpeg", a.ContentType)
	assert.Equal(t, 1, store.Len())

	voice, _ := synth.voices.Load("Second paragraph.")
	assert.Equal(t, "shimmer", voice)
	require.Len(t, usage, 1)
	assert.Equal(t, "tts", usage[0].Kind)
	assert.Equal(t, len("Second paragraph."), usage[0].Characters)

	a.Release()
	assert.Zero(t, store.Len())
}

func TestRendererCollapsesDuplicates(t *testing.T) {
	store := media.NewStore("/media/")
	synth := &slowSynth{release: make(chan struct{})}
	r := newAudioRenderer(synth, store)
	seg := playback.Segment{Index: 0, Text: "Same text"}

	var wg sync.WaitGroup
	arts := make([]*playback.Artifact, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := r.Generate(context.Background(), seg, playback.Primary)
			assert.NoError(t, err)
			arts[i] = a
		}()
	}

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.inflight {
			return c.dups == 1
		}
		return false
	}, time.Second, time.Millisecond)
	close(synth.release)
	wg.Wait()

	assert.EqualValues(t, 1, synth.calls.Load())
	require.NotNil(t, arts[0])
	require.NotNil(t, arts[1])
	assert.NotEqual(t, arts[0].URL, arts[1].URL, "each caller owns its own handle")
	assert.Equal(t, 2, store.Len())
}

func TestRendererErrors(t *testing.T) {
	store := media.NewStore("/media/")
	r := newAudioRenderer(&slowSynth{err: errors.New("tts down")}, store)
	_, err := r.Generate(context.Background(), playback.Segment{Text: "x"}, playback.Primary)
	assert.Error(t, err)
	assert.Zero(t, store.Len())

	unconfigured := NewSegmentRenderer(RendererConfig{Mode: ModeAvatarTalk, Store: store, Profiles: DefaultProfiles()})
	_, err = unconfigured.Generate(context.Background(), playback.Segment{Text: "x"}, playback.Primary)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestParseRenderMode(t *testing.T) {
	m, err := ParseRenderMode("sadtalker")
	require.NoError(t, err)
	assert.Equal(t, ModeSadTalker, m)
	_, err = ParseRenderMode("hologram")
	assert.Error(t, err)
}

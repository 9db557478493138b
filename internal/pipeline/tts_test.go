package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTTS(t *testing.T) {
	assert.NoError(t, ValidateTTS("hello", "nova", 1.0))
	assert.NoError(t, ValidateTTS("hello", "", 0))
	assert.ErrorIs(t, ValidateTTS("", "nova", 1), ErrInvalidTTS)
	assert.ErrorIs(t, ValidateTTS(strings.Repeat("x", MaxTTSChars+1), "nova", 1), ErrInvalidTTS)
	assert.ErrorIs(t, ValidateTTS("hi", "robot", 1), ErrInvalidTTS)
	assert.ErrorIs(t, ValidateTTS("hi", "nova", 5), ErrInvalidTTS)
}

func TestOpenAISynthesizer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/audio/speech"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	router := NewTTSRouter(map[string]TTSSynthesizer{
		"openai": NewOpenAISynthesizer("k", srv.URL+"/v1/", "nova", srv.Client()),
	}, "openai")
	res, err := router.Synthesize(context.Background(), "Hello", "openai", TTSOptions{Voice: "shimmer", Speed: 1.25})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), res.Audio)
	assert.Equal(t, 5, res.Characters)
	assert.Equal(t, "audio/mpeg", res.ContentType)

	assert.Equal(t, "tts-1", body["model"])
	assert.Equal(t, "shimmer", body["voice"])
	assert.Equal(t, "Hello", body["input"])
	assert.InDelta(t, 1.25, body["speed"], 0.001)
}

func TestElevenLabsSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "xi", r.Header.Get("xi-api-key"))
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(srv.URL, "xi", "voice-1", "eleven_turbo_v2", nil, srv.Client())
	audio, err := s.SynthesizeAudio(context.Background(), "hello", TTSOptions{Voice: "nova"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
}

func TestElevenLabsPersonaVoices(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	profiles := DefaultProfiles()
	s := NewElevenLabsSynthesizer(srv.URL, "xi", "fallback-voice", "eleven_turbo_v2", ElevenLabsVoices(profiles), srv.Client())
	for _, voice := range []string{profiles[0].Voice, profiles[1].Voice, "alloy", "custom-id"} {
		_, err := s.SynthesizeAudio(context.Background(), "hello", TTSOptions{Voice: voice})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"/v1/text-to-speech/" + profiles[0].ElevenLabsVoice,
		"/v1/text-to-speech/" + profiles[1].ElevenLabsVoice,
		"/v1/text-to-speech/fallback-voice",
		"/v1/text-to-speech/custom-id",
	}, paths)
	assert.NotEqual(t, profiles[0].ElevenLabsVoice, profiles[1].ElevenLabsVoice)
}

func TestDoTTSRequestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(srv.URL, "xi", "v", "m", nil, srv.Client())
	_, err := s.SynthesizeAudio(context.Background(), "hello", TTSOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

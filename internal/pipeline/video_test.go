package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarTalkRawVideo(t *testing.T) {
	var got AvatarTalkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inference", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	c := NewAvatarTalkClient(srv.URL, "key", srv.Client())
	res, err := c.Generate(context.Background(), AvatarTalkRequest{Text: "Hello", Avatar: "european_woman"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), res.Video)
	assert.Equal(t, "neutral", got.Emotion)
	assert.Equal(t, "en", got.Language)
}

func TestAvatarTalkFollowsJSONURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("POST /inference", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"mp4_url": srv.URL + "/clip.mp4"})
	})
	mux.HandleFunc("GET /clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("followed"))
	})

	c := NewAvatarTalkClient(srv.URL, "key", srv.Client())
	res, err := c.Generate(context.Background(), AvatarTalkRequest{Text: "Hello", Avatar: "old_european_woman"})
	require.NoError(t, err)
	assert.Equal(t, []byte("followed"), res.Video)
	assert.Equal(t, srv.URL+"/clip.mp4", res.SourceURL)
}

func TestWav2LipGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Image string `json:"image"`
			Audio string `json:"audio"`
			FPS   int    `json:"fps"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), in.Image)
		assert.Equal(t, 25, in.FPS)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "video": EncodeDataURI([]byte("webm"), "video/webm")})
	}))
	defer srv.Close()

	c := NewWav2LipClient(srv.URL, 0, srv.Client())
	res, err := c.Generate(context.Background(), []byte("png"), []byte("mp3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("webm"), res.Video)
	assert.Equal(t, "video/webm", res.ContentType)
}

func TestWav2LipFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "No face detected in image"})
	}))
	defer srv.Close()

	_, err := NewWav2LipClient(srv.URL, 25, srv.Client()).Generate(context.Background(), []byte("png"), []byte("mp3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No face detected")
}

func TestDecodeDataURI(t *testing.T) {
	data, ct, err := DecodeDataURI("data:video/mp4;base64,"+base64.StdEncoding.EncodeToString([]byte("x")), "video/webm")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	assert.Equal(t, "video/mp4", ct)

	data, ct, err = DecodeDataURI(base64.StdEncoding.EncodeToString([]byte("y")), "video/webm")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), data)
	assert.Equal(t, "video/webm", ct)

	_, _, err = DecodeDataURI("data:video/mp4;base64", "")
	assert.Error(t, err)
}

func TestSadTalkerPollsAndCaches(t *testing.T) {
	var polls, creates atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		var body struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, SadTalkerVersion, body.Version)
		assert.Equal(t, "gfpgan", body.Input["enhancer"])
		assert.Equal(t, true, body.Input["still"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "p1", "status": "starting", "urls": map[string]string{"get": srv.URL + "/v1/predictions/p1"},
		})
	})
	mux.HandleFunc("GET /v1/predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		var output any
		if polls.Add(1) >= 2 {
			status = "succeeded"
			output = srv.URL + "/out.mp4"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "p1", "status": status, "output": output, "urls": map[string]string{"get": srv.URL + "/v1/predictions/p1"},
		})
	})

	c := NewSadTalkerClient(srv.URL, "r8", time.Millisecond, NewVideoCache(time.Hour), srv.Client())
	res, err := c.Generate(context.Background(), "consultant", []byte("jpg"), "image/jpeg", []byte("audio"), DefaultSadTalkerOptions())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/out.mp4", res.VideoURL)
	assert.False(t, res.Cached)

	again, err := c.Generate(context.Background(), "consultant", []byte("jpg"), "image/jpeg", []byte("audio"), DefaultSadTalkerOptions())
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.EqualValues(t, 1, creates.Load())

	other, err := c.Generate(context.Background(), "partner", []byte("jpg"), "image/jpeg", []byte("audio"), DefaultSadTalkerOptions())
	require.NoError(t, err)
	assert.False(t, other.Cached)
}

func TestSadTalkerFailedPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "p2", "status": "failed", "error": "CUDA out of memory"})
	}))
	defer srv.Close()

	c := NewSadTalkerClient(srv.URL, "r8", time.Millisecond, NewVideoCache(0), srv.Client())
	_, err := c.Generate(context.Background(), "consultant", []byte("jpg"), "image/jpeg", []byte("audio"), DefaultSadTalkerOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestVideoCacheTTL(t *testing.T) {
	c := NewVideoCache(time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := CacheKey([]byte("audio"), "consultant")
	assert.NotEqual(t, key, CacheKey([]byte("audio"), "partner"))

	c.Put(key, "https://x/1.mp4")
	url, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "https://x/1.mp4", url)
	assert.Equal(t, 1, c.Stats().Size)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.Prune())
	_, ok = c.Get(key)
	assert.False(t, ok)

	c.Put(key, "u")
	c.Clear()
	assert.Zero(t, c.Stats().Size)
}

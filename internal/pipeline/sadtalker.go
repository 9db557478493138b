package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

const (
	ReplicateBaseURL = "https://api.replicate.com"

	// SadTalkerVersion pins the cjwbw/sadtalker model.
	SadTalkerVersion = "3aa3dac9353cc4d6bd62a8f95957bd844003b401ca4e4a9b33baa574c549d376"
)

// SadTalkerOptions tunes a SadTalker prediction.
type SadTalkerOptions struct {
	Enhancer        string  `json:"enhancer"`
	Preprocess      string  `json:"preprocess"`
	ExpressionScale float64 `json:"expression_scale"`
	Still           bool    `json:"still"`
}

// DefaultSadTalkerOptions favours a stable head and restored faces.
func DefaultSadTalkerOptions() SadTalkerOptions {
	return SadTalkerOptions{Enhancer: "gfpgan", Preprocess: "full", ExpressionScale: 1.0, Still: true}
}

// SadTalkerResult is a rendered clip hosted by Replicate.
type SadTalkerResult struct {
	VideoURL  string  `json:"video_url"`
	Cached    bool    `json:"cached"`
	LatencyMs float64 `json:"duration"`
}

// SadTalkerClient runs SadTalker predictions on Replicate and caches the
// resulting video URLs by audio content and avatar.
type SadTalkerClient struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	client       *http.Client
	cache        *VideoCache
}

func NewSadTalkerClient(baseURL, token string, pollInterval time.Duration, cache *VideoCache, client *http.Client) *SadTalkerClient {
	if baseURL == "" {
		baseURL = ReplicateBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &SadTalkerClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		pollInterval: pollInterval,
		client:       client,
		cache:        cache,
	}
}

// Configured reports whether a Replicate token is set.
func (c *SadTalkerClient) Configured() bool { return c.token != "" }

// Cache exposes the video cache for stats and clearing.
func (c *SadTalkerClient) Cache() *VideoCache { return c.cache }

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Generate animates the avatar portrait with audio. image and audio are
// data URIs or URLs as accepted by Replicate.
func (c *SadTalkerClient) Generate(ctx context.Context, avatar string, image []byte, imageType string, audio []byte, opts SadTalkerOptions) (*SadTalkerResult, error) {
	start := time.Now()

	key := CacheKey(audio, avatar)
	if url, ok := c.cache.Get(key); ok {
		metrics.VideoCacheHits.Inc()
		return &SadTalkerResult{VideoURL: url, Cached: true, LatencyMs: float64(time.Since(start).Milliseconds())}, nil
	}

	input := map[string]any{
		"source_image":     EncodeDataURI(image, imageType),
		"driven_audio":     EncodeDataURI(audio, "audio/mpeg"),
		"enhancer":         opts.Enhancer,
		"preprocess":       opts.Preprocess,
		"expression_scale": opts.ExpressionScale,
		"still":            opts.Still,
	}
	p, err := c.create(ctx, input)
	if err != nil {
		return nil, err
	}
	p, err = c.wait(ctx, p)
	if err != nil {
		return nil, err
	}

	url, err := predictionOutputURL(p.Output)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, url)

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("sadtalker").Observe(latency.Seconds())
	return &SadTalkerResult{VideoURL: url, LatencyMs: float64(latency.Milliseconds())}, nil
}

// Download fetches a rendered clip.
func (c *SadTalkerClient) Download(ctx context.Context, url string) ([]byte, string, error) {
	return fetchVideo(ctx, c.client, url)
}

func (c *SadTalkerClient) create(ctx context.Context, input map[string]any) (*prediction, error) {
	body, err := json.Marshal(map[string]any{"version": SadTalkerVersion, "input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal replicate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create replicate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, http.StatusCreated)
}

func (c *SadTalkerClient) wait(ctx context.Context, p *prediction) (*prediction, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch p.Status {
		case "succeeded":
			return p, nil
		case "failed", "canceled":
			metrics.Errors.WithLabelValues("sadtalker", p.Status).Inc()
			return nil, fmt.Errorf("replicate prediction %s %s: %v", p.ID, p.Status, p.Error)
		}
		if p.URLs.Get == "" {
			return nil, fmt.Errorf("replicate prediction %s has no poll url", p.ID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, "GET", p.URLs.Get, nil)
		if err != nil {
			return nil, fmt.Errorf("create replicate poll: %w", err)
		}
		p, err = c.do(req, http.StatusOK)
		if err != nil {
			return nil, err
		}
	}
}

func (c *SadTalkerClient) do(req *http.Request, want int) (*prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("sadtalker", "http").Inc()
		return nil, fmt.Errorf("replicate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("sadtalker", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("replicate status %d: %s", resp.StatusCode, errBody)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode replicate prediction: %w", err)
	}
	return &p, nil
}

// predictionOutputURL accepts either a single URL or a list of URLs.
func predictionOutputURL(raw json.RawMessage) (string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return one, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", fmt.Errorf("no video url returned from replicate")
}

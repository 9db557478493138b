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

// AvatarTalkBaseURL is the hosted AvatarTalk API.
const AvatarTalkBaseURL = "https://api.avatartalk.ai"

// Emotions accepted by AvatarTalk.
var Emotions = []string{"happy", "neutral", "angry"}

// VideoResult is a rendered talking-head clip.
type VideoResult struct {
	Video       []byte
	ContentType string
	SourceURL   string
	Cached      bool
	LatencyMs   float64
}

// AvatarTalkRequest is the body of an AvatarTalk inference call.
type AvatarTalkRequest struct {
	Text     string `json:"text"`
	Avatar   string `json:"avatar"`
	Emotion  string `json:"emotion"`
	Language string `json:"language"`
}

// AvatarTalkClient renders talking-head video directly from text.
type AvatarTalkClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAvatarTalkClient(baseURL, apiKey string, client *http.Client) *AvatarTalkClient {
	if baseURL == "" {
		baseURL = AvatarTalkBaseURL
	}
	return &AvatarTalkClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// Configured reports whether an API key is set.
func (c *AvatarTalkClient) Configured() bool { return c.apiKey != "" }

// Generate calls /inference. The API either answers with the mp4 itself or
// with JSON pointing at it, in which case the video is fetched.
func (c *AvatarTalkClient) Generate(ctx context.Context, in AvatarTalkRequest) (*VideoResult, error) {
	start := time.Now()
	if in.Emotion == "" {
		in.Emotion = "neutral"
	}
	if in.Language == "" {
		in.Language = "en"
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal avatartalk request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/inference", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create avatartalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("avatartalk", "http").Inc()
		return nil, fmt.Errorf("avatartalk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("avatartalk", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("avatartalk status %d: %s", resp.StatusCode, errBody)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read avatartalk response: %w", err)
	}

	res := &VideoResult{Video: data, ContentType: "video/mp4"}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		url, err := videoURLFromJSON(data)
		if err != nil {
			return nil, err
		}
		res.Video, res.ContentType, err = fetchVideo(ctx, c.client, url)
		if err != nil {
			return nil, err
		}
		res.SourceURL = url
	}
	if len(res.Video) == 0 {
		return nil, fmt.Errorf("avatartalk returned an empty video")
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("avatartalk").Observe(latency.Seconds())
	res.LatencyMs = float64(latency.Milliseconds())
	return res, nil
}

func videoURLFromJSON(data []byte) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode avatartalk response: %w", err)
	}
	for _, k := range []string{"mp4_url", "video_url", "url", "video", "result"} {
		if s, ok := payload[k].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("avatartalk response has no video url")
}

// fetchVideo downloads a rendered clip.
func fetchVideo(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create video request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch video status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read video: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = "video/mp4"
	}
	return data, ct, nil
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

// Wav2LipClient lip-syncs a portrait to speech audio on the self-hosted
// Wav2Lip service.
type Wav2LipClient struct {
	url    string
	fps    int
	client *http.Client
}

func NewWav2LipClient(url string, fps int, client *http.Client) *Wav2LipClient {
	if fps <= 0 {
		fps = 25
	}
	return &Wav2LipClient{url: strings.TrimRight(url, "/"), fps: fps, client: client}
}

type wav2lipResponse struct {
	Success bool   `json:"success"`
	Video   string `json:"video"`
	Error   string `json:"error"`
}

// Generate posts the portrait and audio and decodes the returned video.
func (c *Wav2LipClient) Generate(ctx context.Context, image, audio []byte) (*VideoResult, error) {
	start := time.Now()

	body, err := json.Marshal(struct {
		Image string `json:"image"`
		Audio string `json:"audio"`
		FPS   int    `json:"fps"`
	}{
		Image: base64.StdEncoding.EncodeToString(image),
		Audio: base64.StdEncoding.EncodeToString(audio),
		FPS:   c.fps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal wav2lip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create wav2lip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("wav2lip", "http").Inc()
		return nil, fmt.Errorf("wav2lip request: %w", err)
	}
	defer resp.Body.Close()

	var out wav2lipResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode wav2lip response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success || out.Video == "" {
		metrics.Errors.WithLabelValues("wav2lip", "status").Inc()
		return nil, fmt.Errorf("wav2lip status %d: %s", resp.StatusCode, out.Error)
	}

	video, contentType, err := DecodeDataURI(out.Video, "video/webm")
	if err != nil {
		return nil, fmt.Errorf("decode wav2lip video: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("wav2lip").Observe(latency.Seconds())
	return &VideoResult{Video: video, ContentType: contentType, LatencyMs: float64(latency.Milliseconds())}, nil
}

// Health checks the service's /health endpoint.
func (c *Wav2LipClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("wav2lip health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wav2lip health status %d", resp.StatusCode)
	}
	return nil
}

// DecodeDataURI decodes "data:<type>;base64,<payload>" or bare base64. Bare
// payloads get fallbackType.
func DecodeDataURI(s, fallbackType string) ([]byte, string, error) {
	contentType := fallbackType
	payload := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data uri")
		}
		if mt, _, _ := strings.Cut(meta, ";"); mt != "" {
			contentType = mt
		}
		payload = data
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return decoded, contentType, nil
}

// EncodeDataURI is the inverse of DecodeDataURI.
func EncodeDataURI(data []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

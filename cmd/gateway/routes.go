package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/analytics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/pipeline"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/ratelimit"
)

// maxBodyBytes caps JSON request bodies; wav2lip proxies carry base64 media.
const maxBodyBytes = 32 << 20

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, a *app) {
	mux.Handle("/ws/session", a.ws)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /media/{id}", a.media)

	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("POST /api/tts", a.handleTTS)
	mux.HandleFunc("POST /api/avatartalk", a.handleAvatarTalk)
	mux.HandleFunc("POST /api/wav2lip/generate", a.handleWav2Lip)
	mux.HandleFunc("POST /api/talking-avatar", a.handleTalkingAvatar)
	mux.HandleFunc("GET /api/talking-avatar/cache", a.handleCacheStats)
	mux.HandleFunc("DELETE /api/talking-avatar/cache", a.handleCacheClear)

	mux.HandleFunc("POST /api/access/verify", a.gate.HandleVerifyAccess)
	mux.HandleFunc("POST /api/admin/verify", a.gate.HandleVerifyAdmin)
	mux.Handle("GET /api/analytics", a.gate.RequireAdmin(http.HandlerFunc(a.handleAnalytics)))
	mux.Handle("GET /api/analytics/export", a.gate.RequireAdmin(http.HandlerFunc(a.handleAnalyticsExport)))

	mux.HandleFunc("GET /api/providers", a.handleProviders)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "success": false})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

func writeMedia(w http.ResponseWriter, data []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// allow applies the chat rate limit, writing the 429 itself when exceeded.
func (a *app) allow(w http.ResponseWriter, r *http.Request, ip string) bool {
	d, err := a.limiter.Allow(r.Context(), ip)
	if err != nil {
		a.log.Warn("rate limiter error", "error", err)
	}
	if d.Allowed {
		return true
	}
	metrics.RateLimited.Inc()
	a.log.Info("rate limit exceeded", "ip", ip)
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      d.Message(),
		"success":    false,
		"retryAfter": d.ResetAt.UnixMilli(),
	})
	return false
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message             string             `json:"message"`
		ConversationHistory []pipeline.Message `json:"conversationHistory"`
		AccessCode          string             `json:"accessCode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.gate.CheckAccess(req.AccessCode) {
		writeError(w, http.StatusUnauthorized, "Invalid access code")
		return
	}
	if err := pipeline.ValidateMessage(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ip := ratelimit.ClientKey(r)
	if !a.allow(w, r, ip) {
		return
	}

	start := time.Now()
	res, err := a.chat.Reply(r.Context(), req.Message, req.ConversationHistory)
	if err != nil {
		a.log.Error("chat endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process your request")
		return
	}
	a.recorder.Record(a.pricing.ChatRecord(ip, res.Model, res.InputTokens, res.OutputTokens, time.Since(start)))
	writeJSON(w, http.StatusOK, map[string]any{"message": res.Text, "success": true})
}

func (a *app) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string  `json:"text"`
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Voice == "" {
		req.Voice = "nova"
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if err := pipeline.ValidateTTS(req.Text, req.Voice, req.Speed); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	res, err := a.tts.Synthesize(r.Context(), req.Text, a.cfg.TTS.Engine, pipeline.TTSOptions{Voice: req.Voice, Speed: req.Speed})
	if err != nil {
		a.log.Error("tts endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate audio")
		return
	}
	ip := ratelimit.ClientKey(r)
	a.recorder.Record(a.pricing.TTSRecord(ip, "tts-1", int64(res.Characters), time.Duration(res.LatencyMs*float64(time.Millisecond))))
	writeMedia(w, res.Audio, res.ContentType)
}

func (a *app) handleAvatarTalk(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AvatarTalkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if !a.avatarTalk.Configured() {
		writeError(w, http.StatusServiceUnavailable, "AvatarTalk API key not configured")
		return
	}
	if req.Avatar == "" {
		req.Avatar = a.profiles[playback.Primary].Avatar
	}

	v, err := a.avatarTalk.Generate(r.Context(), req)
	if err != nil {
		a.log.Error("avatartalk endpoint", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to generate video")
		return
	}
	a.recorder.Record(a.pricing.VideoRecord(ratelimit.ClientKey(r), "avatartalk", false, time.Duration(v.LatencyMs*float64(time.Millisecond))))
	writeMedia(w, v.Video, v.ContentType)
}

// handleWav2Lip accepts either explicit image/audio data URIs or text plus
// a persona, in which case speech and portrait come from the profile.
func (a *app) handleWav2Lip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image   string `json:"image"`
		Audio   string `json:"audio"`
		Text    string `json:"text"`
		Persona string `json:"persona"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var image, audio []byte
	switch {
	case req.Image != "" && req.Audio != "":
		var err error
		if image, _, err = pipeline.DecodeDataURI(req.Image, "image/jpeg"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid image")
			return
		}
		if audio, _, err = pipeline.DecodeDataURI(req.Audio, "audio/mpeg"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid audio")
			return
		}
	case req.Text != "":
		p := playback.Primary
		if req.Persona != "" {
			var err error
			if p, err = playback.ParsePersona(req.Persona); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		profile := a.profiles[p]
		if len(profile.Portrait) == 0 {
			writeError(w, http.StatusServiceUnavailable, "No portrait configured for "+p.String())
			return
		}
		res, err := a.tts.Synthesize(r.Context(), req.Text, a.cfg.TTS.Engine, pipeline.TTSOptions{Voice: profile.Voice, Speed: 1.0})
		if err != nil {
			a.log.Error("wav2lip speech", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to generate audio")
			return
		}
		image, audio = profile.Portrait, res.Audio
	default:
		writeError(w, http.StatusBadRequest, "Either image and audio, or text, is required")
		return
	}

	v, err := a.wav2lip.Generate(r.Context(), image, audio)
	if err != nil {
		a.log.Error("wav2lip endpoint", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to generate video")
		return
	}
	a.recorder.Record(a.pricing.VideoRecord(ratelimit.ClientKey(r), "wav2lip", false, time.Duration(v.LatencyMs*float64(time.Millisecond))))
	writeMedia(w, v.Video, v.ContentType)
}

func (a *app) handleTalkingAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string `json:"text"`
		Persona string `json:"persona"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if !a.sadTalker.Configured() {
		writeError(w, http.StatusServiceUnavailable, "Replicate API token not configured")
		return
	}
	p := playback.Primary
	if req.Persona != "" {
		var err error
		if p, err = playback.ParsePersona(req.Persona); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	profile := a.profiles[p]
	if len(profile.Portrait) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No portrait configured for "+p.String())
		return
	}

	ip := ratelimit.ClientKey(r)
	speech, err := a.tts.Synthesize(r.Context(), req.Text, a.cfg.TTS.Engine, pipeline.TTSOptions{Voice: profile.Voice, Speed: 1.0})
	if err != nil {
		a.log.Error("talking-avatar speech", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate audio")
		return
	}
	a.recorder.Record(a.pricing.TTSRecord(ip, "tts-1", int64(speech.Characters), time.Duration(speech.LatencyMs*float64(time.Millisecond))))

	v, err := a.sadTalker.Generate(r.Context(), profile.Name, profile.Portrait, profile.PortraitType, speech.Audio, pipeline.DefaultSadTalkerOptions())
	if err != nil {
		a.log.Error("talking-avatar endpoint", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to generate talking avatar")
		return
	}
	a.recorder.Record(a.pricing.VideoRecord(ip, "sadtalker", v.Cached, time.Duration(v.LatencyMs*float64(time.Millisecond))))
	writeJSON(w, http.StatusOK, map[string]any{
		"videoUrl": v.VideoURL,
		"cached":   v.Cached,
		"cost":     a.pricing.VideoCost("sadtalker", v.Cached).InexactFloat64(),
		"success":  true,
	})
}

func (a *app) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": a.videoCache.Stats(), "success": true})
}

func (a *app) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	a.videoCache.Clear()
	a.log.Info("video cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *app) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := a.analytics.Report(r.Context(), period)
	if err != nil {
		a.log.Error("analytics report", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch analytics")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *app) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.analytics.Records(r.Context(), period)
	if err != nil {
		a.log.Error("analytics export", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export analytics")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+analytics.ExportFilename(period, time.Now())+`"`)
	if err := analytics.WriteCSV(w, records); err != nil {
		slog.Warn("write csv", "error", err)
	}
}

func (a *app) handleProviders(w http.ResponseWriter, r *http.Request) {
	infos, err := a.providers.StatusAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": infos, "success": true})
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/pipeline"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
	"github.com/hubenschmidt/advisor-avatar/gateway/internal/prompts"
)

// clientMessage is a text frame sent by the browser.
type clientMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	AccessCode string `json:"access_code,omitempty"`
	Persona    string `json:"persona,omitempty"`
	URL        string `json:"url,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
	Text       string `json:"text,omitempty"`
}

// LocalSegment is one paragraph the browser should speak itself.
type LocalSegment struct {
	Index   int     `json:"index"`
	Text    string  `json:"text"`
	Persona string  `json:"persona"`
	Pitch   float64 `json:"pitch"`
	Rate    float64 `json:"rate"`
}

// Event is a server-to-browser message.
type Event struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	Title       string         `json:"title,omitempty"`
	Persona     string         `json:"persona,omitempty"`
	URL         string         `json:"url,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Segment     *int           `json:"segment,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Segments    []LocalSegment `json:"segments,omitempty"`
	RetryAfter  int64          `json:"retry_after,omitempty"`
}

var errClosed = errors.New("session closed")

// session is one browser connection. It is the playback stage, the local
// speech fallback and the notifier for its own orchestrator.
type session struct {
	h      *Handler
	conn   *websocket.Conn
	id     string
	ip     string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	orch   *playback.Orchestrator

	writeMu sync.Mutex
	closed  bool

	mu        sync.Mutex
	history   []pipeline.Message
	lastReply string
	muted     bool
	busy      bool
	epoch     uint64 // bumped by clear; replies from an older epoch are dropped
	chats     sync.WaitGroup
}

func newSession(parent context.Context, h *Handler, conn *websocket.Conn, id, ip string) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		h:      h,
		conn:   conn,
		id:     id,
		ip:     ip,
		ctx:    ctx,
		cancel: cancel,
		log:    h.log.With("session_id", id),
	}
	s.orch = playback.New(ctx, playback.Config{
		Generator:      h.cfg.Generator,
		Stage:          s,
		Fallback:       s,
		Notifier:       s,
		Pause:          h.cfg.Pause,
		WordsPerSecond: h.cfg.WordsPerSecond,
		Overhead:       h.cfg.Overhead,
		Logger:         s.log,
	})
	return s
}

// run reads client frames until the connection closes.
func (s *session) run() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info("connection closed", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(Event{Type: "error", Text: "Invalid message format"})
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg clientMessage) {
	switch msg.Type {
	case "chat":
		s.handleChat(msg)
	case "stop":
		s.orch.Stop()
	case "ended":
		p, err := playback.ParsePersona(msg.Persona)
		if err != nil {
			s.log.Debug("ended for unknown persona", "persona", msg.Persona)
			return
		}
		s.orch.Ended(p, msg.URL)
	case "mute":
		s.mu.Lock()
		s.muted = msg.Muted
		s.mu.Unlock()
		if msg.Muted {
			s.orch.Stop()
		}
	case "replay":
		s.handleReplay(msg.Text)
	case "clear":
		s.orch.Stop()
		s.mu.Lock()
		s.history = nil
		s.lastReply = ""
		s.epoch++
		s.mu.Unlock()
	default:
		s.send(Event{Type: "error", Text: "Unknown message type: " + msg.Type})
	}
}

func (s *session) handleChat(msg clientMessage) {
	if !s.h.cfg.Gate.CheckAccess(msg.AccessCode) {
		s.send(Event{Type: "error", Text: "Invalid access code"})
		return
	}
	if err := pipeline.ValidateMessage(msg.Message); err != nil {
		s.send(Event{Type: "error", Text: err.Error()})
		return
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.send(Event{Type: "error", Text: "Please wait for the current response"})
		return
	}
	s.busy = true
	history := slices.Clone(s.history)
	epoch := s.epoch
	s.mu.Unlock()

	if lim := s.h.cfg.Limiter; lim != nil {
		d, err := lim.Allow(s.ctx, s.ip)
		if err != nil {
			s.log.Warn("rate limiter error", "error", err)
		}
		if !d.Allowed {
			s.setBusy(false)
			s.log.Info("rate limit exceeded", "ip", s.ip)
			metrics.RateLimited.Inc()
			s.send(Event{Type: "error", Text: d.Message(), RetryAfter: d.ResetAt.UnixMilli()})
			return
		}
	}

	s.chats.Add(1)
	go s.reply(msg.Message, history, epoch)
}

func (s *session) reply(message string, history []pipeline.Message, epoch uint64) {
	defer s.chats.Done()

	start := time.Now()
	res, err := s.h.cfg.Chat.Reply(s.ctx, message, history)
	if err != nil {
		s.setBusy(false)
		if s.ctx.Err() != nil {
			return
		}
		s.log.Error("chat reply", "error", err)
		s.send(Event{Type: "error", Text: "Failed to process your request"})
		return
	}
	s.h.cfg.Recorder.Record(s.h.cfg.Pricing.ChatRecord(s.ip, res.Model, res.InputTokens, res.OutputTokens, time.Since(start)))

	s.mu.Lock()
	if s.epoch != epoch {
		s.busy = false
		s.mu.Unlock()
		s.log.Debug("dropping reply to cleared conversation")
		return
	}
	s.history = append(s.history,
		pipeline.Message{Role: "user", Content: message},
		pipeline.Message{Role: "assistant", Content: res.Text})
	if over := len(s.history) - s.h.cfg.MaxHistory; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.lastReply = res.Text
	s.busy = false
	muted := s.muted
	s.mu.Unlock()

	s.send(Event{Type: "assistant", Text: res.Text})
	if !muted {
		s.orch.Play(prompts.Spoken(res.Text))
	}
}

// handleReplay plays text again, or the last reply when text is empty.
// Replay is ignored while muted.
func (s *session) handleReplay(text string) {
	s.mu.Lock()
	if text == "" {
		text = s.lastReply
	}
	muted := s.muted
	s.mu.Unlock()
	if muted || text == "" {
		return
	}
	s.orch.Play(prompts.Spoken(text))
}

func (s *session) setBusy(b bool) {
	s.mu.Lock()
	s.busy = b
	s.mu.Unlock()
}

// close aborts pending chats, stops playback and waits for every run.
func (s *session) close() {
	s.cancel()
	s.chats.Wait()
	s.orch.Close()
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
}

func (s *session) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug("write event", "type", ev.Type, "error", err)
		return err
	}
	return nil
}

// Speaking implements playback.Stage.
func (s *session) Speaking(p playback.Persona) {
	s.send(Event{Type: "speaker", Persona: p.String()})
}

// Present implements playback.Stage.
func (s *session) Present(a *playback.Artifact) error {
	idx := a.Segment.Index
	return s.send(Event{
		Type:        "present",
		Persona:     a.Persona.String(),
		URL:         a.URL,
		ContentType: a.ContentType,
		Segment:     &idx,
		RunID:       a.RunID,
	})
}

// Clear implements playback.Stage.
func (s *session) Clear(p playback.Persona) {
	s.send(Event{Type: "clear", Persona: p.String()})
}

// Idle implements playback.Stage.
func (s *session) Idle() {
	s.send(Event{Type: "idle"})
}

// SpeakLocal hands the remaining segments to the browser's speech engine,
// voiced per persona.
func (s *session) SpeakLocal(_ context.Context, segments []playback.Segment) error {
	out := make([]LocalSegment, 0, len(segments))
	for _, seg := range segments {
		p := playback.PersonaFor(seg.Index)
		prof := s.h.cfg.Profiles[p]
		out = append(out, LocalSegment{
			Index:   seg.Index,
			Text:    seg.Text,
			Persona: p.String(),
			Pitch:   prof.Pitch,
			Rate:    prof.Rate,
		})
	}
	return s.send(Event{Type: "speak_local", Segments: out})
}

// Notify implements playback.Notifier.
func (s *session) Notify(title, detail string) {
	s.send(Event{Type: "notice", Title: title, Text: detail})
}

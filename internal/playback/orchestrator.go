// Package playback plays a chatbot response paragraph by paragraph, alternating
// between two avatar personas, with at most one run holding the media surfaces
// at any time.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

// Generator renders one segment as playable media for a persona.
// Implementations call external services and may fail.
type Generator interface {
	Generate(ctx context.Context, seg Segment, persona Persona) (*Artifact, error)
}

// Stage is the pair of persona media surfaces.
type Stage interface {
	// Speaking marks persona as the active speaker.
	Speaking(persona Persona)
	// Present loads the artifact onto its persona's surface and starts playback.
	Present(a *Artifact) error
	// Clear stops and empties a persona's surface.
	Clear(persona Persona)
	// Idle clears the speaker indicator; nothing is playing.
	Idle()
}

// LocalSpeaker is the on-device speech fallback.
type LocalSpeaker interface {
	SpeakLocal(ctx context.Context, segments []Segment) error
}

// Notifier receives passive user-visible notices.
type Notifier interface {
	Notify(title, detail string)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFallback  Outcome = "fallback"
	OutcomeEmpty     Outcome = "empty"
)

// Report summarises a finished run.
type Report struct {
	RunID    string
	Outcome  Outcome
	Segments int
	Played   int
	Timeouts int
	Duration time.Duration
}

// Config holds the orchestrator's collaborators and timing.
type Config struct {
	Generator Generator
	Stage     Stage
	Fallback  LocalSpeaker
	Notifier  Notifier

	Pause          time.Duration
	WordsPerSecond float64
	Overhead       time.Duration

	Logger   *slog.Logger
	OnFinish func(Report)
}

// Orchestrator sequences playback runs for one client session.
type Orchestrator struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu     sync.Mutex
	active *Run
	live   map[*Run]struct{}
	closed bool
}

// New creates an orchestrator. Generation calls run on ctx, which should
// live as long as the session; Close cancels it.
func New(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.Stage == nil {
		cfg.Stage = nopStage{}
	}
	if cfg.Pause == 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.WordsPerSecond <= 0 {
		cfg.WordsPerSecond = DefaultWordsPerSecond
	}
	if cfg.Overhead == 0 {
		cfg.Overhead = DefaultOverhead
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With("component", "playback"),
		live:   make(map[*Run]struct{}),
	}
}

// Play starts a run over text and returns its handle, or nil when text has
// no segments. A run already in flight is cancelled, and the new run does
// not touch the stage until the old one has finished its cleanup.
func (o *Orchestrator) Play(text string) *Run {
	segments := Split(text)
	if len(segments) == 0 {
		o.log.Warn("no segments in response", "chars", len(text))
		o.report(Report{Outcome: OutcomeEmpty})
		return nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	prev := o.active
	r := newRun(o.ctx, segments)
	o.active = r
	o.live[r] = struct{}{}
	o.mu.Unlock()

	if prev != nil {
		o.log.Info("superseding run", "run_id", prev.id, "next_run_id", r.id)
		prev.Cancel()
	}

	o.log.Info("run started", "run_id", r.id, "segments", len(segments))
	go o.execute(r, prev)
	return r
}

// Stop cancels every live run, releases held media and returns the stage to
// idle before returning. Calling it with nothing playing does nothing.
func (o *Orchestrator) Stop() {
	for _, r := range o.liveRuns() {
		r.Cancel()
		if r.cleanup(o.cfg.Stage) {
			o.log.Info("run stopped", "run_id", r.id)
		}
	}
}

// Ended delivers a surface's "ended" (or media error) signal. It only
// resolves the wait for the artifact currently playing on persona.
func (o *Orchestrator) Ended(persona Persona, url string) bool {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return false
	}
	return r.signalEnded(persona, url)
}

// Active returns the most recently started run that has not finished.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// State reports the active run's state, or idle.
func (o *Orchestrator) State() State {
	r := o.Active()
	if r == nil {
		return StateIdle
	}
	return r.State()
}

// Close stops playback, aborts in-flight generation and waits for every run
// to finish. Play is a no-op afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	runs := o.liveRuns()
	o.Stop()
	o.cancel()
	for _, r := range runs {
		<-r.Done()
	}
}

func (o *Orchestrator) liveRuns() []*Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	runs := make([]*Run, 0, len(o.live))
	for r := range o.live {
		runs = append(runs, r)
	}
	return runs
}

func (o *Orchestrator) execute(r *Run, prev *Run) {
	start := time.Now()
	rep := Report{RunID: r.id, Segments: len(r.segments), Outcome: OutcomeCompleted}
	defer func() {
		o.finish(r)
		rep.Duration = time.Since(start)
		o.report(rep)
		close(r.done)
	}()

	if prev != nil {
		<-prev.Done()
	}

	for i, seg := range r.segments {
		if r.Cancelled() {
			rep.Outcome = OutcomeCancelled
			return
		}

		persona := PersonaFor(seg.Index)
		if !r.guard(func() {
			r.state = StateGenerating
			o.cfg.Stage.Speaking(persona)
		}) {
			rep.Outcome = OutcomeCancelled
			return
		}

		art, err := o.cfg.Generator.Generate(o.ctx, seg, persona)
		if r.Cancelled() {
			art.Release()
			rep.Outcome = OutcomeCancelled
			return
		}
		if err == nil && art == nil {
			err = errNoArtifact
		}
		if err != nil {
			metrics.Errors.WithLabelValues("playback", "generate").Inc()
			o.fallback(r, r.segments[i:], err)
			rep.Outcome = OutcomeFallback
			return
		}

		art.RunID = r.id
		wait, err := r.present(art, o.cfg.Stage)
		if err != nil {
			art.Release()
			if err == errRunCancelled {
				rep.Outcome = OutcomeCancelled
				return
			}
			metrics.Errors.WithLabelValues("playback", "present").Inc()
			o.fallback(r, r.segments[i:], err)
			rep.Outcome = OutcomeFallback
			return
		}

		completion := o.await(r, wait, PlaybackTimeout(seg.Text, o.cfg.WordsPerSecond, o.cfg.Overhead))
		r.releaseSegment(art, o.cfg.Stage)
		if completion == "cancelled" {
			rep.Outcome = OutcomeCancelled
			return
		}
		rep.Played++
		if completion == "timeout" {
			rep.Timeouts++
		}
		metrics.PlaybackSegments.WithLabelValues(persona.String(), completion).Inc()

		if i == len(r.segments)-1 {
			break
		}
		if !r.sleep(o.cfg.Pause) {
			rep.Outcome = OutcomeCancelled
			return
		}
	}

	if r.Cancelled() {
		rep.Outcome = OutcomeCancelled
	}
}

// await races the surface's "ended" signal against the estimated duration.
// The loser is neutralised before returning.
func (o *Orchestrator) await(r *Run, w *playbackWait, timeout time.Duration) string {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.ch:
		return "ended"
	case <-timer.C:
		r.dropWait(w)
		o.log.Debug("playback timeout fallback", "run_id", r.id, "persona", w.persona, "timeout", timeout)
		return "timeout"
	case <-r.ctx.Done():
		r.dropWait(w)
		return "cancelled"
	}
}

func (o *Orchestrator) fallback(r *Run, remaining []Segment, cause error) {
	o.log.Warn("segment generation failed, falling back to local speech",
		"run_id", r.id, "segment", remaining[0].Index, "remaining", len(remaining), "error", cause)
	r.guard(func() {
		if o.cfg.Notifier != nil {
			o.cfg.Notifier.Notify("Video generation failed", "Falling back to voice-only mode")
		}
		if o.cfg.Fallback == nil {
			return
		}
		if err := o.cfg.Fallback.SpeakLocal(o.ctx, remaining); err != nil {
			o.log.Warn("local speech fallback", "run_id", r.id, "error", err)
		}
	})
}

func (o *Orchestrator) finish(r *Run) {
	r.cleanup(o.cfg.Stage)
	o.mu.Lock()
	delete(o.live, r)
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) report(rep Report) {
	metrics.PlaybackRuns.WithLabelValues(string(rep.Outcome)).Inc()
	metrics.PlaybackRunDuration.Observe(rep.Duration.Seconds())
	o.log.Info("run finished", "run_id", rep.RunID, "outcome", rep.Outcome,
		"segments", rep.Segments, "played", rep.Played, "timeouts", rep.Timeouts,
		"duration_ms", rep.Duration.Milliseconds())
	if o.cfg.OnFinish != nil {
		o.cfg.OnFinish(rep)
	}
}

type nopStage struct{}

func (nopStage) Speaking(Persona)        {}
func (nopStage) Present(*Artifact) error { return nil }
func (nopStage) Clear(Persona)           {}
func (nopStage) Idle()                   {}

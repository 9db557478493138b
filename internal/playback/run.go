package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSegmenting State = "segmenting"
	StateGenerating State = "generating"
	StatePlaying    State = "playing"
	StateReleasing  State = "releasing"
	StateCancelled  State = "cancelled"
)

var (
	errRunCancelled = errors.New("run cancelled")
	errNoArtifact   = errors.New("generator returned no artifact")
)

// Run is one traversal of a response's segments. It doubles as the
// cancellation token and completion future for that traversal.
type Run struct {
	id       string
	segments []Segment
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	state   State
	held    *Artifact
	waiter  *playbackWait
	cleaned bool
}

// playbackWait is the pending "wait for playback completion" of one artifact.
type playbackWait struct {
	persona Persona
	url     string
	ch      chan struct{}
}

func newRun(parent context.Context, segments []Segment) *Run {
	ctx, cancel := context.WithCancel(parent)
	return &Run{
		id:       uuid.NewString(),
		segments: segments,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateSegmenting,
	}
}

// ID identifies the run in logs and client events.
func (r *Run) ID() string { return r.id }

// Segments returns a copy of the run's segments.
func (r *Run) Segments() []Segment {
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Cancel marks the run cancelled and unblocks any pending playback wait.
// Cleanup still happens on the run's own goroutine.
func (r *Run) Cancel() { r.cancel() }

// Cancelled reports whether Cancel was called or the orchestrator closed.
func (r *Run) Cancelled() bool { return r.ctx.Err() != nil }

// Done is closed once the run's cleanup has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run has finished cleanup or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned {
		return StateIdle
	}
	if r.ctx.Err() != nil {
		return StateCancelled
	}
	return r.state
}

// guard runs fn under the run lock unless the run has been cancelled.
func (r *Run) guard(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned || r.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// present hands a to the stage and registers the wait for its completion in
// the same critical section, so an early "ended" signal is never lost.
func (r *Run) present(a *Artifact, stage Stage) (*playbackWait, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned || r.ctx.Err() != nil {
		return nil, errRunCancelled
	}
	w := &playbackWait{persona: a.Persona, url: a.URL, ch: make(chan struct{})}
	r.held = a
	r.waiter = w
	r.state = StatePlaying
	if err := stage.Present(a); err != nil {
		r.held = nil
		r.waiter = nil
		return nil, err
	}
	return w, nil
}

// signalEnded resolves the pending wait if it belongs to persona and url.
func (r *Run) signalEnded(persona Persona, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.waiter
	if w == nil || w.persona != persona || w.url != url {
		return false
	}
	r.waiter = nil
	close(w.ch)
	return true
}

// dropWait neutralises w so a late "ended" signal has nothing to resolve.
func (r *Run) dropWait(w *playbackWait) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiter == w {
		r.waiter = nil
	}
}

// releaseSegment revokes a after its playback and clears its surface.
func (r *Run) releaseSegment(a *Artifact, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateReleasing
	if r.held == a {
		r.held = nil
		if !r.cleaned {
			stage.Clear(a.Persona)
		}
	}
	a.Release()
}

// sleep pauses for d, returning false if the run is cancelled meanwhile.
func (r *Run) sleep(d time.Duration) bool {
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// cleanup releases everything the run holds and returns the stage to idle.
// Only the first call has any effect.
func (r *Run) cleanup(stage Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned {
		return false
	}
	r.cleaned = true
	r.state = StateIdle
	if r.held != nil {
		r.held.Release()
		r.held = nil
	}
	r.waiter = nil
	stage.Clear(Primary)
	stage.Clear(Support)
	stage.Idle()
	return true
}

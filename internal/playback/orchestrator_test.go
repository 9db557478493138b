package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog is shared by the fakes so tests can assert global ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) count(prefix string) int {
	n := 0
	for _, e := range l.snapshot() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (l *eventLog) index(event string) int {
	return slices.Index(l.snapshot(), event)
}

type fakeGenerator struct {
	log    *eventLog
	failAt map[string]error
	block  chan struct{}

	mu        sync.Mutex
	n         int
	artifacts []*Artifact
}

func (g *fakeGenerator) Generate(ctx context.Context, seg Segment, persona Persona) (*Artifact, error) {
	g.log.add("gen:%s:%s", seg.Text, persona)
	if g.block != nil {
		<-g.block
	}
	if err := g.failAt[seg.Text]; err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	url := fmt.Sprintf("/media/%d", g.n)
	a := NewArtifact(seg, persona, url, "video/mp4", func() { g.log.add("release:%s", url) })
	g.artifacts = append(g.artifacts, a)
	return a, nil
}

func (g *fakeGenerator) all() []*Artifact {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.artifacts)
}

type fakeStage struct {
	log     *eventLog
	orch    *Orchestrator
	autoEnd atomic.Bool
	current atomic.Pointer[Artifact]
}

func (s *fakeStage) Speaking(p Persona) { s.log.add("speaking:%s", p) }

func (s *fakeStage) Present(a *Artifact) error {
	s.log.add("present:%s:%s", a.Persona, a.URL)
	s.current.Store(a)
	if s.autoEnd.Load() {
		go s.orch.Ended(a.Persona, a.URL)
	}
	return nil
}

func (s *fakeStage) Clear(p Persona) { s.log.add("clear:%s", p) }
func (s *fakeStage) Idle()           { s.log.add("idle") }

type fakeSpeaker struct {
	mu    sync.Mutex
	calls [][]Segment
}

func (f *fakeSpeaker) SpeakLocal(_ context.Context, segs []Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(segs))
	return nil
}

type fakeNotifier struct{ n atomic.Int32 }

func (f *fakeNotifier) Notify(string, string) { f.n.Add(1) }

type harness struct {
	log     *eventLog
	gen     *fakeGenerator
	stage   *fakeStage
	speaker *fakeSpeaker
	notes   *fakeNotifier
	orch    *Orchestrator

	mu      sync.Mutex
	reports []Report
}

func newHarness(t *testing.T, overhead time.Duration) *harness {
	t.Helper()
	log := &eventLog{}
	h := &harness{
		log:     log,
		gen:     &fakeGenerator{log: log},
		stage:   &fakeStage{log: log},
		speaker: &fakeSpeaker{},
		notes:   &fakeNotifier{},
	}
	h.orch = New(context.Background(), Config{
		Generator:      h.gen,
		Stage:          h.stage,
		Fallback:       h.speaker,
		Notifier:       h.notes,
		Pause:          time.Millisecond,
		WordsPerSecond: 1000,
		Overhead:       overhead,
		OnFinish: func(r Report) {
			h.mu.Lock()
			h.reports = append(h.reports, r)
			h.mu.Unlock()
		},
	})
	h.stage.orch = h.orch
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) report(t *testing.T, id string) Report {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.reports {
		if r.RunID == id {
			return r
		}
	}
	t.Fatalf("no report for run %s", id)
	return Report{}
}

func waitRun(t *testing.T, r *Run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestPlayAlternatesPersonas(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	h.stage.autoEnd.Store(true)

	r := h.orch.Play("A\n\nB\n\nC")
	require.NotNil(t, r)
	waitRun(t, r)

	assert.Equal(t, []string{
		"speaking:primary", "gen:A:primary", "present:primary:/media/1", "clear:primary", "release:/media/1",
		"speaking:support", "gen:B:support", "present:support:/media/2", "clear:support", "release:/media/2",
		"speaking:primary", "gen:C:primary", "present:primary:/media/3", "clear:primary", "release:/media/3",
		"clear:primary", "clear:support", "idle",
	}, h.log.snapshot())

	rep := h.report(t, r.ID())
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 3, rep.Played)
	assert.Zero(t, rep.Timeouts)
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Nil(t, h.orch.Active())
}

func TestPlaybackTimeoutAdvances(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)

	r := h.orch.Play("one\n\ntwo")
	require.NotNil(t, r)
	waitRun(t, r)

	rep := h.report(t, r.ID())
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 2, rep.Played)
	assert.Equal(t, 2, rep.Timeouts)
	for _, a := range h.gen.all() {
		assert.Equal(t, ArtifactReleased, a.Status())
	}
}

func TestGenerationFailureFallsBackOnce(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	h.stage.autoEnd.Store(true)
	h.gen.failAt = map[string]error{"B": errors.New("upstream 502")}

	r := h.orch.Play("A\n\nB\n\nC")
	require.NotNil(t, r)
	waitRun(t, r)

	assert.Equal(t, 2, h.log.count("gen:"), "no generation after the failed segment")
	assert.Equal(t, 1, h.log.count("present:"))
	assert.EqualValues(t, 1, h.notes.n.Load())

	require.Len(t, h.speaker.calls, 1)
	assert.Equal(t, []Segment{{Index: 1, Text: "B"}, {Index: 2, Text: "C"}}, h.speaker.calls[0])

	rep := h.report(t, r.ID())
	assert.Equal(t, OutcomeFallback, rep.Outcome)
	assert.Equal(t, 1, rep.Played)
}

func TestStopReleasesAndIdles(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	r := h.orch.Play("A\n\nB")
	require.NotNil(t, r)
	require.Eventually(t, func() bool { return r.State() == StatePlaying }, 2*time.Second, time.Millisecond)

	h.orch.Stop()
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 1, h.log.count("idle"))
	for _, a := range h.gen.all() {
		assert.Equal(t, ArtifactReleased, a.Status())
	}

	h.orch.Stop()
	waitRun(t, r)
	assert.Equal(t, 1, h.log.count("idle"), "cleanup runs once")
	assert.Equal(t, 1, h.log.count("gen:"), "no generation after stop")
	assert.Equal(t, OutcomeCancelled, h.report(t, r.ID()).Outcome)
}

func TestStopWithNothingPlaying(t *testing.T) {
	h := newHarness(t, time.Second)
	h.orch.Stop()
	assert.Empty(t, h.log.snapshot())
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestStopDuringGenerationReleasesLateArtifact(t *testing.T) {
	h := newHarness(t, time.Second)
	h.gen.block = make(chan struct{})

	r := h.orch.Play("A\n\nB")
	require.Eventually(t, func() bool { return h.log.count("gen:") == 1 }, 2*time.Second, time.Millisecond)

	h.orch.Stop()
	close(h.gen.block)
	waitRun(t, r)

	assert.Zero(t, h.log.count("present:"))
	arts := h.gen.all()
	require.Len(t, arts, 1)
	assert.Equal(t, ArtifactReleased, arts[0].Status())
}

func TestSupersessionCleansUpBeforeNextRun(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	a := h.orch.Play("first")
	require.Eventually(t, func() bool { return a.State() == StatePlaying }, 2*time.Second, time.Millisecond)

	h.stage.autoEnd.Store(true)
	b := h.orch.Play("second")
	require.NotNil(t, b)
	waitRun(t, b)

	assert.True(t, a.Cancelled())
	idle := h.log.index("idle")
	require.GreaterOrEqual(t, idle, 0)
	assert.Less(t, h.log.index("release:/media/1"), idle)
	assert.Greater(t, h.log.index("gen:second:primary"), idle, "new run starts after the old cleanup")
	assert.Equal(t, 2, h.log.count("idle"))

	assert.Equal(t, OutcomeCancelled, h.report(t, a.ID()).Outcome)
	assert.Equal(t, OutcomeCompleted, h.report(t, b.ID()).Outcome)
}

func TestStaleEndedSignalIgnored(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	r := h.orch.Play("A\n\nB")
	require.Eventually(t, func() bool { return r.State() == StatePlaying }, 2*time.Second, time.Millisecond)
	cur := h.stage.current.Load()
	require.NotNil(t, cur)

	assert.False(t, h.orch.Ended(Support, cur.URL), "wrong persona")
	assert.False(t, h.orch.Ended(Primary, "/media/stale"), "wrong artifact")
	assert.Equal(t, StatePlaying, r.State())

	h.stage.autoEnd.Store(true)
	assert.True(t, h.orch.Ended(Primary, cur.URL))
	assert.False(t, h.orch.Ended(Primary, cur.URL), "wait already resolved")
	waitRun(t, r)
	assert.Equal(t, OutcomeCompleted, h.report(t, r.ID()).Outcome)
}

func TestPlayEmptyKeepsActiveRun(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	r := h.orch.Play("A")
	require.Eventually(t, func() bool { return r.State() == StatePlaying }, 2*time.Second, time.Millisecond)

	assert.Nil(t, h.orch.Play(" \n\n "))
	assert.False(t, r.Cancelled())
	assert.Same(t, r, h.orch.Active())
}

func TestCloseStopsPlay(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	r := h.orch.Play("A")
	require.Eventually(t, func() bool { return r.State() == StatePlaying }, 2*time.Second, time.Millisecond)

	h.orch.Close()
	select {
	case <-r.Done():
	default:
		t.Fatal("Close returned before the run finished")
	}
	assert.Nil(t, h.orch.Play("B"))
}

func TestPlayEmptyReportsOutcome(t *testing.T) {
	h := newHarness(t, time.Second)
	assert.Nil(t, h.orch.Play(""))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.reports, 1)
	assert.Equal(t, OutcomeEmpty, h.reports[0].Outcome)
	assert.Empty(t, h.log.snapshot())
}

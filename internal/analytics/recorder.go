package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

const recorderBuffer = 256

// Recorder writes records asynchronously via a buffered channel.
// All methods are nil-safe (no-op on nil receiver).
type Recorder struct {
	store Store
	log   *slog.Logger
	ch    chan Record
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the background writer. Must call Close when done.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store: store,
		log:   log.With("component", "analytics"),
		ch:    make(chan Record, recorderBuffer),
		done:  make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Insert(ctx, rec); err != nil {
			r.log.Warn("analytics write failed", "type", rec.Type, "error", err)
		}
		cancel()
	}
}

// Record queues rec, filling in its ID and timestamp. Records are dropped
// rather than blocking the caller when the queue is full.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- rec:
	default:
		metrics.AnalyticsDropped.Inc()
		r.log.Warn("analytics queue full, dropping record", "type", rec.Type)
	}
}

// Close drains pending writes and shuts down the background goroutine.
// Records arriving afterwards are discarded.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
}

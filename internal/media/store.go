// Package media holds short-lived generated audio and video behind
// revocable URLs that the browser can load into its media surfaces.
package media

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/metrics"
)

// DefaultTTL bounds how long an unreleased handle survives the sweeper.
const DefaultTTL = 10 * time.Minute

var ErrNotFound = errors.New("media: handle not found")

// Handle is a revocable reference to stored bytes.
type Handle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type blob struct {
	data        []byte
	contentType string
	expires     time.Time
}

// Store keeps media blobs in memory until revoked or expired.
type Store struct {
	prefix string

	mu    sync.RWMutex
	blobs map[string]*blob
}

// NewStore creates a store whose handle URLs start with prefix, e.g. "/media/".
func NewStore(prefix string) *Store {
	return &Store{prefix: prefix, blobs: make(map[string]*blob)}
}

// Put stores data and returns a handle to it. A zero ttl uses DefaultTTL.
func (s *Store) Put(data []byte, contentType string, ttl time.Duration) Handle {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = &blob{data: data, contentType: contentType, expires: time.Now().Add(ttl)}
	n := len(s.blobs)
	s.mu.Unlock()
	metrics.MediaHandles.Set(float64(n))
	return Handle{ID: id, URL: s.prefix + id}
}

// Get returns the bytes and content type behind id.
func (s *Store) Get(id string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	return b.data, b.contentType, nil
}

// Revoke drops the handle. Revoking twice is a no-op.
func (s *Store) Revoke(id string) {
	s.mu.Lock()
	delete(s.blobs, id)
	n := len(s.blobs)
	s.mu.Unlock()
	metrics.MediaHandles.Set(float64(n))
}

// Sweep removes handles that expired before now and returns how many.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for id, b := range s.blobs {
		if now.After(b.expires) {
			delete(s.blobs, id)
			removed++
		}
	}
	n := len(s.blobs)
	s.mu.Unlock()
	metrics.MediaHandles.Set(float64(n))
	metrics.MediaHandlesExpired.Add(float64(removed))
	return removed
}

// Len reports the number of live handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ServeHTTP serves GET /media/{id}.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.Get(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

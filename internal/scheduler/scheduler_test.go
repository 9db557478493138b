package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct{ at []time.Time }

func (f *fakeMedia) Sweep(now time.Time) int {
	f.at = append(f.at, now)
	return 2
}

type fakeCache struct{ calls int }

func (f *fakeCache) Prune() int {
	f.calls++
	return 1
}

type fakeAnalytics struct {
	retention time.Duration
	err       error
}

func (f *fakeAnalytics) Prune(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 5, f.err
}

func TestNewRegistersConfiguredJobs(t *testing.T) {
	s, err := New(Jobs{}, nil)
	require.NoError(t, err)
	assert.Zero(t, s.Entries())

	s, err = New(Jobs{Media: &fakeMedia{}, Cache: &fakeCache{}, Analytics: &fakeAnalytics{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())

	s.Start()
	s.Stop()
}

func TestJobsDelegate(t *testing.T) {
	media := &fakeMedia{}
	cache := &fakeCache{}
	limiter := &fakeCache{}
	an := &fakeAnalytics{}
	s, err := New(Jobs{Media: media, Cache: cache, Limiter: limiter, Analytics: an, Retention: 48 * time.Hour}, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.sweepMedia()
	s.pruneCaches()
	s.pruneAnalytics()

	assert.Equal(t, []time.Time{fixed}, media.at)
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, 48*time.Hour, an.retention)

	an.err = errors.New("db down")
	assert.NotPanics(t, s.pruneAnalytics)
}

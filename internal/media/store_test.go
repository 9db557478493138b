package media

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRevoke(t *testing.T) {
	s := NewStore("/media/")
	h := s.Put([]byte("mp4"), "video/mp4", 0)

	assert.True(t, strings.HasPrefix(h.URL, "/media/"))
	assert.Equal(t, "/media/"+h.ID, h.URL)

	data, ct, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), data)
	assert.Equal(t, "video/mp4", ct)
	assert.Equal(t, 1, s.Len())

	s.Revoke(h.ID)
	s.Revoke(h.ID)
	_, _, err = s.Get(h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestSweep(t *testing.T) {
	s := NewStore("/media/")
	short := s.Put([]byte("a"), "audio/mpeg", time.Millisecond)
	long := s.Put([]byte("b"), "audio/mpeg", time.Hour)

	assert.Equal(t, 1, s.Sweep(time.Now().Add(time.Minute)))
	_, _, err := s.Get(short.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Get(long.ID)
	assert.NoError(t, err)
}

func TestServeHTTP(t *testing.T) {
	s := NewStore("/media/")
	h := s.Put([]byte("RIFF"), "audio/wav", time.Minute)

	mux := http.NewServeMux()
	mux.Handle("GET /media/{id}", s)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + h.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "RIFF", string(body))

	s.Revoke(h.ID)
	resp, err = http.Get(srv.URL + h.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

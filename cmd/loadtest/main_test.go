package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	data := []float64{50, 10, 40, 20, 30}
	assert.Equal(t, 30.0, percentile(data, 50))
	assert.Equal(t, 50.0, percentile(data, 99))
	assert.Equal(t, 10.0, percentile(data, 0))
	assert.Zero(t, percentile(nil, 50))
}

// fakeGateway plays a two-segment reply, waiting for an ended message
// after each present.
func fakeGateway(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]any
		if conn.ReadJSON(&msg) != nil || msg["type"] != "chat" {
			return
		}
		conn.WriteJSON(map[string]any{"type": "assistant", "text": "A.\n\nB."})
		for i, p := range []string{"primary", "support"} {
			conn.WriteJSON(map[string]any{"type": "present", "persona": p, "url": "/media/" + string(rune('a'+i))})
			if conn.ReadJSON(&msg) != nil || msg["type"] != "ended" {
				return
			}
		}
		conn.WriteJSON(map[string]any{"type": "idle"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSession(t *testing.T) {
	srv := fakeGateway(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	r := runSession(url, "MKS2005", false)
	require.True(t, r.success, r.err)
	assert.Equal(t, 2, r.segments)
	assert.False(t, r.fallback)
	assert.LessOrEqual(t, r.replyMs, r.totalMs)
}

func TestRunSessionDialError(t *testing.T) {
	r := runSession("ws://127.0.0.1:1/ws/session", "", false)
	assert.False(t, r.success)
	assert.Contains(t, r.err, "dial")
}

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAccess(t *testing.T) {
	g := NewGate(DefaultAccessCode, "")
	assert.True(t, g.AccessRequired())
	assert.True(t, g.CheckAccess("MKS2005"))
	assert.False(t, g.CheckAccess("mks2005"))
	assert.False(t, g.CheckAccess(""))

	open := NewGate("", "")
	assert.False(t, open.AccessRequired())
	assert.True(t, open.CheckAccess("anything"))
}

func TestCheckAdminWithoutPassword(t *testing.T) {
	assert.False(t, NewGate("", "").CheckAdmin(""))
	assert.True(t, NewGate("", "s3cret").CheckAdmin("s3cret"))
}

func TestRequireAdmin(t *testing.T) {
	g := NewGate("", "s3cret")
	h := g.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	req.Header.Set(AdminHeader, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleVerify(t *testing.T) {
	g := NewGate("MKS2005", "s3cret")

	tests := []struct {
		name    string
		handler http.HandlerFunc
		body    string
		status  int
		field   string
		want    bool
	}{
		{"access ok", g.HandleVerifyAccess, `{"code":"MKS2005"}`, http.StatusOK, "unlocked", true},
		{"access wrong", g.HandleVerifyAccess, `{"code":"nope"}`, http.StatusUnauthorized, "unlocked", false},
		{"admin ok", g.HandleVerifyAdmin, `{"password":"s3cret"}`, http.StatusOK, "verified", true},
		{"admin wrong", g.HandleVerifyAdmin, `{"password":"x"}`, http.StatusUnauthorized, "verified", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)

			var out map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, tt.want, out[tt.field])
		})
	}

	rec := httptest.NewRecorder()
	g.HandleVerifyAccess(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

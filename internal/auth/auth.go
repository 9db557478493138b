// Package auth holds the two shared-secret gates: the chat access code and
// the analytics admin password.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const (
	DefaultAccessCode = "MKS2005"
	AdminHeader       = "X-Admin-Password"
)

// Gate compares submitted secrets against configured ones.
type Gate struct {
	accessCode    string
	adminPassword string
}

func NewGate(accessCode, adminPassword string) *Gate {
	return &Gate{accessCode: accessCode, adminPassword: adminPassword}
}

// AccessRequired reports whether chat needs an access code at all.
func (g *Gate) AccessRequired() bool { return g.accessCode != "" }

// CheckAccess accepts any code when none is configured.
func (g *Gate) CheckAccess(code string) bool {
	if g.accessCode == "" {
		return true
	}
	return equal(code, g.accessCode)
}

// CheckAdmin always fails when no admin password is configured.
func (g *Gate) CheckAdmin(password string) bool {
	if g.adminPassword == "" {
		return false
	}
	return equal(password, g.adminPassword)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireAdmin rejects requests without a valid admin header.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.CheckAdmin(r.Header.Get(AdminHeader)) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized", "success": false})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleVerifyAccess serves POST /api/access/verify.
func (g *Gate) HandleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body", "success": false})
		return
	}
	ok := g.CheckAccess(body.Code)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]any{"unlocked": ok, "success": ok})
}

// HandleVerifyAdmin serves POST /api/admin/verify.
func (g *Gate) HandleVerifyAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body", "success": false})
		return
	}
	ok := g.CheckAdmin(body.Password)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]any{"verified": ok, "success": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

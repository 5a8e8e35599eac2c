// Package auth authenticates SOURCE/PUT ingestion and admin requests
// against the single shared credential list spec.md §6 describes (no
// per-mount ACLs, per spec.md's Non-goals).
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/icestream/icestream/internal/config"
)

// Authenticator checks HTTP Basic credentials against the configured
// users[] list. Ingestion and /admin/* requests share this one list;
// there is no separate admin credential.
type Authenticator struct {
	hashed map[string][]byte // username -> bcrypt hash
}

// NewAuthenticator hashes every configured password once at construction
// so that Authenticate only ever does constant-time bcrypt comparisons,
// never a raw string compare against a password in memory.
func NewAuthenticator(cfg *config.Config) (*Authenticator, error) {
	a := &Authenticator{hashed: make(map[string][]byte, len(cfg.Users))}
	for _, u := range cfg.Users {
		h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.hashed[u.Username] = h
	}
	return a, nil
}

// Authenticate checks the request's HTTP Basic credentials (or the
// ICY-style ice-username/ice-password headers some source clients send
// instead) against the shared credential list. Spec.md §4.4 step 1: "No
// credentials -> 401; bad credentials -> 401."
func (a *Authenticator) Authenticate(r *http.Request) bool {
	username, password, ok := basicAuth(r)
	if !ok {
		return false
	}
	hash, exists := a.hashed[username]
	if !exists {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// basicAuth extracts username/password from the Authorization header,
// falling back to the ice-username/ice-password headers some legacy
// SOURCE clients send instead of standard Basic auth.
func basicAuth(r *http.Request) (username, password string, ok bool) {
	if u, p, found := r.BasicAuth(); found {
		return u, p, true
	}

	if p := r.Header.Get("ice-password"); p != "" {
		u := r.Header.Get("ice-username")
		if u == "" {
			u = "source"
		}
		return u, p, true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(auth[len("Basic "):])
		if err == nil {
			parts := strings.SplitN(string(decoded), ":", 2)
			if len(parts) == 2 {
				return parts[0], parts[1], true
			}
		}
	}

	return "", "", false
}

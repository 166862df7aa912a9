package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"minder-cli/internal/perm"
)

const sessionCookie = "minder_session"

type signedPayload struct {
	Exp   int64  `json:"exp"`
	Sub   string `json:"sub"`
	Scope string `json:"scope,omitempty"`
	N     string `json:"n,omitempty"` // nonce
}

func secretKeyPath(workspaceDir string) string {
	return filepath.Join(filepath.Clean(workspaceDir), "web", "secret.key")
}

// LoadOrInitSecret returns the workspace's token signing key, creating it on
// first use.
func LoadOrInitSecret(workspaceDir string) ([]byte, error) {
	path := secretKeyPath(workspaceDir)
	if b, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(b))) > 0 {
		return []byte(strings.TrimSpace(string(b))), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	enc := base64.RawURLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(enc+"\n"), 0o600); err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

func signToken(secret []byte, payload signedPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(b)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return p + "." + sig, nil
}

func verifyToken(secret []byte, token string, now time.Time) (signedPayload, error) {
	token = strings.TrimSpace(token)
	p, sig, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(sig, ".") {
		return signedPayload{}, errors.New("invalid token format")
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	want := mac.Sum(nil)
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return signedPayload{}, errors.New("invalid token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	var sp signedPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	if sp.Exp == 0 {
		return signedPayload{}, errors.New("token missing exp")
	}
	if now.Unix() > sp.Exp {
		return signedPayload{}, errors.New("token expired")
	}
	if strings.TrimSpace(sp.Sub) == "" {
		return signedPayload{}, errors.New("token missing sub")
	}
	return sp, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSessionToken signs a token for sub (usually the project id) that
// expires after ttl.
func NewSessionToken(secret []byte, sub string, scope perm.Scope, ttl time.Duration) (string, time.Time, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", time.Time{}, errors.New("missing token subject")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}
	n, err := newNonce()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := time.Now().Add(ttl).Truncate(time.Second)
	tok, err := signToken(secret, signedPayload{
		Sub:   sub,
		Scope: string(scope),
		N:     n,
		Exp:   exp.Unix(),
	})
	return tok, exp, err
}

// requestToken finds a token in the Authorization header, the session
// cookie, or a ?token= query parameter, in that order.
func requestToken(r *http.Request) (tok string, fromQuery bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if v, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(v), false
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	if v := r.URL.Query().Get("token"); v != "" {
		return v, true
	}
	return "", false
}

// scopeFor resolves the caller's scope. With auth off every caller writes.
// A token passed as ?token= is moved into the session cookie.
func (s *Server) scopeFor(w http.ResponseWriter, r *http.Request) perm.Scope {
	if len(s.cfg.Secret) == 0 {
		return perm.ScopeWrite
	}
	tok, fromQuery := requestToken(r)
	if tok == "" {
		return ""
	}
	sp, err := verifyToken(s.cfg.Secret, tok, s.now())
	if err != nil {
		s.log.Debug("token rejected", "err", err, "path", r.URL.Path)
		return ""
	}
	scope, err := perm.ParseScope(sp.Scope)
	if err != nil {
		return ""
	}
	if fromQuery {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    tok,
			Path:     "/",
			Expires:  time.Unix(sp.Exp, 0),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return scope
}

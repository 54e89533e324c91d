package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey int

const keyPrincipal ctxKey = 0

// Principal is the caller a request was authenticated as.
type Principal struct {
	ID   string // rate-limit identity
	Role string
}

// Store is a static in-memory key store: secret -> Principal
type Store struct {
	header   string
	bySecret map[string]Principal
}

// NewStatic creates a new static key store.
// header: HTTP header to read the key from (e.g., "X-API-Key")
// pairs: map of secret -> Principal
func NewStatic(header string, pairs map[string]Principal) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, bySecret: pairs}
}

func (s *Store) principalFor(secret string) (Principal, bool) {
	p, ok := s.bySecret[secret]
	return p, ok
}

// WithPrincipal injects the principal into context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFrom extracts the principal from context (if present).
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(Principal)
	return p, ok
}

// Middleware validates the API key and writes JSON errors on failure.
// It skips authentication for any path in skipPaths.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hname := s.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(hname))
			if secret == "" {
				WriteError(w, http.StatusUnauthorized, "missing_api_key", "Provide API key in "+hname)
				return
			}
			p, ok := s.principalFor(secret)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError writes the JSON error envelope shared by every middleware.
func WriteError(w http.ResponseWriter, code int, errCode, msg string) {
	var body errorBody
	body.Error.Code = errCode
	body.Error.Message = msg

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes accepted by the ops API. A ":rw" scope implies the matching ":ro".
const (
	ScopeAll         = "*"
	ScopeEventsRead  = "events:ro"
	ScopeDeploysRead = "deploys:ro"
	ScopeMetricsRead = "metrics:ro"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Scopes map[string]struct{}
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractAPIKey extracts an API key from an Authorization: Bearer <key> header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	key := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// ValidateAPIKey returns true if providedKey matches configKey. An empty
// configKey never matches. Both keys are hashed first so the comparison time
// does not depend on either length.
func ValidateAPIKey(providedKey, configKey string) bool {
	if configKey == "" || providedKey == "" {
		return false
	}
	provided := sha256.Sum256([]byte(providedKey))
	configured := sha256.Sum256([]byte(configKey))
	return subtle.ConstantTimeCompare(provided[:], configured[:]) == 1
}

// authenticate matches a presented key against the admin key and the scoped tokens.
func authenticate(presented, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if ValidateAPIKey(presented, apiKey) {
		return Principal{Scopes: map[string]struct{}{ScopeAll: {}}}, true
	}
	for _, t := range tokens {
		if ValidateAPIKey(presented, t.Token) {
			return Principal{Scopes: normalizeScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if base, ok := strings.CutSuffix(s, ":rw"); ok {
			out[base+":ro"] = struct{}{}
		}
	}
	return out
}

// HasScope reports whether p holds scope or the wildcard.
func (p Principal) HasScope(scope string) bool {
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.Scopes[scope]
	return ok
}

// authMiddleware validates the bearer key and stores the caller in the context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := ExtractAPIKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		p, ok := authenticate(apiKey, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !p.HasScope(scope) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package jwt

import (
	"net/http"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenExtractorFunc pulls a raw token from a request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// BearerTokenExtractor reads "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingBearerToken
	}
	return strings.TrimSpace(token), nil
}

// HeaderTokenExtractor reads the token from a custom header.
func HeaderTokenExtractor(name string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		token := r.Header.Get(name)
		if token == "" {
			return "", ErrMissingBearerToken
		}
		return token, nil
	}
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig[C gojwt.Claims] struct {
	Signer    *Signer
	NewClaims func() C
	Extractor TokenExtractorFunc
	// Optional reports requests that may pass without a token.
	Optional func(r *http.Request) bool
	OnError  func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware verifies the request token and stores its claims in the request
// context for ClaimsFromContext[C].
func Middleware[C gojwt.Claims](cfg MiddlewareConfig[C]) func(http.Handler) http.Handler {
	if cfg.Extractor == nil {
		cfg.Extractor = BearerTokenExtractor
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := cfg.Extractor(r)
			if err != nil {
				if cfg.Optional != nil && cfg.Optional(r) {
					next.ServeHTTP(w, r)
					return
				}
				cfg.OnError(w, r, err)
				return
			}

			claims := cfg.NewClaims()
			if err := cfg.Signer.Parse(raw, claims); err != nil {
				cfg.OnError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

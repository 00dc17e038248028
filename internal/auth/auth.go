// Package auth turns bearer tokens issued by the identity service into
// tenant principals.
package auth

import (
	"errors"
	"net/http"
	"slices"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/dmitrymomot/workspacekit/pkg/jwt"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

// Purpose is the key-derivation label for user access tokens.
const Purpose = "user-access"

// Claims is a user access token. Workspaces lists the memberships the
// identity service granted when it issued the token.
type Claims struct {
	gojwt.RegisteredClaims
	Workspaces []string `json:"wss"`
}

func (c *Claims) Subject() string { return c.RegisteredClaims.Subject }

func (c *Claims) IsMember(workspaceID string) bool {
	return slices.Contains(c.Workspaces, workspaceID)
}

func (c *Claims) Memberships() []string { return slices.Clone(c.Workspaces) }

var _ tenant.Principal = (*Claims)(nil)

// Authenticator verifies access tokens.
type Authenticator struct {
	signer *jwt.Signer
	now    func() time.Time
}

// New derives the verification key from secret.
func New(secret, issuer string, now func() time.Time) (*Authenticator, error) {
	if now == nil {
		now = time.Now
	}
	key, err := jwt.DeriveKey(secret, Purpose)
	if err != nil {
		return nil, err
	}
	signer, err := jwt.NewSigner(key, jwt.WithIssuer(issuer), jwt.WithClock(now))
	if err != nil {
		return nil, err
	}
	return &Authenticator{signer: signer, now: now}, nil
}

// Issue signs an access token. The identity service normally does this; it
// is exposed for operators and tests.
func (a *Authenticator) Issue(userID string, workspaces []string, ttl time.Duration) (string, error) {
	now := a.now()
	return a.signer.Sign(&Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.signer.Issuer(),
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
		Workspaces: workspaces,
	})
}

// Middleware verifies the bearer token and stores the principal for
// tenant.Middleware. Requests for which optional reports true pass without a
// token; a token they do carry is still verified.
func (a *Authenticator) Middleware(optional func(r *http.Request) bool, onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	verify := jwt.Middleware(jwt.MiddlewareConfig[*Claims]{
		Signer:    a.signer,
		NewClaims: func() *Claims { return &Claims{} },
		Optional:  optional,
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			if onError != nil {
				onError(w, r, errors.Join(tenant.ErrUnauthenticated, err))
				return
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		},
	})

	return func(next http.Handler) http.Handler {
		bind := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := jwt.ClaimsFromContext[*Claims](r.Context()); ok {
				r = r.WithContext(tenant.WithPrincipal(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
		return verify(bind)
	}
}

// Principal returns the authenticated caller of r.
func Principal(r *http.Request) (*Claims, bool) {
	p, ok := tenant.PrincipalFromContext(r.Context())
	if !ok {
		return nil, false
	}
	c, ok := p.(*Claims)
	return c, ok
}

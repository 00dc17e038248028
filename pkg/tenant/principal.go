package tenant

import (
	"context"
	"net/http"
	"slices"
)

// Principal is the authenticated caller as seen by tenant resolution.
type Principal interface {
	Subject() string
	IsMember(workspaceID string) bool
}

// PrincipalFunc extracts the authenticated principal from a request.
type PrincipalFunc func(r *http.Request) (Principal, error)

// Member is a Principal backed by a static membership list.
type Member struct {
	UserID     string
	Workspaces []string
}

func (m Member) Subject() string { return m.UserID }

func (m Member) IsMember(workspaceID string) bool {
	return slices.Contains(m.Workspaces, workspaceID)
}

// Memberships lists the workspaces of m.
func (m Member) Memberships() []string { return slices.Clone(m.Workspaces) }

type principalKey struct{}

// WithPrincipal stores the authenticated principal. Set by the authentication layer.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p != nil
}

// ContextPrincipal is the default PrincipalFunc: it reads the principal the
// authentication middleware put in the request context.
func ContextPrincipal(r *http.Request) (Principal, error) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

package tenant_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

func TestHeaderResolver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr error
	}{
		{name: "absent", value: "", want: ""},
		{name: "simple", value: "acme", want: "acme"},
		{name: "trimmed", value: "  ws_01-abc ", want: "ws_01-abc"},
		{name: "leading dash", value: "-acme", wantErr: tenant.ErrInvalidTenantIdentifier},
		{name: "path characters", value: "acme/../other", wantErr: tenant.ErrInvalidTenantIdentifier},
		{name: "too long", value: strings.Repeat("a", tenant.MaxIdentifierLength+1), wantErr: tenant.ErrInvalidTenantIdentifier},
	}

	resolve := tenant.NewHeaderResolver("X-Workspace")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest("GET", "/", nil)
			if tt.value != "" {
				req.Header.Set("X-Workspace", tt.value)
			}

			got, err := resolve(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderResolverDefaultHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(tenant.DefaultHeader, "ws-1")

	got, err := tenant.NewHeaderResolver("")(req)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", got)
}

func TestMemberPrincipal(t *testing.T) {
	t.Parallel()

	m := tenant.Member{UserID: "u1", Workspaces: []string{"W2", "W3"}}
	assert.Equal(t, "u1", m.Subject())
	assert.True(t, m.IsMember("W2"))
	assert.False(t, m.IsMember("W1"))
}

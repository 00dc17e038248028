package api

import (
	"net/http"

	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

func (a *API) getUsage(r *http.Request, _ empty) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	counters, err := a.usage.Snapshot(r.Context(), ws)
	if err != nil {
		return nil, err
	}
	warnings := 0
	for _, c := range counters {
		if c.Warning {
			warnings++
		}
	}
	return JSONWithMeta(http.StatusOK, counters, map[string]any{"warnings": warnings}), nil
}

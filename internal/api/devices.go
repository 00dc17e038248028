package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/workspacekit/pkg/device"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

type deviceView struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	Active        bool       `json:"active"`
	LastSyncAt    time.Time  `json:"last_sync_at"`
	ExpiresAt     time.Time  `json:"token_expires_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func newDeviceView(s device.Session) deviceView {
	return deviceView{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		UserID:        s.UserID,
		Name:          s.Name,
		Platform:      s.Platform,
		Active:        s.Active,
		LastSyncAt:    s.LastSyncAt,
		ExpiresAt:     s.TokenExpiresAt,
		DeactivatedAt: s.DeactivatedAt,
	}
}

type tokenView struct {
	Token      string            `json:"token"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Device     deviceView        `json:"device"`
	AccessMode device.AccessMode `json:"access_mode"`
}

func (a *API) tokenResponse(r *http.Request, ws string, status int, tok *device.Token) (Response, error) {
	mode, err := a.devices.AccessMode(r.Context(), ws)
	if err != nil {
		return nil, err
	}
	return JSON(status, tokenView{
		Token:      tok.Value,
		ExpiresAt:  tok.ExpiresAt,
		Device:     newDeviceView(tok.Session),
		AccessMode: mode,
	}), nil
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

func (a *API) registerDevice(r *http.Request, req registerDeviceRequest) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	reg := device.Registration{DeviceID: req.DeviceID, Name: req.Name, Platform: req.Platform}
	if p, ok := tenant.PrincipalFromContext(r.Context()); ok {
		reg.UserID = p.Subject()
	}
	tok, err := a.devices.RegisterDevice(r.Context(), ws, reg)
	if err != nil {
		return nil, err
	}
	return a.tokenResponse(r, ws, http.StatusCreated, tok)
}

type refreshDeviceRequest struct {
	Token string `json:"token"`
}

func (a *API) refreshDevice(r *http.Request, req refreshDeviceRequest) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	tok, err := a.devices.RefreshDevice(r.Context(), ws, req.Token)
	if err != nil {
		return nil, err
	}
	return a.tokenResponse(r, ws, http.StatusOK, tok)
}

func (a *API) deactivateDevice(r *http.Request, _ empty) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	if err := a.devices.DeactivateDevice(r.Context(), ws, chi.URLParam(r, "deviceID")); err != nil {
		return nil, err
	}
	return NoContent(), nil
}

func (a *API) listDevices(r *http.Request, _ empty) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	sessions, err := a.devices.List(r.Context(), ws)
	if err != nil {
		return nil, err
	}
	mode, err := a.devices.AccessMode(r.Context(), ws)
	if err != nil {
		return nil, err
	}
	out := make([]deviceView, 0, len(sessions))
	active := 0
	for _, s := range sessions {
		if s.Active {
			active++
		}
		out = append(out, newDeviceView(s))
	}
	return JSONWithMeta(http.StatusOK, out, map[string]any{"active": active, "access_mode": mode}), nil
}

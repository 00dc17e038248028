package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/workspacekit/pkg/jwt"
	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

const maxDeviceIDLength = 128

// Plans is the part of *subscription.Service the registry needs.
type Plans interface {
	Limit(ctx context.Context, workspaceID string, r subscription.Resource) (int64, bool, error)
	CheckAccess(ctx context.Context, workspaceID string) error
}

// Claims are the session token claims. The token ID is the session ID.
type Claims struct {
	gojwt.RegisteredClaims
	WorkspaceID string `json:"wid"`
	DeviceID    string `json:"did"`
}

// Token is a signed session token and the session it belongs to.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Session   Session   `json:"-"`
}

// Registration describes a device asking for a session.
type Registration struct {
	DeviceID string
	UserID   string
	Name     string
	Platform string
}

// Registry enforces per-plan device limits and issues session tokens.
type Registry struct {
	store      Store
	plans      Plans
	signer     *jwt.Signer
	validity   time.Duration
	grace      time.Duration
	maxOffline time.Duration
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a Registry whose token signing key is derived from
// cfg.TokenSecret.
func NewRegistry(store Store, plans Plans, cfg Config, opts ...Option) (*Registry, error) {
	if cfg.TokenSecret == "" {
		return nil, ErrMissingTokenSecret
	}
	key, err := jwt.DeriveKey(cfg.TokenSecret, "device-session")
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:      store,
		plans:      plans,
		validity:   days(cfg.TokenValidityDays, 7),
		grace:      days(cfg.GracePeriodDays, 3),
		maxOffline: days(cfg.MaxOfflineDays, 30),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.signer, err = jwt.NewSigner(key, jwt.WithIssuer(cfg.TokenIssuer), jwt.WithClock(r.now))
	if err != nil {
		return nil, err
	}
	r.log = r.log.With(logger.Component("device"))
	return r, nil
}

func days(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * 24 * time.Hour
}

// clock returns the current time at token precision.
func (r *Registry) clock() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// RegisterDevice creates a session for reg.DeviceID and returns a signed token.
// It fails with ErrDeviceLimitExceeded, wrapped together with a
// *usage.LimitError, when the workspace already has as many active devices as
// its plan allows. Registering a device that already has an active session
// issues a new token without using another slot.
func (r *Registry) RegisterDevice(ctx context.Context, workspaceID string, reg Registration) (*Token, error) {
	if reg.DeviceID == "" || len(reg.DeviceID) > maxDeviceIDLength {
		return nil, ErrInvalidDeviceID
	}
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	limit, _, err := r.plans.Limit(ctx, workspaceID, subscription.ResourceDevices)
	if err != nil {
		return nil, err
	}

	now := r.clock()
	session, count, err := r.store.Register(ctx, Session{
		ID:             uuid.NewString(),
		DeviceID:       reg.DeviceID,
		UserID:         reg.UserID,
		Name:           reg.Name,
		Platform:       reg.Platform,
		Active:         true,
		TokenIssuedAt:  now,
		TokenExpiresAt: now.Add(r.validity),
		LastSyncAt:     now,
		CreatedAt:      now,
	}, limit)
	if errors.Is(err, ErrDeviceLimitExceeded) {
		r.log.InfoContext(ctx, "device limit reached",
			logger.WorkspaceID(workspaceID),
			logger.DeviceID(reg.DeviceID),
			slog.Int64("active", count),
			slog.Int64("limit", limit),
		)
		return nil, fmt.Errorf("%w: %w", ErrDeviceLimitExceeded, &usage.LimitError{
			Counter:   subscription.ResourceDevices,
			Current:   count,
			Limit:     limit,
			Requested: 1,
		})
	}
	if err != nil {
		return nil, err
	}

	r.log.InfoContext(ctx, "device registered",
		logger.WorkspaceID(workspaceID),
		logger.DeviceID(session.DeviceID),
		logger.UserID(session.UserID),
		slog.Int64("active", count),
	)
	return r.issue(session)
}

func (r *Registry) issue(s Session) (*Token, error) {
	value, err := r.signer.Sign(&Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.UserID,
			Issuer:    r.signer.Issuer(),
			IssuedAt:  gojwt.NewNumericDate(s.TokenIssuedAt),
			ExpiresAt: gojwt.NewNumericDate(s.TokenExpiresAt),
		},
		WorkspaceID: s.WorkspaceID,
		DeviceID:    s.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("sign device token: %w", err)
	}
	return &Token{Value: value, ExpiresAt: s.TokenExpiresAt, Session: s}, nil
}

// RefreshDevice exchanges token for a new one. An expired token is still
// accepted for the configured grace period after its expiry; later the
// device has to register again. Only the most recently issued token of a
// session can be refreshed.
func (r *Registry) RefreshDevice(ctx context.Context, workspaceID, token string) (*Token, error) {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := r.signer.ParseExpired(token, &claims); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.WorkspaceID != workspaceID || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	now := r.clock()
	if now.After(claims.ExpiresAt.Add(r.grace)) {
		return nil, ErrRefreshWindowClosed
	}

	s, err := r.store.Get(ctx, claims.DeviceID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, ErrDeviceInactive
	}
	if s.ID != claims.ID || !s.TokenIssuedAt.Equal(claims.IssuedAt.Time) {
		return nil, ErrInvalidToken
	}

	s.TokenIssuedAt = now
	s.TokenExpiresAt = now.Add(r.validity)
	s.LastSyncAt = now
	if err := r.store.Update(ctx, s); err != nil {
		return nil, err
	}
	return r.issue(s)
}

// Authenticate verifies an unexpired token of an active session and returns
// the session.
func (r *Registry) Authenticate(ctx context.Context, token string) (Session, error) {
	var claims Claims
	if err := r.signer.Parse(token, &claims); err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return Session{}, ErrTokenExpired
		}
		return Session{}, errors.Join(ErrInvalidToken, err)
	}
	ctx, err := tenant.Scope(ctx, claims.WorkspaceID)
	if err != nil {
		return Session{}, err
	}
	s, err := r.store.Get(ctx, claims.DeviceID)
	if err != nil {
		return Session{}, err
	}
	if !s.Active {
		return Session{}, ErrDeviceInactive
	}
	if s.ID != claims.ID {
		return Session{}, ErrInvalidToken
	}
	return s, nil
}

// Touch records a sync from deviceID.
func (r *Registry) Touch(ctx context.Context, workspaceID, deviceID string) error {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return err
	}
	s, err := r.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if !s.Active {
		return ErrDeviceInactive
	}
	s.LastSyncAt = r.clock()
	return r.store.Update(ctx, s)
}

// DeactivateDevice ends the session of deviceID and frees its slot.
// Deactivating an inactive device is a no-op.
func (r *Registry) DeactivateDevice(ctx context.Context, workspaceID, deviceID string) error {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return err
	}
	s, err := r.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if !s.Active {
		return nil
	}
	now := r.clock()
	s.Active = false
	s.DeactivatedAt = &now
	if err := r.store.Update(ctx, s); err != nil {
		return err
	}
	r.log.InfoContext(ctx, "device deactivated",
		logger.WorkspaceID(workspaceID),
		logger.DeviceID(deviceID),
	)
	return nil
}

// DeactivateAll ends every session of workspaceID, for example when the
// subscription is cancelled.
func (r *Registry) DeactivateAll(ctx context.Context, workspaceID string) (int, error) {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return r.store.DeactivateAll(ctx, r.clock())
}

// List returns the sessions of workspaceID.
func (r *Registry) List(ctx context.Context, workspaceID string) ([]Session, error) {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return r.store.List(ctx)
}

// ActiveCount returns the number of active sessions of workspaceID. It feeds
// the devices row of usage snapshots.
func (r *Registry) ActiveCount(ctx context.Context, workspaceID string) (int64, error) {
	sessions, err := r.List(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, s := range sessions {
		if s.Active {
			n++
		}
	}
	return n, nil
}

// AccessMode returns READ_ONLY for workspaces whose subscription no longer
// grants access, FULL otherwise.
func (r *Registry) AccessMode(ctx context.Context, workspaceID string) (AccessMode, error) {
	err := r.plans.CheckAccess(ctx, workspaceID)
	switch {
	case err == nil:
		return AccessFull, nil
	case errors.Is(err, subscription.ErrSubscriptionExpired):
		return AccessReadOnly, nil
	default:
		return "", err
	}
}

// SweepInactive deactivates sessions that have not synced for longer than
// the max offline period and returns how many it deactivated. A failing
// workspace is logged and skipped.
func (r *Registry) SweepInactive(ctx context.Context) (int, error) {
	ids, err := r.store.Workspaces(ctx)
	if err != nil {
		return 0, err
	}
	now := r.clock()
	cutoff := now.Add(-r.maxOffline)

	swept := 0
	for _, ws := range ids {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		n, err := r.sweepWorkspace(tenant.WithTenant(ctx, ws), cutoff, now)
		swept += n
		if err != nil {
			r.log.ErrorContext(ctx, "device sweep failed",
				logger.WorkspaceID(ws),
				logger.Error(err),
			)
		}
	}
	return swept, nil
}

func (r *Registry) sweepWorkspace(ctx context.Context, cutoff, now time.Time) (int, error) {
	sessions, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if !s.Active || !s.LastSyncAt.Before(cutoff) {
			continue
		}
		s.Active = false
		s.DeactivatedAt = &now
		if err := r.store.Update(ctx, s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

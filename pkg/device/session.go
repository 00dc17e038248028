package device

import "time"

// Session is a registered device of a workspace.
type Session struct {
	ID          string
	WorkspaceID string
	DeviceID    string
	UserID      string
	Name        string
	Platform    string

	Active         bool
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
	LastSyncAt     time.Time
	CreatedAt      time.Time
	DeactivatedAt  *time.Time
}

func (s *Session) Tenant() string { return s.WorkspaceID }

func (s *Session) AssignTenant(workspaceID string) { s.WorkspaceID = workspaceID }

// AccessMode tells a client what it may do while offline or unpaid.
type AccessMode string

const (
	AccessFull     AccessMode = "FULL"
	AccessReadOnly AccessMode = "READ_ONLY"
)

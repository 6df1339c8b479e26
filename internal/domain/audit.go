package domain

import (
	"slices"
	"time"
)

// Event is a CloudStack audit event. Events are append-only.
type Event struct {
	Meta
	Username    string    `json:"username,omitempty"`
	Type        string    `json:"type"`
	Level       string    `json:"level,omitempty"`
	Description string    `json:"description,omitempty"`
	Account     string    `json:"account,omitempty"`
	State       string    `json:"state,omitempty"`
	DomainUUID  string    `json:"domain_uuid,omitempty"`
	DomainID    int64     `json:"domain_id,omitempty"`
	Created     time.Time `json:"created"`
}

func (e *Event) Kind() Kind           { return KindEvent }
func (e *Event) SearchText() []string { return []string{e.Type, e.Username, e.Description} }
func (e *Event) SystemManaged()       {}

func (e *Event) References() []Reference {
	return []Reference{{Kind: KindDomain, Key: e.DomainUUID, Target: &e.DomainID}}
}

// EventLiteral is an event type name known to CloudStack, e.g. VM.CREATE.
type EventLiteral struct {
	Meta
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (l *EventLiteral) Kind() Kind           { return KindEventLiteral }
func (l *EventLiteral) Key() string          { return l.Name }
func (l *EventLiteral) SearchText() []string { return []string{l.Name, l.Description} }

// LoginHistory records one login attempt.
type LoginHistory struct {
	Meta
	Username    string    `json:"username"`
	UserID      int64     `json:"user_id,omitempty"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

func (h *LoginHistory) Kind() Kind           { return KindLoginHistory }
func (h *LoginHistory) SearchText() []string { return []string{h.Username, h.RemoteAddr} }
func (h *LoginHistory) SystemManaged()       {}

// LoginSecurityTrack counts consecutive failed logins per username.
type LoginSecurityTrack struct {
	Meta
	Username       string     `json:"username"`
	FailedAttempts int64      `json:"failed_attempts"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

func (t *LoginSecurityTrack) Kind() Kind           { return KindLoginSecurityTrack }
func (t *LoginSecurityTrack) Key() string          { return t.Username }
func (t *LoginSecurityTrack) SearchText() []string { return []string{t.Username} }

// IsLocked reports whether the account is locked at now.
func (t *LoginSecurityTrack) IsLocked(now time.Time) bool {
	return t.LockedUntil != nil && now.Before(*t.LockedUntil)
}

// SyncStatus is the lifecycle of a manual sync request.
type SyncStatus string

const (
	SyncPending   SyncStatus = "PENDING"
	SyncRunning   SyncStatus = "RUNNING"
	SyncSucceeded SyncStatus = "SUCCEEDED"
	SyncFailed    SyncStatus = "FAILED"
)

// IsTerminal reports whether no further transitions happen.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncSucceeded || s == SyncFailed
}

// ManualCloudSync tracks a user-triggered sync pass.
type ManualCloudSync struct {
	Meta
	Kinds       []Kind     `json:"kinds,omitempty"`
	SyncStatus  SyncStatus `json:"sync_status"`
	RequestedBy int64      `json:"requested_by,omitempty"`
	Created     int64      `json:"created"`
	Updated     int64      `json:"updated"`
	Deactivated int64      `json:"deactivated"`
	Failed      int64      `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (s *ManualCloudSync) Kind() Kind           { return KindManualCloudSync }
func (s *ManualCloudSync) SearchText() []string { return []string{string(s.SyncStatus)} }
func (s *ManualCloudSync) SystemManaged()       {}

func (s *ManualCloudSync) CloneSlices() { s.Kinds = slices.Clone(s.Kinds) }

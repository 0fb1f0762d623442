package domain

import "time"

// NATS subjects for credential lifecycle events.
const (
	NATSCredentialAssignedV1 = "sip.credential.assigned.v1"
	NATSCredentialReleasedV1 = "sip.credential.released.v1"
)

// CredentialAssignedEvent is published after a successful assignment.
// The SIP password is deliberately not included in the event payload.
type CredentialAssignedEvent struct {
	CredentialID int64     `json:"credential_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	SipUsername  string    `json:"sip_username"`
	SipDomain    string    `json:"sip_domain"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// CredentialReleasedEvent is published after a record returns to the pool.
type CredentialReleasedEvent struct {
	CredentialID int64     `json:"credential_id"`
	UserID       string    `json:"user_id,omitempty"` // previous holder, if known
	Forced       bool      `json:"forced"`
	ReleasedAt   time.Time `json:"released_at"`
}

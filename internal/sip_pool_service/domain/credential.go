package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transport values accepted for a SIP credential.
const (
	TransportUDP = "UDP"
	TransportTCP = "TCP"
	TransportWSS = "WSS"
)

// DefaultSipPort is used when a record is provisioned without an explicit port.
const DefaultSipPort = 5060

// SipCredential represents one provisioned SIP account in the pool.
// Records are seeded out-of-band; the service only ever flips their assignment.
// AssignedUserID nil means the record is available; non-nil means it is held
// exclusively by that user.
type SipCredential struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Password       string     `json:"password"`
	SipDomain      string     `json:"sip_domain"`
	Server         string     `json:"server"`
	Port           int        `json:"port"`
	Transport      string     `json:"transport"`
	AssignedUserID *uuid.UUID `json:"assigned_user_id,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsAssigned reports whether the record is currently held by a user.
func (c *SipCredential) IsAssigned() bool {
	return c.AssignedUserID != nil
}

// IsAssignedTo reports whether the record is currently held by the given user.
func (c *SipCredential) IsAssignedTo(userID uuid.UUID) bool {
	return c.AssignedUserID != nil && *c.AssignedUserID == userID
}

// ValidTransport reports whether t is one of the supported SIP transports.
func ValidTransport(t string) bool {
	switch t {
	case TransportUDP, TransportTCP, TransportWSS:
		return true
	}
	return false
}

// PoolStats is a snapshot of pool utilization, always computed from current
// record states so that Available+Assigned == Total cannot drift.
type PoolStats struct {
	Total          int `json:"total"`
	Available      int `json:"available"`
	Assigned       int `json:"assigned"`
	PercentageUsed int `json:"percentage_used"`
}

package revocation

import "time"

// Reason classifies why a credential was revoked.
type Reason string

const (
	ReasonLogout           Reason = "logout"
	ReasonCredentialChange Reason = "credential_change"
	ReasonAdminAction      Reason = "admin_action"
	ReasonSecurityIncident Reason = "security_incident"
)

// AllowsRevokeAll reports whether the reason may revoke every token a user
// holds. A plain logout only ever revokes the single presented token.
func (r Reason) AllowsRevokeAll() bool {
	switch r {
	case ReasonCredentialChange, ReasonAdminAction, ReasonSecurityIncident:
		return true
	default:
		return false
	}
}

// Record is one row in the revocation ledger: either an individual token
// revocation or a per-user marker meaning "everything issued before
// RevokedAt is invalid".
type Record struct {
	ID        string
	TokenID   string
	UserID    string
	RevokedAt time.Time
	ExpiresAt time.Time
	Reason    Reason
}

const markerPrefix = "user-revocation:"

// MarkerTokenID is the synthetic token id of a user's revoke-all marker.
// Using the token-id column keeps marker lookups on the same unique index
// as individual revocations and guarantees at most one marker per user.
func MarkerTokenID(userID string) string {
	return markerPrefix + userID
}

package authz

import (
	"fmt"
	"strings"
)

// Decision reason strings. Callers distinguishing "denied by policy" from
// "system error" must compare against these rather than parsing messages.
const (
	ReasonGranted           = "granted"
	ReasonNotGranted        = "permission not granted"
	ReasonInvalidInput      = "invalid input"
	ReasonUserNotFound      = "user not found"
	ReasonUserInactive      = "user inactive"
	ReasonUnknownPermission = "no such permission"
	ReasonInternalError     = "internal error"
)

// Decision is the structured outcome of an authorization check. Business
// failures (missing user, inactive user, unknown permission) are decisions,
// never errors; only infrastructure failures surface as errors, and even then
// the accompanying decision fails closed.
type Decision struct {
	Authorized bool     `json:"authorized"`
	Permission string   `json:"permission"`
	MatchedBy  string   `json:"matched_by,omitempty"` // permission that satisfied the check
	Reason     string   `json:"reason"`
	Effective  []string `json:"effective,omitempty"`
	CacheHit   bool     `json:"cache_hit"`
}

func notAuthorized(permission, reason string) Decision {
	return Decision{Permission: permission, Reason: reason}
}

func granted(permission, matchedBy string) Decision {
	reason := ReasonGranted
	if matchedBy != permission {
		reason = fmt.Sprintf("granted via ancestor %q", matchedBy)
	}
	return Decision{
		Authorized: true,
		Permission: permission,
		MatchedBy:  matchedBy,
		Reason:     reason,
	}
}

func missingReason(missing []string) string {
	return "missing permissions: " + strings.Join(missing, ", ")
}

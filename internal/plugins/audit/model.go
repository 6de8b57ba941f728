// Package audit records site-wide security events: sign-ins, failed
// sign-ins, password resets and changes, profile edits and admin creation.
// Events are persisted to the security_events table and listed for admins.
//
// The plugin only observes. It never changes account state, and a failure
// to record an event never fails the operation that produced it.
package audit

import (
	"time"

	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// SecurityEvent is one recorded security event.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"eventType"`
	Label     string         `json:"label"`
	UserID    string         `json:"userId,omitempty"`
	Email     string         `json:"email,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SecurityStats holds aggregate counts for the admin overview.
type SecurityStats struct {
	TotalEvents         int `json:"totalEvents"`
	FailedLogins24h     int `json:"failedLogins24h"`
	SuccessfulLogins24h int `json:"successfulLogins24h"`
	PasswordResets24h   int `json:"passwordResets24h"`
	UniqueIPs24h        int `json:"uniqueIps24h"`
}

// EventPage is one page of the event list.
type EventPage struct {
	Events  []SecurityEvent `json:"events"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"perPage"`
}

var eventLabels = map[string]string{
	auth.EventRegisterSuccess:        "Account Registered",
	auth.EventLoginSuccess:           "Login Success",
	auth.EventLoginFailed:            "Login Failed",
	auth.EventLogout:                 "Logout",
	auth.EventPasswordResetInitiated: "Password Reset Requested",
	auth.EventPasswordResetVerified:  "Password Reset Code Verified",
	auth.EventPasswordResetCompleted: "Password Reset Completed",
	auth.EventPasswordChanged:        "Password Changed",
	auth.EventProfileUpdated:         "Profile Updated",
	auth.EventAdminCreated:           "Admin Created",
}

// EventTypeLabel returns a human-readable label for a security event type.
func EventTypeLabel(eventType string) string {
	if label, ok := eventLabels[eventType]; ok {
		return label
	}
	return eventType
}

// knownEventType reports whether eventType is one the auth service emits.
func knownEventType(eventType string) bool {
	_, ok := eventLabels[eventType]
	return ok
}

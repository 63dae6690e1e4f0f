package models

import "time"

// FingerprintProfile is the behavioral profile presented alongside an egress
// route for one session.
type FingerprintProfile struct {
	UserAgent      string `json:"userAgent"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
	Locale         string `json:"locale,omitempty"`
}

// IdentityDescriptor is one egress identity: a network route plus a
// fingerprint profile, with the health counters the pool maintains. The pool
// owns all mutation; callers treat a descriptor as read-only while held.
type IdentityDescriptor struct {
	Name        string             `json:"name"`
	ProxyURL    string             `json:"proxyUrl"`
	Fingerprint FingerprintProfile `json:"fingerprint"`

	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	LastUsed             time.Time `json:"lastUsed"`
	CooldownUntil        time.Time `json:"cooldownUntil"`
}

// SessionOutcome is reported back to the pool when an identity is released.
type SessionOutcome string

const (
	SessionSuccess SessionOutcome = "success"
	SessionFailure SessionOutcome = "failure"
	SessionBlocked SessionOutcome = "blocked"
)

package models

import "time"

// MatchPattern selects verification mail by sender and subject substrings.
// A message matches when its sender contains any FromContains entry or its
// subject contains any SubjectContains entry, case-insensitively.
type MatchPattern struct {
	FromContains    []string `json:"fromContains"`
	SubjectContains []string `json:"subjectContains"`
}

// VerificationRequest asks the poller to resolve an email confirmation link
// for one application before Deadline. Consumed on success or expiry.
type VerificationRequest struct {
	Key          ApplicationKey `json:"key"`
	Pattern      MatchPattern   `json:"pattern"`
	Deadline     time.Time      `json:"deadline"`
	PollInterval time.Duration  `json:"pollInterval"`
	Attempts     int            `json:"attempts"`
}

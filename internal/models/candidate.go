package models

// PostingCandidate is one job posting returned by a platform driver's search.
type PostingCandidate struct {
	Key         ApplicationKey    `json:"key"`
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	Location    string            `json:"location,omitempty"`
	URL         string            `json:"url,omitempty"`
	RawMetadata map[string]string `json:"rawMetadata,omitempty"`
}

// SearchCriteria describes what to search a platform for.
type SearchCriteria struct {
	Keywords      []string `json:"keywords"`
	Locations     []string `json:"locations"`
	DatePosted    string   `json:"datePosted,omitempty"`
	EasyApplyOnly bool     `json:"easyApplyOnly"`
	RemoteOnly    bool     `json:"remoteOnly"`
}

// SubmissionStatus classifies the result of one submission attempt.
type SubmissionStatus string

const (
	SubmissionCompleted            SubmissionStatus = "completed"
	SubmissionRequiresVerification SubmissionStatus = "requires_verification"
	SubmissionRejected             SubmissionStatus = "rejected"
	SubmissionTransientError       SubmissionStatus = "transient_error"
)

// SubmissionResult is what a platform driver reports back after Submit.
// RateLimited marks a transient error as a platform throttling signal, which
// puts the egress identity into cooldown instead of a plain failure mark.
type SubmissionResult struct {
	Status      SubmissionStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	RateLimited bool             `json:"rateLimited,omitempty"`
}

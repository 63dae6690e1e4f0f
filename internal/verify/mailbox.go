// Package verify resolves email confirmation links for submitted
// applications by polling a mailbox until a matching message arrives or the
// verification deadline passes.
package verify

import (
	"context"
	"strings"
	"time"

	"jobpilot/internal/models"
)

// Message is one mail item as seen by the poller.
type Message struct {
	From     string
	Subject  string
	Body     string
	Received time.Time
}

// Mailbox is the mail source the poller reads from. Fetch returns messages
// received at or after since; implementations may return previously seen
// messages, the poller filters by time and pattern.
type Mailbox interface {
	Fetch(ctx context.Context, since time.Time) ([]Message, error)
}

// Matches reports whether the message satisfies the pattern: any sender
// substring or any subject substring, case-insensitively.
func Matches(p models.MatchPattern, m Message) bool {
	from := strings.ToLower(m.From)
	for _, want := range p.FromContains {
		if want != "" && strings.Contains(from, strings.ToLower(want)) {
			return true
		}
	}
	subject := strings.ToLower(m.Subject)
	for _, want := range p.SubjectContains {
		if want != "" && strings.Contains(subject, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

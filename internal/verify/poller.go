package verify

import (
	"context"
	"sync"
	"time"

	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/common/metrics"
	"jobpilot/internal/models"
)

// clockSkew widens the receive window so a mail timestamped slightly before
// the submission still matches.
const clockSkew = time.Minute

// Poller watches one mailbox for verification mail. A mutex serializes
// Await calls so the account only ever runs one polling session at a time.
type Poller struct {
	mu         sync.Mutex
	mailbox    Mailbox
	mailboxCap int
	logger     logger.Logger
}

// NewPoller wraps the mailbox. mailboxCap is the number of consecutive fetch
// failures tolerated before the wait is abandoned as MAILBOX_UNAVAILABLE.
func NewPoller(mailbox Mailbox, mailboxCap int, log logger.Logger) *Poller {
	if mailboxCap < 1 {
		mailboxCap = 1
	}
	return &Poller{
		mailbox:    mailbox,
		mailboxCap: mailboxCap,
		logger:     log.WithFields(map[string]interface{}{"component": "verifyPoller"}),
	}
}

// Await polls the mailbox until a message matching the request carries a
// confirmation link, the deadline passes, or the mailbox is declared
// unreachable. Timeout and mailbox failure surface as distinct error codes
// so the caller can record the right failure reason.
func (p *Poller) Await(ctx context.Context, req models.VerificationRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	since := start.Add(-clockSkew)
	log := p.logger.WithFields(map[string]interface{}{"key": req.Key.String()})

	interval := req.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	var fetchFailures int
	for attempt := 1; ; attempt++ {
		if !time.Now().Before(req.Deadline) {
			metrics.VerificationWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			log.Warn("verification deadline passed", map[string]interface{}{
				"attempts": attempt - 1,
			})
			return "", apperrors.NewVerificationTimeoutError(req.Key.String(), req.Deadline)
		}

		messages, err := p.mailbox.Fetch(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			fetchFailures++
			log.Warn("mailbox fetch failed", map[string]interface{}{
				"consecutiveFailures": fetchFailures,
				"error":               err.Error(),
			})
			if fetchFailures >= p.mailboxCap {
				metrics.VerificationWait.WithLabelValues("mailbox_error").Observe(time.Since(start).Seconds())
				return "", apperrors.NewMailboxUnavailableError(err)
			}
		} else {
			fetchFailures = 0
			for _, m := range messages {
				if !Matches(req.Pattern, m) {
					continue
				}
				link := ExtractLink(m.Body)
				if link == "" {
					// Matching mail without a usable link, keep waiting.
					log.Debug("matching mail carried no confirmation link", map[string]interface{}{
						"subject": m.Subject,
					})
					continue
				}
				metrics.VerificationWait.WithLabelValues("confirmed").Observe(time.Since(start).Seconds())
				log.Info("verification mail received", map[string]interface{}{
					"subject":  m.Subject,
					"attempts": attempt,
				})
				return link, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(intervalUntil(interval, req.Deadline)):
		}
	}
}

// intervalUntil shortens the final sleep so the deadline check runs on time.
func intervalUntil(interval time.Duration, deadline time.Time) time.Duration {
	if remaining := time.Until(deadline); remaining < interval {
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return interval
}

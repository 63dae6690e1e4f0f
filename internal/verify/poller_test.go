package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"

	"github.com/stretchr/testify/assert"
)

// fakeMailbox serves scripted responses, one per Fetch call. The last script
// entry repeats once the script runs out.
type fakeMailbox struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	messages []Message
	err      error
}

func (f *fakeMailbox) Fetch(ctx context.Context, since time.Time) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	r := f.script[idx]
	return r.messages, r.err
}

func greenhouseRequest(deadline time.Duration) models.VerificationRequest {
	return models.VerificationRequest{
		Key: models.ApplicationKey{Platform: "greenhouse", PostingID: "posting-001"},
		Pattern: models.MatchPattern{
			FromContains:    []string{"no-reply@greenhouse.io"},
			SubjectContains: []string{"confirm your application"},
		},
		Deadline:     time.Now().Add(deadline),
		PollInterval: 10 * time.Millisecond,
	}
}

func confirmationMail() Message {
	return Message{
		From:     "Greenhouse <no-reply@greenhouse.io>",
		Subject:  "Please confirm your application",
		Body:     "Thanks for applying!\n\nClick here: https://jobs.example.com/confirm?token=abc123.\n",
		Received: time.Now(),
	}
}

func TestPoller_Await_ReturnsLink(t *testing.T) {
	mailbox := &fakeMailbox{script: []fetchResult{
		{messages: nil},
		{messages: []Message{confirmationMail()}},
	}}
	poller := NewPoller(mailbox, 3, logger.NewTestLogger(t))

	link, err := poller.Await(context.Background(), greenhouseRequest(2*time.Second))

	assert.NoError(t, err)
	assert.Equal(t, "https://jobs.example.com/confirm?token=abc123", link)
}

func TestPoller_Await_IgnoresUnrelatedMail(t *testing.T) {
	unrelated := Message{
		From:     "newsletter@randomsite.com",
		Subject:  "Weekly digest",
		Body:     "https://randomsite.com/confirm-subscription",
		Received: time.Now(),
	}
	mailbox := &fakeMailbox{script: []fetchResult{
		{messages: []Message{unrelated}},
	}}
	poller := NewPoller(mailbox, 3, logger.NewTestLogger(t))

	_, err := poller.Await(context.Background(), greenhouseRequest(80*time.Millisecond))

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeVerificationTimeout, apperrors.CodeOf(err))
}

func TestPoller_Await_MatchWithoutLinkKeepsWaiting(t *testing.T) {
	noLink := confirmationMail()
	noLink.Body = "We received your application. No action needed."

	mailbox := &fakeMailbox{script: []fetchResult{
		{messages: []Message{noLink}},
		{messages: []Message{confirmationMail()}},
	}}
	poller := NewPoller(mailbox, 3, logger.NewTestLogger(t))

	link, err := poller.Await(context.Background(), greenhouseRequest(2*time.Second))

	assert.NoError(t, err)
	assert.NotEmpty(t, link)
}

func TestPoller_Await_Timeout(t *testing.T) {
	mailbox := &fakeMailbox{script: []fetchResult{{messages: nil}}}
	poller := NewPoller(mailbox, 3, logger.NewTestLogger(t))

	start := time.Now()
	_, err := poller.Await(context.Background(), greenhouseRequest(60*time.Millisecond))

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeVerificationTimeout, apperrors.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoller_Await_MailboxErrorDistinctFromTimeout(t *testing.T) {
	mailbox := &fakeMailbox{script: []fetchResult{
		{err: errors.New("connection reset")},
	}}
	poller := NewPoller(mailbox, 2, logger.NewTestLogger(t))

	_, err := poller.Await(context.Background(), greenhouseRequest(5*time.Second))

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMailboxUnavailable, apperrors.CodeOf(err))
}

func TestPoller_Await_FetchErrorsResetOnSuccess(t *testing.T) {
	mailbox := &fakeMailbox{script: []fetchResult{
		{err: errors.New("connection reset")},
		{messages: nil},
		{err: errors.New("connection reset")},
		{messages: []Message{confirmationMail()}},
	}}
	// Cap of two is never hit because a clean fetch resets the streak.
	poller := NewPoller(mailbox, 2, logger.NewTestLogger(t))

	link, err := poller.Await(context.Background(), greenhouseRequest(2*time.Second))

	assert.NoError(t, err)
	assert.NotEmpty(t, link)
}

func TestPoller_Await_Cancellation(t *testing.T) {
	mailbox := &fakeMailbox{script: []fetchResult{{messages: nil}}}
	poller := NewPoller(mailbox, 3, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := poller.Await(ctx, greenhouseRequest(10*time.Second))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatches(t *testing.T) {
	pattern := models.MatchPattern{
		FromContains:    []string{"greenhouse.io"},
		SubjectContains: []string{"verify"},
	}

	assert.True(t, Matches(pattern, Message{From: "No-Reply@Greenhouse.IO"}))
	assert.True(t, Matches(pattern, Message{From: "hr@corp.com", Subject: "Please VERIFY your email"}))
	assert.False(t, Matches(pattern, Message{From: "hr@corp.com", Subject: "Interview invitation"}))
	assert.False(t, Matches(models.MatchPattern{}, Message{From: "anyone", Subject: "anything"}))
}

func TestExtractLink(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "plain confirmation link",
			body: "Click https://jobs.example.com/verify?t=1 to continue",
			want: "https://jobs.example.com/verify?t=1",
		},
		{
			name: "trailing punctuation stripped",
			body: "Confirm here: https://jobs.example.com/confirm/abc.",
			want: "https://jobs.example.com/confirm/abc",
		},
		{
			name: "http link rejected",
			body: "Visit http://jobs.example.com/verify?t=1",
			want: "",
		},
		{
			name: "link without indicator rejected",
			body: "Unsubscribe: https://jobs.example.com/optout",
			want: "",
		},
		{
			name: "first qualifying link among several",
			body: "https://tracker.example.com/pixel then https://jobs.example.com/activate/xyz!",
			want: "https://jobs.example.com/activate/xyz",
		},
		{
			name: "no links at all",
			body: "We received your application.",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractLink(tt.body))
		})
	}
}

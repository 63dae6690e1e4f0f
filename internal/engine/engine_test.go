package engine

import (
	"context"
	"testing"
	"time"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/ledger"
	"jobpilot/internal/models"
	"jobpilot/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	results []*models.SubmissionResult
	submits int
}

func (d *fakeDriver) Name() string { return "greenhouse" }

func (d *fakeDriver) Search(ctx context.Context, criteria models.SearchCriteria) ([]models.PostingCandidate, error) {
	return nil, nil
}

func (d *fakeDriver) Submit(ctx context.Context, candidate models.PostingCandidate, identity *models.IdentityDescriptor, profile map[string]interface{}) (*models.SubmissionResult, error) {
	idx := d.submits
	if idx >= len(d.results) {
		idx = len(d.results) - 1
	}
	d.submits++
	return d.results[idx], nil
}

func (d *fakeDriver) VerificationPattern() models.MatchPattern {
	return models.MatchPattern{FromContains: []string{"greenhouse.io"}}
}

type fakePool struct {
	acquires   int
	released   []models.SessionOutcome
	acquireErr error
}

func (p *fakePool) Acquire(ctx context.Context) (*models.IdentityDescriptor, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires++
	return &models.IdentityDescriptor{Name: "alpha"}, nil
}

func (p *fakePool) Release(name string, outcome models.SessionOutcome) {
	p.released = append(p.released, outcome)
}

type fakeVerifier struct {
	link string
	err  error
}

func (v *fakeVerifier) Await(ctx context.Context, req models.VerificationRequest) (string, error) {
	return v.link, v.err
}

type allowAllFilter struct{}

func (allowAllFilter) Evaluate(ctx context.Context, c models.PostingCandidate) (platform.Decision, error) {
	return platform.Decision{Allow: true}, nil
}

type denyFilter struct{ reason string }

func (f denyFilter) Evaluate(ctx context.Context, c models.PostingCandidate) (platform.Decision, error) {
	return platform.Decision{Reason: f.reason}, nil
}

func sessionConfig() config.SessionConfig {
	return config.SessionConfig{
		SubmitMaxRetries: 2,
		BackoffInitial:   1,
		BackoffMax:       4,
		VerifyDeadline:   500,
		VerifyPollEvery:  10,
	}
}

type fixture struct {
	engine *Engine
	ledger *ledger.MemoryLedger
	pool   *fakePool
	driver *fakeDriver
}

func newFixture(t *testing.T, driver *fakeDriver, verifier Verifier, filter platform.Filter) *fixture {
	led := ledger.NewMemory()
	pool := &fakePool{}
	if filter == nil {
		filter = allowAllFilter{}
	}
	eng := New(led, pool, verifier, filter,
		map[string]interface{}{"email": "jane@example.com"},
		sessionConfig(), logger.NewTestLogger(t))
	return &fixture{engine: eng, ledger: led, pool: pool, driver: driver}
}

func (f *fixture) reserve(t *testing.T) (*models.ApplicationRecord, models.PostingCandidate) {
	candidate := models.PostingCandidate{
		Key:   models.ApplicationKey{Platform: "greenhouse", PostingID: "posting-001"},
		Title: "Backend Engineer",
	}
	rec, created, err := f.ledger.Reserve(context.Background(), candidate.Key, nil)
	require.NoError(t, err)
	require.True(t, created)
	return rec, candidate
}

func TestEngine_CompletedSubmission(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, models.StageRecorded, rec.Stage)
	assert.Equal(t, []models.SessionOutcome{models.SessionSuccess}, f.pool.released)

	stored, err := f.ledger.Get(context.Background(), rec.Key)
	assert.NoError(t, err)
	assert.Equal(t, models.StageRecorded, stored.Stage)
	assert.Equal(t, models.OutcomeApplied, stored.Outcome)
}

func TestEngine_VerificationFlow(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionRequiresVerification},
	}}
	f := newFixture(t, driver, &fakeVerifier{link: "https://jobs.example.com/confirm/abc"}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	stored, err := f.ledger.Get(context.Background(), rec.Key)
	assert.NoError(t, err)
	assert.Equal(t, models.StageRecorded, stored.Stage)
	assert.Equal(t, "https://jobs.example.com/confirm/abc", stored.Metadata["verificationLink"])
	assert.NotNil(t, stored.VerifyDeadline)
}

func TestEngine_Rejection(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionRejected, Reason: "position filled"},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, outcome)
	assert.Equal(t, 1, driver.submits)

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageFailed, stored.Stage)
	assert.Equal(t, string(apperrors.ErrCodeSubmissionRejected), stored.FailureReason)

	// A rejected identity session is still a successful session.
	assert.Equal(t, []models.SessionOutcome{models.SessionSuccess}, f.pool.released)
}

func TestEngine_TransientRetryThenSuccess(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionTransientError, Reason: "timeout"},
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, 2, driver.submits)

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, 1, stored.Retries)
}

func TestEngine_TransientRetriesExhausted(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionTransientError, Reason: "timeout"},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, outcome)
	assert.Equal(t, 3, driver.submits) // initial attempt plus two retries

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageFailed, stored.Stage)
	assert.Equal(t, string(apperrors.ErrCodeNetworkTimeout), stored.FailureReason)
	assert.Equal(t, 3, stored.Retries)
	assert.Equal(t, []models.SessionOutcome{models.SessionFailure}, f.pool.released)
}

func TestEngine_RateLimitedStaysResumable(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionTransientError, Reason: "throttled", RateLimited: true},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	_, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRateLimited, apperrors.CodeOf(err))
	assert.False(t, apperrors.IsInfrastructure(err))
	assert.Equal(t, []models.SessionOutcome{models.SessionBlocked}, f.pool.released)

	// Non-terminal stage survives for the next run.
	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageSubmitting, stored.Stage)
}

func TestEngine_VerificationTimeout(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionRequiresVerification},
	}}
	verifier := &fakeVerifier{err: apperrors.NewVerificationTimeoutError("greenhouse/posting-001", time.Now())}
	f := newFixture(t, driver, verifier, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, outcome)

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageFailed, stored.Stage)
	assert.Equal(t, string(apperrors.ErrCodeVerificationTimeout), stored.FailureReason)
}

func TestEngine_MailboxErrorLeavesRecordPending(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionRequiresVerification},
	}}
	verifier := &fakeVerifier{err: apperrors.NewMailboxUnavailableError(context.DeadlineExceeded)}
	f := newFixture(t, driver, verifier, nil)
	rec, candidate := f.reserve(t)

	_, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMailboxUnavailable, apperrors.CodeOf(err))

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StagePendingVerification, stored.Stage)
}

func TestEngine_DryRun(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, true)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeSimulated, outcome)
	assert.Equal(t, 0, driver.submits)
	assert.Equal(t, 0, f.pool.acquires)

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageRecorded, stored.Stage)
	assert.True(t, stored.Simulated)
}

func TestEngine_FilterSkip(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, denyFilter{reason: "excluded company"})
	rec, candidate := f.reserve(t)

	outcome, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, outcome)
	assert.Equal(t, 0, driver.submits)

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageSkipped, stored.Stage)
	assert.Equal(t, "excluded company", stored.FailureReason)
}

func TestEngine_PoolExhaustedAbortsWithoutFailingRecord(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	f.pool.acquireErr = apperrors.NewPoolExhaustedError(time.Second)
	rec, candidate := f.reserve(t)

	_, err := f.engine.Run(context.Background(), driver, candidate, rec, false)

	assert.Error(t, err)
	assert.True(t, apperrors.IsInfrastructure(err))

	stored, _ := f.ledger.Get(context.Background(), rec.Key)
	assert.Equal(t, models.StageSubmitting, stored.Stage)
	assert.NotEqual(t, models.OutcomeFailed, stored.Outcome)
}

func TestEngine_ResumesPendingVerification(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionRequiresVerification},
	}}
	f := newFixture(t, driver, &fakeVerifier{link: "https://jobs.example.com/verify/xyz"}, nil)
	rec, candidate := f.reserve(t)
	ctx := context.Background()

	// Walk the record to PendingVerification as a previous run would have.
	deadline := time.Now().Add(time.Minute)
	require.NoError(t, f.ledger.Update(ctx, rec.Key, models.StageFiltered, models.Patch{}))
	require.NoError(t, f.ledger.Update(ctx, rec.Key, models.StageSubmitting, models.Patch{}))
	require.NoError(t, f.ledger.Update(ctx, rec.Key, models.StagePendingVerification, models.Patch{VerifyDeadline: &deadline}))

	resumed, err := f.ledger.Get(ctx, rec.Key)
	require.NoError(t, err)

	outcome, err := f.engine.Run(ctx, driver, candidate, resumed, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, 0, driver.submits)
}

func TestEngine_TerminalRecordIsIdempotent(t *testing.T) {
	driver := &fakeDriver{results: []*models.SubmissionResult{
		{Status: models.SubmissionCompleted},
	}}
	f := newFixture(t, driver, &fakeVerifier{}, nil)
	rec, candidate := f.reserve(t)
	ctx := context.Background()

	outcome, err := f.engine.Run(ctx, driver, candidate, rec, false)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeApplied, outcome)

	// Running the same record again changes nothing.
	again, err := f.ledger.Get(ctx, rec.Key)
	require.NoError(t, err)
	outcome, err = f.engine.Run(ctx, driver, candidate, again, false)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, 1, driver.submits)
}

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	assert.GreaterOrEqual(t, b1, base/2)
	assert.LessOrEqual(t, b1, max)

	b4 := backoffWithJitter(base, max, 4)
	assert.GreaterOrEqual(t, b4, base)
	assert.LessOrEqual(t, b4, max)
}

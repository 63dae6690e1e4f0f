// Package engine drives one application through the workflow state machine:
// filter, submit, await verification, record. Every transition is one ledger
// update, so a crash resumes exactly where the record stands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/common/metrics"
	"jobpilot/internal/ledger"
	"jobpilot/internal/models"
	"jobpilot/internal/platform"
)

// IdentityPool is the slice of the identity pool the engine needs.
type IdentityPool interface {
	Acquire(ctx context.Context) (*models.IdentityDescriptor, error)
	Release(name string, outcome models.SessionOutcome)
}

// Verifier resolves an email confirmation link for one submission.
type Verifier interface {
	Await(ctx context.Context, req models.VerificationRequest) (string, error)
}

// Engine executes one posting at a time. Safe for concurrent use; all
// per-posting state lives in the ledger record.
type Engine struct {
	ledger   ledger.Ledger
	pool     IdentityPool
	verifier Verifier
	filter   platform.Filter
	profile  map[string]interface{}
	cfg      config.SessionConfig
	logger   logger.Logger
}

func New(led ledger.Ledger, pool IdentityPool, verifier Verifier, filter platform.Filter, profile map[string]interface{}, cfg config.SessionConfig, log logger.Logger) *Engine {
	return &Engine{
		ledger:   led,
		pool:     pool,
		verifier: verifier,
		filter:   filter,
		profile:  profile,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "engine"}),
	}
}

// Run drives the record to a terminal stage and returns its outcome. A nil
// error with OutcomeFailed means the posting failed but the run goes on;
// a non-nil error means the run itself should react (infrastructure fault
// or cancellation). The record is left wherever the last durable transition
// put it, so a later run picks it up from there.
func (e *Engine) Run(ctx context.Context, driver platform.Driver, candidate models.PostingCandidate, rec *models.ApplicationRecord, dryRun bool) (models.Outcome, error) {
	log := e.logger.WithFields(map[string]interface{}{
		"key": rec.Key.String(), "title": candidate.Title,
	})

	// The loop re-reads the stage after every transition. The iteration cap
	// only guards against a cycle bug; the stage machine itself is acyclic.
	for i := 0; i < 16; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch rec.Stage {
		case models.StageDiscovered:
			if err := e.applyFilter(ctx, candidate, rec, log); err != nil {
				return e.afterTransition(ctx, rec, err)
			}

		case models.StageFiltered:
			if err := e.transition(ctx, rec, models.StageSubmitting, models.Patch{}); err != nil {
				return e.afterTransition(ctx, rec, err)
			}

		case models.StageSubmitting:
			if err := e.submit(ctx, driver, candidate, rec, dryRun, log); err != nil {
				return e.afterTransition(ctx, rec, err)
			}

		case models.StagePendingVerification:
			if err := e.awaitVerification(ctx, driver, rec, log); err != nil {
				return e.afterTransition(ctx, rec, err)
			}

		case models.StageVerified:
			err := e.transition(ctx, rec, models.StageRecorded, models.Patch{Outcome: models.OutcomeApplied})
			if err != nil {
				return e.afterTransition(ctx, rec, err)
			}
			log.Info("application recorded", map[string]interface{}{"outcome": rec.Outcome})

		case models.StageRecorded, models.StageSkipped, models.StageFailed:
			return rec.Outcome, nil

		default:
			return "", fmt.Errorf("record %s is in unknown stage %q", rec.Key, rec.Stage)
		}
	}
	return "", fmt.Errorf("record %s did not reach a terminal stage", rec.Key)
}

// afterTransition folds a transition failure into the loop contract. A stale
// transition means another driver moved the record first; the fresh state
// decides the outcome. Everything else aborts this posting.
func (e *Engine) afterTransition(ctx context.Context, rec *models.ApplicationRecord, err error) (models.Outcome, error) {
	if err == nil || !errors.Is(err, ledger.ErrStaleTransition) {
		return rec.Outcome, err
	}

	fresh, getErr := e.ledger.Get(context.WithoutCancel(ctx), rec.Key)
	if getErr != nil {
		return "", fmt.Errorf("reload after stale transition: %w", getErr)
	}
	*rec = *fresh
	if rec.Stage.Terminal() {
		return rec.Outcome, nil
	}
	return "", fmt.Errorf("record %s moved concurrently to %s", rec.Key, rec.Stage)
}

func (e *Engine) applyFilter(ctx context.Context, candidate models.PostingCandidate, rec *models.ApplicationRecord, log logger.Logger) error {
	decision, err := e.filter.Evaluate(ctx, candidate)
	if err != nil {
		return fmt.Errorf("filter %s: %w", rec.Key, err)
	}
	if !decision.Allow {
		log.Info("posting skipped by filter", map[string]interface{}{"reason": decision.Reason})
		return e.transition(ctx, rec, models.StageSkipped, models.Patch{
			Outcome:       models.OutcomeSkipped,
			FailureReason: decision.Reason,
		})
	}
	return e.transition(ctx, rec, models.StageFiltered, models.Patch{})
}

// submit performs the submission attempt cycle, including dry-run short
// circuit, transient retries with jittered backoff, and identity handling.
func (e *Engine) submit(ctx context.Context, driver platform.Driver, candidate models.PostingCandidate, rec *models.ApplicationRecord, dryRun bool, log logger.Logger) error {
	if dryRun {
		log.Info("dry run, submission simulated", nil)
		return e.transition(ctx, rec, models.StageRecorded, models.Patch{
			Outcome:   models.OutcomeSimulated,
			Simulated: true,
		})
	}

	identity, err := e.pool.Acquire(ctx)
	if err != nil {
		// Pool exhaustion is an infrastructure fault for the whole run; the
		// record stays in Submitting and is retried by a later run.
		return err
	}

	sessionOutcome := models.SessionFailure
	defer func() { e.pool.Release(identity.Name, sessionOutcome) }()

	start := time.Now()
	defer func() {
		metrics.SubmissionDuration.WithLabelValues(rec.Key.Platform).Observe(time.Since(start).Seconds())
	}()

	maxAttempts := e.cfg.SubmitMaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := driver.Submit(ctx, candidate, identity, e.profile)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("submit %s: %w", rec.Key, err)
		}

		switch result.Status {
		case models.SubmissionCompleted:
			sessionOutcome = models.SessionSuccess
			log.Info("submission completed", map[string]interface{}{"attempt": attempt})
			return e.transition(ctx, rec, models.StageRecorded, models.Patch{Outcome: models.OutcomeApplied})

		case models.SubmissionRequiresVerification:
			sessionOutcome = models.SessionSuccess
			deadline := time.Now().Add(config.GetDuration(e.cfg.VerifyDeadline))
			log.Info("submission accepted, awaiting verification", map[string]interface{}{
				"attempt": attempt, "deadline": deadline.Format(time.RFC3339),
			})
			return e.transition(ctx, rec, models.StagePendingVerification, models.Patch{
				VerifyDeadline: &deadline,
			})

		case models.SubmissionRejected:
			sessionOutcome = models.SessionSuccess
			rejection := apperrors.NewSubmissionRejectedError(result.Reason)
			log.Warn("submission rejected", map[string]interface{}{"reason": result.Reason})
			return e.transition(ctx, rec, models.StageFailed, models.Patch{
				Outcome:       models.OutcomeFailed,
				FailureReason: string(rejection.Code),
			})

		case models.SubmissionTransientError:
			// Bump the durable retry counter in place.
			if err := e.transition(ctx, rec, models.StageSubmitting, models.Patch{
				RetriesDelta:  1,
				FailureReason: result.Reason,
			}); err != nil {
				return err
			}
			if result.RateLimited {
				// Throttling blocks the identity and pauses this posting; it
				// stays in Submitting and a later run retries it.
				sessionOutcome = models.SessionBlocked
				log.Warn("submission throttled", map[string]interface{}{"attempt": attempt})
				return apperrors.NewRateLimitedError(result.Reason)
			}
			if attempt == maxAttempts {
				log.Warn("submission gave up", map[string]interface{}{
					"attempts": attempt, "reason": result.Reason,
				})
				return e.transition(ctx, rec, models.StageFailed, models.Patch{
					Outcome:       models.OutcomeFailed,
					FailureReason: string(apperrors.ErrCodeNetworkTimeout),
				})
			}

			wait := backoffWithJitter(
				config.GetDuration(e.cfg.BackoffInitial),
				config.GetDuration(e.cfg.BackoffMax),
				attempt,
			)
			log.Debug("transient submission error, backing off", map[string]interface{}{
				"attempt": attempt, "waitMs": wait.Milliseconds(), "reason": result.Reason,
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

		default:
			return fmt.Errorf("submit %s: unknown status %q", rec.Key, result.Status)
		}
	}
	return fmt.Errorf("submit %s: attempt loop exited unexpectedly", rec.Key)
}

func (e *Engine) awaitVerification(ctx context.Context, driver platform.Driver, rec *models.ApplicationRecord, log logger.Logger) error {
	deadline := time.Now().Add(config.GetDuration(e.cfg.VerifyDeadline))
	if rec.VerifyDeadline != nil {
		// A resumed record keeps its original deadline.
		deadline = *rec.VerifyDeadline
	}

	req := models.VerificationRequest{
		Key:          rec.Key,
		Pattern:      driver.VerificationPattern(),
		Deadline:     deadline,
		PollInterval: config.GetDuration(e.cfg.VerifyPollEvery),
	}

	link, err := e.verifier.Await(ctx, req)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrCodeVerificationTimeout:
			log.Warn("verification timed out", map[string]interface{}{
				"deadline": deadline.Format(time.RFC3339),
			})
			return e.transition(ctx, rec, models.StageFailed, models.Patch{
				Outcome:       models.OutcomeFailed,
				FailureReason: string(apperrors.ErrCodeVerificationTimeout),
			})
		default:
			// Mailbox trouble or cancellation: the record stays pending so a
			// later run resumes the wait against the same deadline.
			return err
		}
	}

	if err := e.transition(ctx, rec, models.StageVerified, models.Patch{
		Metadata: map[string]string{"verificationLink": link},
	}); err != nil {
		return err
	}
	log.Info("application verified", map[string]interface{}{"link": link})
	return nil
}

// transition applies one ledger update and mirrors it into the in-memory
// record. The write context is detached from cancellation so a transition
// in progress always lands durably.
func (e *Engine) transition(ctx context.Context, rec *models.ApplicationRecord, newStage models.Stage, patch models.Patch) error {
	if err := e.ledger.Update(context.WithoutCancel(ctx), rec.Key, newStage, patch); err != nil {
		return err
	}
	metrics.StageTransitions.WithLabelValues(rec.Key.Platform, string(newStage)).Inc()

	rec.Stage = newStage
	rec.Retries += patch.RetriesDelta
	if patch.Outcome != "" {
		rec.Outcome = patch.Outcome
	}
	if patch.FailureReason != "" {
		rec.FailureReason = patch.FailureReason
	}
	if patch.Simulated {
		rec.Simulated = true
	}
	if patch.VerifyDeadline != nil {
		rec.VerifyDeadline = patch.VerifyDeadline
	}
	return nil
}

// backoffWithJitter grows exponentially from base, capped at max, and keeps
// at least half the computed wait to avoid thundering retries.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

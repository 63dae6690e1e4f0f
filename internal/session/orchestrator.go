// Package session runs one application session: searching the enabled
// platforms, reserving postings in the ledger, and supervising workflow
// engines under the session quotas and pacing rules.
package session

import (
	"context"
	"sync"
	"time"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/common/metrics"
	"jobpilot/internal/engine"
	"jobpilot/internal/ledger"
	"jobpilot/internal/models"
	"jobpilot/internal/platform"
	"jobpilot/internal/report"

	"github.com/google/uuid"
)

// Orchestrator coordinates one run across platforms.
type Orchestrator struct {
	cfg      *config.Config
	ledger   ledger.Ledger
	engine   *engine.Engine
	pacer    *Pacer
	reporter report.Reporter
	drivers  map[string]platform.Driver
	logger   logger.Logger

	mu      sync.Mutex
	summary *models.RunSummary
}

func NewOrchestrator(cfg *config.Config, led ledger.Ledger, eng *engine.Engine, pacer *Pacer, reporter report.Reporter, drivers map[string]platform.Driver, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		ledger:   led,
		engine:   eng,
		pacer:    pacer,
		reporter: reporter,
		drivers:  drivers,
		logger:   log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// Run works through the named platforms until quotas are met, postings run
// out, or the context is cancelled. Cancellation stops new postings while
// in-flight ones finish their current transition. The summary is returned
// even alongside an error.
func (o *Orchestrator) Run(ctx context.Context, platforms []string, maxApplications int, dryRun bool) (*models.RunSummary, error) {
	o.summary = &models.RunSummary{
		RunID:   uuid.New().String(),
		DryRun:  dryRun,
		Started: time.Now().UTC(),
	}
	defer func() { o.summary.Finished = time.Now().UTC() }()

	if maxApplications <= 0 {
		maxApplications = o.cfg.Session.MaxApplications
	}

	log := o.logger.WithFields(map[string]interface{}{"runId": o.summary.RunID, "dryRun": dryRun})
	log.Info("run starting", map[string]interface{}{
		"platforms": platforms, "maxApplications": maxApplications,
	})

	var runErr error
	for _, name := range platforms {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if o.appliedCount() >= maxApplications {
			log.Info("session quota reached", map[string]interface{}{"applied": o.appliedCount()})
			break
		}

		if err := o.runPlatform(ctx, name, maxApplications, dryRun, log); err != nil {
			if apperrors.IsInfrastructure(err) || ctx.Err() != nil {
				runErr = err
				break
			}
			log.Warn("platform run degraded", map[string]interface{}{
				"platform": name, "error": err.Error(),
			})
		}
	}

	o.summary.Finished = time.Now().UTC()
	if err := o.reporter.Summarize(context.WithoutCancel(ctx), o.summary); err != nil {
		log.Warn("summary reporting failed", map[string]interface{}{"error": err.Error()})
	}
	return o.summary, runErr
}

func (o *Orchestrator) runPlatform(ctx context.Context, name string, maxApplications int, dryRun bool, log logger.Logger) error {
	driver, ok := o.drivers[name]
	if !ok {
		return apperrors.NewConfigInvalidError("no driver wired for platform " + name)
	}
	platformCfg := o.cfg.Platforms[name]
	log = log.WithFields(map[string]interface{}{"platform": name})

	criteria := models.SearchCriteria{
		Keywords:      o.cfg.Search.Keywords,
		Locations:     o.cfg.Search.Locations,
		DatePosted:    o.cfg.Search.DatePosted,
		EasyApplyOnly: o.cfg.Search.EasyApplyOnly,
		RemoteOnly:    o.cfg.Search.RemoteOnly,
	}
	candidates, err := driver.Search(ctx, criteria)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.summary.Platform(name).Found = len(candidates)
	o.mu.Unlock()
	log.Info("postings discovered", map[string]interface{}{"count": len(candidates)})

	concurrency := o.cfg.Session.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
	}
	fatal := func() error {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		return fatalErr
	}

	for _, candidate := range candidates {
		// Take the worker slot before the quota checks so that, at the
		// default concurrency of one, every prior outcome is already counted.
		sem <- struct{}{}

		if ctx.Err() != nil || fatal() != nil {
			<-sem
			break
		}
		if o.appliedCount() >= maxApplications {
			<-sem
			break
		}
		if platformCfg.MaxApplications > 0 && o.platformApplied(name) >= platformCfg.MaxApplications {
			log.Info("platform quota reached", map[string]interface{}{
				"applied": o.platformApplied(name),
			})
			<-sem
			break
		}

		rec, created, err := o.ledger.Reserve(ctx, candidate.Key, map[string]string{
			"title":   candidate.Title,
			"company": candidate.Company,
			"url":     candidate.URL,
		})
		if err != nil {
			<-sem
			wg.Wait()
			return apperrors.NewLedgerUnavailableError(err)
		}
		if !created {
			metrics.ReservationConflicts.Inc()
			if rec.Stage.Terminal() {
				o.countAlreadyApplied(name)
				log.Debug("posting already handled", map[string]interface{}{
					"key": rec.Key.String(), "stage": string(rec.Stage),
				})
				<-sem
				continue
			}
			log.Info("resuming unfinished posting", map[string]interface{}{
				"key": rec.Key.String(), "stage": string(rec.Stage),
			})
		}

		if !dryRun {
			if err := o.pacer.Wait(ctx, name, platformCfg.RatePerMinute); err != nil {
				<-sem
				break
			}
		}

		wg.Add(1)
		go func(candidate models.PostingCandidate, rec *models.ApplicationRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := o.engine.Run(ctx, driver, candidate, rec, dryRun)
			if err != nil {
				if apperrors.IsInfrastructure(err) {
					setFatal(err)
					return
				}
				if ctx.Err() != nil {
					return
				}
				// Posting-level trouble (throttling, mailbox): counted failed
				// for this run, the record stays resumable.
				log.Warn("posting stopped", map[string]interface{}{
					"key": rec.Key.String(), "error": err.Error(),
				})
				o.count(name, models.OutcomeFailed)
				return
			}

			o.count(name, outcome)
			metrics.ApplicationsTotal.WithLabelValues(name, string(outcome)).Inc()
			o.publish(ctx, rec.Key)
		}(candidate, rec)
	}

	wg.Wait()
	return fatal()
}

// publish reads the final record back so reporters see the stored state.
func (o *Orchestrator) publish(ctx context.Context, key models.ApplicationKey) {
	rec, err := o.ledger.Get(context.WithoutCancel(ctx), key)
	if err != nil {
		o.logger.Warn("record read-back failed", map[string]interface{}{
			"key": key.String(), "error": err.Error(),
		})
		return
	}
	o.reporter.Publish(context.WithoutCancel(ctx), rec)
}

func (o *Orchestrator) count(platform string, outcome models.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.Add(platform, outcome)
}

func (o *Orchestrator) countAlreadyApplied(platform string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.AlreadyApplied++
	o.summary.Platform(platform).AlreadyApplied++
}

func (o *Orchestrator) appliedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary.Applied
}

func (o *Orchestrator) platformApplied(platform string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary.Platform(platform).Applied
}

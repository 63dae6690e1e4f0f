// Package report publishes per-application outcomes and end-of-run
// summaries. Reporting is best-effort: a reporter failure is logged and
// never fails the run.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"
)

// Reporter receives terminal application records as they happen and the run
// summary once at the end.
type Reporter interface {
	Publish(ctx context.Context, rec *models.ApplicationRecord) error
	Summarize(ctx context.Context, summary *models.RunSummary) error
}

// LogReporter writes outcomes to the structured log. Always installed.
type LogReporter struct {
	logger logger.Logger
}

func NewLogReporter(log logger.Logger) *LogReporter {
	return &LogReporter{logger: log.WithFields(map[string]interface{}{"component": "reporter"})}
}

func (r *LogReporter) Publish(ctx context.Context, rec *models.ApplicationRecord) error {
	fields := map[string]interface{}{
		"key":     rec.Key.String(),
		"stage":   string(rec.Stage),
		"outcome": string(rec.Outcome),
		"retries": rec.Retries,
	}
	if rec.FailureReason != "" {
		fields["failureReason"] = rec.FailureReason
	}
	if rec.Simulated {
		fields["simulated"] = true
	}
	r.logger.Info("application finished", fields)
	return nil
}

func (r *LogReporter) Summarize(ctx context.Context, summary *models.RunSummary) error {
	r.logger.Info("run finished", map[string]interface{}{
		"runId":          summary.RunID,
		"dryRun":         summary.DryRun,
		"applied":        summary.Applied,
		"skipped":        summary.Skipped,
		"failed":         summary.Failed,
		"alreadyApplied": summary.AlreadyApplied,
		"durationSec":    summary.Finished.Sub(summary.Started).Seconds(),
	})
	return nil
}

// MultiReporter fans out to several reporters and keeps going past
// individual failures.
type MultiReporter struct {
	reporters []Reporter
	logger    logger.Logger
}

func NewMultiReporter(log logger.Logger, reporters ...Reporter) *MultiReporter {
	return &MultiReporter{
		reporters: reporters,
		logger:    log.WithFields(map[string]interface{}{"component": "multiReporter"}),
	}
}

func (m *MultiReporter) Publish(ctx context.Context, rec *models.ApplicationRecord) error {
	for _, r := range m.reporters {
		if err := r.Publish(ctx, rec); err != nil {
			m.logger.Warn("reporter publish failed", map[string]interface{}{
				"key": rec.Key.String(), "error": err.Error(),
			})
		}
	}
	return nil
}

func (m *MultiReporter) Summarize(ctx context.Context, summary *models.RunSummary) error {
	for _, r := range m.reporters {
		if err := r.Summarize(ctx, summary); err != nil {
			m.logger.Warn("reporter summarize failed", map[string]interface{}{
				"runId": summary.RunID, "error": err.Error(),
			})
		}
	}
	return nil
}

// FormatSummary renders the run summary as the plain-text report used for
// email and the console.
func FormatSummary(summary *models.RunSummary) string {
	var b strings.Builder
	label := "APPLICATION RUN SUMMARY"
	if summary.DryRun {
		label = "APPLICATION RUN SUMMARY (DRY RUN)"
	}
	fmt.Fprintf(&b, "%s\n", label)
	fmt.Fprintf(&b, "Run:      %s\n", summary.RunID)
	fmt.Fprintf(&b, "Started:  %s\n", summary.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", summary.Finished.Sub(summary.Started).Round(time.Second))
	fmt.Fprintf(&b, "Applied:  %d\n", summary.Applied)
	fmt.Fprintf(&b, "Skipped:  %d (%d already applied)\n", summary.Skipped, summary.AlreadyApplied)
	fmt.Fprintf(&b, "Failed:   %d\n", summary.Failed)

	names := make([]string, 0, len(summary.Platforms))
	for name := range summary.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		counts := summary.Platforms[name]
		fmt.Fprintf(&b, "  %s: found=%d applied=%d skipped=%d failed=%d\n",
			name, counts.Found, counts.Applied, counts.Skipped, counts.Failed)
	}
	return b.String()
}

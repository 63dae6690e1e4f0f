package models

import "time"

// PlatformCount aggregates per-platform results for one run.
type PlatformCount struct {
	Found          int `json:"found"`
	Applied        int `json:"applied"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
	AlreadyApplied int `json:"alreadyApplied"`
}

// RunSummary is the result of one orchestrator run.
type RunSummary struct {
	RunID          string                    `json:"runId"`
	DryRun         bool                      `json:"dryRun"`
	Started        time.Time                 `json:"started"`
	Finished       time.Time                 `json:"finished"`
	Applied        int                       `json:"applied"`
	Skipped        int                       `json:"skipped"`
	Failed         int                       `json:"failed"`
	AlreadyApplied int                       `json:"alreadyApplied"`
	Platforms      map[string]*PlatformCount `json:"platforms"`
}

// Platform returns the counter bucket for a platform, creating it on first use.
func (s *RunSummary) Platform(name string) *PlatformCount {
	if s.Platforms == nil {
		s.Platforms = make(map[string]*PlatformCount)
	}
	pc, ok := s.Platforms[name]
	if !ok {
		pc = &PlatformCount{}
		s.Platforms[name] = pc
	}
	return pc
}

// Add folds one terminal outcome into the summary.
func (s *RunSummary) Add(platform string, outcome Outcome) {
	pc := s.Platform(platform)
	switch outcome {
	case OutcomeApplied, OutcomeSimulated:
		s.Applied++
		pc.Applied++
	case OutcomeSkipped:
		s.Skipped++
		pc.Skipped++
	case OutcomeFailed:
		s.Failed++
		pc.Failed++
	}
}

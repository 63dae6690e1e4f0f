package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobpilot/internal/models"
)

// MemoryLedger is an in-process Ledger. It backs tests and dry runs that
// should not touch the database.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[models.ApplicationKey]*models.ApplicationRecord
}

func NewMemory() *MemoryLedger {
	return &MemoryLedger{records: make(map[models.ApplicationKey]*models.ApplicationRecord)}
}

func (l *MemoryLedger) Reserve(ctx context.Context, key models.ApplicationKey, meta map[string]string) (*models.ApplicationRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.records[key]; ok {
		return copyRecord(existing), false, nil
	}

	now := time.Now().UTC()
	rec := &models.ApplicationRecord{
		Key:       key,
		Stage:     models.StageDiscovered,
		Metadata:  copyMeta(meta),
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.records[key] = rec
	return copyRecord(rec), true, nil
}

func (l *MemoryLedger) Update(ctx context.Context, key models.ApplicationKey, newStage models.Stage, patch models.Patch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return ErrNotFound
	}
	if !models.CanTransition(rec.Stage, newStage) {
		return ErrStaleTransition
	}

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
		t := *patch.VerifyDeadline
		rec.VerifyDeadline = &t
	}
	if len(patch.Metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			rec.Metadata[k] = v
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, key models.ApplicationKey) (*models.ApplicationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (l *MemoryLedger) Query(ctx context.Context, platform string, stages []models.Stage, fn func(*models.ApplicationRecord) error) error {
	l.mu.Lock()
	var matched []*models.ApplicationRecord
	for _, rec := range l.records {
		if rec.Key.Platform != platform {
			continue
		}
		if len(stages) > 0 && !containsStage(stages, rec.Stage) {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	l.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	for _, rec := range matched {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func containsStage(stages []models.Stage, s models.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

func copyRecord(rec *models.ApplicationRecord) *models.ApplicationRecord {
	dup := *rec
	dup.Metadata = copyMeta(rec.Metadata)
	if rec.VerifyDeadline != nil {
		t := *rec.VerifyDeadline
		dup.VerifyDeadline = &t
	}
	return &dup
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	dup := make(map[string]string, len(meta))
	for k, v := range meta {
		dup[k] = v
	}
	return dup
}

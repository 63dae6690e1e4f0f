// Package ledger owns durable application state. It is the single source of
// truth for whether a posting was ever handled: the Reserve primitive hands
// out each key exactly once across processes, and Update refuses transitions
// the state machine does not allow.
package ledger

import (
	"context"
	"errors"

	"jobpilot/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("RECORD_NOT_FOUND")
	// ErrStaleTransition is returned when the stored stage is not a valid
	// predecessor of the requested stage.
	ErrStaleTransition = errors.New("STALE_TRANSITION")
)

// Ledger is the durable mapping from application key to application record.
type Ledger interface {
	// Reserve claims a key. The first caller across all processes gets
	// created=true and a fresh record in stage Discovered; everyone else
	// gets created=false and the existing record.
	Reserve(ctx context.Context, key models.ApplicationKey, meta map[string]string) (*models.ApplicationRecord, bool, error)

	// Update moves the record to newStage and applies the patch. Returns
	// ErrNotFound if the key was never reserved and ErrStaleTransition if
	// the stored stage is not a valid predecessor of newStage.
	Update(ctx context.Context, key models.ApplicationKey, newStage models.Stage, patch models.Patch) error

	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key models.ApplicationKey) (*models.ApplicationRecord, error)

	// Query streams records for a platform, optionally restricted to a
	// stage set, to fn. Iteration stops on the first fn error.
	Query(ctx context.Context, platform string, stages []models.Stage, fn func(*models.ApplicationRecord) error) error
}

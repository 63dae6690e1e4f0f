// Package platform defines the collaborator contracts for job platforms: a
// Driver that searches and submits, a Filter that decides which postings to
// pursue, and a registry drivers install themselves into.
package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"
)

// Driver is one platform integration. Search discovers posting candidates
// and Submit performs one application attempt under the given identity.
// Submit reports outcome classification through SubmissionResult; it returns
// an error only for faults it cannot classify.
type Driver interface {
	Name() string
	Search(ctx context.Context, criteria models.SearchCriteria) ([]models.PostingCandidate, error)
	Submit(ctx context.Context, candidate models.PostingCandidate, identity *models.IdentityDescriptor, profile map[string]interface{}) (*models.SubmissionResult, error)
	VerificationPattern() models.MatchPattern
}

// Decision is a filter verdict for one candidate.
type Decision struct {
	Allow  bool
	Reason string
}

// Filter decides whether a discovered posting should be pursued.
type Filter interface {
	Evaluate(ctx context.Context, candidate models.PostingCandidate) (Decision, error)
}

// Factory builds a driver from its platform configuration.
type Factory func(cfg config.PlatformConfig, log logger.Logger) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a driver factory under a platform name. Drivers call it
// from their package init, like database/sql drivers.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("platform: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("platform: Register called twice for %q", name))
	}
	registry[name] = factory
}

// Open builds the driver for an enabled platform. A platform enabled in
// config without a registered driver is a configuration fault.
func Open(name string, cfg config.PlatformConfig, log logger.Logger) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, apperrors.NewConfigInvalidError(
			fmt.Sprintf("platform %q is enabled but no driver is registered", name))
	}
	return factory(cfg, log)
}

// Registered lists the installed driver names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

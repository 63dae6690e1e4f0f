// Package identity manages the pool of egress identities an application
// session runs under. Each identity pairs a proxy route with a fingerprint
// profile and carries health counters that drive cooldown.
package identity

import (
	"context"
	"sync"
	"time"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/common/metrics"
	"jobpilot/internal/models"

	"github.com/redis/go-redis/v9"
)

const cooldownKeyPrefix = "identity:cooldown:"

type entry struct {
	desc  models.IdentityDescriptor
	inUse bool
}

// Pool hands out identities one holder at a time. Acquire blocks until an
// identity is available or the acquire timeout passes, in which case it
// fails with POOL_EXHAUSTED.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []*entry

	cooldownBase     time.Duration
	cooldownMax      time.Duration
	failureThreshold int
	acquireTimeout   time.Duration

	redis  *redis.Client
	logger logger.Logger
}

// NewPool builds the pool from the configured identities. When a Redis client
// is provided, cooldown expiries are mirrored there so a restarted process
// does not reuse an identity that was cooling down.
func NewPool(identities []config.IdentityConfig, cfg config.PoolConfig, rdb *redis.Client, log logger.Logger) *Pool {
	p := &Pool{
		cooldownBase:     config.GetDuration(cfg.CooldownBase),
		cooldownMax:      config.GetDuration(cfg.CooldownMax),
		failureThreshold: cfg.FailureThreshold,
		acquireTimeout:   config.GetDuration(cfg.AcquireTimeout),
		redis:            rdb,
		logger:           log.WithFields(map[string]interface{}{"component": "identityPool"}),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, ic := range identities {
		p.entries = append(p.entries, &entry{desc: models.IdentityDescriptor{
			Name:     ic.Name,
			ProxyURL: ic.ProxyURL,
			Fingerprint: models.FingerprintProfile{
				UserAgent:      ic.UserAgent,
				ViewportWidth:  ic.ViewportWidth,
				ViewportHeight: ic.ViewportHeight,
				Locale:         ic.Locale,
			},
		}})
	}

	p.restoreCooldowns(context.Background())
	return p
}

// restoreCooldowns reloads cooldown expiries persisted by a previous process.
// Redis being unreachable is not fatal, the pool just starts cold.
func (p *Pool) restoreCooldowns(ctx context.Context) {
	if p.redis == nil {
		return
	}
	for _, e := range p.entries {
		val, err := p.redis.Get(ctx, cooldownKeyPrefix+e.desc.Name).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			p.logger.Warn("cooldown restore failed", map[string]interface{}{
				"identity": e.desc.Name, "error": err.Error(),
			})
			continue
		}
		until, err := time.Parse(time.RFC3339, val)
		if err != nil || !until.After(time.Now()) {
			continue
		}
		e.desc.CooldownUntil = until
		metrics.IdentitiesCooling.Inc()
		time.AfterFunc(time.Until(until), func() {
			metrics.IdentitiesCooling.Dec()
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.logger.Info("cooldown restored", map[string]interface{}{
			"identity": e.desc.Name, "until": until.Format(time.RFC3339),
		})
	}
}

// Acquire returns an available identity, blocking until one frees up or its
// cooldown expires. It prefers the identity with the longest success streak.
// The returned descriptor is a copy; report the session result via Release.
func (p *Pool) Acquire(ctx context.Context) (*models.IdentityDescriptor, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	// Wake the wait loop when the caller gives up or the timeout passes.
	stop := context.AfterFunc(waitCtx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if e := p.pickLocked(time.Now()); e != nil {
			e.inUse = true
			e.desc.LastUsed = time.Now()
			desc := e.desc
			p.logger.Debug("identity acquired", map[string]interface{}{"identity": desc.Name})
			return &desc, nil
		}

		if waitCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			waited := time.Since(start)
			p.logger.Warn("identity pool exhausted", map[string]interface{}{
				"waitedMs": waited.Milliseconds(),
			})
			return nil, apperrors.NewPoolExhaustedError(waited)
		}

		// Nothing free right now. Schedule a wake at the earliest cooldown
		// expiry so a cooling identity becomes visible without a release.
		if next, ok := p.nextExpiryLocked(time.Now()); ok {
			timer := time.AfterFunc(time.Until(next), func() {
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			})
			p.cond.Wait()
			timer.Stop()
		} else {
			p.cond.Wait()
		}
	}
}

// pickLocked returns the best available entry, or nil if none is usable.
func (p *Pool) pickLocked(now time.Time) *entry {
	var best *entry
	for _, e := range p.entries {
		if e.inUse || e.desc.CooldownUntil.After(now) {
			continue
		}
		if best == nil || e.desc.ConsecutiveSuccesses > best.desc.ConsecutiveSuccesses {
			best = e
		}
	}
	return best
}

// nextExpiryLocked returns the earliest cooldown expiry among idle entries.
func (p *Pool) nextExpiryLocked(now time.Time) (time.Time, bool) {
	var next time.Time
	for _, e := range p.entries {
		if e.inUse || !e.desc.CooldownUntil.After(now) {
			continue
		}
		if next.IsZero() || e.desc.CooldownUntil.Before(next) {
			next = e.desc.CooldownUntil
		}
	}
	return next, !next.IsZero()
}

// Release returns an identity to the pool and records the session outcome.
// Success resets the failure streak. Repeated failures past the configured
// threshold start an exponentially growing cooldown; a block cools the
// identity down immediately.
func (p *Pool) Release(name string, outcome models.SessionOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(name)
	if e == nil {
		p.logger.Warn("release for unknown identity", map[string]interface{}{"identity": name})
		return
	}
	e.inUse = false

	switch outcome {
	case models.SessionSuccess:
		e.desc.ConsecutiveSuccesses++
		e.desc.ConsecutiveFailures = 0

	case models.SessionFailure:
		e.desc.ConsecutiveSuccesses = 0
		e.desc.ConsecutiveFailures++
		if e.desc.ConsecutiveFailures >= p.failureThreshold {
			p.startCooldownLocked(e, e.desc.ConsecutiveFailures-p.failureThreshold)
		}

	case models.SessionBlocked:
		e.desc.ConsecutiveSuccesses = 0
		e.desc.ConsecutiveFailures++
		p.startCooldownLocked(e, e.desc.ConsecutiveFailures)
	}

	p.cond.Broadcast()
}

func (p *Pool) findLocked(name string) *entry {
	for _, e := range p.entries {
		if e.desc.Name == name {
			return e
		}
	}
	return nil
}

// startCooldownLocked puts the entry into cooldown for base * 2^exponent,
// capped at the configured maximum.
func (p *Pool) startCooldownLocked(e *entry, exponent int) {
	d := p.cooldownBase
	for i := 0; i < exponent && d < p.cooldownMax; i++ {
		d *= 2
	}
	if d > p.cooldownMax {
		d = p.cooldownMax
	}

	until := time.Now().Add(d)
	e.desc.CooldownUntil = until
	metrics.IdentitiesCooling.Inc()
	time.AfterFunc(d, func() {
		metrics.IdentitiesCooling.Dec()
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	p.logger.Info("identity cooling down", map[string]interface{}{
		"identity":   e.desc.Name,
		"failures":   e.desc.ConsecutiveFailures,
		"cooldownMs": d.Milliseconds(),
	})

	if p.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := p.redis.Set(ctx, cooldownKeyPrefix+e.desc.Name, until.Format(time.RFC3339), d).Err()
		if err != nil {
			p.logger.Warn("cooldown persist failed", map[string]interface{}{
				"identity": e.desc.Name, "error": err.Error(),
			})
		}
	}
}

// Size returns the number of identities in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

package session

import (
	"context"
	"math/rand"
	"time"

	"jobpilot/internal/common/config"
	"jobpilot/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Pacer spaces submissions out to look like a person working through
// postings: a per-platform token bucket in Redis enforces the configured
// rate across processes, and a jittered delay separates consecutive
// submissions within this one.
type Pacer struct {
	client   *redis.Client
	minDelay time.Duration
	maxDelay time.Duration
	logger   logger.Logger
}

func NewPacer(client *redis.Client, cfg config.SessionConfig, log logger.Logger) *Pacer {
	minDelay := config.GetDuration(cfg.MinDelay)
	maxDelay := config.GetDuration(cfg.MaxDelay)
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{
		client:   client,
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   log.WithFields(map[string]interface{}{"component": "pacer"}),
	}
}

// Wait blocks until the next submission for the platform may go out. The
// bucket refills at ratePerMinute; when Redis is unreachable the pacer
// degrades to the plain minimum delay.
func (p *Pacer) Wait(ctx context.Context, platform string, ratePerMinute float64) error {
	if err := p.sleep(ctx, p.jitteredDelay()); err != nil {
		return err
	}
	if p.client == nil || ratePerMinute <= 0 {
		return nil
	}

	key := "pace:" + platform
	capacity := int(ratePerMinute)
	if capacity < 1 {
		capacity = 1
	}
	refillPerSecond := ratePerMinute / 60

	for {
		allowed, _, err := p.allow(ctx, key, capacity, refillPerSecond)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("rate limiter unavailable, using minimum delay", map[string]interface{}{
				"platform": platform, "error": err.Error(),
			})
			return nil
		}
		if allowed {
			return nil
		}
		// Roughly one refill interval away from the next token.
		if err := p.sleep(ctx, time.Duration(float64(time.Second)/refillPerSecond/2)); err != nil {
			return err
		}
	}
}

func (p *Pacer) jitteredDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// allow consumes one token from the platform's bucket if available.
func (p *Pacer) allow(ctx context.Context, key string, capacity int, refillPerSecond float64) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, p.client, []string{key},
		capacity, refillPerSecond, now, (10 * time.Minute).Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)

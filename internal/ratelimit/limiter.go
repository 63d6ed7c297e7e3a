package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyCheckoutTenant = "billsync:ratelimit:checkout:%s"

// checkoutScript refills the tenant bucket from the redis clock and replies
// {allowed, whole tokens left, retry after ms, denials within the bucket ttl}.
const checkoutScript = `
local per_ms = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])
local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens")) or burst
local at = tonumber(redis.call("HGET", KEYS[1], "at")) or now
tokens = math.min(burst, tokens + math.max(0, now - at) * per_ms)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.ceil((1 - tokens) / per_ms)
  redis.call("HINCRBY", KEYS[1], "denied", 1)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
local denied = tonumber(redis.call("HGET", KEYS[1], "denied")) or 0
return {allowed, math.floor(tokens), retry_ms, denied}
`

// Decision is the outcome of one checkout attempt against the tenant bucket.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Denied counts rejections since the bucket was last idle.
	Denied int64
}

// CheckoutLimiter throttles checkout attempts per tenant across replicas.
// A nil limiter allows everything.
type CheckoutLimiter struct {
	client redis.UniversalClient
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

func NewCheckoutLimiter(p Params) *CheckoutLimiter {
	limitCfg := p.Cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if p.Redis == nil {
		p.Log.Warn("checkout rate limit enabled without redis; limiter disabled")
		return nil
	}
	limiter := New(p.Redis, limitCfg.CheckoutRate, limitCfg.CheckoutBurst)
	if limiter == nil {
		p.Log.Warn("checkout rate limit misconfigured; limiter disabled",
			zap.Float64("rate", limitCfg.CheckoutRate),
			zap.Int("burst", limitCfg.CheckoutBurst),
		)
	}
	return limiter
}

// New returns nil unless rate and burst are positive.
func New(client redis.UniversalClient, rate float64, burst int) *CheckoutLimiter {
	if client == nil || rate <= 0 || burst <= 0 {
		return nil
	}
	return &CheckoutLimiter{
		client: client,
		script: redis.NewScript(checkoutScript),
		rate:   rate,
		burst:  burst,
		ttl:    idleTTL(rate, burst),
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *CheckoutLimiter) AllowTenant(ctx context.Context, tenantID snowflake.ID) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}
	if tenantID == 0 {
		return nil, errors.New("checkout rate limit: tenant id is required")
	}

	reply, err := l.script.Run(ctx, l.client,
		[]string{fmt.Sprintf(keyCheckoutTenant, tenantID.String())},
		l.rate, l.burst, l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("checkout rate limit: %w", err)
	}
	if len(reply) != 4 {
		return nil, fmt.Errorf("checkout rate limit: unexpected reply length %d", len(reply))
	}
	return &Decision{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
		Denied:     reply[3],
	}, nil
}

// idleTTL keeps a bucket for twice the time it takes to refill completely.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

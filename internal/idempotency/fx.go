package idempotency

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// NewStore prefers redis and falls back to process memory when redis is not configured.
func NewStore(p Params) Store {
	ttl := p.Cfg.Webhook.IdempotencyTTL
	if p.Redis == nil {
		p.Log.Warn("webhook idempotency is process-local; configure REDIS_URL for multi-replica deployments")
		return NewMemoryStore(ttl)
	}
	return NewRedisStore(p.Redis, ttl, p.Log)
}

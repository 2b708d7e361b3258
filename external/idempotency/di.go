package idempotency

import (
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (session.IdempotencyStore, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.RedisURL == "" {
			return NewMemoryStore(), nil
		}
		return NewRedisStore(do.MustInvoke[*redis.Client](i)), nil
	})
}

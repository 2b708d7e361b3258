package redisclient

import (
	"context"

	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*redis.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return New(context.Background(), c.RedisURL)
	})
}

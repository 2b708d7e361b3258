package fanout

import (
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*RedisRelay, error) {
		hub := do.MustInvoke[*fanout.Hub](i)
		relay := NewRedisRelay(do.MustInvoke[*redis.Client](i), hub, fanout.NewMetrics())
		hub.SetRelay(relay)
		return relay, nil
	})
}

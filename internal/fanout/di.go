package fanout

import (
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Hub, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHub(cfg.InstanceID, WithMetrics(NewMetrics())), nil
	})
}

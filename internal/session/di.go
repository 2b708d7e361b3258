package session

import (
	"github.com/foxseedlab/sanctuary/internal/clock"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/media"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		transport := do.MustInvoke[media.Transport](i)
		hub := do.MustInvoke[*fanout.Hub](i)
		idem := do.MustInvoke[IdempotencyStore](i)
		return NewManager(cfg, repo, transport, hub, idem, clock.Real{}), nil
	})
}

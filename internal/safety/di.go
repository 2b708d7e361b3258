package safety

import (
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		sessions := do.MustInvoke[*session.Manager](i)
		cls := do.MustInvoke[classifier.Classifier](i)
		notifier := do.MustInvoke[notify.Notifier](i)
		repo := do.MustInvoke[repository.Repository](i)
		hub := do.MustInvoke[*fanout.Hub](i)
		return NewPipeline(cfg, sessions, cls, notifier, repo, hub), nil
	})
}

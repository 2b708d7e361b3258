package webhook

import (
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*EmergencyWebhook, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewEmergencyWebhook(c.EmergencyWebhookURL), nil
	})
}

package notifier

import (
	"log/slog"

	"github.com/foxseedlab/sanctuary/external/discord"
	"github.com/foxseedlab/sanctuary/external/webhook"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notify.Notifier, error) {
		c := do.MustInvoke[*config.Config](i)
		var notifiers []notify.Notifier
		if c.EmergencyWebhookURL != "" {
			notifiers = append(notifiers, do.MustInvoke[*webhook.EmergencyWebhook](i))
		}
		if c.DiscordModeratorChannelID != "" {
			notifiers = append(notifiers, do.MustInvoke[*discord.ModeratorNotifier](i))
		}
		m := notify.NewMulti(notifiers...)
		if m.Len() == 0 {
			slog.Warn("no emergency notifier configured; escalations will only be logged")
		}
		return m, nil
	})
}

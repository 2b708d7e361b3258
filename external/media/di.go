package media

import (
	"log/slog"

	"github.com/foxseedlab/sanctuary/external/discord"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/media"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (media.Transport, error) {
		c := do.MustInvoke[*config.Config](i)
		slog.Info("media transport selected", "transport", c.MediaTransport)
		if c.MediaTransport == config.MediaTransportDiscord {
			return do.MustInvoke[*discord.VoiceTransport](i), nil
		}
		return NewLocalTransport(), nil
	})
}

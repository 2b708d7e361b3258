package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*discordgo.Session, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewSession(c.DiscordToken)
	})
	do.Provide(injector, func(i do.Injector) (*VoiceTransport, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewVoiceTransport(do.MustInvoke[*discordgo.Session](i), c.DiscordGuildID, c.DiscordVoiceCategoryID), nil
	})
	do.Provide(injector, func(i do.Injector) (*ModeratorNotifier, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewModeratorNotifier(do.MustInvoke[*discordgo.Session](i), c.DiscordModeratorChannelID), nil
	})
}

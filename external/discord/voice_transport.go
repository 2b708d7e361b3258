package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/sanctuary/internal/media"
)

const (
	channelNamePrefix = "sanctuary-"
	maxUserLimit      = 99
)

// VoiceTransport maps session channels to guild voice channels and join
// tokens to single-use invites.
type VoiceTransport struct {
	session    *discordgo.Session
	guildID    string
	categoryID string
}

func NewVoiceTransport(s *discordgo.Session, guildID, categoryID string) *VoiceTransport {
	return &VoiceTransport{session: s, guildID: guildID, categoryID: categoryID}
}

func (t *VoiceTransport) AllocateChannel(ctx context.Context, sessionID, topic string, maxParticipants int) (media.Channel, error) {
	name := channelName(sessionID)
	ch, err := t.session.GuildChannelCreateComplex(t.guildID, discordgo.GuildChannelCreateData{
		Name:      name,
		Type:      discordgo.ChannelTypeGuildVoice,
		UserLimit: min(maxParticipants, maxUserLimit),
		ParentID:  t.categoryID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return media.Channel{}, fmt.Errorf("create voice channel: %w", err)
	}
	slog.Info("voice channel allocated", "session_id", sessionID, "channel_id", ch.ID, "topic", topic)
	return media.Channel{ID: ch.ID, Name: ch.Name}, nil
}

func (t *VoiceTransport) ReleaseChannel(ctx context.Context, channelID string) error {
	if _, err := t.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		if isRESTNotFound(err) {
			slog.Warn("voice channel already gone", "channel_id", channelID)
			return nil
		}
		return fmt.Errorf("delete voice channel: %w", err)
	}
	return nil
}

func (t *VoiceTransport) IssueToken(ctx context.Context, channelID, participantID string) (media.Token, error) {
	inv, err := t.session.ChannelInviteCreate(channelID, discordgo.Invite{
		MaxUses:   1,
		Temporary: true,
		Unique:    true,
	}, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTNotFound(err) {
			return media.Token{}, media.ErrChannelNotFound
		}
		return media.Token{}, fmt.Errorf("create invite for %s: %w", participantID, err)
	}
	return media.Token{Value: inv.Code, ChannelID: channelID}, nil
}

func (t *VoiceTransport) RevokeToken(ctx context.Context, token media.Token) error {
	if token.Value == "" {
		return nil
	}
	if _, err := t.session.InviteDelete(token.Value, discordgo.WithContext(ctx)); err != nil && !isRESTNotFound(err) {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

func channelName(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return channelNamePrefix + sessionID
}

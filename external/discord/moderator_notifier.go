package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

var severityColors = map[repository.Severity]int{
	repository.SeverityLow:      0x95a5a6,
	repository.SeverityMedium:   0xf1c40f,
	repository.SeverityHigh:     0xe67e22,
	repository.SeverityCritical: 0xe74c3c,
}

// ModeratorNotifier posts emergency notices to a moderator text channel.
type ModeratorNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewModeratorNotifier(s *discordgo.Session, channelID string) *ModeratorNotifier {
	return &ModeratorNotifier{session: s, channelID: channelID}
}

func (n *ModeratorNotifier) Notify(ctx context.Context, notice notify.EmergencyNotice) error {
	triggers := "-"
	if len(notice.Triggers) > 0 {
		triggers = strings.Join(notice.Triggers, ", ")
	}
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Escalated %s alert", notice.Category),
		Color:     severityColors[notice.Severity],
		Timestamp: notice.EscalatedAt.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Severity", Value: string(notice.Severity), Inline: true},
			{Name: "Session", Value: notice.SessionID, Inline: true},
			{Name: "Participant", Value: notice.ParticipantID, Inline: true},
			{Name: "Triggers", Value: triggers},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "alert " + notice.AlertID},
	}
	if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post moderator notice: %w", err)
	}
	return nil
}

package media

import (
	"context"
	"errors"
)

var ErrChannelNotFound = errors.New("media channel not found")

type Channel struct {
	ID   string
	Name string
}

type Token struct {
	Value     string
	ChannelID string
}

// Transport owns the real-time audio channel of a session. The engine never
// inspects media payloads; it only allocates channels and join tokens.
type Transport interface {
	AllocateChannel(ctx context.Context, sessionID, topic string, maxParticipants int) (Channel, error)
	ReleaseChannel(ctx context.Context, channelID string) error
	IssueToken(ctx context.Context, channelID, participantID string) (Token, error)
	RevokeToken(ctx context.Context, token Token) error
}

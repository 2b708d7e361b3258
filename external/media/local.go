package media

import (
	"context"
	"sync"

	"github.com/foxseedlab/sanctuary/internal/media"
	"github.com/google/uuid"
)

// LocalTransport hands out in-process channels and tokens. It backs
// development setups without a voice provider.
type LocalTransport struct {
	mu       sync.Mutex
	channels map[string]map[string]struct{}
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{channels: make(map[string]map[string]struct{})}
}

func (t *LocalTransport) AllocateChannel(ctx context.Context, sessionID, topic string, maxParticipants int) (media.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := "local-" + uuid.NewString()
	t.channels[id] = make(map[string]struct{})
	return media.Channel{ID: id, Name: topic}, nil
}

func (t *LocalTransport) ReleaseChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, channelID)
	return nil
}

func (t *LocalTransport) IssueToken(ctx context.Context, channelID, participantID string) (media.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens, ok := t.channels[channelID]
	if !ok {
		return media.Token{}, media.ErrChannelNotFound
	}
	value := uuid.NewString()
	tokens[value] = struct{}{}
	return media.Token{Value: value, ChannelID: channelID}, nil
}

func (t *LocalTransport) RevokeToken(ctx context.Context, token media.Token) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tokens, ok := t.channels[token.ChannelID]; ok {
		delete(tokens, token.Value)
	}
	return nil
}

func (t *LocalTransport) activeTokens(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels[channelID])
}

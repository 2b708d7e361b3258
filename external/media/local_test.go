package media

import (
	"context"
	"errors"
	"testing"

	"github.com/foxseedlab/sanctuary/internal/media"
)

func TestLocalTransport_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewLocalTransport()

	ch, err := tr.AllocateChannel(ctx, "s-1", "evening circle", 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, err := tr.IssueToken(ctx, ch.ID, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.ChannelID != ch.ID || tok.Value == "" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if got := tr.activeTokens(ch.ID); got != 1 {
		t.Fatalf("expected 1 token, got %d", got)
	}
	if err := tr.RevokeToken(ctx, tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.activeTokens(ch.ID); got != 0 {
		t.Fatalf("expected 0 tokens, got %d", got)
	}
	if err := tr.ReleaseChannel(ctx, ch.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.IssueToken(ctx, ch.ID, "p2"); !errors.Is(err, media.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

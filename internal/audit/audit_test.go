package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

type mockAuditRepository struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
	err     error
}

func (m *mockAuditRepository) InsertAuditEntry(_ context.Context, e repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func TestRecorder_RecordsSuccessAndFailure(t *testing.T) {
	repo := &mockAuditRepository{}
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rec := NewRecorder(repo, func() time.Time { return at })

	rec.Record(context.Background(), "s1", "host", "end", "", nil)
	rec.Record(context.Background(), "s1", "member", "kick", "p2", apperr.New(apperr.KindForbidden, "not a moderator"))

	if len(repo.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(repo.entries))
	}
	if repo.entries[0].Outcome != OutcomeOK || !repo.entries[0].At.Equal(at) {
		t.Fatalf("unexpected success entry: %+v", repo.entries[0])
	}
	failed := repo.entries[1]
	if failed.Outcome != string(apperr.KindForbidden) || failed.Target != "p2" || failed.Detail == "" {
		t.Fatalf("unexpected failure entry: %+v", failed)
	}
	if failed.ID == "" || failed.ID == repo.entries[0].ID {
		t.Fatal("expected distinct entry ids")
	}
}

func TestRecorder_PersistErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepository{err: errors.New("db down")}
	rec := NewRecorder(repo, nil)
	rec.Record(context.Background(), "s1", "host", "start", "", nil)
	if len(repo.entries) != 1 {
		t.Fatal("expected insert attempt")
	}
}

func TestRecorder_NilRepository(t *testing.T) {
	rec := NewRecorder(nil, nil)
	rec.Record(context.Background(), "s1", "host", "start", "", nil)
}

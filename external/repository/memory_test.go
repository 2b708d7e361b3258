package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

func TestMemoryRepository_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.GetSession(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s := repository.Session{ID: "s1", Topic: "grief", Status: repository.SessionStatusLive, Invitees: []string{"a"}, CreatedAt: now}
	if err := repo.SaveSession(ctx, s); err != nil {
		t.Fatalf("save session: %v", err)
	}
	s.Invitees[0] = "mutated"

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Invitees[0] != "a" {
		t.Fatalf("stored session shares caller slice: %v", got.Invitees)
	}
}

func TestMemoryRepository_ListSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = repo.SaveSession(ctx, repository.Session{ID: "b", Status: repository.SessionStatusLive, CreatedAt: base.Add(time.Minute)})
	_ = repo.SaveSession(ctx, repository.Session{ID: "a", Status: repository.SessionStatusScheduled, CreatedAt: base})
	_ = repo.SaveSession(ctx, repository.Session{ID: "c", Status: repository.SessionStatusEnded, CreatedAt: base})

	list, err := repo.ListSessionsByStatus(ctx, repository.SessionStatusScheduled, repository.SessionStatusLive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestMemoryRepository_ParticipantsOrderedByAdmission(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_ = repo.SaveParticipant(ctx, repository.Participant{SessionID: "s1", ID: "p2", AdmissionSeq: 2, MediaToken: "secret"})
	_ = repo.SaveParticipant(ctx, repository.Participant{SessionID: "s1", ID: "p1", AdmissionSeq: 1})
	_ = repo.SaveParticipant(ctx, repository.Participant{SessionID: "s2", ID: "p3", AdmissionSeq: 1})

	list, err := repo.ListParticipants(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "p1" || list[1].ID != "p2" {
		t.Fatalf("unexpected participants: %+v", list)
	}
	if list[1].MediaToken != "secret" {
		t.Fatalf("expected media token kept for revocation, got %q", list[1].MediaToken)
	}
	b, err := json.Marshal(list[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "secret") {
		t.Fatalf("media token leaked into JSON: %s", b)
	}
}

func TestMemoryRepository_AlertsAndAudit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := repository.Alert{ID: "a1", SessionID: "s1", Status: repository.AlertStatusActive, CreatedAt: now}
	_ = repo.SaveAlert(ctx, a)
	a.Status = repository.AlertStatusResolved
	a.Actions = append(a.Actions, repository.AlertAction{Actor: "mod", Action: "resolve", At: now})
	_ = repo.SaveAlert(ctx, a)

	got, err := repo.GetAlert(ctx, "a1")
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if got.Status != repository.AlertStatusResolved || len(got.Actions) != 1 {
		t.Fatalf("unexpected alert: %+v", got)
	}

	_ = repo.InsertAuditEntry(ctx, repository.AuditEntry{ID: "e1", SessionID: "s1", Operation: "admit", Outcome: "ok"})
	_ = repo.InsertAuditEntry(ctx, repository.AuditEntry{ID: "e2", SessionID: "s2", Operation: "end", Outcome: "ok"})
	if entries := repo.AuditEntries("s1"); len(entries) != 1 || entries[0].ID != "e1" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

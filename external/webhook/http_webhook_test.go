package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

func testNotice() notify.EmergencyNotice {
	return notify.EmergencyNotice{
		AlertID:       "alert-1",
		SessionID:     "s-1",
		ParticipantID: "p1",
		Category:      "crisis",
		Severity:      repository.SeverityCritical,
	}
}

func TestNotify_EmptyWebhookURL(t *testing.T) {
	if err := NewEmergencyWebhook("").Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNotify_Success(t *testing.T) {
	var got notify.EmergencyNotice
	var gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %s", ct)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	if err := NewEmergencyWebhook(server.URL).Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotKey != "alert-1" {
		t.Fatalf("unexpected idempotency key: %s", gotKey)
	}
	if got.SessionID != "s-1" || got.Severity != repository.SeverityCritical {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestNotify_Non2xx(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"too many requests is retried", http.StatusTooManyRequests, false},
		{"server error is retried", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewEmergencyWebhook(server.URL).Notify(context.Background(), testNotice())
			if err == nil {
				t.Fatal("expected error for non-2xx response")
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) != tt.permanent {
				t.Fatalf("expected permanent=%v, got %v", tt.permanent, err)
			}
		})
	}
}

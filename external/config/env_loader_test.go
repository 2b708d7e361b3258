package config

import (
	"testing"

	internalconfig "github.com/foxseedlab/sanctuary/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MediaTransport != internalconfig.MediaTransportLocal {
		t.Fatalf("expected local media transport, got %q", cfg.MediaTransport)
	}
	if !cfg.SafetyFailClosed || !cfg.SafetyAutoEscalation {
		t.Fatal("expected fail-closed and auto-escalation by default")
	}
	if cfg.LobbyLeadMin != 10 {
		t.Fatalf("expected default lobby lead 10, got %d", cfg.LobbyLeadMin)
	}
}

func TestLoad_PostgresWithoutURLFails(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOBBY_LEAD_MIN", "ten")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

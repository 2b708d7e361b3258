package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_MatchesByKindForBareSentinel(t *testing.T) {
	err := fmt.Errorf("admit: %w", New(KindConflict, "room is full"))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected conflict kind to match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("did not expect not-found to match")
	}
}

func TestIs_ReasonSentinelMatchesOnlyItself(t *testing.T) {
	full := New(KindConflict, "room is full")
	other := New(KindConflict, "session is full")
	if !errors.Is(fmt.Errorf("wrap: %w", full), full) {
		t.Fatal("expected identical sentinel to match")
	}
	if errors.Is(other, full) {
		t.Fatal("did not expect a different reason to match")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("unexpected kind: %s", got)
	}
	if got := KindOf(Wrap(KindUnavailable, "classifier", errors.New("timeout"))); got != KindUnavailable {
		t.Fatalf("unexpected kind: %s", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrNotFound:                      http.StatusNotFound,
		New(KindForbidden, "not host"):   http.StatusForbidden,
		ErrValidation:                    http.StatusBadRequest,
		ErrConflict:                      http.StatusConflict,
		ErrUnavailable:                   http.StatusServiceUnavailable,
		ErrPolicyViolation:               http.StatusUnprocessableEntity,
		ErrRateLimited:                   http.StatusTooManyRequests,
		errors.New("unexpected failure"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := HTTPStatus(err); got != want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestReasonOf(t *testing.T) {
	if got := ReasonOf(fmt.Errorf("kick: %w", New(KindForbidden, "not host"))); got != "not host" {
		t.Fatalf("unexpected reason: %q", got)
	}
}

package classifier

import (
	"context"
	"slices"
	"testing"

	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

func TestKeywordClassifier_Classify(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		name     string
		text     string
		flagged  bool
		severity repository.Severity
		triggers []string
	}{
		{"empty", "", false, repository.SeverityLow, nil},
		{"benign", "thanks everyone for listening today", false, repository.SeverityLow, nil},
		{"crisis", "Some days I want to die", true, repository.SeverityCritical, []string{"crisis:self_harm"}},
		{"threat and insult", "shut up or I will hurt you", true, repository.SeverityHigh, []string{"harassment", "threat"}},
		{"email", "write me at someone@example.com", true, repository.SeverityLow, []string{"personal_info"}},
		{"phone", "call +1 (555) 123-4567", true, repository.SeverityLow, []string{"personal_info"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(context.Background(), "s", "p", classifier.Sample{Text: tt.text})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.IsFlagged != tt.flagged || res.Severity != tt.severity {
				t.Fatalf("unexpected result: %+v", res)
			}
			if !slices.Equal(res.Triggers, tt.triggers) {
				t.Fatalf("expected triggers %v, got %v", tt.triggers, res.Triggers)
			}
		})
	}
}

func TestKeywordClassifier_CriticalConfidence(t *testing.T) {
	res, _ := NewKeywordClassifier().Classify(context.Background(), "s", "p", classifier.Sample{Text: "I might end my life"})
	if res.Confidence != 0.95 {
		t.Fatalf("expected 0.95, got %v", res.Confidence)
	}
}

func TestKeywordClassifier_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewKeywordClassifier().Classify(ctx, "s", "p", classifier.Sample{Text: "hello"}); err == nil {
		t.Fatal("expected context error")
	}
}

package classifier

import (
	"context"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

// Sample is one piece of content submitted for analysis. Audio holds raw Opus
// packets when the sample was captured from the media channel.
type Sample struct {
	Text     string
	Audio    [][]byte
	Language string
}

func (s Sample) Empty() bool {
	return s.Text == "" && len(s.Audio) == 0
}

type Result struct {
	IsFlagged  bool                `json:"is_flagged"`
	Severity   repository.Severity `json:"severity"`
	Confidence float64             `json:"confidence"`
	Triggers   []string            `json:"triggers,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, sessionID, participantID string, sample Sample) (Result, error)
}

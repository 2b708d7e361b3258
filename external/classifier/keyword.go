package classifier

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

type rule struct {
	trigger    string
	severity   repository.Severity
	confidence float64
	phrases    []string
	pattern    *regexp.Regexp
}

// Rules are checked against lower-cased text. Crisis triggers carry the
// "crisis:" prefix so the alert pipeline files them as crisis alerts.
var defaultRules = []rule{
	{
		trigger:    "crisis:self_harm",
		severity:   repository.SeverityCritical,
		confidence: 0.95,
		phrases:    []string{"kill myself", "end my life", "want to die", "suicide", "hurt myself", "no reason to live"},
	},
	{
		trigger:    "threat",
		severity:   repository.SeverityHigh,
		confidence: 0.85,
		phrases:    []string{"kill you", "hurt you", "find where you live", "coming for you"},
	},
	{
		trigger:    "harassment",
		severity:   repository.SeverityMedium,
		confidence: 0.7,
		phrases:    []string{"shut up", "nobody cares", "you're pathetic", "idiot", "loser"},
	},
	{
		trigger:    "personal_info",
		severity:   repository.SeverityLow,
		confidence: 0.6,
		pattern:    regexp.MustCompile(`[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}|\+?\d[\d\s().-]{8,}\d`),
	},
}

// KeywordClassifier flags text by phrase and pattern matching. Samples
// without text are never flagged.
type KeywordClassifier struct {
	rules []rule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: defaultRules}
}

func (c *KeywordClassifier) Classify(ctx context.Context, _, _ string, sample classifier.Sample) (classifier.Result, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Result{}, err
	}
	return c.score(sample.Text), nil
}

func (c *KeywordClassifier) score(text string) classifier.Result {
	text = strings.ToLower(strings.TrimSpace(text))
	res := classifier.Result{Severity: repository.SeverityLow}
	if text == "" {
		return res
	}
	for _, r := range c.rules {
		if !r.matches(text) {
			continue
		}
		res.IsFlagged = true
		res.Triggers = append(res.Triggers, r.trigger)
		if r.severity.Rank() > res.Severity.Rank() {
			res.Severity = r.severity
		}
		res.Confidence = max(res.Confidence, r.confidence)
	}
	slices.Sort(res.Triggers)
	return res
}

func (r rule) matches(text string) bool {
	for _, p := range r.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return r.pattern != nil && r.pattern.MatchString(text)
}

package insight

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/alert"
)

const (
	// NoKeywordsReason is returned without calling the backend when there is nothing to score against.
	NoKeywordsReason = "No keywords provided to score against."

	// ScoreFailedReason replaces any backend failure.
	ScoreFailedReason = "Failed to score relevancy due to an unexpected error."
)

// Scorer judges how relevant an alert is to a keyword set.
type Scorer struct {
	gen    Generator
	logger log.Logger
	hooks  Hooks
}

// NewScorer creates a scorer backed by gen.
func NewScorer(gen Generator, logger log.Logger, hooks Hooks) *Scorer {
	if gen == nil {
		panic(xerrors.New("generator is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scorer{gen: gen, logger: logger, hooks: hooks}
}

// Score makes a single attempt at scoring title and snippet against
// keywords. It always returns a score: an empty keyword set yields
// Scored(0) without a backend call, and any backend failure yields
// ScoreFailure.
func (s *Scorer) Score(ctx context.Context, title, snippet string, keywords []string) alert.Score {
	if len(keywords) == 0 {
		s.hooks.generate(OpScoreRelevancy, OutcomeSkipped, 0)
		return alert.Scored(0, NoKeywordsReason)
	}

	start := time.Now()
	resp, err := s.gen.ScoreRelevancy(ctx, &ScoreRequest{
		Title:    title,
		Snippet:  snippet,
		Keywords: append([]string(nil), keywords...),
	})
	if err == nil {
		err = validateScore(resp)
	}
	dur := time.Since(start).Seconds()

	if err != nil {
		s.logger.Error(ctx, err, "relevancy scoring failed", "title", title, "keywords", len(keywords))
		s.hooks.generate(OpScoreRelevancy, OutcomeFailed, dur)
		return alert.ScoreFailure(ScoreFailedReason)
	}

	s.hooks.generate(OpScoreRelevancy, OutcomeSuccess, dur)
	return alert.Scored(resp.RelevancyScore, resp.Reason)
}

// validateScore rejects output that breaks the [0,1] contract.
func validateScore(resp *ScoreResponse) error {
	if resp == nil {
		return fmt.Errorf("empty score response")
	}
	if math.IsNaN(resp.RelevancyScore) || resp.RelevancyScore < 0 || resp.RelevancyScore > 1 {
		return fmt.Errorf("relevancy score %v outside [0,1]", resp.RelevancyScore)
	}
	return nil
}

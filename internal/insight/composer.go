package insight

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/alert"
)

// DraftFailedText replaces any backend failure.
const DraftFailedText = "Failed to generate draft due to an unexpected error."

// Composer drafts short replies to alerts.
type Composer struct {
	gen    Generator
	logger log.Logger
	hooks  Hooks
}

// NewComposer creates a draft composer backed by gen.
func NewComposer(gen Generator, logger log.Logger, hooks Hooks) *Composer {
	if gen == nil {
		panic(xerrors.New("generator is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Composer{gen: gen, logger: logger, hooks: hooks}
}

// Compose makes a single attempt at drafting a reply. Keywords may be
// empty. The result is DraftReady with the backend text or DraftFailed
// with DraftFailedText.
func (c *Composer) Compose(ctx context.Context, f alert.Fields, keywords []string) alert.Draft {
	req := &DraftRequest{
		AlertTitle:   f.Title,
		AlertSnippet: f.Snippet,
		AlertSource:  f.Source,
	}
	if len(keywords) > 0 {
		req.UserKeywords = append([]string(nil), keywords...)
	}

	start := time.Now()
	resp, err := c.gen.DraftResponse(ctx, req)
	if err == nil && (resp == nil || strings.TrimSpace(resp.DraftResponse) == "") {
		err = errors.New("empty draft response")
	}
	dur := time.Since(start).Seconds()

	if err != nil {
		c.logger.Error(ctx, err, "draft generation failed", "title", f.Title, "source", f.Source)
		c.hooks.generate(OpDraftResponse, OutcomeFailed, dur)
		return alert.Draft{Status: alert.DraftFailed, Text: DraftFailedText}
	}

	c.hooks.generate(OpDraftResponse, OutcomeSuccess, dur)
	return alert.Draft{Status: alert.DraftReady, Text: resp.DraftResponse}
}

// Package inbox owns the alert collection and keyword set. It sequences
// import, concurrent relevancy scoring and on-demand drafting.
//
// All state lives in one goroutine. Public methods send it closures and
// wait; scoring and drafting run in their own goroutines and merge their
// result back by alert id as a whole-field replacement.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/alert"
)

var (
	// ErrClosed is returned once Close has started.
	ErrClosed = errors.New("inbox closed")

	// ErrEmptyContent rejects an import whose content is blank.
	ErrEmptyContent = errors.New("content is empty")

	// ErrNotFound is returned for an unknown alert id.
	ErrNotFound = errors.New("alert not found")
)

// NoKeywordsReason is recorded on every alert of a batch imported while the keyword set is empty.
const NoKeywordsReason = "No keywords to score."

// Import sources, used as a metrics label.
const (
	SourceText  = "text"
	SourceBatch = "batch"
	SourceEML   = "eml"
	SourceGmail = "gmail"
)

// Scorer resolves a relevancy score. It must not fail.
type Scorer interface {
	Score(ctx context.Context, title, snippet string, keywords []string) alert.Score
}

// Composer resolves a draft. It must not fail.
type Composer interface {
	Compose(ctx context.Context, f alert.Fields, keywords []string) alert.Draft
}

// Notifier is told about alerts whose score crossed the relevance threshold.
type Notifier interface {
	Notify(ctx context.Context, a *alert.Alert) error
}

// Outcome classifies an import.
type Outcome string

const (
	OutcomeImported Outcome = "imported"
	OutcomeNoAlerts Outcome = "no_alerts"
	OutcomeUnscored Outcome = "unscored"
)

// ImportResult describes a completed import. Alerts holds the new records
// as they were when inserted, in parse order.
type ImportResult struct {
	Outcome  Outcome
	Message  string
	Alerts   []alert.Alert
	Report   alert.Report
	Imported int
}

// Options configures an Inbox.
type Options struct {
	Scorer   Scorer
	Composer Composer
	Keywords []string
	Notifier Notifier // optional
	Metrics  *Metrics // optional
	Logger   log.Logger
	Now      func() time.Time
}

type state struct {
	alerts   map[string]alert.Alert
	order    []string // newest first
	keywords *KeywordSet
	closed   bool
}

// Inbox is the pipeline orchestrator.
type Inbox struct {
	scorer   Scorer
	composer Composer
	notifier Notifier
	metrics  *Metrics
	logger   log.Logger
	now      func() time.Time

	ops     chan func(*state)
	quit    chan struct{}
	stopped chan struct{}
	tasks   sync.WaitGroup

	closeOnce sync.Once
}

// New creates an Inbox and starts its owning goroutine. Call Close to stop it.
func New(opts Options) *Inbox {
	if opts.Scorer == nil || opts.Composer == nil {
		panic(xerrors.New("scorer and composer are required"))
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	in := &Inbox{
		scorer:   opts.Scorer,
		composer: opts.Composer,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		ops:      make(chan func(*state)),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	st := &state{
		alerts:   make(map[string]alert.Alert),
		keywords: NewKeywordSet(opts.Keywords...),
	}
	go in.loop(st)

	return in
}

func (in *Inbox) loop(st *state) {
	defer close(in.stopped)
	for {
		select {
		case op := <-in.ops:
			op(st)
		case <-in.quit:
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it.
func (in *Inbox) do(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	op := func(st *state) {
		defer close(done)
		fn(st)
	}

	select {
	case in.ops <- op:
	case <-in.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Import parses raw content and adds the resulting alerts.
func (in *Inbox) Import(ctx context.Context, content string) (*ImportResult, error) {
	return in.ImportFrom(ctx, content, SourceText)
}

// ImportFrom is Import with an explicit source label.
func (in *Inbox) ImportFrom(ctx context.Context, content, source string) (*ImportResult, error) {
	if strings.TrimSpace(content) == "" {
		in.metrics.importResult("empty")
		return nil, ErrEmptyContent
	}

	report := alert.ParseReport(content)
	if len(report.Skipped) > 0 {
		in.logger.Warn(ctx, "skipped incomplete sections",
			"source", source,
			"skipped", len(report.Skipped),
			"parsed", len(report.Alerts),
		)
	}

	res, err := in.add(ctx, report.Alerts, source)
	if err != nil {
		return nil, err
	}
	res.Report = report
	return res, nil
}

// ImportBatch adds pre-parsed records, bypassing the parser. Records
// with a blank title are dropped.
func (in *Inbox) ImportBatch(ctx context.Context, batch []alert.Fields, source string) (*ImportResult, error) {
	if source == "" {
		source = SourceBatch
	}
	fields := make([]alert.Fields, 0, len(batch))
	for _, f := range batch {
		if strings.TrimSpace(f.Title) == "" {
			continue
		}
		fields = append(fields, f)
	}
	return in.add(ctx, fields, source)
}

func (in *Inbox) add(ctx context.Context, fields []alert.Fields, source string) (*ImportResult, error) {
	if len(fields) == 0 {
		in.metrics.importResult(string(OutcomeNoAlerts))
		return &ImportResult{
			Outcome: OutcomeNoAlerts,
			Message: "Could not find any new alerts to import.",
		}, nil
	}

	batchID := ulid.Make().String()
	now := in.now()
	fresh := make([]alert.Alert, len(fields))
	for i, f := range fields {
		fresh[i] = alert.Alert{
			ID:         ulid.Make().String(),
			Fields:     f,
			Score:      alert.Pending(),
			ImportedAt: now,
		}
	}

	L := in.logger.With("batch_id", batchID, "source", source)

	var (
		res    *ImportResult
		closed bool
	)
	err := in.do(ctx, func(st *state) {
		if st.closed {
			closed = true
			return
		}

		ids := make([]string, len(fresh))
		for i := range fresh {
			ids[i] = fresh[i].ID
		}

		keywords := st.keywords.List()
		if len(keywords) == 0 {
			for i := range fresh {
				fresh[i].Score = alert.ScoreFailure(NoKeywordsReason)
			}
		}
		for _, a := range fresh {
			st.alerts[a.ID] = a
		}
		st.order = append(ids, st.order...)

		res = &ImportResult{Alerts: append([]alert.Alert(nil), fresh...), Imported: len(fresh)}
		if len(keywords) == 0 {
			res.Outcome = OutcomeUnscored
			res.Message = "Imported alerts but cannot score relevancy without keywords."
			in.metrics.unscored(len(fresh))
		} else {
			res.Outcome = OutcomeImported
			res.Message = fmt.Sprintf("Imported %d new alert(s). Scoring relevancy...", len(fresh))
			taskCtx := context.WithoutCancel(ctx)
			for _, a := range fresh {
				in.tasks.Add(1)
				go in.runScore(taskCtx, L, a, keywords)
			}
		}
		in.metrics.imported(source, len(fresh), len(st.order))
	})
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, ErrClosed
	}

	in.metrics.importResult(string(res.Outcome))
	L.Info(ctx, "alerts imported", "count", res.Imported, "outcome", res.Outcome)
	return res, nil
}

func (in *Inbox) runScore(ctx context.Context, L log.Logger, a alert.Alert, keywords []string) {
	defer in.tasks.Done()

	score := in.scorer.Score(ctx, a.Title, a.Snippet, keywords)

	var merged alert.Alert
	var found bool
	err := in.do(ctx, func(st *state) {
		cur, ok := st.alerts[a.ID]
		if !ok {
			return
		}
		cur.Score = score
		st.alerts[a.ID] = cur
		merged, found = cur, true
	})
	if err != nil {
		L.Error(ctx, err, "dropping score result", "alert_id", a.ID)
		return
	}
	if !found {
		return
	}

	if merged.Relevant() && in.notifier != nil {
		if err := in.notifier.Notify(ctx, &merged); err != nil {
			L.Warn(ctx, "relevant alert notification failed", "alert_id", a.ID, "error", err)
		}
	}
}

// RequestDraft marks the alert as drafting and starts the composer. It
// returns the alert as it is after marking. A request for an alert whose
// draft is already in flight returns it without starting another call.
func (in *Inbox) RequestDraft(ctx context.Context, id string) (alert.Alert, error) {
	var (
		out    alert.Alert
		retErr error
	)
	err := in.do(ctx, func(st *state) {
		if st.closed {
			retErr = ErrClosed
			return
		}
		cur, ok := st.alerts[id]
		if !ok {
			retErr = ErrNotFound
			return
		}
		if cur.IsDrafting() {
			out = cur
			return
		}

		prev := ""
		if cur.Draft.Status == alert.DraftReady {
			prev = cur.Draft.Text
		}
		cur.Draft = alert.Draft{Status: alert.DraftInFlight, Text: prev}
		st.alerts[id] = cur
		out = cur

		in.tasks.Add(1)
		go in.runDraft(context.WithoutCancel(ctx), cur, st.keywords.List())
	})
	if err != nil {
		return alert.Alert{}, err
	}
	if retErr != nil {
		return alert.Alert{}, retErr
	}
	return out, nil
}

func (in *Inbox) runDraft(ctx context.Context, a alert.Alert, keywords []string) {
	defer in.tasks.Done()

	draft := in.composer.Compose(ctx, a.Fields, keywords)

	err := in.do(ctx, func(st *state) {
		cur, ok := st.alerts[a.ID]
		if !ok {
			return
		}
		cur.Draft = draft
		st.alerts[a.ID] = cur
	})
	if err != nil {
		in.logger.Error(ctx, err, "dropping draft result", "alert_id", a.ID)
	}
}

// Alerts returns the collection newest-first.
func (in *Inbox) Alerts(ctx context.Context) ([]alert.Alert, error) {
	var out []alert.Alert
	err := in.do(ctx, func(st *state) {
		out = make([]alert.Alert, 0, len(st.order))
		for _, id := range st.order {
			out = append(out, st.alerts[id])
		}
	})
	return out, err
}

// Relevant returns the alerts scored at or above the relevance threshold, newest-first.
func (in *Inbox) Relevant(ctx context.Context) ([]alert.Alert, error) {
	all, err := in.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	return alert.Relevant(all), nil
}

// Get returns one alert by id.
func (in *Inbox) Get(ctx context.Context, id string) (alert.Alert, bool, error) {
	var (
		out alert.Alert
		ok  bool
	)
	err := in.do(ctx, func(st *state) {
		out, ok = st.alerts[id]
	})
	return out, ok, err
}

// Keywords returns the keyword set in insertion order.
func (in *Inbox) Keywords(ctx context.Context) ([]string, error) {
	var out []string
	err := in.do(ctx, func(st *state) {
		out = st.keywords.List()
	})
	return out, err
}

// AddKeyword inserts kw and reports whether it was new. Existing alerts
// are not rescored.
func (in *Inbox) AddKeyword(ctx context.Context, kw string) (bool, error) {
	var (
		added  bool
		addErr error
	)
	err := in.do(ctx, func(st *state) {
		added, addErr = st.keywords.Add(kw)
	})
	if err != nil {
		return false, err
	}
	return added, addErr
}

// RemoveKeyword deletes kw and reports whether it was present.
func (in *Inbox) RemoveKeyword(ctx context.Context, kw string) (bool, error) {
	var removed bool
	err := in.do(ctx, func(st *state) {
		removed = st.keywords.Remove(kw)
	})
	return removed, err
}

// Close rejects new imports and draft requests, waits for dispatched
// scoring and drafting tasks to merge, then stops the owning goroutine.
// If ctx ends first the loop is stopped anyway and late results are
// dropped.
func (in *Inbox) Close(ctx context.Context) error {
	var err error
	in.closeOnce.Do(func() {
		// Wait only once intake is shut; tasks are added on the loop.
		if doErr := in.do(ctx, func(st *state) { st.closed = true }); doErr != nil {
			err = doErr
		} else {
			drained := make(chan struct{})
			go func() {
				in.tasks.Wait()
				close(drained)
			}()

			select {
			case <-drained:
			case <-ctx.Done():
				err = fmt.Errorf("waiting for in-flight tasks: %w", ctx.Err())
			}
		}

		close(in.quit)
		<-in.stopped
	})
	return err
}

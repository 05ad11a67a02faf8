package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/alert"
)

const twoValidOneMalformed = `Title: First
Snippet: one
Source: A
Link: https://a.example/1
---
Title: Broken
Snippet: missing link
Source: B
---
Title: Second
Snippet: two
Source: C
Link: https://c.example/2`

// gatedScorer blocks each Score call until its title is released.
type gatedScorer struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	scores  map[string]alert.Score
	calls   []string
	started chan string
}

func newGatedScorer() *gatedScorer {
	return &gatedScorer{
		gates:   make(map[string]chan struct{}),
		scores:  make(map[string]alert.Score),
		started: make(chan string, 16),
	}
}

func (g *gatedScorer) gate(title string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[title]
	if !ok {
		ch = make(chan struct{})
		g.gates[title] = ch
	}
	return ch
}

func (g *gatedScorer) set(title string, s alert.Score) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scores[title] = s
}

func (g *gatedScorer) release(title string) { close(g.gate(title)) }

func (g *gatedScorer) Score(_ context.Context, title, _ string, _ []string) alert.Score {
	g.mu.Lock()
	g.calls = append(g.calls, title)
	g.mu.Unlock()
	g.started <- title

	<-g.gate(title)

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.scores[title]; ok {
		return s
	}
	return alert.Scored(0.7, "default")
}

func (g *gatedScorer) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// instantScorer resolves immediately.
type instantScorer struct {
	score alert.Score
}

func (s instantScorer) Score(context.Context, string, string, []string) alert.Score { return s.score }

type composeCall struct {
	fields   alert.Fields
	keywords []string
}

type fakeComposer struct {
	mu    sync.Mutex
	calls []composeCall
	gate  chan struct{}
	draft alert.Draft
}

func (f *fakeComposer) Compose(_ context.Context, fl alert.Fields, kws []string) alert.Draft {
	f.mu.Lock()
	f.calls = append(f.calls, composeCall{fields: fl, keywords: kws})
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

func (f *fakeComposer) callsSnapshot() []composeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]composeCall(nil), f.calls...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Notify(_ context.Context, a *alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a.Title)
	return nil
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func newTestInbox(t *testing.T, opts Options) *Inbox {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Composer == nil {
		opts.Composer = &fakeComposer{draft: alert.Draft{Status: alert.DraftReady, Text: "draft"}}
	}
	in := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = in.Close(ctx)
	})
	return in
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestImport_TwoValidOneMalformed(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	in := newTestInbox(t, Options{Scorer: scorer, Keywords: []string{"AI"}})
	ctx := context.Background()

	res, err := in.Import(ctx, twoValidOneMalformed)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != OutcomeImported || res.Imported != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Message != "Imported 2 new alert(s). Scoring relevancy..." {
		t.Errorf("message = %q", res.Message)
	}
	if len(res.Report.Skipped) != 1 || res.Report.Skipped[0].Index != 1 {
		t.Errorf("skipped = %+v", res.Report.Skipped)
	}

	all, err := in.Alerts(ctx)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("alerts = %d, want 2", len(all))
	}
	if all[0].Title != "First" || all[1].Title != "Second" {
		t.Errorf("order = [%s %s], want parse order", all[0].Title, all[1].Title)
	}
	for _, a := range all {
		if !a.IsScoring() {
			t.Errorf("%s: expected scoring", a.Title)
		}
		if a.ID == "" {
			t.Errorf("%s: empty id", a.Title)
		}
	}
	if all[0].ID == all[1].ID {
		t.Error("ids must be unique")
	}

	scorer.release("First")
	scorer.release("Second")
	waitFor(t, "scores to merge", func() bool {
		got, _ := in.Alerts(ctx)
		return !got[0].IsScoring() && !got[1].IsScoring()
	})
}

func TestImport_NoKeywordsResolvesSynchronously(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	in := newTestInbox(t, Options{Scorer: scorer})
	ctx := context.Background()

	res, err := in.Import(ctx, twoValidOneMalformed)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != OutcomeUnscored {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeUnscored)
	}
	if res.Message != "Imported alerts but cannot score relevancy without keywords." {
		t.Errorf("message = %q", res.Message)
	}

	all, _ := in.Alerts(ctx)
	if len(all) != 2 {
		t.Fatalf("alerts = %d, want 2", len(all))
	}
	for _, a := range all {
		if a.IsScoring() {
			t.Errorf("%s: still scoring", a.Title)
		}
		v, ok := a.RelevancyScore()
		if !ok || v != -1 {
			t.Errorf("%s: score = %v,%v want -1", a.Title, v, ok)
		}
		if a.Score.Reason != NoKeywordsReason {
			t.Errorf("%s: reason = %q", a.Title, a.Score.Reason)
		}
	}
	if scorer.callCount() != 0 {
		t.Errorf("scorer called %d times, want 0", scorer.callCount())
	}
}

func TestImport_OutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	scorer.set("First", alert.Scored(0.9, "hot"))
	scorer.set("Second", alert.ScoreFailure("Failed to score relevancy due to an unexpected error."))
	in := newTestInbox(t, Options{Scorer: scorer, Keywords: []string{"AI"}})
	ctx := context.Background()

	if _, err := in.Import(ctx, twoValidOneMalformed); err != nil {
		t.Fatalf("Import: %v", err)
	}
	<-scorer.started
	<-scorer.started

	// Second resolves first; First stays pending.
	scorer.release("Second")
	waitFor(t, "second to resolve", func() bool {
		all, _ := in.Alerts(ctx)
		return !all[1].IsScoring()
	})
	all, _ := in.Alerts(ctx)
	if !all[0].IsScoring() {
		t.Error("first alert should still be scoring")
	}
	if v, _ := all[1].RelevancyScore(); v != -1 {
		t.Errorf("second score = %v, want -1", v)
	}

	scorer.release("First")
	waitFor(t, "first to resolve", func() bool {
		all, _ := in.Alerts(ctx)
		return !all[0].IsScoring()
	})

	rel, err := in.Relevant(ctx)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(rel) != 1 || rel[0].Title != "First" {
		t.Errorf("relevant = %v", rel)
	}
}

func TestImport_NewestBatchFirst(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{score: alert.Scored(0.1, "")}, Keywords: []string{"AI"}})
	ctx := context.Background()

	if _, err := in.ImportBatch(ctx, []alert.Fields{{Title: "old-1"}, {Title: "old-2"}}, ""); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if _, err := in.ImportBatch(ctx, []alert.Fields{{Title: "new-1"}}, ""); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	all, _ := in.Alerts(ctx)
	var titles []string
	for _, a := range all {
		titles = append(titles, a.Title)
	}
	want := []string{"new-1", "old-1", "old-2"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles = %v, want %v", titles, want)
			break
		}
	}
}

func TestImport_EmptyAndNoAlerts(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{}, Keywords: []string{"AI"}})
	ctx := context.Background()

	for _, content := range []string{"", "   \n\t"} {
		if _, err := in.Import(ctx, content); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Import(%q) err = %v, want ErrEmptyContent", content, err)
		}
	}

	res, err := in.Import(ctx, "just some text\nwith no labels")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != OutcomeNoAlerts || res.Imported != 0 {
		t.Errorf("result = %+v", res)
	}
	all, _ := in.Alerts(ctx)
	if len(all) != 0 {
		t.Errorf("alerts = %d, want 0", len(all))
	}
}

func TestImportBatch_DropsBlankTitles(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{score: alert.Scored(0.2, "")}, Keywords: []string{"AI"}})

	res, err := in.ImportBatch(context.Background(), []alert.Fields{
		{Title: "kept", Source: "Wire"},
		{Title: "  ", Source: "Wire"},
	}, SourceGmail)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if res.Imported != 1 || res.Alerts[0].Title != "kept" {
		t.Errorf("result = %+v", res)
	}
}

func TestRequestDraft_Workflow(t *testing.T) {
	t.Parallel()

	composer := &fakeComposer{
		gate:  make(chan struct{}),
		draft: alert.Draft{Status: alert.DraftReady, Text: "Thanks for sharing!"},
	}
	in := newTestInbox(t, Options{
		Scorer:   instantScorer{score: alert.Scored(0.6, "")},
		Composer: composer,
		Keywords: []string{"AI"},
	})
	ctx := context.Background()

	res, err := in.ImportBatch(ctx, []alert.Fields{{Title: "X", Snippet: "Y", Source: "Z", Link: "https://z"}}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	id := res.Alerts[0].ID

	got, err := in.RequestDraft(ctx, id)
	if err != nil {
		t.Fatalf("RequestDraft: %v", err)
	}
	if !got.IsDrafting() {
		t.Error("expected drafting immediately after request")
	}
	stored, _, _ := in.Get(ctx, id)
	if !stored.IsDrafting() {
		t.Error("stored alert should be drafting before the call resolves")
	}

	close(composer.gate)
	waitFor(t, "draft to resolve", func() bool {
		a, _, _ := in.Get(ctx, id)
		return !a.IsDrafting()
	})

	a, _, _ := in.Get(ctx, id)
	if a.View().DraftResponse != "Thanks for sharing!" {
		t.Errorf("draft = %q", a.View().DraftResponse)
	}

	calls := composer.callsSnapshot()
	if len(calls) != 1 {
		t.Fatalf("compose calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.fields.Title != "X" || c.fields.Snippet != "Y" || c.fields.Source != "Z" {
		t.Errorf("fields = %+v", c.fields)
	}
	if len(c.keywords) != 1 || c.keywords[0] != "AI" {
		t.Errorf("keywords = %v", c.keywords)
	}
}

func TestRequestDraft_Regenerate(t *testing.T) {
	t.Parallel()

	composer := &fakeComposer{draft: alert.Draft{Status: alert.DraftReady, Text: "v1"}}
	in := newTestInbox(t, Options{Scorer: instantScorer{}, Composer: composer, Keywords: []string{"AI"}})
	ctx := context.Background()

	res, _ := in.ImportBatch(ctx, []alert.Fields{{Title: "X"}}, "")
	id := res.Alerts[0].ID

	if _, err := in.RequestDraft(ctx, id); err != nil {
		t.Fatalf("RequestDraft: %v", err)
	}
	waitFor(t, "first draft", func() bool {
		a, _, _ := in.Get(ctx, id)
		return a.Draft.Status == alert.DraftReady
	})

	composer.mu.Lock()
	composer.draft = alert.Draft{Status: alert.DraftReady, Text: "v2"}
	composer.mu.Unlock()

	if _, err := in.RequestDraft(ctx, id); err != nil {
		t.Fatalf("RequestDraft: %v", err)
	}
	waitFor(t, "second draft", func() bool {
		a, _, _ := in.Get(ctx, id)
		return a.Draft.Status == alert.DraftReady && a.Draft.Text == "v2"
	})
}

func TestRequestDraft_UnknownID(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{}})
	if _, err := in.RequestDraft(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRelevantNotification(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	scorer.set("First", alert.Scored(0.5, "boundary"))
	scorer.set("Second", alert.Scored(0.49, "below"))
	notifier := &fakeNotifier{}
	in := newTestInbox(t, Options{Scorer: scorer, Notifier: notifier, Keywords: []string{"AI"}})

	if _, err := in.Import(context.Background(), twoValidOneMalformed); err != nil {
		t.Fatalf("Import: %v", err)
	}
	scorer.release("First")
	scorer.release("Second")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := in.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := notifier.titles()
	if len(got) != 1 || got[0] != "First" {
		t.Errorf("notified = %v, want [First]", got)
	}
}

func TestClose_WaitsForInFlightScores(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	in := New(Options{Scorer: scorer, Composer: &fakeComposer{}, Keywords: []string{"AI"}, Logger: log.Nop()})

	if _, err := in.ImportBatch(context.Background(), []alert.Fields{{Title: "slow"}}, ""); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	<-scorer.started

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		closed <- in.Close(ctx)
	}()

	select {
	case err := <-closed:
		t.Fatalf("Close returned before task finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	scorer.release("slow")
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := in.Import(context.Background(), alert.SampleContent); !errors.Is(err, ErrClosed) {
		t.Errorf("Import after close err = %v, want ErrClosed", err)
	}
	if _, err := in.Alerts(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Alerts after close err = %v, want ErrClosed", err)
	}
}

func TestClose_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	scorer := newGatedScorer()
	in := New(Options{Scorer: scorer, Composer: &fakeComposer{}, Keywords: []string{"AI"}})

	if _, err := in.ImportBatch(context.Background(), []alert.Fields{{Title: "stuck"}}, ""); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	<-scorer.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := in.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close err = %v, want deadline exceeded", err)
	}

	// The late result is dropped without blocking.
	scorer.release("stuck")
}

func TestKeywords_ThroughInbox(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{}, Keywords: DefaultKeywords})
	ctx := context.Background()

	added, err := in.AddKeyword(ctx, "  fintech ")
	if err != nil || !added {
		t.Fatalf("AddKeyword = %v, %v", added, err)
	}
	added, err = in.AddKeyword(ctx, "AI")
	if err != nil || added {
		t.Errorf("duplicate AddKeyword = %v, %v", added, err)
	}
	if _, err := in.AddKeyword(ctx, " "); !errors.Is(err, ErrEmptyKeyword) {
		t.Errorf("blank AddKeyword err = %v", err)
	}

	removed, err := in.RemoveKeyword(ctx, "startup")
	if err != nil || !removed {
		t.Errorf("RemoveKeyword = %v, %v", removed, err)
	}

	got, _ := in.Keywords(ctx)
	want := []string{"AI", "generative AI", "fintech"}
	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keywords = %v, want %v", got, want)
			break
		}
	}
}

func TestMetrics_ImportCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	in := newTestInbox(t, Options{Scorer: instantScorer{score: alert.Scored(1, "")}, Metrics: m, Keywords: []string{"AI"}})
	ctx := context.Background()

	if _, err := in.Import(ctx, alert.SampleContent); err != nil {
		t.Fatalf("Import: %v", err)
	}
	_, _ = in.Import(ctx, "")

	if got := testutil.ToFloat64(m.ImportsTotal.WithLabelValues(string(OutcomeImported))); got != 1 {
		t.Errorf("imports{imported} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ImportsTotal.WithLabelValues("empty")); got != 1 {
		t.Errorf("imports{empty} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AlertsImported.WithLabelValues(SourceText)); got != 3 {
		t.Errorf("alerts_imported{text} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Alerts); got != 3 {
		t.Errorf("alerts gauge = %v, want 3", got)
	}
}

func TestConcurrentImports(t *testing.T) {
	t.Parallel()

	in := newTestInbox(t, Options{Scorer: instantScorer{score: alert.Scored(0.8, "")}, Keywords: []string{"AI"}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := in.Import(ctx, alert.SampleContent); err != nil {
				t.Errorf("Import: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, "all scores", func() bool {
		all, _ := in.Alerts(ctx)
		if len(all) != 30 {
			return false
		}
		for _, a := range all {
			if a.IsScoring() {
				return false
			}
		}
		return true
	})

	seen := make(map[string]bool)
	all, _ := in.Alerts(ctx)
	for _, a := range all {
		if seen[a.ID] {
			t.Fatalf("duplicate id %s", a.ID)
		}
		seen[a.ID] = true
	}
}

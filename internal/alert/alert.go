// Package alert defines the alert record extracted from notification
// emails, the delimited text parser that produces it, and the relevant
// view derived from scored alerts.
package alert

import (
	"encoding/json"
	"time"
)

// RelevanceThreshold is the minimum score for an alert to appear in the relevant view.
const RelevanceThreshold = 0.5

// FailedScoreValue is the external rendering of a failed or skipped score.
const FailedScoreValue = -1

// Fields are the four labelled values a parsed section carries.
type Fields struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	Link    string `json:"link"`
}

// ScoreStatus tracks where relevancy scoring is for one alert.
type ScoreStatus string

const (
	// ScorePending means a scoring call is in flight
	ScorePending ScoreStatus = "pending"

	// ScoreScored means the generation service returned a score
	ScoreScored ScoreStatus = "scored"

	// ScoreFailed means scoring failed or was skipped
	ScoreFailed ScoreStatus = "failed"
)

// Score is the relevancy outcome of an alert. Value is meaningful only
// when Status is ScoreScored.
type Score struct {
	Status ScoreStatus
	Value  float64
	Reason string
}

// Pending returns the in-flight score state.
func Pending() Score { return Score{Status: ScorePending} }

// Scored returns a successful score.
func Scored(value float64, reason string) Score {
	return Score{Status: ScoreScored, Value: value, Reason: reason}
}

// ScoreFailure returns a failed score carrying the reason shown to the user.
func ScoreFailure(reason string) Score {
	return Score{Status: ScoreFailed, Reason: reason}
}

// DraftStatus tracks the reply draft of one alert.
type DraftStatus string

const (
	DraftNotRequested DraftStatus = ""
	DraftInFlight     DraftStatus = "in_flight"
	DraftReady        DraftStatus = "ready"
	DraftFailed       DraftStatus = "failed"
)

// Draft is the reply-draft state of an alert. Text holds the draft on
// DraftReady, the failure text on DraftFailed, and the previous text (if
// any) while a regeneration is in flight.
type Draft struct {
	Status DraftStatus
	Text   string
}

// Alert is one tracked mention extracted from an alert email.
type Alert struct {
	ID string
	Fields
	Score      Score
	Draft      Draft
	ImportedAt time.Time
}

// IsScoring reports whether a scoring call is still in flight.
func (a *Alert) IsScoring() bool { return a.Score.Status == ScorePending }

// IsDrafting reports whether a draft request is still in flight.
func (a *Alert) IsDrafting() bool { return a.Draft.Status == DraftInFlight }

// Relevant reports whether the alert has a genuine score at or above the threshold.
func (a *Alert) Relevant() bool {
	return a.Score.Status == ScoreScored && a.Score.Value >= RelevanceThreshold
}

// RelevancyScore returns the externally visible score: absent while
// pending, -1 on failure.
func (a *Alert) RelevancyScore() (float64, bool) {
	switch a.Score.Status {
	case ScoreScored:
		return a.Score.Value, true
	case ScoreFailed:
		return FailedScoreValue, true
	default:
		return 0, false
	}
}

// View is the flat JSON shape clients consume.
type View struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Snippet         string   `json:"snippet"`
	Source          string   `json:"source"`
	Link            string   `json:"link"`
	RelevancyScore  *float64 `json:"relevancyScore,omitempty"`
	RelevancyReason string   `json:"relevancyReason,omitempty"`
	DraftResponse   string   `json:"draftResponse,omitempty"`
	IsScoring       bool     `json:"isScoring"`
	IsDrafting      bool     `json:"isDrafting"`
}

// View flattens the alert into its client representation.
func (a *Alert) View() View {
	v := View{
		ID:              a.ID,
		Title:           a.Title,
		Snippet:         a.Snippet,
		Source:          a.Source,
		Link:            a.Link,
		RelevancyReason: a.Score.Reason,
		IsScoring:       a.IsScoring(),
		IsDrafting:      a.IsDrafting(),
	}
	if score, ok := a.RelevancyScore(); ok {
		v.RelevancyScore = &score
	}
	if a.Draft.Status != DraftNotRequested {
		v.DraftResponse = a.Draft.Text
	}
	return v
}

// MarshalJSON renders the alert as its View.
func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.View())
}

// Relevant filters alerts down to the relevant view, preserving order.
func Relevant(alerts []Alert) []Alert {
	out := make([]Alert, 0, len(alerts))
	for i := range alerts {
		if alerts[i].Relevant() {
			out = append(out, alerts[i])
		}
	}
	return out
}

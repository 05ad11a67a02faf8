package insight

import "context"

// Generator is the interface for the text-generation backend. Each
// operation takes a structured input and returns structured output or
// fails.
type Generator interface {
	ScoreRelevancy(ctx context.Context, req *ScoreRequest) (*ScoreResponse, error)
	DraftResponse(ctx context.Context, req *DraftRequest) (*DraftResponse, error)
}

// ScoreRequest is the input of the scoreRelevancy operation.
type ScoreRequest struct {
	Title    string   `json:"title"`
	Snippet  string   `json:"snippet"`
	Keywords []string `json:"keywords"`
}

// ScoreResponse is the output of the scoreRelevancy operation. The
// score is contracted to lie in [0,1].
type ScoreResponse struct {
	RelevancyScore float64 `json:"relevancyScore"`
	Reason         string  `json:"reason"`
}

// DraftRequest is the input of the draftResponse operation.
type DraftRequest struct {
	AlertTitle   string   `json:"alertTitle"`
	AlertSnippet string   `json:"alertSnippet"`
	AlertSource  string   `json:"alertSource"`
	UserKeywords []string `json:"userKeywords,omitempty"`
}

// DraftResponse is the output of the draftResponse operation.
type DraftResponse struct {
	DraftResponse string `json:"draftResponse"`
}

// Operation names the generation operation, used for logs and metrics.
type Operation string

const (
	OpScoreRelevancy Operation = "scoreRelevancy"
	OpDraftResponse  Operation = "draftResponse"
)

// Outcome labels how a generation call ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Hooks receives per-call observations. Nil fields are ignored.
type Hooks struct {
	OnGenerate func(op Operation, outcome Outcome, duration float64)
}

func (h Hooks) generate(op Operation, outcome Outcome, duration float64) {
	if h.OnGenerate != nil {
		h.OnGenerate(op, outcome, duration)
	}
}

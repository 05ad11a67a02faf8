package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/insight"
)

var tracer = otel.Tracer("github.com/linnemanlabs/herald/internal/llm/claude")

const (
	DefaultModel = "claude-sonnet-4-20250514"

	scoreMaxTokens = 512
	draftMaxTokens = 1024

	toolRecordRelevancy = "record_relevancy"
	toolRecordDraft     = "record_draft"
)

// Options configures a Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string        // empty uses the SDK default
	Timeout time.Duration // per request; zero leaves the SDK default
	Logger  log.Logger
	Hooks   Hooks
}

// Hooks receives token usage per completed call. Nil fields are ignored.
type Hooks struct {
	OnUsage func(op insight.Operation, inputTokens, outputTokens int64)
}

// Client implements insight.Generator against the Anthropic Messages API.
// Each operation is a single request that forces one tool call, and the
// tool input is the structured result.
type Client struct {
	sdk    anthropic.Client
	model  string
	logger log.Logger
	hooks  Hooks
}

var _ insight.Generator = (*Client)(nil)

// New creates a Claude client. Retries are disabled; the caller makes a
// single attempt per operation.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Client{
		sdk:    anthropic.NewClient(reqOpts...),
		model:  model,
		logger: logger,
		hooks:  opts.Hooks,
	}
}

// ScoreRelevancy asks the model for a relevancy score in [0,1] and a reason.
func (c *Client) ScoreRelevancy(ctx context.Context, req *insight.ScoreRequest) (*insight.ScoreResponse, error) {
	raw, err := c.call(ctx, insight.OpScoreRelevancy, scoreSystemPrompt, buildScorePrompt(req), scoreTool(), scoreMaxTokens)
	if err != nil {
		return nil, err
	}

	// Pointers tell a missing key apart from a zero value.
	var in struct {
		RelevancyScore *float64 `json:"relevancyScore"`
		Reason         *string  `json:"reason"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", toolRecordRelevancy, err)
	}
	if in.RelevancyScore == nil {
		return nil, fmt.Errorf("%s input has no relevancyScore", toolRecordRelevancy)
	}
	if in.Reason == nil {
		return nil, fmt.Errorf("%s input has no reason", toolRecordRelevancy)
	}
	return &insight.ScoreResponse{RelevancyScore: *in.RelevancyScore, Reason: *in.Reason}, nil
}

// DraftResponse asks the model for a short reply to the alert.
func (c *Client) DraftResponse(ctx context.Context, req *insight.DraftRequest) (*insight.DraftResponse, error) {
	raw, err := c.call(ctx, insight.OpDraftResponse, draftSystemPrompt, buildDraftPrompt(req), draftTool(), draftMaxTokens)
	if err != nil {
		return nil, err
	}

	var out insight.DraftResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", toolRecordDraft, err)
	}
	return &out, nil
}

// call sends one Messages request with tool choice pinned to tool and
// returns the raw input of the matching tool_use block.
func (c *Client) call(ctx context.Context, op insight.Operation, system, prompt string, tool *anthropic.ToolParam, maxTokens int64) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.request.model", c.model),
		attribute.String("herald.llm.op", string(op)),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.String("gen_ai.tool.name", tool.Name),
		attribute.Int("herald.llm.prompt_bytes", len(prompt)),
	))

	start := time.Now()
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools:      []anthropic.ToolUnionParam{{OfTool: tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("claude %s: %w", op, err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(msg.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("gen_ai.response.finish_reason", string(msg.StopReason)),
	))

	if c.hooks.OnUsage != nil {
		c.hooks.OnUsage(op, msg.Usage.InputTokens, msg.Usage.OutputTokens)
	}

	c.logger.Info(ctx, "llm response",
		"op", op,
		"model", msg.Model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration_s", time.Since(start).Seconds(),
	)

	raw, err := toolInput(msg, tool.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return raw, nil
}

// toolInput finds the tool_use block named name.
func toolInput(msg *anthropic.Message, name string) (json.RawMessage, error) {
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == name {
			if len(block.Input) == 0 {
				return nil, fmt.Errorf("%s tool call has no input", name)
			}
			return block.Input, nil
		}
	}
	return nil, fmt.Errorf("no %s tool call in response (stop_reason=%s)", name, msg.StopReason)
}

const scoreSystemPrompt = `You are an expert at scoring the relevancy of alerts based on keywords and context.
Always answer by calling the record_relevancy tool exactly once.`

const draftSystemPrompt = `You are an assistant tasked with drafting short responses to Google Alerts.
Always answer by calling the record_draft tool exactly once.`

func buildScorePrompt(req *insight.ScoreRequest) string {
	var b strings.Builder
	b.WriteString("Score the relevancy of the alert based on the following information:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Snippet: %s\n", req.Snippet)
	fmt.Fprintf(&b, "Keywords: %s\n\n", strings.Join(req.Keywords, ", "))
	b.WriteString("Provide a relevancy score from 0 to 1, and a reason for the score.")
	return b.String()
}

func buildDraftPrompt(req *insight.DraftRequest) string {
	var b strings.Builder
	b.WriteString("Given the following information from the alert, generate a draft response:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", req.AlertTitle)
	fmt.Fprintf(&b, "Snippet: %s\n", req.AlertSnippet)
	fmt.Fprintf(&b, "Source: %s\n", req.AlertSource)
	if len(req.UserKeywords) > 0 {
		b.WriteString("\nThe user has provided the following keywords to guide the response:\n")
		for _, kw := range req.UserKeywords {
			fmt.Fprintf(&b, "- %s\n", kw)
		}
	}
	return b.String()
}

func scoreTool() *anthropic.ToolParam {
	return &anthropic.ToolParam{
		Name:        toolRecordRelevancy,
		Description: anthropic.String("Record the relevancy score of the alert."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"relevancyScore": map[string]any{
					"type":        "number",
					"minimum":     0,
					"maximum":     1,
					"description": "The relevancy score of the alert, from 0 to 1.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "The reason for the relevancy score.",
				},
			},
			Required: []string{"relevancyScore", "reason"},
		},
	}
}

func draftTool() *anthropic.ToolParam {
	return &anthropic.ToolParam{
		Name:        toolRecordDraft,
		Description: anthropic.String("Record the draft response to the alert."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"draftResponse": map[string]any{
					"type":        "string",
					"description": "A draft response to the alert.",
				},
			},
			Required: []string{"draftResponse"},
		},
	}
}

package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/herald/internal/inbox"
)

// MaxImportBytesCeiling is the largest accepted -max-import-bytes.
const MaxImportBytesCeiling = 16 << 20

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	ClaudeAPIKey          string
	ClaudeModel           string
	ClaudeBaseURL         string
	LLMTimeoutSeconds     int
	Keywords              string
	KeywordsFile          string
	MaxImportBytes        int64
	SlackWebhookURL       string
	GmailAccessToken      string
	GmailSender           string
	GmailMaxMessages      int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 requests")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL (empty = SDK default)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 60, "per-call timeout for scoring and drafting (1..600)")
	fs.StringVar(&c.Keywords, "keywords", strings.Join(inbox.DefaultKeywords, ","), "comma separated seed keywords")
	fs.StringVar(&c.KeywordsFile, "keywords-file", "", "optional YAML file with seed keywords, merged after -keywords")
	fs.Int64Var(&c.MaxImportBytes, "max-import-bytes", 1<<20, "maximum import request body size in bytes")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for relevant-alert notifications")
	fs.StringVar(&c.GmailAccessToken, "gmail-access-token", "", "OAuth access token for the Gmail import source (empty = disabled)")
	fs.StringVar(&c.GmailSender, "gmail-sender", "googlealerts-noreply@google.com", "sender address whose messages are imported from Gmail")
	fs.IntVar(&c.GmailMaxMessages, "gmail-max-messages", 20, "messages fetched per Gmail import (1..500)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.ClaudeBaseURL != "" {
		if u, err := url.Parse(c.ClaudeBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid CLAUDE_BASE_URL %q (must be an absolute URL)", c.ClaudeBaseURL))
		}
	}

	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}

	if c.MaxImportBytes <= 0 || c.MaxImportBytes > MaxImportBytesCeiling {
		errs = append(errs, fmt.Errorf("invalid MAX_IMPORT_BYTES %d (must be 1..%d)", c.MaxImportBytes, MaxImportBytesCeiling))
	}

	if c.GmailMaxMessages <= 0 || c.GmailMaxMessages > 500 {
		errs = append(errs, fmt.Errorf("invalid GMAIL_MAX_MESSAGES %d (must be 1..500)", c.GmailMaxMessages))
	}
	if c.GmailAccessToken != "" && c.GmailSender == "" {
		errs = append(errs, errors.New("GMAIL_SENDER is required when GMAIL_ACCESS_TOKEN is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SeedKeywords returns the -keywords list followed by the keywords file
// contents, if any. Blank entries are dropped; deduplication is left to
// the keyword set.
func (c *Config) SeedKeywords() ([]string, error) {
	var out []string
	for _, kw := range strings.Split(c.Keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}

	if c.KeywordsFile == "" {
		return out, nil
	}
	fromFile, err := LoadKeywordsFile(c.KeywordsFile)
	if err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}

// keywordsFile is the YAML layout of -keywords-file:
//
//	keywords:
//	  - AI
//	  - generative AI
type keywordsFile struct {
	Keywords []string `yaml:"keywords"`
}

// LoadKeywordsFile reads seed keywords from a YAML file.
func LoadKeywordsFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}
	return parseKeywords(b)
}

func parseKeywords(b []byte) ([]string, error) {
	var kf keywordsFile
	if err := yaml.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("parse keywords file: %w", err)
	}

	out := make([]string, 0, len(kf.Keywords))
	for _, kw := range kf.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out, nil
}

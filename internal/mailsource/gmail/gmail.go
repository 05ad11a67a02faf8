// Package gmail fetches alert emails from a Gmail mailbox and reduces
// them to parser input. It needs an OAuth access token obtained
// elsewhere; the consent flow is not handled here.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/mailsource/eml"
)

// ErrNotConfigured is returned when no access token is configured.
var ErrNotConfigured = errors.New("gmail source not configured")

const (
	DefaultSender      = "googlealerts-noreply@google.com"
	DefaultMaxMessages = 20

	userID = "me"
)

// Options configures a Source.
type Options struct {
	AccessToken string
	Sender      string
	MaxMessages int64
	Endpoint    string // overrides the API endpoint, for tests
	Logger      log.Logger
}

// Source lists and downloads alert emails from one mailbox.
type Source struct {
	svc    *gm.Service
	sender string
	max    int64
	logger log.Logger
}

// Batch is the result of one fetch.
type Batch struct {
	Content  string // bodies joined by the section delimiter
	Messages int    // messages fetched
	Skipped  int    // messages that could not be decoded
}

// New builds a Source. It returns ErrNotConfigured without a token.
func New(ctx context.Context, opts Options) (*Source, error) {
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, ErrNotConfigured
	}
	if opts.Sender == "" {
		opts.Sender = DefaultSender
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"})
	clientOpts := []option.ClientOption{option.WithTokenSource(ts)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gm.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}

	return &Source{
		svc:    svc,
		sender: opts.Sender,
		max:    opts.MaxMessages,
		logger: opts.Logger,
	}, nil
}

// Query returns the Gmail search query used to select alert emails.
func (s *Source) Query() string {
	return "from:" + s.sender
}

// Fetch downloads the most recent alert emails and returns their text.
// A message that cannot be decoded is skipped and logged.
func (s *Source) Fetch(ctx context.Context) (*Batch, error) {
	list, err := s.svc.Users.Messages.List(userID).
		Q(s.Query()).
		MaxResults(s.max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: list messages: %w", err)
	}

	batch := &Batch{}
	msgs := make([]*eml.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		m, err := s.svc.Users.Messages.Get(userID, ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail: get message %s: %w", ref.Id, err)
		}
		batch.Messages++

		raw, err := DecodeRaw(m.Raw)
		if err != nil {
			batch.Skipped++
			s.logger.Warn(ctx, "skipping undecodable gmail message", "message_id", ref.Id, "error", err)
			continue
		}
		parsed, err := eml.Extract(raw)
		if err != nil {
			batch.Skipped++
			s.logger.Warn(ctx, "skipping unparsable gmail message", "message_id", ref.Id, "error", err)
			continue
		}
		msgs = append(msgs, parsed)
	}

	batch.Content = eml.Join(msgs)
	s.logger.Info(ctx, "gmail fetch complete", "messages", batch.Messages, "skipped", batch.Skipped)
	return batch, nil
}

// DecodeRaw decodes the base64url raw field of a Gmail message,
// with or without padding.
func DecodeRaw(raw string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("gmail: decode raw message: %w", err)
	}
	return b, nil
}

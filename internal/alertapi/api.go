package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/alert"
	"github.com/linnemanlabs/herald/internal/inbox"
	"github.com/linnemanlabs/herald/internal/mailsource/gmail"
)

// DefaultMaxImportBytes caps an import body when Options leaves it unset.
const DefaultMaxImportBytes = 1 << 20

// InboxService defines the business operations alertapi needs.
type InboxService interface {
	ImportFrom(ctx context.Context, content, source string) (*inbox.ImportResult, error)
	ImportBatch(ctx context.Context, batch []alert.Fields, source string) (*inbox.ImportResult, error)
	Alerts(ctx context.Context) ([]alert.Alert, error)
	Relevant(ctx context.Context) ([]alert.Alert, error)
	Get(ctx context.Context, id string) (alert.Alert, bool, error)
	RequestDraft(ctx context.Context, id string) (alert.Alert, error)
	Keywords(ctx context.Context) ([]string, error)
	AddKeyword(ctx context.Context, kw string) (bool, error)
	RemoveKeyword(ctx context.Context, kw string) (bool, error)
}

// MailSource fetches a batch of alert emails as parser input.
type MailSource interface {
	Fetch(ctx context.Context) (*gmail.Batch, error)
}

// Options holds the optional parts of the API.
type Options struct {
	MaxImportBytes int64
	Gmail          MailSource // nil disables POST /imports/gmail
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      InboxService
	gmail    MailSource
	maxBytes int64
}

// New creates a new API handler.
func New(logger log.Logger, svc InboxService, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("inbox service is required"))
	}
	if opts.MaxImportBytes <= 0 {
		opts.MaxImportBytes = DefaultMaxImportBytes
	}
	return &API{
		logger:   logger,
		svc:      svc,
		gmail:    opts.Gmail,
		maxBytes: opts.MaxImportBytes,
	}
}

// RegisterRoutes attaches API endpoints to the router. Any middleware
// given wraps the /api/v1 group only.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Post("/imports", a.handleImport)
		r.Post("/imports/eml", a.handleImportEML)
		r.Post("/imports/gmail", a.handleImportGmail)
		r.Get("/imports/sample", a.handleSample)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/relevant", a.handleRelevantAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/draft", a.handleRequestDraft)

		r.Get("/keywords", a.handleListKeywords)
		r.Post("/keywords", a.handleAddKeyword)
		r.Delete("/keywords/{keyword}", a.handleRemoveKeyword)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps inbox errors onto status codes. Anything it
// does not recognise is logged and reported as a 500.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, inbox.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inbox.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, inbox.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

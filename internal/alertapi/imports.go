package alertapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/herald/internal/alert"
	"github.com/linnemanlabs/herald/internal/inbox"
	"github.com/linnemanlabs/herald/internal/mailsource/eml"
)

// importRequest is the JSON form of POST /imports. Alerts, when present,
// bypasses the parser.
type importRequest struct {
	Content string         `json:"content"`
	Alerts  []alert.Fields `json:"alerts"`
}

type importResponse struct {
	Imported int                    `json:"imported"`
	Outcome  inbox.Outcome          `json:"outcome"`
	Message  string                 `json:"message"`
	Alerts   []alert.Alert          `json:"alerts"`
	Skipped  []alert.SkippedSection `json:"skipped,omitempty"`

	// gmail only
	Messages        int `json:"messages,omitempty"`
	SkippedMessages int `json:"skippedMessages,omitempty"`
}

func newImportResponse(res *inbox.ImportResult) importResponse {
	alerts := res.Alerts
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	return importResponse{
		Imported: res.Imported,
		Outcome:  res.Outcome,
		Message:  res.Message,
		Alerts:   alerts,
		Skipped:  res.Report.Skipped,
	}
}

// importStatus is 202 when records were added, 200 when nothing was.
func importStatus(res *inbox.ImportResult) int {
	if res.Imported > 0 {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// readBody reads at most a.maxBytes of the request body. On failure the
// error response has already been written.
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return nil, false
	}
	return body, true
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	var (
		res    *inbox.ImportResult
		err    error
		source = inbox.SourceText
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req importRequest
		if jerr := json.Unmarshal(body, &req); jerr != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if req.Alerts != nil {
			source = inbox.SourceBatch
			res, err = a.svc.ImportBatch(r.Context(), req.Alerts, source)
		} else {
			res, err = a.svc.ImportFrom(r.Context(), req.Content, source)
		}
	} else {
		res, err = a.svc.ImportFrom(r.Context(), string(body), source)
	}

	a.respondImport(w, r, source, res, err)
}

func (a *API) handleImportEML(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	msg, err := eml.Extract(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.ImportFrom(r.Context(), msg.Body, inbox.SourceEML)
	a.respondImport(w, r, inbox.SourceEML, res, err)
}

func (a *API) handleImportGmail(w http.ResponseWriter, r *http.Request) {
	if a.gmail == nil {
		writeError(w, http.StatusNotFound, "gmail import not configured")
		return
	}

	batch, err := a.gmail.Fetch(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "gmail fetch failed")
		writeError(w, http.StatusBadGateway, "gmail fetch failed")
		return
	}

	var res *inbox.ImportResult
	if strings.TrimSpace(batch.Content) == "" {
		// an empty mailbox is "no alerts", not a bad request
		res, err = a.svc.ImportBatch(r.Context(), nil, inbox.SourceGmail)
	} else {
		res, err = a.svc.ImportFrom(r.Context(), batch.Content, inbox.SourceGmail)
	}
	if err != nil {
		a.writeServiceError(w, r, err, "gmail import failed")
		return
	}

	resp := newImportResponse(res)
	resp.Messages = batch.Messages
	resp.SkippedMessages = batch.Skipped
	writeJSON(w, importStatus(res), resp)
}

func (a *API) respondImport(w http.ResponseWriter, r *http.Request, source string, res *inbox.ImportResult, err error) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.import.source", source))

	if err != nil {
		a.writeServiceError(w, r, err, "import failed")
		return
	}

	span.SetAttributes(
		attribute.Int("herald.import.imported", res.Imported),
		attribute.String("herald.import.outcome", string(res.Outcome)),
	)
	writeJSON(w, importStatus(res), newImportResponse(res))
}

func (a *API) handleSample(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, alert.SampleContent)
}

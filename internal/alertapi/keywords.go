package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/herald/internal/inbox"
)

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

type keywordsResponse struct {
	Keywords []string `json:"keywords"`
}

func (a *API) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := a.svc.Keywords(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list keywords")
		return
	}
	if kws == nil {
		kws = []string{}
	}
	writeJSON(w, http.StatusOK, keywordsResponse{Keywords: kws})
}

func (a *API) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	added, err := a.svc.AddKeyword(r.Context(), req.Keyword)
	if errors.Is(err, inbox.ErrEmptyKeyword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "failed to add keyword")
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	a.respondKeywords(w, r, status)
}

func (a *API) handleRemoveKeyword(w http.ResponseWriter, r *http.Request) {
	// chi matches on RawPath when it is set, leaving the param escaped.
	kw := chi.URLParam(r, "keyword")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(kw); err == nil {
			kw = unescaped
		}
	}

	removed, err := a.svc.RemoveKeyword(r.Context(), kw)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to remove keyword")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondKeywords writes the current keyword list with the given status.
func (a *API) respondKeywords(w http.ResponseWriter, r *http.Request, status int) {
	kws, err := a.svc.Keywords(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list keywords")
		return
	}
	if kws == nil {
		kws = []string{}
	}
	writeJSON(w, status, keywordsResponse{Keywords: kws})
}

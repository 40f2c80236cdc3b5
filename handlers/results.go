// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"strings"

	"github.com/danielhkuo/runoff/cliparse"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/middleware"
	"github.com/danielhkuo/runoff/models"
)

type ResultsHandler struct {
	engine *engine.Engine
	cfg    cliparse.Config
}

func NewResultsHandler(e *engine.Engine, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{engine: e, cfg: cfg}
}

// GetResults handles GET /polls/{id}/results
// Returns 403 until the official snapshot exists.
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.GetOfficialResult(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, res)
}

// GetTrend handles GET /polls/{id}/trend
// Returns 404 for polls that do not accept post-close ballots.
func (h *ResultsHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	td, err := h.engine.GetTrend(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, td)
}

// GetBreakdown handles GET /polls/{id}/breakdown?dimension=&view=
// The authenticated view needs the viewer or admin key, the internal view
// the admin key. Every successful call spends privacy budget; an exhausted
// budget is 429.
func (h *ResultsHandler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	var dimensions []string
	for _, raw := range q["dimension"] {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dimensions = append(dimensions, d)
			}
		}
	}
	if len(dimensions) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "dimension is required")
		return
	}

	view := q.Get("view")
	if view == "" {
		view = models.ViewPublic
	}
	if !canView(r, pollID, view, h.cfg.AdminKeySalt) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid key for view "+view)
		return
	}

	b, err := h.engine.Breakdown(r.Context(), pollID, dimensions, view)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, b)
}

// GetMethodology handles GET /methodology
func (h *ResultsHandler) GetMethodology(w http.ResponseWriter, r *http.Request) {
	middleware.JSONResponse(w, http.StatusOK, h.engine.Methodology())
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/middleware"
)

type AuditHandler struct {
	engine *engine.Engine
}

func NewAuditHandler(e *engine.Engine) *AuditHandler {
	return &AuditHandler{engine: e}
}

// GetDataset handles GET /polls/{id}/audit/dataset
// The dataset replays to the published checksum with irvreplay.
func (h *AuditHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ds, err := h.engine.Dataset(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+pollID+`-dataset.json"`)
	middleware.JSONResponse(w, http.StatusOK, ds)
}

// GetProof handles GET /polls/{id}/audit/proof/{ballot}
func (h *AuditHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	proof, err := h.engine.Proof(r.Context(), pollID, r.PathValue("ballot"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, proof)
}

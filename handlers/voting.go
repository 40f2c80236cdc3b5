// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"net/http"

	"github.com/danielhkuo/runoff/cliparse"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/middleware"
	"github.com/danielhkuo/runoff/models"
)

type VotingHandler struct {
	engine *engine.Engine
	cfg    cliparse.Config
}

func NewVotingHandler(e *engine.Engine, cfg cliparse.Config) *VotingHandler {
	return &VotingHandler{engine: e, cfg: cfg}
}

// SubmitBallot handles POST /polls/{id}/ballots
// A ballot with no countable choice is still recorded, as exhausted, and
// answered with 422 and the ballot id.
func (h *VotingHandler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.SubmitBallotRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	resp, err := h.engine.SubmitBallot(r.Context(), pollID, req)
	if errors.Is(err, irv.ErrInvalidBallot) {
		middleware.JSONResponse(w, http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// SubmitBatch handles POST /polls/{id}/ballots/batch
// Invalid ballots are reported per result; the batch itself succeeds.
func (h *VotingHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.SubmitBatchRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	resp, err := h.engine.SubmitBatch(r.Context(), pollID, req.Ballots)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/danielhkuo/runoff/auth"
	"github.com/danielhkuo/runoff/cliparse"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/middleware"
	"github.com/danielhkuo/runoff/models"
)

type PollHandler struct {
	engine *engine.Engine
	cfg    cliparse.Config
}

func NewPollHandler(e *engine.Engine, cfg cliparse.Config) *PollHandler {
	return &PollHandler{engine: e, cfg: cfg}
}

// CreatePoll handles POST /polls
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	pollID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate poll ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create poll")
		return
	}
	shareSlug := auth.GenerateShareSlug(pollID, h.cfg.PollSlugSalt)

	if _, err := h.engine.CreatePoll(r.Context(), pollID, shareSlug, req); err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.CreatePollResponse{
		PollID:    pollID,
		AdminKey:  auth.GenerateAdminKey(pollID, h.cfg.AdminKeySalt),
		ViewerKey: auth.GenerateKey(auth.RoleViewer, pollID, h.cfg.AdminKeySalt),
		ShareSlug: shareSlug,
	})
}

// GetPoll handles GET /polls/{id}
// The id may also be the share slug.
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	poll, err := h.engine.GetPoll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, poll)
}

// AddCandidate handles POST /polls/{id}/candidates
func (h *PollHandler) AddCandidate(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if !requireAdmin(w, r, pollID, h.cfg.AdminKeySalt) {
		return
	}

	var req models.AddCandidateRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	c, err := h.engine.AddCandidate(r.Context(), pollID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, c)
}

// WithdrawCandidate handles POST /polls/{id}/candidates/{cid}/withdraw
func (h *PollHandler) WithdrawCandidate(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if !requireAdmin(w, r, pollID, h.cfg.AdminKeySalt) {
		return
	}

	candidateID := r.PathValue("cid")
	if err := h.engine.WithdrawCandidate(r.Context(), pollID, candidateID); err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.Candidate{
		ID:     candidateID,
		PollID: pollID,
		Status: models.CandidateWithdrawn,
	})
}

// ClosePoll handles POST /polls/{id}/close
// Closing before close_at moves close_at to now.
func (h *PollHandler) ClosePoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if !requireAdmin(w, r, pollID, h.cfg.AdminKeySalt) {
		return
	}

	resp, err := h.engine.ClosePoll(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// FinalizePoll handles POST /polls/{id}/finalize
// Returns 409 while close_at is still ahead.
func (h *PollHandler) FinalizePoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if !requireAdmin(w, r, pollID, h.cfg.AdminKeySalt) {
		return
	}

	snap, err := h.engine.Finalize(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, snap)
}

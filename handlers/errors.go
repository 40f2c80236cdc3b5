// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/runoff/auth"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/middleware"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
)

// statusFor maps engine errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrPollNotFound),
		errors.Is(err, engine.ErrCandidateNotFound),
		errors.Is(err, engine.ErrBallotNotFound),
		errors.Is(err, engine.ErrNotApplicable):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotYetClosed),
		errors.Is(err, engine.ErrSealed):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrPollOpen),
		errors.Is(err, engine.ErrPollClosed),
		errors.Is(err, engine.ErrFinalized),
		errors.Is(err, engine.ErrCandidateExists):
		return http.StatusConflict
	case errors.Is(err, irv.ErrInvalidBallot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, privacy.ErrPrivacyBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, privacy.ErrCrossTabulation),
		errors.Is(err, privacy.ErrUnknownDimension),
		errors.Is(err, privacy.ErrUnknownView):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError sends err as a JSON error. Server errors are logged and their
// detail is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		middleware.ErrorResponse(w, status, "Internal server error")
		return
	}
	middleware.ErrorResponse(w, status, err.Error())
}

// requireAdmin checks the X-Admin-Key header against pollID and writes 401
// when it does not match.
func requireAdmin(w http.ResponseWriter, r *http.Request, pollID, salt string) bool {
	adminKey := r.Header.Get("X-Admin-Key")
	if err := auth.ValidateAdminKey(pollID, adminKey, salt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return false
	}
	return true
}

// canView reports whether the request carries a key for the breakdown view.
// Unknown views pass through so the privacy filter rejects them.
func canView(r *http.Request, pollID, view, salt string) bool {
	admin := auth.ValidateAdminKey(pollID, r.Header.Get("X-Admin-Key"), salt) == nil
	switch view {
	case models.ViewPublic:
		return true
	case models.ViewAuthenticated:
		return admin || auth.ValidateKey(auth.RoleViewer, pollID, r.Header.Get("X-Viewer-Key"), salt) == nil
	case models.ViewInternal:
		return admin
	}
	return true
}

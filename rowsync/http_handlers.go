// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ClientAuthenticator resolves the acting user from an HTTP request.
// Implementations should validate auth (e.g., JWT) and produce the actor the
// handlers thread through the engine.
type ClientAuthenticator interface {
	Authenticate(r *http.Request) (Actor, error)
}

// HTTPSyncHandlers provides HTTP handlers for the pull/push sync API.
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers.
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandlePull processes pull requests.
func (h *HTTPSyncHandlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	actor, err := h.authenticator.Authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var pullReq PullRequest
	if err := json.NewDecoder(r.Body).Decode(&pullReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse pull request")
		return
	}

	response, err := h.service.ProcessPull(r.Context(), actor, &pullReq)
	if err != nil {
		h.writeSyncError(w, err, "pull_failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode pull response", "error", err, "user_id", actor.UserID)
	}
}

// HandlePush processes push requests.
func (h *HTTPSyncHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	actor, err := h.authenticator.Authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var pushReq PushRequest
	if err := json.NewDecoder(r.Body).Decode(&pushReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse push request")
		return
	}

	response, err := h.service.ProcessPush(r.Context(), actor, &pushReq)
	if err != nil {
		h.writeSyncError(w, err, "push_failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode push response", "error", err, "user_id", actor.UserID)
	}
}

// writeSyncError maps the sync error taxonomy onto HTTP statuses. The error
// code string is what clients branch on; ClientStateNotFound means "wipe local
// state and re-bootstrap", MutationConflict means "pull before retrying push".
func (h *HTTPSyncHandlers) writeSyncError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrVersionNotSupported):
		h.writeError(w, http.StatusBadRequest, "version_not_supported", err.Error())
	case errors.Is(err, ErrAccessDenied):
		h.writeError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, ErrClientStateNotFound):
		h.writeError(w, http.StatusGone, "client_state_not_found", err.Error())
	case errors.Is(err, ErrMutationConflict):
		h.writeError(w, http.StatusConflict, "mutation_conflict", err.Error())
	case errors.Is(err, ErrMaxRetriesExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "retries_exceeded", "Transaction retries exhausted, retry later")
	default:
		h.logger.Error("Sync request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, fallback, "Failed to process sync request")
	}
}

// writeError writes a standardized error response.
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

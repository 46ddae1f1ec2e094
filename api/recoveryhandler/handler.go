package recoveryhandler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalform/survey-key-escrow/api"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/workflow"
)

// Handler processes HTTP requests for the recovery workflow.
//
// Submission and cancellation are open endpoints: submission because it
// only starts the clock on an approval chain, cancellation because the
// single-use token is the credential. Approval and execution require an
// administrator signature verified by the AdminAuth middleware, so the
// two admin identities on a request are cryptographically established
// rather than claimed in a request body.
type Handler struct {
	engine *workflow.Engine
	auth   *httpserver.AdminAuth
	log    *slog.Logger
}

// NewHandler creates a new HTTP request handler for the recovery API.
func NewHandler(engine *workflow.Engine, auth *httpserver.AdminAuth, log *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		auth:   auth,
		log:    log,
	}
}

// RegisterRoutes mounts the recovery endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/recovery", h.HandleSubmit)
	r.Post("/api/recovery/{request_id}/cancel", h.HandleCancel)
	r.Get("/api/recovery/{request_id}/status", h.HandleStatus)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Post("/api/recovery/{request_id}/approve", h.HandleApprove)
		r.Post("/api/recovery/{request_id}/execute", h.HandleExecute)
	})
}

// HandleSubmit opens a recovery request for an escrowed key.
//
// URL format: POST /api/recovery
// Request body: JSON api.SubmitRequest
//
// Response: api.SubmitResponse carrying the request ID and the single-use
// cancel token. The token is shown only here; the service stores its hash.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	req, token, err := h.engine.Submit(r.Context(),
		interfaces.ActorID(body.RequestedBy),
		interfaces.UserID(body.UserID),
		interfaces.SurveyID(body.SurveyID))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.SubmitResponse{
		RequestID:   req.ID,
		Status:      req.Status.String(),
		CancelToken: token,
		CreatedAt:   req.CreatedAt,
	})
}

// HandleApprove records one admin approval on a pending request.
//
// URL format: POST /api/recovery/{request_id}/approve
// The request must carry a valid admin signature; the verified admin
// identity becomes the approver. The second distinct approval completes
// dual control and starts the mandatory delay.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	admin, ok := httpserver.AdminFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	req, err := h.engine.Approve(r.Context(), admin, chi.URLParam(r, "request_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.ApproveResponse{
		RequestID:  req.ID,
		Status:     req.Status.String(),
		DelayUntil: req.DelayUntil,
	})
}

// HandleCancel cancels a request using the token issued at submission.
//
// URL format: POST /api/recovery/{request_id}/cancel
// Request body: JSON api.CancelRequest
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var body api.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	actor := interfaces.ActorID(body.CancelledBy)
	if actor == "" {
		actor = "requester"
	}

	req, err := h.engine.Cancel(r.Context(), actor, chi.URLParam(r, "request_id"), body.CancelToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.CancelResponse{
		RequestID: req.ID,
		Status:    req.Status.String(),
	})
}

// HandleExecute releases the escrowed key for an executable request.
//
// URL format: POST /api/recovery/{request_id}/execute
// Request body: JSON api.ExecuteRequest with the custodian component in
// base64. The request must carry a valid admin signature.
//
// Response: api.ExecuteResponse with the recovered key-encrypting-key in
// base64. Key material is wiped server-side once the response is encoded.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	admin, ok := httpserver.AdminFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body api.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	component, err := base64.StdEncoding.DecodeString(body.CustodianComponent)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid custodian component encoding: %w", err).Error(), http.StatusBadRequest)
		return
	}
	defer cryptoutils.Wipe(component)

	requestID := chi.URLParam(r, "request_id")

	kek, err := h.engine.Execute(r.Context(), admin, requestID, component)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.ExecuteResponse{
		RequestID: requestID,
		KEK:       base64.StdEncoding.EncodeToString(kek),
	}
	cryptoutils.Wipe(kek)

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStatus returns the requester's coarse view of their request.
//
// URL format: GET /api/recovery/{request_id}/status?user_id={user_id}
// Only the request's owner gets an answer; anyone else sees not found.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id query parameter", http.StatusBadRequest)
		return
	}

	status, err := h.engine.Status(r.Context(), interfaces.UserID(userID), chi.URLParam(r, "request_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.StatusResponse{
		RequestID:   status.RequestID,
		SurveyID:    status.SurveyID.String(),
		State:       status.State,
		SubmittedAt: status.SubmittedAt,
		UpdatedAt:   status.UpdatedAt,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Recovery API request failed", "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:    err.Error(),
		Category: interfaces.Category(err).String(),
	})
}

// statusForError maps the error taxonomy onto HTTP status codes. Repeat
// outcomes (already completed, already cancelled) share 409 with state
// conflicts; clients distinguish them by category.
func statusForError(err error) int {
	switch interfaces.Category(err) {
	case interfaces.CategoryNotFound:
		return http.StatusNotFound
	case interfaces.CategoryStateConflict,
		interfaces.CategoryAlreadyCompleted,
		interfaces.CategoryAlreadyCancelled:
		return http.StatusConflict
	case interfaces.CategoryDualControlViolation:
		return http.StatusForbidden
	case interfaces.CategoryStoreSealed:
		return http.StatusLocked
	case interfaces.CategoryStoreUnavailable, interfaces.CategoryAuthExpired:
		return http.StatusServiceUnavailable
	case interfaces.CategoryInvalidInput,
		interfaces.CategoryInvalidComponent,
		interfaces.CategoryCustodianUnavailable:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

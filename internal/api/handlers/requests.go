package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aimpatfx/backend/internal/pipeline"
	"github.com/aimpatfx/backend/pkg/logger"
)

const defaultListLimit = 20

// CreditReader reads a user's credit balance
type CreditReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// RequestsHandler handles analysis request submission and reads
type RequestsHandler struct {
	store   *pipeline.RequestStore
	credits CreditReader
	logger  *logger.Logger
}

// NewRequestsHandler creates a new requests handler
func NewRequestsHandler(store *pipeline.RequestStore, credits CreditReader, log *logger.Logger) *RequestsHandler {
	return &RequestsHandler{store: store, credits: credits, logger: log}
}

type createRequestBody struct {
	UserID    string `json:"user_id"`
	ImagePath string `json:"image_path"`
	Notes     string `json:"notes"`
}

// Create handles POST /api/requests. Submission requires a positive
// credit balance; the credit itself is only consumed when the pipeline
// completes.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" || body.ImagePath == "" {
		respondError(w, http.StatusBadRequest, "user_id and image_path are required")
		return
	}

	balance, err := h.credits.Balance(r.Context(), body.UserID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", body.UserID).Error("Balance check failed")
		respondError(w, http.StatusInternalServerError, "could not check credit balance")
		return
	}
	if balance <= 0 {
		respondError(w, http.StatusPaymentRequired, "insufficient analysis credits")
		return
	}

	req, err := h.store.Create(r.Context(), body.UserID, body.ImagePath, strings.TrimSpace(body.Notes))
	if err != nil {
		h.logger.WithError(err).Error("Request creation failed")
		respondError(w, http.StatusInternalServerError, "could not create request")
		return
	}

	respondJSON(w, http.StatusCreated, req)
}

// Get handles GET /api/requests/{id}
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := h.store.Get(r.Context(), id)
	if errors.Is(err, pipeline.ErrNotFound) {
		respondError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("request_id", id).Error("Request lookup failed")
		respondError(w, http.StatusInternalServerError, "could not load request")
		return
	}

	respondJSON(w, http.StatusOK, req)
}

// List handles GET /api/requests?user_id=...&limit=...
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	requests, err := h.store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Request list failed")
		respondError(w, http.StatusInternalServerError, "could not list requests")
		return
	}

	respondJSON(w, http.StatusOK, requests)
}

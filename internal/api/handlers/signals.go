package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/pkg/logger"
)

const defaultSignalLimit = 50

// SignalReader lists persisted trading signals
type SignalReader interface {
	Recent(ctx context.Context, limit int) ([]contracts.TradingSignal, error)
}

// SignalsHandler serves the signal feed history
type SignalsHandler struct {
	signals SignalReader
	logger  *logger.Logger
}

// NewSignalsHandler creates a new signals handler
func NewSignalsHandler(signals SignalReader, log *logger.Logger) *SignalsHandler {
	return &SignalsHandler{signals: signals, logger: log}
}

// Recent handles GET /api/signals?limit=...
func (h *SignalsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultSignalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	signals, err := h.signals.Recent(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Signal list failed")
		respondError(w, http.StatusInternalServerError, "could not list signals")
		return
	}
	if signals == nil {
		signals = []contracts.TradingSignal{}
	}

	respondJSON(w, http.StatusOK, signals)
}

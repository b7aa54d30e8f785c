package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aimpatfx/backend/internal/credits"
	"github.com/aimpatfx/backend/internal/external/paypal"
	"github.com/aimpatfx/backend/pkg/logger"
)

// PlanApplier grants plan credits after a verified billing event
type PlanApplier interface {
	ApplyPlan(ctx context.Context, userID, plan string) (int, error)
}

// BillingHandler processes PayPal webhook deliveries
type BillingHandler struct {
	verifier paypal.Verifier
	ledger   PlanApplier
	logger   *logger.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(verifier paypal.Verifier, ledger PlanApplier, log *logger.Logger) *BillingHandler {
	return &BillingHandler{verifier: verifier, ledger: ledger, logger: log}
}

// billingEvent is the subset of a PayPal webhook payload we act on.
// The checkout flow writes the buyer and plan into custom_id as JSON.
type billingEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		CustomID string `json:"custom_id"`
	} `json:"resource"`
}

type purchaseContext struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// handledEvents are the billing events that grant credits
var handledEvents = map[string]bool{
	"PAYMENT.CAPTURE.COMPLETED":      true,
	"BILLING.SUBSCRIPTION.ACTIVATED": true,
	"PAYMENT.SALE.COMPLETED":         true,
}

// PayPal handles POST /webhooks/paypal. The delivery signature is
// verified against PayPal before any credits move; unverifiable
// deliveries are rejected so a forged payload cannot mint credits.
func (h *BillingHandler) PayPal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}

	verified, err := h.verifier.VerifyWebhook(r.Context(), r.Header, body)
	if err != nil {
		h.logger.WithError(err).Error("PayPal verification call failed")
		respondError(w, http.StatusBadGateway, "verification unavailable")
		return
	}
	if !verified {
		respondError(w, http.StatusUnauthorized, "webhook signature rejected")
		return
	}

	var event billingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !handledEvents[event.EventType] {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var purchase purchaseContext
	if err := json.Unmarshal([]byte(event.Resource.CustomID), &purchase); err != nil ||
		purchase.UserID == "" || purchase.Plan == "" {
		h.logger.WithField("event_type", event.EventType).Warn("Billing event without purchase context")
		respondError(w, http.StatusBadRequest, "missing purchase context")
		return
	}

	balance, err := h.ledger.ApplyPlan(r.Context(), purchase.UserID, purchase.Plan)
	if errors.Is(err, credits.ErrUnknownPlan) {
		respondError(w, http.StatusBadRequest, "unknown plan")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("user_id", purchase.UserID).Error("Plan application failed")
		respondError(w, http.StatusInternalServerError, "could not apply plan")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "applied",
		"plan":    purchase.Plan,
		"balance": balance,
	})
}

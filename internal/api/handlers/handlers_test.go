package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
)

func TestRequestIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"charts/2f1c9a.png", "2f1c9a"},
		{"2f1c9a.jpeg", "2f1c9a"},
		{"charts/sub/abc", "abc"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, requestIDFromPath(tt.path), tt.path)
	}
}

type fakeVerifier struct {
	verified bool
	err      error
}

func (f fakeVerifier) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	return f.verified, f.err
}

type fakeLedger struct {
	userID string
	plan   string
}

func (f *fakeLedger) ApplyPlan(ctx context.Context, userID, plan string) (int, error) {
	f.userID = userID
	f.plan = plan
	return 70, nil
}

func handlerLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "console"})
}

func TestBillingHandler_RejectsUnverified(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewBillingHandler(fakeVerifier{verified: false}, ledger, handlerLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal",
		bytes.NewBufferString(`{"event_type": "PAYMENT.CAPTURE.COMPLETED"}`))
	rec := httptest.NewRecorder()

	h.PayPal(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ledger.userID)
}

func TestBillingHandler_AppliesPlan(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewBillingHandler(fakeVerifier{verified: true}, ledger, handlerLogger())

	payload := `{
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {"custom_id": "{\"user_id\": \"user-1\", \"plan\": \"Avanzado\"}"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()

	h.PayPal(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", ledger.userID)
	assert.Equal(t, "Avanzado", ledger.plan)
	assert.Contains(t, rec.Body.String(), `"balance":70`)
}

func TestBillingHandler_IgnoresUnhandledEvents(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewBillingHandler(fakeVerifier{verified: true}, ledger, handlerLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal",
		bytes.NewBufferString(`{"event_type": "CUSTOMER.DISPUTE.CREATED"}`))
	rec := httptest.NewRecorder()

	h.PayPal(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Empty(t, ledger.userID)
}

func TestBillingHandler_MissingPurchaseContext(t *testing.T) {
	h := NewBillingHandler(fakeVerifier{verified: true}, &fakeLedger{}, handlerLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal",
		bytes.NewBufferString(`{"event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {"custom_id": ""}}`))
	rec := httptest.NewRecorder()

	h.PayPal(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

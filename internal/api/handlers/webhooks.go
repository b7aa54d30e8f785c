package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/pipeline"
	"github.com/aimpatfx/backend/pkg/logger"
)

// stageTimeout bounds one asynchronous stage invocation
const stageTimeout = 3 * time.Minute

// WebhooksHandler receives row-change and storage notifications and
// dispatches the matching pipeline stage. Stages run asynchronously:
// the webhook sender only needs delivery acknowledged, and stage
// idempotence makes redelivery safe.
type WebhooksHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewWebhooksHandler creates a new webhooks handler
func NewWebhooksHandler(p *pipeline.Pipeline, log *logger.Logger) *WebhooksHandler {
	return &WebhooksHandler{pipeline: p, logger: log}
}

type storageWebhook struct {
	Record struct {
		Name string `json:"name"`
	} `json:"record"`
}

// Storage handles POST /webhooks/storage: an uploaded chart image
// triggers extraction for the request named by the object path
// (charts/{request_id}.{ext}).
func (h *WebhooksHandler) Storage(w http.ResponseWriter, r *http.Request) {
	var body storageWebhook
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := requestIDFromPath(body.Record.Name)
	if id == "" {
		respondError(w, http.StatusBadRequest, "object name does not reference a request")
		return
	}

	h.dispatch(id, "extract", h.pipeline.Extract)
	respondJSON(w, http.StatusAccepted, map[string]string{"request_id": id, "stage": "extract"})
}

type requestWebhook struct {
	Type   string `json:"type"`
	Record struct {
		ID     string           `json:"id"`
		Status contracts.Status `json:"status"`
	} `json:"record"`
}

// Requests handles POST /webhooks/requests: a row-change notification
// dispatches the stage that consumes the row's current status. Unknown
// or terminal statuses acknowledge without dispatching.
func (h *WebhooksHandler) Requests(w http.ResponseWriter, r *http.Request) {
	var body requestWebhook
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Record.ID == "" {
		respondError(w, http.StatusBadRequest, "record id is required")
		return
	}

	var (
		stage string
		run   func(context.Context, string) error
	)
	switch body.Record.Status {
	case contracts.StatusPending:
		stage, run = "extract", h.pipeline.Extract
	case contracts.StatusEnriching:
		stage, run = "enrich", h.pipeline.Enrich
	case contracts.StatusGenerating:
		stage, run = "generate", h.pipeline.Generate
	default:
		respondJSON(w, http.StatusOK, map[string]string{"request_id": body.Record.ID, "stage": "none"})
		return
	}

	h.dispatch(body.Record.ID, stage, run)
	respondJSON(w, http.StatusAccepted, map[string]string{"request_id": body.Record.ID, "stage": stage})
}

func (h *WebhooksHandler) dispatch(id, stage string, run func(context.Context, string) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		defer cancel()

		if err := run(ctx, id); err != nil {
			h.logger.WithError(err).WithFields(map[string]interface{}{
				"request_id": id,
				"stage":      stage,
			}).Error("Stage invocation failed")
		}
	}()
}

// requestIDFromPath extracts the request id from an object path like
// "charts/2f1c....png"
func requestIDFromPath(objectPath string) string {
	base := path.Base(objectPath)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

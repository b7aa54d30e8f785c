// Package scanner periodically screens a watched asset list for
// technical confluence setups and persists model-confirmed signals.
// Unlike the analysis pipeline there is no per-item state machine: a
// discarded candidate leaves no trace, and each cycle is stateless.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/schema"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Oscillator thresholds for the confluence recipes
const (
	rsiOversold   = 35
	rsiOverbought = 65
)

// TechnicalsProvider serves indicator snapshots for one asset
type TechnicalsProvider interface {
	TechnicalSnapshot(ctx context.Context, interval, asset string) (*fmp.Technicals, error)
}

// Validator confirms or discards a candidate signal
type Validator interface {
	GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error)
}

// SignalStore persists confirmed signals
type SignalStore interface {
	Save(ctx context.Context, signal *contracts.TradingSignal) error
}

// Candidate is a recipe match awaiting model confirmation
type Candidate struct {
	Asset     string
	Direction string
	Pattern   string
	Snapshot  *fmp.Technicals
}

// Scanner runs one screening cycle over the watched asset list
type Scanner struct {
	technicals TechnicalsProvider
	validator  Validator
	store      SignalStore
	notifier   contracts.Notifier
	logger     *logger.Logger
	assets     []string
	interval   string
}

// New creates a scanner
func New(
	cfg config.ScannerConfig,
	technicals TechnicalsProvider,
	validator Validator,
	store SignalStore,
	notifier contracts.Notifier,
	log *logger.Logger,
) *Scanner {
	if notifier == nil {
		notifier = contracts.NopNotifier{}
	}
	return &Scanner{
		technicals: technicals,
		validator:  validator,
		store:      store,
		notifier:   notifier,
		logger:     log,
		assets:     cfg.Assets,
		interval:   cfg.Interval,
	}
}

// Scan screens every watched asset once. Per-asset errors are logged
// and skipped so one provider hiccup does not abort the cycle.
func (s *Scanner) Scan(ctx context.Context) error {
	confirmed := 0
	for _, asset := range s.assets {
		signal, err := s.scanAsset(ctx, asset)
		if err != nil {
			s.logger.WithError(err).WithField("asset", asset).Warn("Asset scan failed")
			continue
		}
		if signal != nil {
			confirmed++
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"assets":    len(s.assets),
		"confirmed": confirmed,
	}).Info("Scan cycle finished")
	return nil
}

func (s *Scanner) scanAsset(ctx context.Context, asset string) (*contracts.TradingSignal, error) {
	snapshot, err := s.technicals.TechnicalSnapshot(ctx, s.interval, asset)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}

	candidate := Evaluate(asset, snapshot)
	if candidate == nil {
		return nil, nil
	}

	s.logger.WithFields(map[string]interface{}{
		"asset":   asset,
		"pattern": candidate.Pattern,
	}).Info("Candidate setup found")

	signal, discardReason, err := s.validate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if signal == nil {
		s.logger.WithFields(map[string]interface{}{
			"asset":  asset,
			"reason": discardReason,
		}).Info("Candidate discarded")
		return nil, nil
	}

	if err := s.store.Save(ctx, signal); err != nil {
		return nil, fmt.Errorf("save failed: %w", err)
	}

	s.notifier.SignalCreated(signal)
	return signal, nil
}

// Evaluate applies the confluence recipes to a snapshot. Price at or
// below the 200-period average with an oversold oscillator is a long
// candidate; the mirrored condition is a short candidate.
func Evaluate(asset string, t *fmp.Technicals) *Candidate {
	if t == nil || t.EMA200 == 0 {
		return nil
	}

	switch {
	case t.Close <= t.EMA200 && t.RSI <= rsiOversold:
		return &Candidate{
			Asset:     asset,
			Direction: contracts.DirectionBuy,
			Pattern:   "Rebote en EMA 200 + RSI Sobreventa",
			Snapshot:  t,
		}
	case t.Close >= t.EMA200 && t.RSI >= rsiOverbought:
		return &Candidate{
			Asset:     asset,
			Direction: contracts.DirectionSell,
			Pattern:   "Rechazo en EMA 200 + RSI Sobrecompra",
			Snapshot:  t,
		}
	}
	return nil
}

const validationPrompt = `Eres un gestor de riesgo de una mesa de trading. Un escáner automático ha detectado este posible setup:

Activo: %s
Dirección propuesta: %s
Patrón: %s
Precio actual: %.5f
RSI: %.2f
EMA 20: %.5f
EMA 50: %.5f
EMA 200: %.5f

Evalúa si el setup es operable. Si lo es, responde con "status": "valida" y un plan completo (entrada, stop loss, take profit numéricos y una justificación breve). Si no lo es, responde con "status": "descartada" y el motivo.
Responde únicamente con el JSON.`

var validationManifest = schema.Manifest{
	"status": {Kind: schema.String, Required: true, Enum: []string{"valida", "descartada"}},
}

var confirmationManifest = schema.Manifest{
	"entrada":       {Kind: schema.Number, Required: true},
	"stop_loss":     {Kind: schema.Number, Required: true},
	"take_profit":   {Kind: schema.Number, Required: true},
	"justificacion": {Kind: schema.String, Required: true},
}

var validationSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"status":          map[string]interface{}{"type": "STRING"},
		"entrada":         map[string]interface{}{"type": "NUMBER", "nullable": true},
		"stop_loss":       map[string]interface{}{"type": "NUMBER", "nullable": true},
		"take_profit":     map[string]interface{}{"type": "NUMBER", "nullable": true},
		"justificacion":   map[string]interface{}{"type": "STRING", "nullable": true},
		"motivo_descarte": map[string]interface{}{"type": "STRING", "nullable": true},
	},
	"required": []string{"status"},
}

// validate sends the candidate to the model. It returns either a fully
// specified signal, or a discard reason, or an error when the output
// itself is unusable.
func (s *Scanner) validate(ctx context.Context, c *Candidate) (*contracts.TradingSignal, string, error) {
	prompt := fmt.Sprintf(validationPrompt,
		c.Asset, c.Direction, c.Pattern,
		c.Snapshot.Close, c.Snapshot.RSI,
		c.Snapshot.EMA20, c.Snapshot.EMA50, c.Snapshot.EMA200)

	raw, err := s.validator.GenerateJSON(ctx, prompt, validationSchema)
	if err != nil {
		return nil, "", err
	}

	return parseValidation(c, raw)
}

func parseValidation(c *Candidate, raw string) (*contracts.TradingSignal, string, error) {
	var candidate map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, "", fmt.Errorf("response is not valid JSON: %w", err)
	}

	res := schema.Validate(candidate, validationManifest)
	if !res.Valid {
		return nil, "", fmt.Errorf("invalid validation response: %s", strings.Join(res.Errors, "; "))
	}

	if res.Sanitized["status"] == "descartada" {
		reason, _ := res.Sanitized["motivo_descarte"].(string)
		if reason == "" {
			reason = "sin motivo indicado"
		}
		return nil, reason, nil
	}

	plan := schema.Validate(candidate, confirmationManifest)
	if !plan.Valid {
		return nil, "", fmt.Errorf("confirmed signal missing plan: %s", strings.Join(plan.Errors, "; "))
	}

	justification, _ := plan.Sanitized["justificacion"].(string)
	return &contracts.TradingSignal{
		Asset:            c.Asset,
		Direction:        c.Direction,
		EntryPrice:       plan.Sanitized["entrada"].(float64),
		StopLoss:         plan.Sanitized["stop_loss"].(float64),
		TakeProfit:       plan.Sanitized["take_profit"].(float64),
		Justification:    justification,
		TechnicalPattern: c.Pattern,
	}, "", nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/schema"
)

const generationPrompt = `Eres un estratega de trading institucional. A continuación tienes el análisis técnico extraído de un gráfico subido por un usuario y los datos de mercado en tiempo real correspondientes.

ANÁLISIS DEL GRÁFICO:
%s

DATOS DE MERCADO:
%s

Elabora una recomendación estratégica completa en el formato JSON solicitado.

Reglas:
- "resumen_analitico": narrativa fundamental más los puntos de confluencia y divergencia entre el gráfico y los datos de mercado.
- "indice_confianza": puntuación entera de 0 a 100 con su justificación. Si algún indicador aparece como "%s", razona con los datos disponibles y refléjalo en la puntuación.
- "recomendacion_estrategica": "estrategia" debe ser COMPRAR, VENDER o ESPERAR, con justificación y un plan de trading (entrada, stop loss, take profit).
- Si la estrategia es ESPERAR, incluye obligatoriamente "plan_de_vigilancia" con una condición de compra y una condición de venta explícitas.
- Responde únicamente con el JSON.`

// recommendationManifest is the acceptance contract for generation
// output. The ESPERAR watch-plan requirement is conditional and
// enforced separately in parseRecommendation.
var recommendationManifest = schema.Manifest{
	"resumen_analitico": {Kind: schema.Object, Required: true, Children: schema.Manifest{
		"analisis_fundamental": {Kind: schema.String, Required: true},
		"puntos_confluencia":   {Kind: schema.Array, Required: true},
		"puntos_divergencia":   {Kind: schema.Array, Required: true},
	}},
	"indice_confianza": {Kind: schema.Object, Required: true, Children: schema.Manifest{
		"puntuacion":    {Kind: schema.Integer, Required: true},
		"justificacion": {Kind: schema.String, Required: true},
	}},
	"recomendacion_estrategica": {Kind: schema.Object, Required: true, Children: schema.Manifest{
		"estrategia": {Kind: schema.String, Required: true,
			Enum: []string{contracts.ActionBuy, contracts.ActionSell, contracts.ActionWait}},
		"justificacion_estrategia": {Kind: schema.String, Required: true},
		"plan_de_trading": {Kind: schema.Object, Required: true, Children: schema.Manifest{
			"entrada_sugerida": {Kind: schema.String, Required: true},
			"stop_loss":        {Kind: schema.String, Required: true},
			"take_profit":      {Kind: schema.String, Required: true},
		}},
	}},
}

// watchPlanManifest validates the conditional watch-plan block
var watchPlanManifest = schema.Manifest{
	"plan_de_vigilancia": {Kind: schema.Object, Required: true, Children: schema.Manifest{
		"condicion_compra": {Kind: schema.String, Required: true},
		"condicion_venta":  {Kind: schema.String, Required: true},
	}},
}

var recommendationSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"resumen_analitico": map[string]interface{}{
			"type": "OBJECT",
			"properties": map[string]interface{}{
				"analisis_fundamental": map[string]interface{}{"type": "STRING"},
				"puntos_confluencia":   map[string]interface{}{"type": "ARRAY", "items": map[string]interface{}{"type": "STRING"}},
				"puntos_divergencia":   map[string]interface{}{"type": "ARRAY", "items": map[string]interface{}{"type": "STRING"}},
			},
			"required": []string{"analisis_fundamental", "puntos_confluencia", "puntos_divergencia"},
		},
		"indice_confianza": map[string]interface{}{
			"type": "OBJECT",
			"properties": map[string]interface{}{
				"puntuacion":    map[string]interface{}{"type": "INTEGER"},
				"justificacion": map[string]interface{}{"type": "STRING"},
			},
			"required": []string{"puntuacion", "justificacion"},
		},
		"recomendacion_estrategica": map[string]interface{}{
			"type": "OBJECT",
			"properties": map[string]interface{}{
				"estrategia":               map[string]interface{}{"type": "STRING"},
				"justificacion_estrategia": map[string]interface{}{"type": "STRING"},
				"plan_de_trading": map[string]interface{}{
					"type": "OBJECT",
					"properties": map[string]interface{}{
						"entrada_sugerida": map[string]interface{}{"type": "STRING"},
						"stop_loss":        map[string]interface{}{"type": "STRING"},
						"take_profit":      map[string]interface{}{"type": "STRING"},
					},
					"required": []string{"entrada_sugerida", "stop_loss", "take_profit"},
				},
				"plan_de_vigilancia": map[string]interface{}{
					"type":     "OBJECT",
					"nullable": true,
					"properties": map[string]interface{}{
						"condicion_compra": map[string]interface{}{"type": "STRING"},
						"condicion_venta":  map[string]interface{}{"type": "STRING"},
					},
				},
			},
			"required": []string{"estrategia", "justificacion_estrategia", "plan_de_trading"},
		},
	},
	"required": []string{"resumen_analitico", "indice_confianza", "recomendacion_estrategica"},
}

// Generate runs the recommendation-generation stage for one request.
// Precondition is status generating. The generating → complete commit
// decides credit ownership: only the invocation that wins the
// transition deducts, so a duplicate trigger can never double-charge.
// Deduction runs strictly after the recommendation is persisted; a
// late deduction failure leaves the completed result standing.
func (p *Pipeline) Generate(ctx context.Context, id string) error {
	req, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != contracts.StatusGenerating {
		p.logger.WithFields(map[string]interface{}{
			"request_id": id,
			"status":     req.Status.String(),
		}).Info("Generation precondition not met, skipping")
		return nil
	}
	if req.ExtractionResult == nil || req.MarketData == nil {
		p.fail(ctx, id, "generation", "faltan datos de etapas anteriores")
		return nil
	}

	extraction, err := json.Marshal(req.ExtractionResult)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	marketData, err := json.Marshal(req.MarketData)
	if err != nil {
		return fmt.Errorf("failed to marshal market data: %w", err)
	}

	prompt := fmt.Sprintf(generationPrompt, extraction, marketData, contracts.IndicatorUnavailable)

	raw, err := p.model.GenerateJSON(ctx, prompt, recommendationSchema)
	if err != nil {
		p.fail(ctx, id, "generation", fmt.Sprintf("el modelo de generación falló: %v", err))
		return nil
	}

	rec, verr := parseRecommendation(raw)
	if verr != "" {
		p.fail(ctx, id, "generation", verr)
		return nil
	}

	committed, err := p.store.CommitRecommendation(ctx, id, rec)
	if err != nil {
		return err
	}
	if !committed {
		p.logger.WithField("request_id", id).Warn("Generation commit lost, skipping credit deduction")
		return nil
	}

	balance, err := p.credits.Deduct(ctx, req.UserID)
	if err != nil {
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": id,
			"user_id":    req.UserID,
		}).Error("Credit deduction failed after completion")
	} else {
		p.logger.WithFields(map[string]interface{}{
			"request_id": id,
			"user_id":    req.UserID,
			"balance":    balance,
		}).Info("Credit deducted")
	}

	p.notify(ctx, id)
	return nil
}

// parseRecommendation validates raw model output, including the
// conditional rule that a WAIT recommendation must carry a watch-plan.
func parseRecommendation(raw string) (*contracts.Recommendation, string) {
	var candidate map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, fmt.Sprintf("la respuesta del modelo no es JSON válido: %v", err)
	}

	res := schema.Validate(candidate, recommendationManifest)
	if !res.Valid {
		return nil, "recomendación inválida: " + strings.Join(res.Errors, "; ")
	}

	strategy, _ := res.Sanitized["recomendacion_estrategica"].(map[string]interface{})
	if action, _ := strategy["estrategia"].(string); action == contracts.ActionWait {
		watch := schema.Validate(strategy, watchPlanManifest)
		if !watch.Valid {
			return nil, "recomendación inválida: " + strings.Join(watch.Errors, "; ")
		}
	}

	sanitized, err := json.Marshal(res.Sanitized)
	if err != nil {
		return nil, fmt.Sprintf("no se pudo serializar la respuesta: %v", err)
	}

	var rec contracts.Recommendation
	if err := json.Unmarshal(sanitized, &rec); err != nil {
		return nil, fmt.Sprintf("la respuesta no coincide con el formato esperado: %v", err)
	}

	score := rec.Confidence.Score
	if score < 0 || score > 100 {
		return nil, fmt.Sprintf("puntuación de confianza fuera de rango: %d", score)
	}

	return &rec, ""
}

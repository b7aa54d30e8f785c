package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/internal/normalize"
	"github.com/aimpatfx/backend/internal/schema"
)

const extractionPrompt = `Eres un analista técnico experto. Analiza la imagen del gráfico de trading y extrae su contenido en el formato JSON solicitado.

Reglas:
- "activo": el símbolo del instrumento visible en el gráfico (por ejemplo "EUR/USD"). Si no es visible, usa null.
- "temporalidad": la temporalidad del gráfico (por ejemplo "H4", "15m"). Si no es visible, usa null.
- "sentimiento_analisis": el sesgo general del gráfico. Si hay flechas dibujadas por el usuario, la dirección de la flecha determina el sentimiento: flecha hacia arriba es "Alcista", flecha hacia abajo es "Bajista". Sin señales claras, usa "Neutral".
- Lista todos los patrones de gráfico, indicadores y patrones de velas visibles.
- "niveles_clave": los niveles de soporte y resistencia marcados o evidentes.
- Responde únicamente con el JSON.`

// extractionManifest is the acceptance contract for vision output.
// activo and temporalidad are nullable because not every screenshot
// shows them; sentimiento_analisis is the one field the rest of the
// pipeline cannot proceed without.
var extractionManifest = schema.Manifest{
	"activo":                 {Kind: schema.String, Required: true, Nullable: true},
	"temporalidad":           {Kind: schema.String, Required: true, Nullable: true},
	"patrones_identificados": {Kind: schema.Array, Required: true},
	"indicadores":            {Kind: schema.Array, Required: true},
	"patrones_velas":         {Kind: schema.Array, Required: true},
	"niveles_clave": {Kind: schema.Object, Required: true, Children: schema.Manifest{
		"soportes":     {Kind: schema.Array, Required: true},
		"resistencias": {Kind: schema.Array, Required: true},
	}},
	"evaluacion_niveles": {Kind: schema.String, Required: true, Nullable: true},
	"sentimiento_analisis": {Kind: schema.String, Required: true,
		Enum: []string{contracts.SentimentBullish, contracts.SentimentBearish, contracts.SentimentNeutral}},
}

// extractionSchema is the responseSchema handed to the vision model so
// it emits the shape the manifest expects.
var extractionSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"activo":       map[string]interface{}{"type": "STRING", "nullable": true},
		"temporalidad": map[string]interface{}{"type": "STRING", "nullable": true},
		"patrones_identificados": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"nombre_patron": map[string]interface{}{"type": "STRING"},
					"descripcion":   map[string]interface{}{"type": "STRING"},
				},
			},
		},
		"indicadores": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"nombre_indicador": map[string]interface{}{"type": "STRING"},
					"parametros":       map[string]interface{}{"type": "STRING", "nullable": true},
					"estado_o_valor":   map[string]interface{}{"type": "STRING", "nullable": true},
				},
			},
		},
		"patrones_velas": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"nombre_patron": map[string]interface{}{"type": "STRING"},
					"ubicacion":     map[string]interface{}{"type": "STRING"},
				},
			},
		},
		"niveles_clave": map[string]interface{}{
			"type": "OBJECT",
			"properties": map[string]interface{}{
				"soportes":     map[string]interface{}{"type": "ARRAY", "items": map[string]interface{}{"type": "STRING"}},
				"resistencias": map[string]interface{}{"type": "ARRAY", "items": map[string]interface{}{"type": "STRING"}},
			},
		},
		"evaluacion_niveles":   map[string]interface{}{"type": "STRING", "nullable": true},
		"sentimiento_analisis": map[string]interface{}{"type": "STRING"},
	},
	"required": []string{
		"activo", "temporalidad", "patrones_identificados", "indicadores",
		"patrones_velas", "niveles_clave", "evaluacion_niveles", "sentimiento_analisis",
	},
}

// Extract runs the vision-extraction stage for one request. The stage
// claims pending → analyzing up front; a request in any other status
// means another delivery of the same trigger already ran, and the call
// returns without touching the record.
func (p *Pipeline) Extract(ctx context.Context, id string) error {
	claimed, err := p.store.Claim(ctx, id, contracts.StatusPending, contracts.StatusAnalyzing)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.WithField("request_id", id).Info("Extraction already claimed, skipping")
		return nil
	}
	p.notify(ctx, id)

	req, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	image, mimeType, err := p.images.Download(ctx, req.ImagePath)
	if err != nil {
		p.fail(ctx, id, "extraction", fmt.Sprintf("no se pudo descargar la imagen: %v", err))
		return nil
	}

	prompt := extractionPrompt
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		prompt += "\n\nContexto adicional del usuario: " + notes
	}

	raw, err := p.model.GenerateVisionJSON(ctx,
		[]gemini.Part{gemini.TextPart(prompt), gemini.ImagePart(mimeType, image)},
		extractionSchema)
	if err != nil {
		p.fail(ctx, id, "extraction", fmt.Sprintf("el modelo de visión falló: %v", err))
		return nil
	}

	result, verr := parseExtraction(raw)
	if verr != "" {
		p.fail(ctx, id, "extraction", verr)
		return nil
	}

	committed, err := p.store.CommitExtraction(ctx, id, result)
	if err != nil {
		return err
	}
	if !committed {
		p.logger.WithField("request_id", id).Warn("Extraction commit lost, record changed underneath")
		return nil
	}

	p.notify(ctx, id)
	return nil
}

// parseExtraction validates raw model output and normalizes the asset
// and timeframe. A value the normalizer cannot canonicalize is treated
// the same as a schema violation: better to fail the request than to
// enrich against a symbol no provider recognizes.
func parseExtraction(raw string) (*contracts.ExtractionResult, string) {
	var candidate map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, fmt.Sprintf("la respuesta del modelo no es JSON válido: %v", err)
	}

	res := schema.Validate(candidate, extractionManifest)
	if !res.Valid {
		return nil, "respuesta del modelo inválida: " + strings.Join(res.Errors, "; ")
	}

	sanitized, err := json.Marshal(res.Sanitized)
	if err != nil {
		return nil, fmt.Sprintf("no se pudo serializar la respuesta: %v", err)
	}

	var result contracts.ExtractionResult
	if err := json.Unmarshal(sanitized, &result); err != nil {
		return nil, fmt.Sprintf("la respuesta no coincide con el formato esperado: %v", err)
	}

	if result.Asset != nil {
		normalized := normalize.Asset(*result.Asset)
		if normalized == "" {
			return nil, fmt.Sprintf("activo no reconocido: '%s'", *result.Asset)
		}
		result.Asset = &normalized
	}
	if result.Timeframe != nil {
		normalized := normalize.Timeframe(*result.Timeframe)
		if normalized == "" {
			return nil, fmt.Sprintf("temporalidad no reconocida: '%s'", *result.Timeframe)
		}
		result.Timeframe = &normalized
	}

	if result.Patterns == nil {
		result.Patterns = []contracts.ChartPattern{}
	}
	if result.Indicators == nil {
		result.Indicators = []contracts.IndicatorReading{}
	}
	if result.CandlePatterns == nil {
		result.CandlePatterns = []contracts.CandlePattern{}
	}

	return &result, ""
}

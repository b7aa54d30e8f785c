package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &obj))
	return obj
}

func TestValidate_MissingRequiredField(t *testing.T) {
	manifest := Manifest{
		"activo":       {Kind: String, Required: true, Nullable: true},
		"temporalidad": {Kind: String, Required: true, Nullable: true},
	}

	result := Validate(decode(t, `{"activo": "EUR/USD"}`), manifest)

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "temporalidad")
}

func TestValidate_MissingFieldRejectedRegardlessOfOthers(t *testing.T) {
	manifest := Manifest{
		"sentimiento_analisis": {Kind: String, Required: true},
		"activo":               {Kind: String, Required: true},
	}

	// activo is perfectly fine; the object must still be rejected
	result := Validate(decode(t, `{"activo": "EUR/USD"}`), manifest)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "sentimiento_analisis")
}

func TestValidate_NumericStringCoercion(t *testing.T) {
	manifest := Manifest{
		"puntuacion": {Kind: Integer, Required: true},
	}

	result := Validate(decode(t, `{"puntuacion": "85"}`), manifest)

	require.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Equal(t, 85, result.Sanitized["puntuacion"])
}

func TestValidate_CoercionFailureIsRecorded(t *testing.T) {
	manifest := Manifest{
		"puntuacion": {Kind: Integer, Required: true},
	}

	result := Validate(decode(t, `{"puntuacion": "high"}`), manifest)

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "puntuacion")
}

func TestValidate_NonIntegralNumberRejectedForInteger(t *testing.T) {
	manifest := Manifest{
		"puntuacion": {Kind: Integer, Required: true},
	}

	result := Validate(decode(t, `{"puntuacion": 85.5}`), manifest)

	assert.False(t, result.Valid)
}

func TestValidate_NullForNullableField(t *testing.T) {
	manifest := Manifest{
		"activo": {Kind: String, Required: true, Nullable: true},
	}

	result := Validate(decode(t, `{"activo": null}`), manifest)

	assert.True(t, result.Valid)
	assert.Nil(t, result.Sanitized["activo"])
}

func TestValidate_NullForNonNullableField(t *testing.T) {
	manifest := Manifest{
		"estrategia": {Kind: String, Required: true},
	}

	result := Validate(decode(t, `{"estrategia": null}`), manifest)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "estrategia")
}

func TestValidate_EnumViolation(t *testing.T) {
	manifest := Manifest{
		"sentimiento_analisis": {
			Kind:     String,
			Required: true,
			Nullable: true,
			Enum:     []string{"Alcista", "Bajista", "Neutral"},
		},
	}

	result := Validate(decode(t, `{"sentimiento_analisis": "Lateral"}`), manifest)
	assert.False(t, result.Valid)

	result = Validate(decode(t, `{"sentimiento_analisis": "Alcista"}`), manifest)
	assert.True(t, result.Valid)
}

func TestValidate_WrongShapeNamesFieldAndKind(t *testing.T) {
	manifest := Manifest{
		"patrones_identificados": {Kind: Array, Required: true},
	}

	result := Validate(decode(t, `{"patrones_identificados": "none"}`), manifest)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "patrones_identificados")
	assert.Contains(t, result.Errors[0], "array")
}

func TestValidate_NestedObject(t *testing.T) {
	manifest := Manifest{
		"indice_confianza": {Kind: Object, Required: true, Children: Manifest{
			"puntuacion":    {Kind: Integer, Required: true},
			"justificacion": {Kind: String, Required: true},
		}},
	}

	result := Validate(decode(t, `{"indice_confianza": {"puntuacion": "72", "justificacion": "ok"}}`), manifest)
	require.True(t, result.Valid, "errors: %v", result.Errors)

	nested := result.Sanitized["indice_confianza"].(map[string]interface{})
	assert.Equal(t, 72, nested["puntuacion"])

	result = Validate(decode(t, `{"indice_confianza": {"justificacion": "ok"}}`), manifest)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "indice_confianza.puntuacion")
}

func TestValidate_NilCandidate(t *testing.T) {
	result := Validate(nil, Manifest{"x": {Kind: String, Required: true}})
	assert.False(t, result.Valid)
}

func TestValidate_OptionalFieldAbsent(t *testing.T) {
	manifest := Manifest{
		"plan_de_vigilancia": {Kind: Object, Required: false},
		"estrategia":         {Kind: String, Required: true},
	}

	result := Validate(decode(t, `{"estrategia": "COMPRAR"}`), manifest)
	assert.True(t, result.Valid)
}

package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanCredits(t *testing.T) {
	tests := []struct {
		plan    string
		credits int
		known   bool
	}{
		{"Básico", 20, true},
		{"Avanzado", 50, true},
		{"Profesional", 150, true},
		{"Experto", 500, true},
		{"Básico Anual", 240, true},
		{"Experto Anual", 6000, true},
		{"Gratis", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			credits, ok := PlanCredits(tt.plan)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.credits, credits)
		})
	}
}

func TestAnnualPlansGrantTwelveMonths(t *testing.T) {
	for _, plan := range []string{"Básico", "Avanzado", "Profesional", "Experto"} {
		monthly, _ := PlanCredits(plan)
		annual, ok := PlanCredits(plan + " Anual")
		assert.True(t, ok)
		assert.Equal(t, monthly*12, annual, plan)
	}
}

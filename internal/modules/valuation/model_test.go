package valuation

import (
	"math"
	"testing"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepreciationModel_FactorAlwaysWithinUnitInterval(t *testing.T) {
	models := []DepreciationModel{
		{Name: "lin-slow", Kind: ModelLinear, Rate: 0.05},
		{Name: "lin-fast", Kind: ModelLinear, Rate: 3},
		{Name: "lin-zero", Kind: ModelLinear, Rate: 0},
		{Name: "exp-short", Kind: ModelExponential, HalfLifeYears: 0.01},
		{Name: "exp-long", Kind: ModelExponential, HalfLifeYears: 50},
		{Name: "s", Kind: ModelSCurve, Breakpoints: []Breakpoint{{1, 0.9}, {3, 0.4}, {8, 0.1}}},
		{Name: "s-flat", Kind: ModelSCurve, Breakpoints: []Breakpoint{{0, 0.7}}},
	}
	ages := []float64{-5, 0, 0.001, 0.5, 1, 2.5, 7.9, 30, 1000, math.Inf(1), math.NaN()}

	for _, m := range models {
		m := m
		require.NoError(t, m.Validate(), m.Name)
		for _, age := range ages {
			f := m.Factor(age)
			assert.GreaterOrEqual(t, f, 0.0, "%s at %v", m.Name, age)
			assert.LessOrEqual(t, f, 1.0, "%s at %v", m.Name, age)
		}
	}
}

func TestDepreciationModel_Linear(t *testing.T) {
	m := DepreciationModel{Name: "l", Kind: ModelLinear, Rate: 0.2}
	assert.InDelta(t, 0.6, m.Factor(2), 1e-12)
	assert.Equal(t, 0.0, m.Factor(10))
}

func TestDepreciationModel_Exponential(t *testing.T) {
	m := DepreciationModel{Name: "e", Kind: ModelExponential, HalfLifeYears: 2.5}
	assert.Equal(t, 0.5, m.Factor(2.5))
	assert.Equal(t, 0.25, m.Factor(5))
	assert.Equal(t, 1.0, m.Factor(0))
}

func TestDepreciationModel_SCurveInterpolates(t *testing.T) {
	m := DepreciationModel{Name: "s", Kind: ModelSCurve, Breakpoints: []Breakpoint{{2, 0.8}, {4, 0.2}}}

	assert.Equal(t, 1.0, m.Factor(0))
	assert.InDelta(t, 0.9, m.Factor(1), 1e-12)
	assert.InDelta(t, 0.8, m.Factor(2), 1e-12)
	assert.InDelta(t, 0.5, m.Factor(3), 1e-12)
	assert.InDelta(t, 0.2, m.Factor(4), 1e-12)
	assert.InDelta(t, 0.2, m.Factor(40), 1e-12)
}

func TestDepreciationModel_Validate(t *testing.T) {
	tests := []struct {
		name  string
		model DepreciationModel
		field string
	}{
		{"missing name", DepreciationModel{Kind: ModelLinear}, "name"},
		{"unknown kind", DepreciationModel{Name: "x", Kind: "quadratic"}, "kind"},
		{"negative rate", DepreciationModel{Name: "x", Kind: ModelLinear, Rate: -0.1}, "rate"},
		{"nan rate", DepreciationModel{Name: "x", Kind: ModelLinear, Rate: math.NaN()}, "rate"},
		{"zero half-life", DepreciationModel{Name: "x", Kind: ModelExponential}, "half_life_years"},
		{"no breakpoints", DepreciationModel{Name: "x", Kind: ModelSCurve}, "breakpoints"},
		{"unordered breakpoints", DepreciationModel{Name: "x", Kind: ModelSCurve,
			Breakpoints: []Breakpoint{{3, 0.5}, {1, 0.9}}}, "breakpoints"},
		{"factor above one", DepreciationModel{Name: "x", Kind: ModelSCurve,
			Breakpoints: []Breakpoint{{1, 1.2}}}, "breakpoints"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.model.Validate()
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestConditionFactor(t *testing.T) {
	tests := []struct {
		condition string
		factor    float64
		known     bool
	}{
		{"new", 1.00, true},
		{"Like New", 0.95, true},
		{"excellent", 0.85, true},
		{"very-good", 0.75, true},
		{"good", 0.65, true},
		{"fair", 0.50, true},
		{"poor", 0.30, true},
		{"mint-ish", 0.75, false},
		{"", 0.75, false},
	}
	for _, tc := range tests {
		f, known := ConditionFactor(tc.condition)
		assert.Equal(t, tc.factor, f, tc.condition)
		assert.Equal(t, tc.known, known, tc.condition)
	}
}

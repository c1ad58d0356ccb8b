// Package valuation converts listings into audited fair-market prices
// through a fixed sequence of multiplicative adjustment stages.
package valuation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
)

// ModelKind is the closed set of depreciation curves
type ModelKind string

const (
	ModelLinear      ModelKind = "linear"
	ModelExponential ModelKind = "exponential"
	ModelSCurve      ModelKind = "s_curve"
)

// Breakpoint is a point on an s_curve: at AgeYears the item retains Factor
type Breakpoint struct {
	AgeYears float64 `json:"age_years"`
	Factor   float64 `json:"factor"`
}

// DepreciationModel maps item age to a retention factor.
// Models are immutable once stored; new parameters create a new model.
type DepreciationModel struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Kind          ModelKind    `json:"kind"`
	Rate          float64      `json:"rate,omitempty"`            // linear: fraction lost per year
	HalfLifeYears float64      `json:"half_life_years,omitempty"` // exponential
	Breakpoints   []Breakpoint `json:"breakpoints,omitempty"`     // s_curve, ascending by age
	CreatedAt     time.Time    `json:"created_at"`
}

// Validate rejects parameters that cannot produce a factor
func (m *DepreciationModel) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return domain.NewValidationError("name", "is required")
	}

	switch m.Kind {
	case ModelLinear:
		if !finite(m.Rate) || m.Rate < 0 {
			return domain.NewValidationError("rate", "must be a non-negative number")
		}
	case ModelExponential:
		if !finite(m.HalfLifeYears) || m.HalfLifeYears <= 0 {
			return domain.NewValidationError("half_life_years", "must be positive")
		}
	case ModelSCurve:
		if len(m.Breakpoints) == 0 {
			return domain.NewValidationError("breakpoints", "at least one breakpoint is required")
		}
		prev := -1.0
		for i, bp := range m.Breakpoints {
			if !finite(bp.AgeYears) || bp.AgeYears < 0 {
				return domain.NewValidationError("breakpoints", fmt.Sprintf("breakpoint %d has a negative age", i))
			}
			if bp.AgeYears <= prev {
				return domain.NewValidationError("breakpoints", "ages must be strictly increasing")
			}
			if !finite(bp.Factor) || bp.Factor < 0 || bp.Factor > 1 {
				return domain.NewValidationError("breakpoints", fmt.Sprintf("breakpoint %d factor must be within [0,1]", i))
			}
			prev = bp.AgeYears
		}
	default:
		return domain.NewValidationError("kind", fmt.Sprintf("unknown model kind %q", m.Kind))
	}

	return nil
}

// Factor returns the retention factor at ageYears, always within [0,1].
// The model must have passed Validate.
func (m *DepreciationModel) Factor(ageYears float64) float64 {
	if ageYears < 0 || math.IsNaN(ageYears) {
		ageYears = 0
	}

	switch m.Kind {
	case ModelLinear:
		return clamp01(1 - ageYears*m.Rate)
	case ModelExponential:
		return clamp01(math.Pow(0.5, ageYears/m.HalfLifeYears))
	case ModelSCurve:
		return clamp01(sCurveFactor(m.Breakpoints, ageYears))
	}
	return 0
}

// Describe renders the model parameters for adjustment reasons
func (m *DepreciationModel) Describe() string {
	switch m.Kind {
	case ModelLinear:
		return fmt.Sprintf("linear model %q (rate %g/yr)", m.Name, m.Rate)
	case ModelExponential:
		return fmt.Sprintf("exponential model %q (half-life %gy)", m.Name, m.HalfLifeYears)
	case ModelSCurve:
		return fmt.Sprintf("s_curve model %q (%d breakpoints)", m.Name, len(m.Breakpoints))
	}
	return fmt.Sprintf("model %q", m.Name)
}

// sCurveFactor interpolates linearly from (0, 1.0) through the breakpoints
// and holds the last factor beyond the final breakpoint.
func sCurveFactor(bps []Breakpoint, age float64) float64 {
	points := bps
	if !sort.SliceIsSorted(points, func(i, j int) bool { return points[i].AgeYears < points[j].AgeYears }) {
		points = append([]Breakpoint(nil), bps...)
		sort.Slice(points, func(i, j int) bool { return points[i].AgeYears < points[j].AgeYears })
	}

	prev := Breakpoint{AgeYears: 0, Factor: 1}
	for _, bp := range points {
		if age <= bp.AgeYears {
			span := bp.AgeYears - prev.AgeYears
			if span <= 0 {
				return bp.Factor
			}
			t := (age - prev.AgeYears) / span
			return prev.Factor + t*(bp.Factor-prev.Factor)
		}
		prev = bp
	}
	return prev.Factor
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

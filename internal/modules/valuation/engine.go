package valuation

import (
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/shopspring/decimal"
)

// AdjustmentType names a valuation stage
type AdjustmentType string

const (
	AdjustmentDepreciation AdjustmentType = "depreciation"
	AdjustmentCondition    AdjustmentType = "condition"
	AdjustmentDamage       AdjustmentType = "damage"
	AdjustmentCompleteness AdjustmentType = "completeness"
	AdjustmentMarket       AdjustmentType = "market"
)

// PriceAdjustment is one stage of a valuation. Amount is the exact,
// unrounded value removed from the running price by this stage.
// AmountCents is the same removal measured between the running price
// rounded to cents before and after the stage, so the stage cents of a
// valuation always sum to TotalAdjustment.
type PriceAdjustment struct {
	Seq         int             `json:"seq"`
	Type        AdjustmentType  `json:"type"`
	Factor      float64         `json:"factor"`
	Amount      decimal.Decimal `json:"amount"`
	AmountCents int64           `json:"amount_cents"`
	Reason      string          `json:"reason"`
}

// Valuation is the result of running the engine over a listing
type Valuation struct {
	ListingID          int64             `json:"listing_id"`
	ModelID            int64             `json:"model_id"`
	BasePrice          decimal.Decimal   `json:"base_price"`
	FinalPrice         decimal.Decimal   `json:"final_price"`
	Adjustments        []PriceAdjustment `json:"adjustments"`
	TotalAdjustment    decimal.Decimal   `json:"total_adjustment"`
	TotalAdjustmentPct decimal.Decimal   `json:"total_adjustment_pct"`
	LowConfidence      bool              `json:"low_confidence"`
	Warnings           []string          `json:"warnings,omitempty"`
	ValuedAt           time.Time         `json:"valued_at"`

	// Stale is set when the market stage used an aggregate past its window
	Stale *domain.StaleDataError `json:"-"`
}

// Options configures the engine
type Options struct {
	// StaleAfter is the age beyond which a comparables aggregate is flagged
	StaleAfter time.Duration
	// MinComparables is the sale count required before the market stage applies
	MinComparables int
	// MarketAdjustment enables the market stage
	MarketAdjustment bool
}

// Input is everything the engine needs for one listing
type Input struct {
	Listing    domain.Listing
	Model      *DepreciationModel
	Damages    []domain.DamageAssessment
	Comparable *comparables.Aggregate
	// At is the valuation instant; zero means now
	At time.Time
}

// Engine is a stateless valuation pipeline. It is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine creates an engine
func NewEngine(opts Options) *Engine {
	if opts.MinComparables < 1 {
		opts.MinComparables = 1
	}
	return &Engine{opts: opts}
}

var hundred = decimal.NewFromInt(100)

// Value runs depreciation, condition, damage, completeness and market stages
// in that order. Each stage multiplies the running price by a factor in
// [0,1]; rounding to cents happens once, on the final price.
func (e *Engine) Value(in Input) (*Valuation, error) {
	if in.Model == nil {
		return nil, domain.NewValidationError("model", "is required")
	}
	if err := in.Model.Validate(); err != nil {
		return nil, err
	}
	if err := in.Listing.Validate(); err != nil {
		return nil, err
	}
	for _, d := range in.Damages {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	v := &Valuation{
		ListingID: in.Listing.ID,
		ModelID:   in.Model.ID,
		BasePrice: in.Listing.BasePrice,
		ValuedAt:  at,
	}

	running := in.Listing.BasePrice
	apply := func(kind AdjustmentType, factor float64, reason string) {
		factor = clamp01(factor)
		next := running.Mul(factorDecimal(factor))
		v.Adjustments = append(v.Adjustments, PriceAdjustment{
			Seq:         len(v.Adjustments) + 1,
			Type:        kind,
			Factor:      factor,
			Amount:      running.Sub(next),
			AmountCents: toCents(running) - toCents(next),
			Reason:      reason,
		})
		running = next
	}

	age := in.Listing.AgeYears(at)
	apply(AdjustmentDepreciation, in.Model.Factor(age),
		fmt.Sprintf("%s at age %.2fy", in.Model.Describe(), age))

	condFactor, known := ConditionFactor(in.Listing.Condition)
	if known {
		apply(AdjustmentCondition, condFactor, fmt.Sprintf("condition %q", NormalizeCondition(in.Listing.Condition)))
	} else {
		apply(AdjustmentCondition, condFactor,
			fmt.Sprintf("unknown condition %q, using default factor %.2f", in.Listing.Condition, DefaultConditionFactor))
	}

	for _, d := range in.Damages {
		reason := fmt.Sprintf("%s damage (%s), estimated impact %g%%", d.DamageType, d.Severity, d.ImpactPct)
		apply(AdjustmentDamage, 1-d.ImpactPct/100, reason)
	}

	apply(AdjustmentCompleteness, in.Listing.CompletenessPct/100,
		fmt.Sprintf("completeness %g%%", in.Listing.CompletenessPct))

	e.applyMarket(v, in.Comparable, at, running, apply)

	if running.IsNegative() {
		running = decimal.Zero
	}
	v.FinalPrice = running.Round(2)
	v.TotalAdjustment = v.BasePrice.Sub(v.FinalPrice)
	if v.BasePrice.IsPositive() {
		v.TotalAdjustmentPct = v.TotalAdjustment.Div(v.BasePrice).Mul(hundred).Round(2)
	}

	return v, nil
}

func (e *Engine) applyMarket(v *Valuation, agg *comparables.Aggregate, at time.Time, running decimal.Decimal,
	apply func(AdjustmentType, float64, string)) {
	if !e.opts.MarketAdjustment {
		return
	}
	if agg == nil {
		v.Warnings = append(v.Warnings, "no comparable sales for this title")
		return
	}
	if agg.Count < e.opts.MinComparables {
		v.LowConfidence = true
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("only %d comparable sales, %d required for a market adjustment", agg.Count, e.opts.MinComparables))
		return
	}
	if !running.IsPositive() {
		return
	}

	reason := fmt.Sprintf("median of %d comparable sales is %s", agg.Count, agg.MedianPrice.StringFixed(2))
	if agg.IsStale(at, e.opts.StaleAfter) {
		stale := &domain.StaleDataError{Key: agg.Key.String(), ComputedAt: agg.LastComputedAt, MaxAge: e.opts.StaleAfter}
		v.Stale = stale
		v.LowConfidence = true
		v.Warnings = append(v.Warnings, stale.Error())
		reason += " (stale)"
	}

	factor := 1.0
	if agg.MedianPrice.LessThan(running) {
		factor, _ = agg.MedianPrice.Div(running).Float64()
	}
	apply(AdjustmentMarket, factor, reason)
}

// toCents rounds half-up to whole cents
func toCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// factorDecimal converts a stored factor to the decimal used in arithmetic.
// Replay must use the same conversion to reproduce prices exactly.
func factorDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Replay applies adjustments in order to base and returns the final price,
// rounded as the engine rounds it.
func Replay(base decimal.Decimal, adjustments []PriceAdjustment) decimal.Decimal {
	running := base
	for _, a := range adjustments {
		running = running.Mul(factorDecimal(clamp01(a.Factor)))
	}
	if running.IsNegative() {
		running = decimal.Zero
	}
	return running.Round(2)
}

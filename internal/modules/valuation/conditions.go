package valuation

import "strings"

// DefaultConditionFactor applies to condition strings not in the table
const DefaultConditionFactor = 0.75

var conditionFactors = map[string]float64{
	"new":       1.00,
	"like_new":  0.95,
	"excellent": 0.85,
	"very_good": 0.75,
	"good":      0.65,
	"fair":      0.50,
	"poor":      0.30,
}

// NormalizeCondition maps free-form input ("Like New", "very-good") to a table key
func NormalizeCondition(condition string) string {
	c := strings.ToLower(strings.TrimSpace(condition))
	c = strings.NewReplacer(" ", "_", "-", "_").Replace(c)
	return c
}

// ConditionFactor returns the factor for condition and whether it was known
func ConditionFactor(condition string) (float64, bool) {
	f, ok := conditionFactors[NormalizeCondition(condition)]
	if !ok {
		return DefaultConditionFactor, false
	}
	return f, true
}

package listings

import (
	"fmt"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/aristath/arbiter/internal/domain"
)

var manufacturedLayouts = []string{time.RFC3339, "2006-01-02", "2006-01", "2006"}

// applyMetadataHints fills listing fields the crawler left empty from
// well-known metadata keys (manufactured_at, year, category, condition).
// Explicit fields always win.
func applyMetadataHints(l *domain.Listing) error {
	if l.Metadata == "" {
		return nil
	}
	doc, err := gabs.ParseJSON([]byte(l.Metadata))
	if err != nil {
		return domain.NewValidationError("metadata", "is not valid JSON")
	}
	if _, ok := doc.Data().(map[string]interface{}); !ok {
		return domain.NewValidationError("metadata", "must be a JSON object")
	}

	if l.ManufacturedAt == nil {
		for _, key := range []string{"manufactured_at", "year"} {
			if !doc.Exists(key) {
				continue
			}
			t, err := parseManufactured(doc.S(key).Data())
			if err != nil {
				return domain.NewValidationError("metadata."+key, err.Error())
			}
			l.ManufacturedAt = &t
			break
		}
	}
	if l.Category == "" {
		if s, ok := doc.S("category").Data().(string); ok {
			l.Category = strings.TrimSpace(s)
		}
	}
	if l.Condition == "" {
		if s, ok := doc.S("condition").Data().(string); ok {
			l.Condition = s
		}
	}
	return nil
}

func parseManufactured(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case float64:
		year := int(val)
		if year < 1800 || year > 3000 {
			return time.Time{}, fmt.Errorf("year %d out of range", year)
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range manufacturedLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	return time.Time{}, fmt.Errorf("unsupported value %v", v)
}

package listings

import (
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMetadataHints(t *testing.T) {
	explicit := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		listing      domain.Listing
		wantYear     int
		wantCategory string
		wantCond     string
	}{
		{
			name:         "numeric year and category",
			listing:      domain.Listing{Metadata: `{"year": 2018, "category": "lenses"}`},
			wantYear:     2018,
			wantCategory: "lenses",
		},
		{
			name:     "date string",
			listing:  domain.Listing{Metadata: `{"manufactured_at": "2020-05-17"}`},
			wantYear: 2020,
		},
		{
			name:         "explicit fields win",
			listing:      domain.Listing{Category: "bodies", Condition: "fair", ManufacturedAt: &explicit, Metadata: `{"year": 2001, "category": "x", "condition": "new"}`},
			wantYear:     2019,
			wantCategory: "bodies",
			wantCond:     "fair",
		},
		{
			name:     "condition hint",
			listing:  domain.Listing{Metadata: `{"condition": "excellent"}`},
			wantCond: "excellent",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := tc.listing
			require.NoError(t, applyMetadataHints(&l))
			if tc.wantYear != 0 {
				require.NotNil(t, l.ManufacturedAt)
				assert.Equal(t, tc.wantYear, l.ManufacturedAt.Year())
			} else {
				assert.Nil(t, l.ManufacturedAt)
			}
			assert.Equal(t, tc.wantCategory, l.Category)
			assert.Equal(t, tc.wantCond, l.Condition)
		})
	}
}

func TestApplyMetadataHints_Rejects(t *testing.T) {
	for _, raw := range []string{`not json`, `"string"`, `{"year": "last spring"}`, `{"year": 12}`} {
		l := domain.Listing{Metadata: raw}
		assert.True(t, domain.IsValidation(applyMetadataHints(&l)), raw)
	}
}

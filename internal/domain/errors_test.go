package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidationError_Classification(t *testing.T) {
	err := fmt.Errorf("failed to ingest: %w", NewValidationError("url", "is required"))

	assert.True(t, IsValidation(err))
	assert.False(t, IsPersistence(err))
	assert.Contains(t, err.Error(), "url is required")
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("finalize: %w", NewPersistenceError("complete snipe", cause))

	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("create: %w", NewValidationError("max_bid", "must be positive"))))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("get snipe 7: %w", ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(NewPersistenceError("insert", errors.New("locked"))))
}

func TestListing_AgeYears(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	made := now.Add(-time.Duration(2.5 * 365.25 * 24 * float64(time.Hour)))

	l := Listing{ManufacturedAt: &made, ListedAt: now.AddDate(0, -1, 0)}
	assert.InDelta(t, 2.5, l.AgeYears(now), 1e-9)

	l.ManufacturedAt = nil
	assert.InDelta(t, 31.0/365.25, l.AgeYears(now), 1e-9)

	future := now.Add(time.Hour)
	l.ManufacturedAt = &future
	assert.Equal(t, 0.0, l.AgeYears(now))
}

func TestListing_Validate(t *testing.T) {
	valid := Listing{URL: "https://x/1", Title: "Camera", BasePrice: decimal.NewFromInt(10), CompletenessPct: 100}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Listing)
		field  string
	}{
		{"missing url", func(l *Listing) { l.URL = " " }, "url"},
		{"missing title", func(l *Listing) { l.Title = "" }, "title"},
		{"negative price", func(l *Listing) { l.BasePrice = decimal.NewFromInt(-1) }, "base_price"},
		{"completeness too high", func(l *Listing) { l.CompletenessPct = 101 }, "completeness_pct"},
		{"unknown status", func(l *Listing) { l.Status = "lost" }, "status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := valid
			tc.mutate(&l)
			err := l.Validate()
			var ve *ValidationError
			if assert.ErrorAs(t, err, &ve) {
				assert.Equal(t, tc.field, ve.Field)
			}
		})
	}
}

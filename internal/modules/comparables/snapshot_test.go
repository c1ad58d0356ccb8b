package comparables

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sale(category, title, price string) Sale {
	return Sale{Category: category, Title: title, Price: decimal.RequireFromString(price)}
}

func TestBuildAggregates_Statistics(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sales := []Sale{
		sale("tablets", "iPad Pro 11-inch (2021)", "400"),
		sale("tablets", "ipad pro 11 inch 2021!!", "500"),
		sale("tablets", "IPAD PRO 11 INCH 2021", "450"),
		sale("tablets", "iPad Pro 11 inch 2021", "610"),
		sale("phones", "iPad Pro 11-inch (2021)", "1"),
	}

	aggs := BuildAggregates(sales, now, now.AddDate(0, 0, -90))
	snap := NewSnapshot(aggs, now, now.AddDate(0, 0, -90))
	require.Equal(t, 2, snap.Len())

	tablets, ok := snap.Lookup(NewKey("tablets", "ipad pro 11 inch 2021"))
	require.True(t, ok)
	assert.Equal(t, 4, tablets.Count)
	assert.Equal(t, "490", tablets.AvgPrice.String())
	assert.Equal(t, "475", tablets.MedianPrice.String())
	assert.InDelta(t, 89.81, tablets.StdDev, 0.01)
	assert.Equal(t, now, tablets.LastComputedAt)

	phones, ok := snap.Lookup(NewKey("phones", "ipad pro 11 inch 2021"))
	require.True(t, ok)
	assert.Equal(t, 1, phones.Count)
	assert.Equal(t, 0.0, phones.StdDev)
}

func TestBuildAggregates_OddMedianAndRounding(t *testing.T) {
	aggs := BuildAggregates([]Sale{
		sale("", "lens", "10.00"),
		sale("", "lens", "10.01"),
		sale("", "lens", "99.99"),
	}, time.Now(), time.Time{})

	require.Len(t, aggs, 1)
	assert.Equal(t, "10.01", aggs[0].MedianPrice.String())
	assert.Equal(t, "40", aggs[0].AvgPrice.String())
}

func TestBuildAggregates_SkipsEmptyTitles(t *testing.T) {
	aggs := BuildAggregates([]Sale{sale("", "???", "10")}, time.Now(), time.Time{})
	assert.Empty(t, aggs)
}

func TestSnapshot_LookupReturnsCopy(t *testing.T) {
	snap := NewSnapshot([]Aggregate{{Key: NewKey("", "a"), Count: 1}}, time.Now(), time.Time{})

	a, ok := snap.Lookup(NewKey("", "a"))
	require.True(t, ok)
	a.Count = 99

	again, _ := snap.Lookup(NewKey("", "a"))
	assert.Equal(t, 1, again.Count)
}

func TestAggregate_IsStale(t *testing.T) {
	now := time.Now()
	a := &Aggregate{LastComputedAt: now.Add(-2 * time.Hour)}

	assert.True(t, a.IsStale(now, time.Hour))
	assert.False(t, a.IsStale(now, 3*time.Hour))
	assert.False(t, a.IsStale(now, 0))
}

package comparables

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Snapshot is an immutable set of aggregates built by one refresh.
// It is never modified after construction.
type Snapshot struct {
	aggregates  map[Key]*Aggregate
	computedAt  time.Time
	windowStart time.Time
}

// NewSnapshot indexes aggregates by key
func NewSnapshot(aggs []Aggregate, computedAt, windowStart time.Time) *Snapshot {
	s := &Snapshot{
		aggregates:  make(map[Key]*Aggregate, len(aggs)),
		computedAt:  computedAt,
		windowStart: windowStart,
	}
	for i := range aggs {
		a := aggs[i]
		s.aggregates[a.Key] = &a
	}
	return s
}

// Lookup returns a copy of the aggregate for key
func (s *Snapshot) Lookup(key Key) (*Aggregate, bool) {
	if s == nil {
		return nil, false
	}
	a, ok := s.aggregates[key]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// Len returns the number of buckets
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.aggregates)
}

// ComputedAt returns when the snapshot was built
func (s *Snapshot) ComputedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.computedAt
}

// WindowStart returns the oldest sale time the snapshot covers
func (s *Snapshot) WindowStart() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.windowStart
}

// All returns the aggregates ordered by key
func (s *Snapshot) All() []Aggregate {
	if s == nil {
		return nil
	}
	out := make([]Aggregate, 0, len(s.aggregates))
	for _, a := range s.aggregates {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Category != out[j].Key.Category {
			return out[i].Key.Category < out[j].Key.Category
		}
		return out[i].Key.NormalizedTitle < out[j].Key.NormalizedTitle
	})
	return out
}

// BuildAggregates groups sales by key and computes per-bucket statistics.
// Sales are bucketed by their stored normalized title, falling back to
// normalizing the raw title.
func BuildAggregates(sales []Sale, computedAt, windowStart time.Time) []Aggregate {
	buckets := make(map[Key][]decimal.Decimal)
	var order []Key
	for _, s := range sales {
		title := s.NormalizedTitle
		if title == "" {
			title = NormalizeTitle(s.Title)
		}
		if title == "" {
			continue
		}
		key := Key{Category: s.Category, NormalizedTitle: title}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], s.Price)
	}

	aggs := make([]Aggregate, 0, len(order))
	for _, key := range order {
		prices := buckets[key]
		aggs = append(aggs, aggregate(key, prices, computedAt, windowStart))
	}
	return aggs
}

func aggregate(key Key, prices []decimal.Decimal, computedAt, windowStart time.Time) Aggregate {
	sorted := append([]decimal.Decimal(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	sum := decimal.Zero
	floats := make([]float64, n)
	for i, p := range sorted {
		sum = sum.Add(p)
		floats[i], _ = p.Float64()
	}

	var median decimal.Decimal
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}

	var stddev float64
	if n > 1 {
		_, stddev = stat.MeanStdDev(floats, nil)
	}

	return Aggregate{
		Key:            key,
		AvgPrice:       sum.Div(decimal.NewFromInt(int64(n))).Round(2),
		MedianPrice:    median.Round(2),
		StdDev:         stddev,
		Count:          n,
		WindowStart:    windowStart,
		LastComputedAt: computedAt,
	}
}

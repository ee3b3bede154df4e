package tax

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyTable is returned when a bracket table has no bands.
	ErrEmptyTable = errors.New("tax: bracket table is empty")
	// ErrBandOrder indicates band upper bounds are not strictly increasing from zero.
	ErrBandOrder = errors.New("tax: band upper bounds must be strictly increasing")
	// ErrBoundedTopBand indicates the last band does not extend to +Inf.
	ErrBoundedTopBand = errors.New("tax: last band must be unbounded")
	// ErrRateRange indicates a marginal rate outside [0, 1].
	ErrRateRange = errors.New("tax: band rate must be within [0, 1]")
	// ErrRegressiveRate indicates a band taxed at a lower rate than the band before it.
	ErrRegressiveRate = errors.New("tax: band rates must be non-decreasing")
)

// Band is a contiguous slice of chargeable income taxed at a single marginal rate.
// The lower bound is implied by the previous band's upper bound (zero for the first).
type Band struct {
	UpperBound float64
	Rate       float64
}

// ScheduleRow describes a band together with its lower bound and the cumulative
// tax payable on all income below it.
type ScheduleRow struct {
	Lower float64
	Upper float64
	Rate  float64
	Base  float64
}

// Table is an immutable, validated progressive bracket table.
type Table struct {
	bands []Band
}

// NewTable validates the bands and returns a table. Bands must be ordered by
// strictly increasing upper bound, the last band must be unbounded and rates
// must lie within [0, 1] without decreasing.
func NewTable(bands []Band) (Table, error) {
	if len(bands) == 0 {
		return Table{}, ErrEmptyTable
	}
	lower := 0.0
	prevRate := 0.0
	for i, b := range bands {
		if !(b.UpperBound > lower) {
			return Table{}, fmt.Errorf("%w: band %d upper bound %v not above %v", ErrBandOrder, i, b.UpperBound, lower)
		}
		if !(b.Rate >= 0 && b.Rate <= 1) {
			return Table{}, fmt.Errorf("%w: band %d rate %v", ErrRateRange, i, b.Rate)
		}
		if b.Rate < prevRate {
			return Table{}, fmt.Errorf("%w: band %d rate %v below %v", ErrRegressiveRate, i, b.Rate, prevRate)
		}
		lower = b.UpperBound
		prevRate = b.Rate
	}
	if !math.IsInf(lower, 1) {
		return Table{}, ErrBoundedTopBand
	}
	return Table{bands: append([]Band(nil), bands...)}, nil
}

// MustTable behaves like NewTable but panics on error.
func MustTable(bands []Band) Table {
	t, err := NewTable(bands)
	if err != nil {
		panic(err)
	}
	return t
}

// published is the Malaysian resident schedule for YA 2024/2025.
var published = MustTable([]Band{
	{UpperBound: 5_000, Rate: 0.00},
	{UpperBound: 20_000, Rate: 0.01},
	{UpperBound: 35_000, Rate: 0.03},
	{UpperBound: 50_000, Rate: 0.06},
	{UpperBound: 70_000, Rate: 0.11},
	{UpperBound: 100_000, Rate: 0.19},
	{UpperBound: 400_000, Rate: 0.25},
	{UpperBound: 600_000, Rate: 0.26},
	{UpperBound: 2_000_000, Rate: 0.28},
	{UpperBound: math.Inf(1), Rate: 0.30},
})

// Published returns the published bracket table.
func Published() Table {
	return published
}

// Bands returns a copy of the table's bands.
func (t Table) Bands() []Band {
	return append([]Band(nil), t.bands...)
}

// Schedule expands the table into rows carrying each band's lower bound and
// the cumulative base tax at that lower bound.
func (t Table) Schedule() []ScheduleRow {
	rows := make([]ScheduleRow, 0, len(t.bands))
	lower, base := 0.0, 0.0
	for _, b := range t.bands {
		rows = append(rows, ScheduleRow{Lower: lower, Upper: b.UpperBound, Rate: b.Rate, Base: round2(base)})
		if !math.IsInf(b.UpperBound, 1) {
			base += (b.UpperBound - lower) * b.Rate
		}
		lower = b.UpperBound
	}
	return rows
}

package tax

import (
	"math"

	"github.com/shopspring/decimal"
)

// Input captures the amounts a tax computation is based on.
type Input struct {
	Income float64 `json:"income" validate:"gte=0"`
	Relief float64 `json:"relief" validate:"gte=0"`
}

// Chargeable returns income minus relief, floored at zero.
func (in Input) Chargeable() float64 {
	return Chargeable(in.Income, in.Relief)
}

// Result is the outcome of a tax computation.
type Result struct {
	Chargeable float64      `json:"chargeable_income"`
	TaxPayable float64      `json:"tax_payable"`
	Breakdown  []BandCharge `json:"breakdown,omitempty"`
}

// BandCharge is the contribution of a single band to the total tax.
type BandCharge struct {
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"-"`
	Rate    float64 `json:"rate"`
	Taxable float64 `json:"taxable"`
	Tax     float64 `json:"tax"`
}

// Chargeable returns max(0, income-relief). A NaN difference is treated as zero.
func Chargeable(income, relief float64) float64 {
	chargeable := income - relief
	if !(chargeable > 0) {
		return 0
	}
	return chargeable
}

// Compute returns the tax payable on income less relief, rounded to two
// decimal places. Amounts exactly on a band's upper bound are taxed entirely
// within that band.
func (t Table) Compute(income, relief float64) float64 {
	return round2(t.accumulate(Chargeable(income, relief), nil))
}

// Calculate computes the tax for in and reports the per-band breakdown.
func (t Table) Calculate(in Input) Result {
	chargeable := in.Chargeable()
	var charges []BandCharge
	total := t.accumulate(chargeable, func(c BandCharge) {
		c.Taxable = round2(c.Taxable)
		c.Tax = round2(c.Tax)
		charges = append(charges, c)
	})
	return Result{Chargeable: round2(chargeable), TaxPayable: round2(total), Breakdown: charges}
}

// Breakdown returns the contribution of each band that chargeable income reaches.
func (t Table) Breakdown(income, relief float64) []BandCharge {
	return t.Calculate(Input{Income: income, Relief: relief}).Breakdown
}

func (t Table) accumulate(chargeable float64, visit func(BandCharge)) float64 {
	var tax, lower float64
	for _, b := range t.bands {
		if chargeable <= lower {
			break
		}
		taxable := math.Min(chargeable, b.UpperBound) - lower
		incremental := 0.0
		if b.Rate != 0 {
			incremental = taxable * b.Rate
		}
		tax += incremental
		if visit != nil {
			visit(BandCharge{Lower: lower, Upper: b.UpperBound, Rate: b.Rate, Taxable: taxable, Tax: incremental})
		}
		lower = b.UpperBound
	}
	return tax
}

// round2 rounds half away from zero on the shortest decimal representation of v.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Compute applies the published table.
func Compute(income, relief float64) float64 {
	return published.Compute(income, relief)
}

// ComputeTax parses income and relief and applies the published table. It
// returns an *InvalidInputError when either value is not a finite number.
func ComputeTax(income, relief string) (float64, error) {
	in, err := ParseInput(income, relief)
	if err != nil {
		return 0, err
	}
	return published.Compute(in.Income, in.Relief), nil
}

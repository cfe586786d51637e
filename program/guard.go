package program

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Bounds is an inclusive ratio interval [Min, Max].
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func mustBounds(min, max string) *Bounds {
	return &Bounds{Min: decimal.RequireFromString(min), Max: decimal.RequireFromString(max)}
}

// contains reports whether num/den lies inside b. The ratio is never
// materialized: num is compared against den*Min and den*Max, which is exact.
func (b *Bounds) contains(num, den uint64) bool {
	n := decFromU64(num)
	d := decFromU64(den)
	return !n.LessThan(d.Mul(b.Min)) && !n.GreaterThan(d.Mul(b.Max))
}

func (b *Bounds) String() string {
	return fmt.Sprintf("[%s, %s]", b.Min.String(), b.Max.String())
}

func decFromU64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Ratio renders num/den with four decimal places for logs.
func Ratio(num, den uint64) string {
	if den == 0 {
		return "inf"
	}
	return decFromU64(num).DivRound(decFromU64(den), 4).StringFixed(4)
}

// NAVPolicy is the bounded-change policy applied to NAV updates. A nil bound
// is not enforced.
type NAVPolicy struct {
	// Step is the hard per-update bound on candidate/current.
	Step *Bounds
	// Monitor flags, but accepts, updates outside it.
	Monitor *Bounds
	// Cumulative bounds candidate/baseline, the drift from the first
	// accepted NAV.
	Cumulative *Bounds
}

var (
	DefaultNAVPolicy = NAVPolicy{
		Step:       mustBounds("0.2", "5.0"),
		Monitor:    mustBounds("0.5", "2.0"),
		Cumulative: mustBounds("0.05", "41.0"),
	}

	// CumulativeOnlyNAVPolicy has no hard step bound; only drift from the
	// baseline is capped.
	CumulativeOnlyNAVPolicy = NAVPolicy{
		Monitor:    mustBounds("0.5", "2.0"),
		Cumulative: mustBounds("0.05", "41.0"),
	}
)

type NAVCheck struct {
	// Flagged is set when the step falls outside the monitoring band.
	Flagged bool
}

// Validate checks candidate against current and the baseline. A zero current
// NAV means no baseline has been established and any candidate is accepted;
// the caller records that candidate as the baseline.
func (p NAVPolicy) Validate(current, candidate, baseline uint64) (NAVCheck, error) {
	var out NAVCheck
	if current == 0 {
		return out, nil
	}
	if p.Step != nil && !p.Step.contains(candidate, current) {
		return out, perr(ERR_INVALID_NAV_UPDATE, fmt.Sprintf("step ratio %s outside %s", Ratio(candidate, current), p.Step))
	}
	if p.Cumulative != nil {
		if baseline == 0 {
			return out, perr(ERR_INVALID_NAV_UPDATE, "nav baseline not set")
		}
		if !p.Cumulative.contains(candidate, baseline) {
			return out, perr(ERR_INVALID_NAV_UPDATE, fmt.Sprintf("cumulative ratio %s outside %s", Ratio(candidate, baseline), p.Cumulative))
		}
	}
	if p.Monitor != nil && !p.Monitor.contains(candidate, current) {
		out.Flagged = true
	}
	return out, nil
}

var supplyBounds = mustBounds("0.9", "1.1")

// ValidateSupplyChange enforces the ±10% per-update supply bound. A zero
// current supply is uninitialized and unconstrained.
func ValidateSupplyChange(current, candidate uint64) error {
	if current == 0 {
		return nil
	}
	if !supplyBounds.contains(candidate, current) {
		return perr(ERR_INVALID_SUPPLY_CHANGE, fmt.Sprintf("supply ratio %s outside %s", Ratio(candidate, current), supplyBounds))
	}
	return nil
}

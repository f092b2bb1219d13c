package settlement

import "github.com/shopspring/decimal"

// FeePolicy computes the fee taken from each side's proceeds. The fee
// schedule is configuration-driven; the engine only requires that a fee
// never exceeds the amount it is charged against.
type FeePolicy interface {
	MakerFee(proceeds int64) int64
	TakerFee(proceeds int64) int64
}

// BasisPointPolicy charges flat basis-point rates. Integer division
// rounds down, in the trader's favor.
type BasisPointPolicy struct {
	MakerBps int64
	TakerBps int64
}

// NewBasisPointPolicy builds a policy from decimal rates as they appear
// in configuration (0.001 means 10 bps).
func NewBasisPointPolicy(maker, taker decimal.Decimal) BasisPointPolicy {
	return BasisPointPolicy{
		MakerBps: maker.Shift(4).IntPart(),
		TakerBps: taker.Shift(4).IntPart(),
	}
}

func (p BasisPointPolicy) MakerFee(proceeds int64) int64 {
	return proceeds * p.MakerBps / 10000
}

func (p BasisPointPolicy) TakerFee(proceeds int64) int64 {
	return proceeds * p.TakerBps / 10000
}

// FreePolicy charges nothing. Useful in tests and for fee-exempt venues.
type FreePolicy struct{}

func (FreePolicy) MakerFee(int64) int64 { return 0 }
func (FreePolicy) TakerFee(int64) int64 { return 0 }

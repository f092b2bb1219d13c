// Package reference holds the read-only symbol/asset configuration the
// core consumes. The admin service that maintains it lives elsewhere; the
// engine only validates commands against it and converts between decimal
// amounts and the fixed-point ticks the matching core runs on.
package reference

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol   = errors.New("reference: unknown symbol")
	ErrSymbolDisabled  = errors.New("reference: symbol not tradable")
	ErrAssetDisabled   = errors.New("reference: asset disabled")
	ErrPrecision       = errors.New("reference: precision exceeded")
	ErrBelowMinimumQty = errors.New("reference: quantity below minimum")
)

// Asset describes one currency.
type Asset struct {
	Code      string
	Precision int32
	Enabled   bool
}

// Symbol describes one trading pair. Prices are quoted in Quote per one
// Base lot; PricePrecision/QtyPrecision fix the tick and lot scales.
type Symbol struct {
	Name           string
	Base           string
	Quote          string
	PricePrecision int32
	QtyPrecision   int32
	MinQty         int64 // lots
	Tradable       bool
}

// Table is an immutable view over the configured symbols and assets.
// Build one at startup and share it freely; it is never mutated.
type Table struct {
	symbols map[string]Symbol
	assets  map[string]Asset
}

func NewTable(symbols []Symbol, assets []Asset) *Table {
	t := &Table{
		symbols: make(map[string]Symbol, len(symbols)),
		assets:  make(map[string]Asset, len(assets)),
	}
	for _, s := range symbols {
		t.symbols[s.Name] = s
	}
	for _, a := range assets {
		t.assets[a.Code] = a
	}
	return t
}

func (t *Table) Symbol(name string) (Symbol, error) {
	s, ok := t.symbols[name]
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
	}
	return s, nil
}

// Tradable resolves a symbol and checks the symbol and both asset flags.
func (t *Table) Tradable(name string) (Symbol, error) {
	s, err := t.Symbol(name)
	if err != nil {
		return Symbol{}, err
	}
	if !s.Tradable {
		return Symbol{}, fmt.Errorf("%w: %s", ErrSymbolDisabled, name)
	}
	for _, code := range []string{s.Base, s.Quote} {
		a, ok := t.assets[code]
		if !ok || !a.Enabled {
			return Symbol{}, fmt.Errorf("%w: %s", ErrAssetDisabled, code)
		}
	}
	return s, nil
}

func (t *Table) AssetEnabled(code string) error {
	a, ok := t.assets[code]
	if !ok || !a.Enabled {
		return fmt.Errorf("%w: %s", ErrAssetDisabled, code)
	}
	return nil
}

// PriceToTicks converts a decimal price into integer ticks, rejecting
// values finer than the symbol's price precision.
func (s Symbol) PriceToTicks(p decimal.Decimal) (int64, error) {
	return toScaled(p, s.PricePrecision)
}

// QtyToLots converts a decimal quantity into integer lots.
func (s Symbol) QtyToLots(q decimal.Decimal) (int64, error) {
	return toScaled(q, s.QtyPrecision)
}

// TicksToPrice is the inverse of PriceToTicks.
func (s Symbol) TicksToPrice(ticks int64) decimal.Decimal {
	return decimal.New(ticks, -s.PricePrecision)
}

// LotsToQty is the inverse of QtyToLots.
func (s Symbol) LotsToQty(lots int64) decimal.Decimal {
	return decimal.New(lots, -s.QtyPrecision)
}

// BaseUnits converts lots into the base asset's smallest units.
func (t *Table) BaseUnits(s Symbol, lots int64) int64 {
	base := t.assets[s.Base]
	return lots * pow10(base.Precision-s.QtyPrecision)
}

// QuoteUnits converts a (price, qty) notional into the quote asset's
// smallest units. NewTable-validated exponents keep this exact.
func (t *Table) QuoteUnits(s Symbol, priceTicks, lots int64) int64 {
	quote := t.assets[s.Quote]
	return priceTicks * lots * pow10(quote.Precision-s.PricePrecision-s.QtyPrecision)
}

// Validate checks that every symbol's precisions divide evenly into its
// asset precisions, so tick/lot arithmetic never truncates. Call once at
// startup; a misconfigured table is a deployment fault.
func (t *Table) Validate() error {
	for name, s := range t.symbols {
		base, ok := t.assets[s.Base]
		if !ok {
			return fmt.Errorf("reference: symbol %s: missing base asset %s", name, s.Base)
		}
		quote, ok := t.assets[s.Quote]
		if !ok {
			return fmt.Errorf("reference: symbol %s: missing quote asset %s", name, s.Quote)
		}
		if base.Precision < s.QtyPrecision {
			return fmt.Errorf("reference: symbol %s: qty precision %d exceeds base asset precision %d",
				name, s.QtyPrecision, base.Precision)
		}
		if quote.Precision < s.PricePrecision+s.QtyPrecision {
			return fmt.Errorf("reference: symbol %s: price+qty precision %d exceeds quote asset precision %d",
				name, s.PricePrecision+s.QtyPrecision, quote.Precision)
		}
	}
	return nil
}

func pow10(n int32) int64 {
	v := int64(1)
	for ; n > 0; n-- {
		v *= 10
	}
	return v
}

func toScaled(d decimal.Decimal, precision int32) (int64, error) {
	scaled := d.Shift(precision)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s at precision %d", ErrPrecision, d, precision)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrPrecision, d)
	}
	return scaled.IntPart(), nil
}

// Package settlement turns matching output into balance movements. Every
// fill becomes exactly two settle calls (one per counterparty) plus fee
// routing, applied in match order so balance versions stay deterministic.
package settlement

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"janus/domain/balance"
	"janus/domain/orderbook"
	"janus/domain/reference"
)

// Trade is the immutable record of one match.
type Trade struct {
	ID           uint64
	Symbol       string
	MakerOrderID uint64
	TakerOrderID uint64
	TakerSide    orderbook.Side
	Price        int64
	Qty          int64
	MakerFee     int64 // charged on the maker's proceeds
	TakerFee     int64
	Time         int64
}

// Leg records one applied settle call for the WAL.
type Leg struct {
	HoldID       uint64
	Debit        int64
	CreditUser   uint64
	CreditAsset  string
	CreditAmount int64
	Fee          int64
	Version      uint64
}

// Settler applies fills to the ledger. It runs on the same stage thread
// that owns the ledger; it is not safe for concurrent use.
type Settler struct {
	ledger *balance.Ledger
	table  *reference.Table
	fees   FeePolicy
	log    *zap.Logger

	nextTrade uint64
}

func NewSettler(ledger *balance.Ledger, table *reference.Table, fees FeePolicy, log *zap.Logger) *Settler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Settler{ledger: ledger, table: table, fees: fees, log: log}
}

// NextTradeID exposes the trade counter for snapshots.
func (s *Settler) NextTradeID() uint64 { return s.nextTrade }

func (s *Settler) SetNextTradeID(v uint64) { s.nextTrade = v }

// Apply settles one fill: the buyer's quote hold pays the seller, the
// seller's base hold pays the buyer, fees go to the system account.
// A failure here is an internal-consistency violation — the lock step
// already guaranteed sufficiency — so Apply panics instead of returning
// an error.
func (s *Settler) Apply(f orderbook.Fill) (Trade, [2]Leg) {
	sym, err := s.table.Symbol(f.Symbol)
	if err != nil {
		panic(fmt.Sprintf("settlement: fill for unknown symbol %s", f.Symbol))
	}

	var buyerUser, sellerUser, buyerHold, sellerHold uint64
	if f.TakerSide == orderbook.Bid {
		buyerUser, buyerHold = f.TakerUserID, f.TakerHoldID
		sellerUser, sellerHold = f.MakerUserID, f.MakerHoldID
	} else {
		buyerUser, buyerHold = f.MakerUserID, f.MakerHoldID
		sellerUser, sellerHold = f.TakerUserID, f.TakerHoldID
	}

	quoteAmt := s.table.QuoteUnits(sym, f.Price, f.Qty)
	baseAmt := s.table.BaseUnits(sym, f.Qty)

	// The seller's fee comes out of quote proceeds, the buyer's out of
	// base proceeds; maker/taker rate follows who rested.
	var buyerFee, sellerFee int64
	if f.TakerSide == orderbook.Bid {
		buyerFee = s.fees.TakerFee(baseAmt)
		sellerFee = s.fees.MakerFee(quoteAmt)
	} else {
		buyerFee = s.fees.MakerFee(baseAmt)
		sellerFee = s.fees.TakerFee(quoteAmt)
	}

	v1 := s.ledger.Settle(buyerHold, quoteAmt, sellerUser, sym.Quote, quoteAmt-sellerFee, sellerFee)
	v2 := s.ledger.Settle(sellerHold, baseAmt, buyerUser, sym.Base, baseAmt-buyerFee, buyerFee)

	s.nextTrade++
	trade := Trade{
		ID:           s.nextTrade,
		Symbol:       f.Symbol,
		MakerOrderID: f.MakerOrderID,
		TakerOrderID: f.TakerOrderID,
		TakerSide:    f.TakerSide,
		Price:        f.Price,
		Qty:          f.Qty,
		Time:         time.Now().UnixNano(),
	}
	if f.TakerSide == orderbook.Bid {
		trade.MakerFee, trade.TakerFee = sellerFee, buyerFee
	} else {
		trade.MakerFee, trade.TakerFee = buyerFee, sellerFee
	}

	legs := [2]Leg{
		{HoldID: buyerHold, Debit: quoteAmt, CreditUser: sellerUser, CreditAsset: sym.Quote,
			CreditAmount: quoteAmt - sellerFee, Fee: sellerFee, Version: v1},
		{HoldID: sellerHold, Debit: baseAmt, CreditUser: buyerUser, CreditAsset: sym.Base,
			CreditAmount: baseAmt - buyerFee, Fee: buyerFee, Version: v2},
	}
	return trade, legs
}

// Package snapshot captures and restores full engine state: every resting
// order, every account, every outstanding hold, plus the WAL sequence the
// capture covers. Recovery loads the latest valid snapshot and replays
// only the WAL tail past it.
package snapshot

import (
	"time"

	"janus/domain/balance"
	"janus/domain/orderbook"
)

// Snapshot is the point-in-time serialization of the exchange core.
type Snapshot struct {
	WalSeq  uint64
	Created time.Time

	Books    []BookState
	Accounts []balance.AccountState
	Holds    []balance.Hold
	NextHold uint64

	NextTrade uint64
}

type BookState struct {
	Symbol  string
	NextSeq uint64
	Orders  []OrderEntry
}

type OrderEntry struct {
	ID       uint64
	UserID   uint64
	ClientID string
	SeqID    uint64
	HoldID   uint64
	Side     uint8
	Price    int64
	Qty      int64
	Filled   int64
	Status   uint8
}

// CaptureBook serializes one book's resting orders in deterministic walk
// order (bids best-first, then asks best-first, FIFO within levels).
func CaptureBook(b *orderbook.OrderBook) BookState {
	st := BookState{
		Symbol:  b.Symbol,
		NextSeq: b.NextSeq(),
	}
	b.WalkResting(func(o *orderbook.Order) {
		st.Orders = append(st.Orders, OrderEntry{
			ID:       o.ID,
			UserID:   o.UserID,
			ClientID: o.ClientID,
			SeqID:    o.SeqID,
			HoldID:   o.HoldID,
			Side:     uint8(o.Side),
			Price:    o.Price,
			Qty:      o.Qty,
			Filled:   o.Filled,
			Status:   uint8(o.Status),
		})
	})
	return st
}

// RestoreBook rebuilds a book from its captured state.
func RestoreBook(st BookState) *orderbook.OrderBook {
	b := orderbook.NewOrderBook(st.Symbol)
	for _, e := range st.Orders {
		o := &orderbook.Order{
			ID:       e.ID,
			UserID:   e.UserID,
			ClientID: e.ClientID,
			Symbol:   st.Symbol,
			Side:     orderbook.Side(e.Side),
			Type:     orderbook.Limit,
			TIF:      orderbook.GTC,
			Status:   orderbook.Status(e.Status),
			Price:    e.Price,
			Qty:      e.Qty,
			Filled:   e.Filled,
			SeqID:    e.SeqID,
			HoldID:   e.HoldID,
		}
		b.InsertResting(o)
	}
	b.SetNextSeq(st.NextSeq)
	return b
}

package orderbook

import "fmt"

// Fill is an immutable match result handed across the stage boundary.
// It carries copies of everything settlement needs so no stage other than
// the matching owner ever touches a resting Order.
type Fill struct {
	Symbol string

	MakerOrderID uint64
	TakerOrderID uint64
	MakerUserID  uint64
	TakerUserID  uint64
	MakerHoldID  uint64
	TakerHoldID  uint64

	TakerSide Side
	Price     int64 // maker's price
	Qty       int64

	MakerRemaining int64
	TakerRemaining int64
	MakerDone      bool
}

// PlaceOutcome reports what happened to an inbound order.
type PlaceOutcome struct {
	Fills      []Fill
	Resting    bool
	ExpiredQty int64
	Rejected   bool
}

// OrderBook is a single-writer price-time-priority book for one symbol.
// Only the matching stage may call its mutating methods.
type OrderBook struct {
	Symbol string

	Bids *RBTree
	Asks *RBTree

	// index maps order id to the single authoritative Order instance so
	// Cancel/Reduce/Move never scan the book.
	index map[uint64]*Order

	nextSeq uint64
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   NewRBTree(),
		Asks:   NewRBTree(),
		index:  make(map[uint64]*Order),
	}
}

func (b *OrderBook) Lookup(id uint64) *Order {
	return b.index[id]
}

func (b *OrderBook) BestBid() *PriceLevel { return b.Bids.MaxLevel() }
func (b *OrderBook) BestAsk() *PriceLevel { return b.Asks.MinLevel() }

func (b *OrderBook) Depth() int {
	return len(b.index)
}

// NextSeq exposes the insertion counter for snapshots.
func (b *OrderBook) NextSeq() uint64 { return b.nextSeq }

func (b *OrderBook) SetNextSeq(v uint64) { b.nextSeq = v }

// Place runs the matching traversal for an inbound order and decides the
// fate of any remainder by time-in-force. The order must not already be
// in the book.
func (b *OrderBook) Place(o *Order) PlaceOutcome {
	if _, dup := b.index[o.ID]; dup {
		panic(fmt.Sprintf("orderbook %s: duplicate order id %d", b.Symbol, o.ID))
	}

	b.nextSeq++
	o.SeqID = b.nextSeq

	var out PlaceOutcome

	// FOK is all-or-nothing: dry-run the liquidity sum before any
	// mutation so a failed FOK leaves zero side effects.
	if o.TIF == FOK {
		if b.availableWithin(o.Side, o.Price, o.Type == Market && o.Price == 0) < o.Remaining() {
			o.Status = Rejected
			out.Rejected = true
			return out
		}
	}

	// PostOnly never takes liquidity.
	if o.PostOnly && b.wouldCross(o) {
		o.Status = Rejected
		out.Rejected = true
		return out
	}

	out.Fills = b.match(o)

	switch {
	case o.Remaining() == 0:
		o.Status = Filled
	case o.Type == Market || o.TIF == IOC || o.TIF == FOK:
		// Remainder never rests, even when the traversal stopped
		// mid-ladder on a non-crossing level.
		out.ExpiredQty = o.Remaining()
		o.Status = Expired
	default:
		b.rest(o)
		out.Resting = true
	}

	b.assertUncrossed()
	return out
}

// Cancel unlinks a resting order in place. O(1) apart from the level
// delete when the last order at a price goes away.
func (b *OrderBook) Cancel(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	b.remove(o)
	o.Status = Canceled
	return o, true
}

// Reduce shrinks a resting order's open quantity by delta, keeping its
// FIFO position. A delta at or beyond the open quantity cancels instead.
func (b *OrderBook) Reduce(id uint64, delta int64) (*Order, bool) {
	o, ok := b.index[id]
	if !ok || delta <= 0 {
		return nil, false
	}
	if delta >= o.Remaining() {
		return b.Cancel(id)
	}
	o.Qty -= delta
	o.level.ReduceQty(o, delta)
	return o, true
}

// Move is cancel-and-replace: the order leaves its FIFO slot and re-enters
// at the back of the target level, re-matching first if the new price
// crosses. Time priority is always forfeited, even at an unchanged price.
func (b *OrderBook) Move(id uint64, newPrice int64) (*Order, PlaceOutcome, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, PlaceOutcome{}, false
	}
	b.remove(o)
	o.Price = newPrice

	b.nextSeq++
	o.SeqID = b.nextSeq

	var out PlaceOutcome
	out.Fills = b.match(o)
	if o.Remaining() == 0 {
		o.Status = Filled
	} else {
		b.rest(o)
		out.Resting = true
	}
	b.assertUncrossed()
	return o, out, true
}

/******************** Matching ********************/

func (b *OrderBook) match(o *Order) []Fill {
	var fills []Fill

	opposite := b.Asks
	if o.Side == Ask {
		opposite = b.Bids
	}

	for o.Remaining() > 0 {
		best := b.bestOpposite(o.Side)
		if best == nil || !crosses(o, best.Price) {
			break
		}

		maker := best.Head()
		qty := min64(o.Remaining(), maker.Remaining())

		maker.Filled += qty
		o.Filled += qty
		best.FillQty(qty)

		if maker.Remaining() == 0 {
			maker.Status = Filled
		} else {
			maker.Status = PartiallyFilled
		}
		if o.Remaining() == 0 {
			o.Status = Filled
		} else {
			o.Status = PartiallyFilled
		}

		fills = append(fills, Fill{
			Symbol:         b.Symbol,
			MakerOrderID:   maker.ID,
			TakerOrderID:   o.ID,
			MakerUserID:    maker.UserID,
			TakerUserID:    o.UserID,
			MakerHoldID:    maker.HoldID,
			TakerHoldID:    o.HoldID,
			TakerSide:      o.Side,
			Price:          maker.Price,
			Qty:            qty,
			MakerRemaining: maker.Remaining(),
			TakerRemaining: o.Remaining(),
			MakerDone:      maker.Remaining() == 0,
		})

		if maker.Remaining() == 0 {
			best.Unlink(maker)
			delete(b.index, maker.ID)
			if best.Empty() {
				opposite.DeleteLevel(best.Price)
			}
		}
	}
	return fills
}

func (b *OrderBook) bestOpposite(side Side) *PriceLevel {
	if side == Bid {
		return b.Asks.MinLevel()
	}
	return b.Bids.MaxLevel()
}

// crosses reports whether o takes liquidity at restingPrice. A market
// order's Price is its protective cap; zero means uncapped.
func crosses(o *Order, restingPrice int64) bool {
	if o.Type == Market && o.Price == 0 {
		return true
	}
	if o.Side == Bid {
		return restingPrice <= o.Price
	}
	return restingPrice >= o.Price
}

func (b *OrderBook) wouldCross(o *Order) bool {
	best := b.bestOpposite(o.Side)
	return best != nil && crosses(o, best.Price)
}

// availableWithin sums crossing liquidity using level aggregates only.
// limit is the limit price or the market cap; uncapped ignores it.
func (b *OrderBook) availableWithin(side Side, limit int64, uncapped bool) int64 {
	var sum int64
	walk := b.Asks.ForEachAscending
	if side == Ask {
		walk = b.Bids.ForEachDescending
	}
	walk(func(lvl *PriceLevel) bool {
		if !uncapped {
			if side == Bid && lvl.Price > limit {
				return false
			}
			if side == Ask && lvl.Price < limit {
				return false
			}
		}
		sum += lvl.TotalQty
		return true
	})
	return sum
}

/******************** Book maintenance ********************/

func (b *OrderBook) rest(o *Order) {
	tree := b.Bids
	if o.Side == Ask {
		tree = b.Asks
	}
	tree.UpsertLevel(o.Price).Enqueue(o)
	b.index[o.ID] = o
}

func (b *OrderBook) remove(o *Order) {
	lvl := o.level
	if lvl == nil {
		panic(fmt.Sprintf("orderbook %s: order %d indexed but not linked", b.Symbol, o.ID))
	}
	lvl.Unlink(o)
	delete(b.index, o.ID)
	if lvl.Empty() {
		if o.Side == Bid {
			b.Bids.DeleteLevel(lvl.Price)
		} else {
			b.Asks.DeleteLevel(lvl.Price)
		}
	}
}

// InsertResting places an order directly into the book without matching.
// Used by snapshot restore and WAL replay, which re-apply recorded state
// instead of re-running the matching traversal.
func (b *OrderBook) InsertResting(o *Order) {
	if _, dup := b.index[o.ID]; dup {
		return // already applied
	}
	b.rest(o)
	if o.SeqID > b.nextSeq {
		b.nextSeq = o.SeqID
	}
}

// ApplyFill re-applies a recorded fill against a resting maker.
// Idempotent: the recorded post-fill remaining is authoritative.
func (b *OrderBook) ApplyFill(makerID uint64, remaining int64, done bool) {
	o, ok := b.index[makerID]
	if !ok {
		return // already consumed
	}
	delta := o.Remaining() - remaining
	if delta <= 0 {
		return
	}
	o.Filled += delta
	o.level.FillQty(delta)
	if done {
		b.remove(o)
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

// ApplyReduce re-applies a recorded in-place quantity reduction.
func (b *OrderBook) ApplyReduce(id uint64, delta int64) {
	o, ok := b.index[id]
	if !ok {
		return
	}
	o.Qty -= delta
	o.level.ReduceQty(o, delta)
}

// ApplyRemove re-applies a recorded cancel/expire.
func (b *OrderBook) ApplyRemove(id uint64, status Status) {
	o, ok := b.index[id]
	if !ok {
		return
	}
	b.remove(o)
	o.Status = status
}

// WalkResting visits every resting order, bids best-first then asks
// best-first, in FIFO order within each level.
func (b *OrderBook) WalkResting(fn func(*Order)) {
	b.Bids.ForEachDescending(func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			fn(o)
		}
		return true
	})
	b.Asks.ForEachAscending(func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			fn(o)
		}
		return true
	})
}

// assertUncrossed halts the engine rather than letting a crossed book
// persist past a mutation.
func (b *OrderBook) assertUncrossed() {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid != nil && ask != nil && bid.Price >= ask.Price {
		panic(fmt.Sprintf("orderbook %s: crossed book bid=%d ask=%d", b.Symbol, bid.Price, ask.Price))
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package orderbook

import "testing"

var nextID uint64

func limit(side Side, price, qty int64) *Order {
	nextID++
	return &Order{ID: nextID, UserID: nextID, Symbol: "BTC-USDT",
		Side: side, Type: Limit, TIF: GTC, Price: price, Qty: qty}
}

func TestLimitOrderInsertAndMatch(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Bid, 100, 5))
	out := b.Place(limit(Ask, 100, 5))

	if len(out.Fills) != 1 || out.Fills[0].Qty != 5 {
		t.Fatalf("expected one full fill, got %+v", out.Fills)
	}
	if b.Depth() != 0 {
		t.Error("orders should have matched and book emptied")
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	first := limit(Bid, 100, 5)
	second := limit(Bid, 100, 5)
	better := limit(Bid, 101, 5)
	b.Place(first)
	b.Place(second)
	b.Place(better)

	out := b.Place(limit(Ask, 100, 12))
	if len(out.Fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(out.Fills))
	}
	if out.Fills[0].MakerOrderID != better.ID {
		t.Error("best price should fill first")
	}
	if out.Fills[1].MakerOrderID != first.ID || out.Fills[2].MakerOrderID != second.ID {
		t.Error("same-price fills should follow insertion order")
	}
	if out.Fills[2].Qty != 2 {
		t.Errorf("last fill should be partial 2, got %d", out.Fills[2].Qty)
	}
}

func TestFillsAtMakerPrice(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))

	out := b.Place(limit(Bid, 105, 5))
	if len(out.Fills) != 1 || out.Fills[0].Price != 100 {
		t.Errorf("fill should execute at the resting price, got %+v", out.Fills)
	}
}

func TestIOCLadder(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))
	b.Place(limit(Ask, 101, 5))
	untouched := limit(Ask, 102, 5)
	b.Place(untouched)

	o := limit(Bid, 101, 12)
	o.TIF = IOC
	out := b.Place(o)

	if got := o.Filled; got != 10 {
		t.Errorf("IOC should fill 10 within its limit, filled %d", got)
	}
	if out.ExpiredQty != 2 {
		t.Errorf("IOC remainder should expire, got %d", out.ExpiredQty)
	}
	if o.Status != Expired {
		t.Errorf("status = %v, want EXPIRED", o.Status)
	}
	if untouched.Remaining() != 5 {
		t.Error("level beyond the limit must not trade")
	}
	if b.Bids.Size() != 0 {
		t.Error("IOC order should not persist in the book")
	}
}

func TestFOKAllOrNothing(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))

	o := limit(Bid, 100, 8)
	o.TIF = FOK
	out := b.Place(o)
	if !out.Rejected || len(out.Fills) != 0 {
		t.Error("FOK beyond available liquidity must reject with zero fills")
	}
	if resting := b.Asks.Size(); resting != 1 {
		t.Error("failed FOK must leave the book untouched")
	}

	o2 := limit(Bid, 100, 5)
	o2.TIF = FOK
	out2 := b.Place(o2)
	if out2.Rejected || o2.Remaining() != 0 {
		t.Error("coverable FOK should fill completely")
	}
}

func TestPostOnly(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))

	crossing := limit(Bid, 100, 5)
	crossing.PostOnly = true
	if out := b.Place(crossing); !out.Rejected {
		t.Error("post-only order that would cross must reject")
	}

	passive := limit(Bid, 99, 5)
	passive.PostOnly = true
	if out := b.Place(passive); !out.Resting {
		t.Error("post-only order should rest when it does not cross")
	}
}

func TestMarketOrderNeverRests(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))

	o := limit(Bid, 110, 8) // price acts as the protective cap
	o.Type = Market
	out := b.Place(o)
	if o.Filled != 5 || out.ExpiredQty != 3 {
		t.Errorf("market buy should take 5 and expire 3, got filled=%d expired=%d", o.Filled, out.ExpiredQty)
	}
	if b.Bids.Size() != 0 {
		t.Error("market order should not persist in the book")
	}
}

func TestMarketBuyStopsAtCap(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))
	b.Place(limit(Ask, 150, 5))

	o := limit(Bid, 120, 8) // cap 120: the 150 level is out of reach
	o.Type = Market
	out := b.Place(o)
	if o.Filled != 5 || out.ExpiredQty != 3 {
		t.Errorf("capped market buy should take 5 and expire 3, got filled=%d expired=%d", o.Filled, out.ExpiredQty)
	}
	if best := b.BestAsk(); best == nil || best.Price != 150 || best.TotalQty != 5 {
		t.Error("level beyond the cap must be untouched")
	}
}

func TestMarketBuyEntirelyAboveCapExpires(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 150, 5))

	o := limit(Bid, 100, 5)
	o.Type = Market
	out := b.Place(o)
	if len(out.Fills) != 0 || out.ExpiredQty != 5 || o.Status != Expired {
		t.Errorf("no liquidity within cap: want 0 fills, 5 expired, got %d fills expired=%d", len(out.Fills), out.ExpiredQty)
	}
	if b.BestAsk().TotalQty != 5 {
		t.Error("resting ask must be untouched")
	}
}

func TestMarketFOKRespectsCap(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Ask, 100, 5))
	b.Place(limit(Ask, 150, 5))

	o := limit(Bid, 120, 8) // only 5 available within the cap
	o.Type = Market
	o.TIF = FOK
	out := b.Place(o)
	if !out.Rejected || len(out.Fills) != 0 {
		t.Error("capped market FOK beyond in-cap liquidity must reject with no fills")
	}
	if b.BestAsk().TotalQty != 5 {
		t.Error("failed FOK must leave the book unchanged")
	}
}

func TestUncappedMarketSellSweeps(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Bid, 100, 3))
	b.Place(limit(Bid, 90, 3))

	o := limit(Ask, 0, 6) // zero cap: sweep every level
	o.Type = Market
	b.Place(o)
	if o.Filled != 6 || o.Status != Filled {
		t.Errorf("uncapped market sell should sweep 6, got filled=%d status=%v", o.Filled, o.Status)
	}
	if b.Bids.Size() != 0 {
		t.Error("bids should be exhausted")
	}
}

func TestCancel(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	o := limit(Bid, 100, 5)
	b.Place(o)

	got, ok := b.Cancel(o.ID)
	if !ok || got.Status != Canceled {
		t.Error("cancel should succeed and mark the order canceled")
	}
	if b.Depth() != 0 {
		t.Error("order should have been removed")
	}
	if _, ok := b.Cancel(o.ID); ok {
		t.Error("double cancel must report not found")
	}
}

func TestReduceKeepsPriority(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	first := limit(Bid, 100, 10)
	second := limit(Bid, 100, 10)
	b.Place(first)
	b.Place(second)

	if _, ok := b.Reduce(first.ID, 4); !ok {
		t.Fatal("reduce failed")
	}
	if first.Remaining() != 6 {
		t.Errorf("remaining = %d, want 6", first.Remaining())
	}

	out := b.Place(limit(Ask, 100, 3))
	if out.Fills[0].MakerOrderID != first.ID {
		t.Error("reduced order must keep its queue position")
	}
}

func TestReduceBeyondRemainingCancels(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	o := limit(Bid, 100, 5)
	b.Place(o)

	got, ok := b.Reduce(o.ID, 5)
	if !ok || got.Status != Canceled {
		t.Error("reduce at full remaining should cancel")
	}
	if b.Depth() != 0 {
		t.Error("order should be gone")
	}
}

func TestMoveForfeitsPriority(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	first := limit(Bid, 100, 5)
	second := limit(Bid, 100, 5)
	b.Place(first)
	b.Place(second)

	if _, _, ok := b.Move(first.ID, 100); !ok {
		t.Fatal("move failed")
	}

	out := b.Place(limit(Ask, 100, 5))
	if out.Fills[0].MakerOrderID != second.ID {
		t.Error("moved order must go to the back even at the same price")
	}
}

func TestMoveRematches(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	resting := limit(Ask, 105, 5)
	b.Place(resting)
	bid := limit(Bid, 100, 5)
	b.Place(bid)

	o, out, ok := b.Move(bid.ID, 105)
	if !ok {
		t.Fatal("move failed")
	}
	if len(out.Fills) != 1 || o.Status != Filled {
		t.Errorf("repriced bid should fill against the ask, got %+v", out)
	}
	if b.Depth() != 0 {
		t.Error("both orders should be gone")
	}
}

func TestReplayHooksIdempotent(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	o := limit(Ask, 100, 10)
	b.Place(o)

	b.ApplyFill(o.ID, 4, false)
	b.ApplyFill(o.ID, 4, false) // replayed record, no second effect
	if o.Remaining() != 4 {
		t.Errorf("remaining = %d, want 4", o.Remaining())
	}

	b.ApplyRemove(o.ID, Canceled)
	b.ApplyRemove(o.ID, Canceled)
	if b.Depth() != 0 {
		t.Error("order should be removed exactly once")
	}

	dup := limit(Bid, 99, 1)
	b.InsertResting(dup)
	b.InsertResting(dup)
	if b.Bids.Size() != 1 {
		t.Error("duplicate insert must be a no-op")
	}
}

func TestUncrossedAfterPlace(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	b.Place(limit(Bid, 100, 5))
	b.Place(limit(Ask, 101, 5))

	bid, ask := b.BestBid(), b.BestAsk()
	if bid.Price >= ask.Price {
		t.Errorf("book crossed: bid=%d ask=%d", bid.Price, ask.Price)
	}
}

// Cancel must stay O(1) in book depth: the index points straight at the
// order, never a level scan.
func BenchmarkCancelDeepBook(b *testing.B) {
	book := NewOrderBook("BTC-USDT")
	ids := make([]uint64, 0, b.N+100000)
	for i := 0; i < b.N+100000; i++ {
		o := limit(Bid, int64(1+i%5000), 1)
		book.Place(o)
		ids = append(ids, o.ID)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Cancel(ids[i])
	}
}

func BenchmarkPlaceResting(b *testing.B) {
	book := NewOrderBook("BTC-USDT")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Place(limit(Bid, int64(1+i%1000), 1))
	}
}

func BenchmarkPlaceCrossing(b *testing.B) {
	book := NewOrderBook("BTC-USDT")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%2 == 0 {
			book.Place(limit(Ask, 100, 1))
		} else {
			book.Place(limit(Bid, 100, 1))
		}
	}
}

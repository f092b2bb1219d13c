package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"janus/domain/orderbook"
	"janus/domain/reference"
	"janus/infra/wal"
	"janus/snapshot"
)

/******************** gate ********************/

// gate validates commands against reference data. Read-only: a failed
// check marks the task rejected and the core stage emits the event, so
// rejection still consumes a sequence slot in command order.
func (e *Engine) gate(t *task) error {
	cmd := t.cmd
	switch cmd.Action {
	case takeSnapshot:
		return nil

	case Deposit:
		if cmd.Amount <= 0 {
			t.reject(ReasonBadAmount)
			return nil
		}
		if err := e.table.AssetEnabled(cmd.Asset); err != nil {
			t.reject(ReasonAssetDisabled)
		}
		return nil

	case Place:
		sym, err := e.table.Tradable(cmd.Symbol)
		if err != nil {
			if errors.Is(err, reference.ErrUnknownSymbol) {
				t.reject(ReasonUnknownSymbol)
			} else {
				t.reject(ReasonSymbolDisabled)
			}
			return nil
		}
		if e.table.AssetEnabled(sym.Base) != nil || e.table.AssetEnabled(sym.Quote) != nil {
			t.reject(ReasonAssetDisabled)
			return nil
		}
		if cmd.Qty <= 0 {
			t.reject(ReasonBadQty)
			return nil
		}
		if cmd.Qty < sym.MinQty {
			t.reject(ReasonBelowMinQty)
			return nil
		}
		// Market orders carry Price as the protective cap. A market
		// sell may run uncapped (zero), but a buy is funded against
		// its cap, so the cap must be positive.
		if cmd.Price < 0 {
			t.reject(ReasonBadPrice)
			return nil
		}
		if cmd.Price == 0 && !(cmd.Type == orderbook.Market && cmd.Side == orderbook.Ask) {
			t.reject(ReasonBadPrice)
		}
		return nil

	case Cancel, Reduce, Move:
		if _, err := e.table.Symbol(cmd.Symbol); err != nil {
			t.reject(ReasonUnknownSymbol)
			return nil
		}
		if cmd.Action == Reduce && cmd.Delta <= 0 {
			t.reject(ReasonBadQty)
		}
		if cmd.Action == Move && cmd.NewPrice <= 0 {
			t.reject(ReasonBadPrice)
		}
		return nil
	}
	return nil
}

func (t *task) reject(reason string) {
	t.rejected = true
	t.reason = reason
}

/******************** core ********************/

// core owns the books, the ledger and the settler. Everything it decides
// is described by the task's WAL records and events; the stages behind
// it only make those durable and visible.
func (e *Engine) core(t *task) error {
	cmd := t.cmd
	if cmd.Action == takeSnapshot {
		t.snap = e.capture()
		t.eventMark = e.eventSeq
		return nil
	}

	if t.rejected {
		id := cmd.OrderID
		if cmd.Action == Place {
			id = cmd.Seq // the id the order would have carried
		}
		e.emitRejected(t, id)
	} else {
		switch cmd.Action {
		case Place:
			e.corePlace(t)
		case Cancel:
			e.coreCancel(t)
		case Reduce:
			e.coreReduce(t)
		case Move:
			e.coreMove(t)
		case Deposit:
			e.coreDeposit(t)
		}
	}
	e.coreSeq = cmd.Seq
	return nil
}

func (e *Engine) emit(t *task, ev Event) {
	e.eventSeq++
	ev.Seq = e.eventSeq
	t.events = append(t.events, ev)
}

func (e *Engine) emitRejected(t *task, orderID uint64) {
	ev := newEvent(EventOrderRejected)
	ev.Symbol = t.cmd.Symbol
	ev.OrderID = orderID
	ev.ClientID = t.cmd.ClientID
	ev.UserID = t.cmd.UserID
	ev.Reason = t.reason
	e.emit(t, ev)
}

func (e *Engine) record(t *task, typ wal.RecordType, data []byte) {
	t.records = append(t.records, wal.NewRecord(typ, t.cmd.Seq, data))
}

func (e *Engine) corePlace(t *task) {
	cmd := t.cmd
	sym, _ := e.table.Symbol(cmd.Symbol)
	b := e.book(cmd.Symbol)

	o := &orderbook.Order{
		ID:       cmd.Seq,
		UserID:   cmd.UserID,
		ClientID: cmd.ClientID,
		Symbol:   cmd.Symbol,
		Side:     cmd.Side,
		Type:     cmd.Type,
		TIF:      cmd.TIF,
		PostOnly: cmd.PostOnly,
		Price:    cmd.Price,
		Qty:      cmd.Qty,
	}

	// Funds lock before any book mutation. A buy is funded against its
	// limit (or protective cap) price; fills at better prices return
	// the difference afterwards.
	lockAsset, lockAmt := sym.Base, e.table.BaseUnits(sym, cmd.Qty)
	if cmd.Side == orderbook.Bid {
		lockAsset, lockAmt = sym.Quote, e.table.QuoteUnits(sym, cmd.Price, cmd.Qty)
	}
	h, err := e.ledger.Lock(cmd.UserID, lockAsset, lockAmt)
	if err != nil {
		t.reject(ReasonInsufficientFunds)
		e.emitRejected(t, o.ID)
		return
	}
	o.HoldID = h.ID
	e.record(t, wal.RecordBalanceLock, wal.BalanceLockPayload{
		User:        cmd.UserID,
		Asset:       lockAsset,
		Amount:      lockAmt,
		HoldID:      h.ID,
		LockVersion: e.ledger.Get(cmd.UserID, lockAsset).LockVersion,
	}.Encode())

	out := b.Place(o)
	if out.Rejected {
		e.releaseHold(t, o.HoldID)
		reason := ReasonUnfillable
		if o.PostOnly {
			reason = ReasonWouldCross
		}
		t.reject(reason)
		e.emitRejected(t, o.ID)
		return
	}

	acc := newEvent(EventOrderAccepted)
	acc.Symbol = cmd.Symbol
	acc.OrderID = o.ID
	acc.ClientID = cmd.ClientID
	acc.UserID = cmd.UserID
	acc.Price = cmd.Price
	acc.Qty = cmd.Qty
	e.emit(t, acc)

	e.applyFills(t, out.Fills)

	if out.Resting {
		e.record(t, wal.RecordOrderInsert, insertPayload(o).Encode())
	}

	switch {
	case o.Status == orderbook.Filled:
		e.emitOrderEvent(t, EventOrderFilled, o)
	case o.Status == orderbook.Expired:
		e.emitOrderEvent(t, EventOrderExpired, o)
	case o.Filled > 0:
		e.emitOrderEvent(t, EventOrderPartiallyFilled, o)
	}

	e.reconcileHold(t, sym, o)
}

func (e *Engine) coreCancel(t *task) {
	cmd := t.cmd
	b := e.book(cmd.Symbol)
	o := b.Lookup(cmd.OrderID)
	if o == nil {
		t.reject(ReasonUnknownOrder)
		e.emitRejected(t, cmd.OrderID)
		return
	}
	if o.UserID != cmd.UserID {
		t.reject(ReasonNotOwner)
		e.emitRejected(t, cmd.OrderID)
		return
	}

	b.Cancel(cmd.OrderID)
	e.releaseHold(t, o.HoldID)
	e.record(t, wal.RecordOrderRemove, wal.OrderRemovePayload{
		Symbol:  cmd.Symbol,
		OrderID: o.ID,
		Status:  uint8(orderbook.Canceled),
	}.Encode())
	e.emitOrderEvent(t, EventOrderCanceled, o)
}

func (e *Engine) coreReduce(t *task) {
	cmd := t.cmd
	sym, _ := e.table.Symbol(cmd.Symbol)
	b := e.book(cmd.Symbol)
	o := b.Lookup(cmd.OrderID)
	if o == nil {
		t.reject(ReasonUnknownOrder)
		e.emitRejected(t, cmd.OrderID)
		return
	}
	if o.UserID != cmd.UserID {
		t.reject(ReasonNotOwner)
		e.emitRejected(t, cmd.OrderID)
		return
	}

	// A delta at or beyond the open quantity is a cancel; the book
	// already collapsed the two cases.
	b.Reduce(cmd.OrderID, cmd.Delta)
	if o.Status == orderbook.Canceled {
		e.releaseHold(t, o.HoldID)
		e.record(t, wal.RecordOrderRemove, wal.OrderRemovePayload{
			Symbol:  cmd.Symbol,
			OrderID: o.ID,
			Status:  uint8(orderbook.Canceled),
		}.Encode())
		e.emitOrderEvent(t, EventOrderCanceled, o)
		return
	}

	unlock := e.table.BaseUnits(sym, cmd.Delta)
	if o.Side == orderbook.Bid {
		unlock = e.table.QuoteUnits(sym, o.Price, cmd.Delta)
	}
	ver := e.ledger.Unlock(o.HoldID, unlock)
	e.record(t, wal.RecordOrderReduce, wal.OrderReducePayload{
		Symbol:  cmd.Symbol,
		OrderID: o.ID,
		Delta:   cmd.Delta,
	}.Encode())
	e.record(t, wal.RecordBalanceUnlock, wal.BalanceUnlockPayload{
		HoldID:      o.HoldID,
		Amount:      unlock,
		LockVersion: ver,
	}.Encode())
	e.emitOrderEvent(t, EventOrderReduced, o)
}

func (e *Engine) coreMove(t *task) {
	cmd := t.cmd
	sym, _ := e.table.Symbol(cmd.Symbol)
	b := e.book(cmd.Symbol)
	o := b.Lookup(cmd.OrderID)
	if o == nil {
		t.reject(ReasonUnknownOrder)
		e.emitRejected(t, cmd.OrderID)
		return
	}
	if o.UserID != cmd.UserID {
		t.reject(ReasonNotOwner)
		e.emitRejected(t, cmd.OrderID)
		return
	}

	// Repricing a bid upward can need more quote funds than the
	// original lock; secure them before touching the book so a failed
	// move leaves the order exactly where it was.
	if o.Side == orderbook.Bid && cmd.NewPrice > o.Price {
		h, _ := e.ledger.Hold(o.HoldID)
		want := e.table.QuoteUnits(sym, cmd.NewPrice, o.Remaining())
		if h.Remaining < want {
			add := want - h.Remaining
			ver, err := e.ledger.IncreaseHold(o.HoldID, add)
			if err != nil {
				t.reject(ReasonInsufficientFunds)
				e.emitRejected(t, cmd.OrderID)
				return
			}
			e.record(t, wal.RecordBalanceLock, wal.BalanceLockPayload{
				User:        o.UserID,
				Asset:       sym.Quote,
				Amount:      add,
				HoldID:      o.HoldID,
				LockVersion: ver,
			}.Encode())
		}
	}

	// Replay sees a move as remove plus re-insert, with any fills from
	// the re-match in between.
	e.record(t, wal.RecordOrderRemove, wal.OrderRemovePayload{
		Symbol:  cmd.Symbol,
		OrderID: o.ID,
		Status:  uint8(orderbook.New),
	}.Encode())

	_, out, _ := b.Move(cmd.OrderID, cmd.NewPrice)

	mv := newEvent(EventOrderMoved)
	mv.Symbol = cmd.Symbol
	mv.OrderID = o.ID
	mv.ClientID = o.ClientID
	mv.UserID = o.UserID
	mv.Price = cmd.NewPrice
	mv.Remaining = o.Remaining()
	e.emit(t, mv)

	e.applyFills(t, out.Fills)

	if out.Resting {
		e.record(t, wal.RecordOrderInsert, insertPayload(o).Encode())
	}
	if o.Status == orderbook.Filled {
		e.emitOrderEvent(t, EventOrderFilled, o)
	} else if len(out.Fills) > 0 {
		e.emitOrderEvent(t, EventOrderPartiallyFilled, o)
	}

	e.reconcileHold(t, sym, o)
}

func (e *Engine) coreDeposit(t *task) {
	cmd := t.cmd
	ver := e.ledger.Deposit(cmd.UserID, cmd.Asset, cmd.Amount)
	e.record(t, wal.RecordDeposit, wal.DepositPayload{
		User:          cmd.UserID,
		Asset:         cmd.Asset,
		Amount:        cmd.Amount,
		SettleVersion: ver,
	}.Encode())

	ev := newEvent(EventDeposit)
	ev.UserID = cmd.UserID
	ev.Asset = cmd.Asset
	ev.Amount = cmd.Amount
	e.emit(t, ev)
}

// applyFills settles each fill in match order, recording the maker-side
// book mutation and both balance legs.
func (e *Engine) applyFills(t *task, fills []orderbook.Fill) {
	for _, f := range fills {
		trade, legs := e.settler.Apply(f)
		t.trades = append(t.trades, trade)

		e.record(t, wal.RecordOrderFill, wal.OrderFillPayload{
			Symbol:       f.Symbol,
			MakerOrderID: f.MakerOrderID,
			Qty:          f.Qty,
			Remaining:    f.MakerRemaining,
			Done:         f.MakerDone,
		}.Encode())
		for _, leg := range legs {
			e.record(t, wal.RecordBalanceSettle, wal.BalanceSettlePayload{
				HoldID:        leg.HoldID,
				Debit:         leg.Debit,
				CreditUser:    leg.CreditUser,
				CreditAsset:   leg.CreditAsset,
				CreditAmount:  leg.CreditAmount,
				Fee:           leg.Fee,
				SettleVersion: leg.Version,
			}.Encode())
		}
		if f.MakerDone {
			// The maker's hold is fully consumed; close it out.
			e.releaseHold(t, f.MakerHoldID)
		}

		mtype := EventOrderPartiallyFilled
		if f.MakerDone {
			mtype = EventOrderFilled
		}
		mev := newEvent(mtype)
		mev.Symbol = f.Symbol
		mev.OrderID = f.MakerOrderID
		mev.UserID = f.MakerUserID
		mev.Price = f.Price
		mev.Qty = f.Qty
		mev.Remaining = f.MakerRemaining
		e.emit(t, mev)

		tev := newEvent(EventTrade)
		tev.Symbol = f.Symbol
		tev.TradeID = trade.ID
		tev.MakerOrderID = f.MakerOrderID
		tev.TakerOrderID = f.TakerOrderID
		tev.Price = f.Price
		tev.Qty = f.Qty
		tev.MakerFee = trade.MakerFee
		tev.TakerFee = trade.TakerFee
		e.emit(t, tev)
	}
}

// reconcileHold trims an order's hold down to what its open quantity
// still needs. Price improvement and expired remainders both surface
// here as excess frozen funds.
func (e *Engine) reconcileHold(t *task, sym reference.Symbol, o *orderbook.Order) {
	h, ok := e.ledger.Hold(o.HoldID)
	if !ok {
		return
	}
	var want int64
	if !o.Status.Terminal() {
		if o.Side == orderbook.Bid {
			want = e.table.QuoteUnits(sym, o.Price, o.Remaining())
		} else {
			want = e.table.BaseUnits(sym, o.Remaining())
		}
	}
	if want == 0 {
		e.releaseHold(t, o.HoldID)
		return
	}
	if excess := h.Remaining - want; excess > 0 {
		ver := e.ledger.Unlock(o.HoldID, excess)
		e.record(t, wal.RecordBalanceUnlock, wal.BalanceUnlockPayload{
			HoldID:      o.HoldID,
			Amount:      excess,
			LockVersion: ver,
		}.Encode())
	}
}

func (e *Engine) releaseHold(t *task, holdID uint64) {
	amt, ver := e.ledger.Release(holdID)
	if amt > 0 {
		e.record(t, wal.RecordBalanceUnlock, wal.BalanceUnlockPayload{
			HoldID:      holdID,
			Amount:      amt,
			LockVersion: ver,
		}.Encode())
	}
}

func (e *Engine) emitOrderEvent(t *task, typ EventType, o *orderbook.Order) {
	ev := newEvent(typ)
	ev.Symbol = o.Symbol
	ev.OrderID = o.ID
	ev.ClientID = o.ClientID
	ev.UserID = o.UserID
	ev.Price = o.Price
	ev.Qty = o.Qty
	ev.Filled = o.Filled
	ev.Remaining = o.Remaining()
	e.emit(t, ev)
}

func insertPayload(o *orderbook.Order) wal.OrderInsertPayload {
	return wal.OrderInsertPayload{
		Symbol:  o.Symbol,
		OrderID: o.ID,
		UserID:  o.UserID,
		SeqID:   o.SeqID,
		HoldID:  o.HoldID,
		Side:    uint8(o.Side),
		Price:   o.Price,
		Qty:     o.Qty,
		Filled:  o.Filled,
	}
}

// capture copies the core state for a snapshot, on the core thread so
// nothing mutates underneath it.
func (e *Engine) capture() *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		WalSeq:  e.coreSeq,
		Created: time.Now(),
	}
	symbols := make([]string, 0, len(e.books))
	for sym := range e.books {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		s.Books = append(s.Books, snapshot.CaptureBook(e.books[sym]))
	}
	s.Accounts, s.Holds, s.NextHold = e.ledger.Export()
	s.NextTrade = e.settler.NextTradeID()
	return s
}

/******************** persist ********************/

// persist appends the task's WAL records and stores its events in the
// outbox. A failure here is fatal: the core already mutated state the
// log now cannot vouch for.
func (e *Engine) persist(t *task) error {
	if t.snap != nil {
		err := e.persistSnapshot(t)
		t.done <- err
		return err
	}

	for _, r := range t.records {
		if err := e.retryIO(func() error { return e.wal.Append(r) }); err != nil {
			return err
		}
	}
	if len(t.records) > 0 {
		// The commit closes the command's record group; replay discards
		// record groups whose commit never hit disk, so a crash between
		// two settle legs cannot recover into a half-applied trade.
		commit := wal.NewRecord(wal.RecordCommit, t.cmd.Seq, nil)
		if err := e.retryIO(func() error { return e.wal.Append(commit) }); err != nil {
			return err
		}
	}
	for i := range t.events {
		payload, err := t.events[i].Encode()
		if err != nil {
			return err
		}
		ev := t.events[i]
		if err := e.retryIO(func() error { return e.outbox.Put(ev.Seq, payload) }); err != nil {
			return err
		}
	}
	return nil
}

// retryIO retries a durable write with backoff, stalling the pipeline
// instead of dropping the entry. Exhausting the retries is fatal.
func (e *Engine) retryIO(fn func() error) error {
	var err error
	for attempt, backoff := 0, 10*time.Millisecond; attempt < 5; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		e.log.Warn("durable write failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func (e *Engine) persistSnapshot(t *task) error {
	if err := e.snaps.Write(t.snap); err != nil {
		return err
	}
	if err := e.wal.TruncateBefore(t.snap.WalSeq); err != nil {
		return err
	}
	if err := e.outbox.TruncateAckedUpTo(t.eventMark); err != nil {
		return err
	}
	e.log.Info("snapshot written",
		zap.Uint64("wal_seq", t.snap.WalSeq),
		zap.Int("books", len(t.snap.Books)),
		zap.Int("accounts", len(t.snap.Accounts)))
	return nil
}

/******************** egress ********************/

// egress publishes trades to the market data feed and mirrors events on
// the in-process channel. Both are best effort; the outbox broadcaster
// is the durable delivery path.
func (e *Engine) egress(t *task) error {
	if t.snap != nil {
		return nil
	}

	if e.feed != nil {
		for _, tr := range t.trades {
			if err := e.feed.PublishTrade(context.Background(), tr); err != nil {
				e.log.Warn("feed publish failed",
					zap.Uint64("trade", tr.ID),
					zap.Error(err))
			}
		}
	}

	for _, ev := range t.events {
		select {
		case e.events <- ev:
		default:
			e.log.Warn("event channel full, dropping",
				zap.Uint64("seq", ev.Seq),
				zap.String("type", string(ev.Type)))
		}
	}
	return nil
}

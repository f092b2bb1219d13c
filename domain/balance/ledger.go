// Package balance is the ownership engine: it decides whether funds exist
// before an order is accepted and applies every post-trade movement.
// A single pipeline stage owns the Ledger; nothing else mutates it.
package balance

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// FeeUser is the system account that collects trading fees.
const FeeUser uint64 = 0

type key struct {
	User  uint64
	Asset string
}

// Account tracks one (user, asset) pair. LockVersion advances on every
// lock/unlock, SettleVersion on every settle/deposit; WAL entries record
// the post-operation value so replay can skip applied operations.
type Account struct {
	Available int64
	Frozen    int64

	LockVersion   uint64
	SettleVersion uint64
}

// Hold is the frozen remainder backing one order (or withdrawal).
type Hold struct {
	ID        uint64
	User      uint64
	Asset     string
	Remaining int64
}

type Ledger struct {
	log      *zap.Logger
	accounts map[key]*Account
	holds    map[uint64]*Hold
	nextHold uint64
}

func NewLedger(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		log:      log,
		accounts: make(map[key]*Account),
		holds:    make(map[uint64]*Hold),
	}
}

func (l *Ledger) account(user uint64, asset string) *Account {
	k := key{user, asset}
	a, ok := l.accounts[k]
	if !ok {
		a = &Account{}
		l.accounts[k] = a
	}
	return a
}

// Get returns a copy of the account state; a missing account reads as zero.
func (l *Ledger) Get(user uint64, asset string) Account {
	if a, ok := l.accounts[key{user, asset}]; ok {
		return *a
	}
	return Account{}
}

// Hold returns a copy of an outstanding hold.
func (l *Ledger) Hold(id uint64) (Hold, bool) {
	h, ok := l.holds[id]
	if !ok {
		return Hold{}, false
	}
	return *h, true
}

// Deposit credits available funds. Deposits enter through the same command
// pipeline as orders, so they serialize with trading activity.
func (l *Ledger) Deposit(user uint64, asset string, amount int64) uint64 {
	if amount <= 0 {
		panic(fmt.Sprintf("balance: non-positive deposit %d", amount))
	}
	a := l.account(user, asset)
	a.Available += amount
	a.SettleVersion++
	return a.SettleVersion
}

// Lock moves amount from available to frozen and opens a hold. It fails
// without side effects when available funds do not cover the amount.
func (l *Ledger) Lock(user uint64, asset string, amount int64) (*Hold, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("balance: non-positive lock %d: %w", amount, ErrInsufficientFunds)
	}
	a := l.account(user, asset)
	if a.Available < amount {
		return nil, fmt.Errorf("balance: user %d asset %s available %d < %d: %w",
			user, asset, a.Available, amount, ErrInsufficientFunds)
	}

	a.Available -= amount
	a.Frozen += amount
	a.LockVersion++

	l.nextHold++
	h := &Hold{ID: l.nextHold, User: user, Asset: asset, Remaining: amount}
	l.holds[h.ID] = h

	l.check(a, user, asset)
	return h, nil
}

// IncreaseHold freezes additional funds into an existing hold. Used when
// a move reprices an order upward and the original lock no longer covers
// it.
func (l *Ledger) IncreaseHold(holdID uint64, amount int64) (uint64, error) {
	h := l.mustHold(holdID)
	if amount <= 0 {
		return 0, fmt.Errorf("balance: non-positive hold increase %d: %w", amount, ErrInsufficientFunds)
	}
	a := l.account(h.User, h.Asset)
	if a.Available < amount {
		return 0, fmt.Errorf("balance: user %d asset %s available %d < %d: %w",
			h.User, h.Asset, a.Available, amount, ErrInsufficientFunds)
	}
	a.Available -= amount
	a.Frozen += amount
	a.LockVersion++
	h.Remaining += amount
	l.check(a, h.User, h.Asset)
	return a.LockVersion, nil
}

// Unlock returns amount from frozen back to available against a hold.
// Exceeding the hold remainder is an invariant violation, not an error:
// the caller already proved the hold when it locked.
func (l *Ledger) Unlock(holdID uint64, amount int64) uint64 {
	h := l.mustHold(holdID)
	if amount <= 0 || amount > h.Remaining {
		panic(fmt.Sprintf("balance: unlock %d exceeds hold %d remainder %d", amount, holdID, h.Remaining))
	}

	a := l.account(h.User, h.Asset)
	a.Frozen -= amount
	a.Available += amount
	a.LockVersion++
	h.Remaining -= amount
	if h.Remaining == 0 {
		delete(l.holds, holdID)
	}

	l.check(a, h.User, h.Asset)
	return a.LockVersion
}

// Release unlocks whatever remains of a hold and closes it. Used when an
// order terminates with locked funds left over (cancel, expiry, or a fill
// at a better price than the lock assumed).
func (l *Ledger) Release(holdID uint64) (int64, uint64) {
	h, ok := l.holds[holdID]
	if !ok {
		return 0, 0
	}
	rem := h.Remaining
	if rem == 0 {
		delete(l.holds, holdID)
		return 0, 0
	}
	v := l.Unlock(holdID, rem)
	return rem, v
}

// Settle consumes debit from the paying side's hold, credits the receiving
// side, and routes fee to the system account. debit must equal
// creditAmount+fee; anything else would mint or burn funds.
func (l *Ledger) Settle(holdID uint64, debit int64, creditUser uint64, creditAsset string, creditAmount, fee int64) uint64 {
	h := l.mustHold(holdID)
	if creditAsset != h.Asset {
		panic(fmt.Sprintf("balance: settle asset %s does not match hold asset %s", creditAsset, h.Asset))
	}
	if debit != creditAmount+fee || creditAmount < 0 || fee < 0 {
		panic(fmt.Sprintf("balance: settle not zero-sum: debit=%d credit=%d fee=%d", debit, creditAmount, fee))
	}
	if debit > h.Remaining {
		panic(fmt.Sprintf("balance: settle debit %d exceeds hold %d remainder %d", debit, holdID, h.Remaining))
	}

	payer := l.account(h.User, h.Asset)
	payer.Frozen -= debit
	payer.SettleVersion++
	h.Remaining -= debit

	recv := l.account(creditUser, creditAsset)
	recv.Available += creditAmount
	recv.SettleVersion++

	if fee > 0 {
		sys := l.account(FeeUser, creditAsset)
		sys.Available += fee
		sys.SettleVersion++
	}

	l.check(payer, h.User, h.Asset)
	return payer.SettleVersion
}

func (l *Ledger) mustHold(id uint64) *Hold {
	h, ok := l.holds[id]
	if !ok {
		panic(fmt.Sprintf("balance: %v: id=%d", ErrUnknownHold, id))
	}
	return h
}

// check enforces the non-negativity invariant. A violation means the
// engine's own accounting is broken; continuing would risk fund loss.
func (l *Ledger) check(a *Account, user uint64, asset string) {
	if a.Available < 0 || a.Frozen < 0 {
		l.log.Error("balance invariant violated",
			zap.Uint64("user", user),
			zap.String("asset", asset),
			zap.Int64("available", a.Available),
			zap.Int64("frozen", a.Frozen),
		)
		panic(fmt.Sprintf("balance: negative balance user=%d asset=%s avail=%d frozen=%d",
			user, asset, a.Available, a.Frozen))
	}
}

/******************** Replay ********************/

// ReplayLock re-applies a recorded lock. Skipped when the account's lock
// version already covers it, which makes replay after a crash idempotent.
func (l *Ledger) ReplayLock(user uint64, asset string, amount int64, holdID, lockVersion uint64) {
	a := l.account(user, asset)
	if a.LockVersion >= lockVersion {
		return
	}
	a.Available -= amount
	a.Frozen += amount
	a.LockVersion = lockVersion

	// A lock against an existing hold is a recorded hold increase.
	if h, ok := l.holds[holdID]; ok {
		h.Remaining += amount
	} else {
		l.holds[holdID] = &Hold{ID: holdID, User: user, Asset: asset, Remaining: amount}
	}
	if holdID > l.nextHold {
		l.nextHold = holdID
	}
	l.check(a, user, asset)
}

// ReplayUnlock re-applies a recorded unlock (partial or full release).
func (l *Ledger) ReplayUnlock(holdID uint64, amount int64, lockVersion uint64) {
	h, ok := l.holds[holdID]
	if !ok {
		return // hold already closed by an applied operation
	}
	a := l.account(h.User, h.Asset)
	if a.LockVersion >= lockVersion {
		return
	}
	a.Frozen -= amount
	a.Available += amount
	a.LockVersion = lockVersion
	h.Remaining -= amount
	if h.Remaining <= 0 {
		delete(l.holds, holdID)
	}
	l.check(a, h.User, h.Asset)
}

// ReplaySettle re-applies a recorded settle, keyed on the payer's settle
// version.
func (l *Ledger) ReplaySettle(holdID uint64, debit int64, creditUser uint64, creditAsset string, creditAmount, fee int64, settleVersion uint64) {
	h, ok := l.holds[holdID]
	if !ok {
		return
	}
	payer := l.account(h.User, h.Asset)
	if payer.SettleVersion >= settleVersion {
		return
	}
	payer.Frozen -= debit
	payer.SettleVersion = settleVersion
	h.Remaining -= debit

	recv := l.account(creditUser, creditAsset)
	recv.Available += creditAmount
	recv.SettleVersion++

	if fee > 0 {
		sys := l.account(FeeUser, creditAsset)
		sys.Available += fee
		sys.SettleVersion++
	}
	l.check(payer, h.User, h.Asset)
}

// ReplayDeposit re-applies a recorded deposit.
func (l *Ledger) ReplayDeposit(user uint64, asset string, amount int64, settleVersion uint64) {
	a := l.account(user, asset)
	if a.SettleVersion >= settleVersion {
		return
	}
	a.Available += amount
	a.SettleVersion = settleVersion
}

/******************** Snapshot ********************/

// AccountState is the serializable form of one account.
type AccountState struct {
	User  uint64
	Asset string
	Account
}

// Export serializes the ledger deterministically (sorted by user, asset).
func (l *Ledger) Export() (accounts []AccountState, holds []Hold, nextHold uint64) {
	accounts = make([]AccountState, 0, len(l.accounts))
	for k, a := range l.accounts {
		accounts = append(accounts, AccountState{User: k.User, Asset: k.Asset, Account: *a})
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].User != accounts[j].User {
			return accounts[i].User < accounts[j].User
		}
		return accounts[i].Asset < accounts[j].Asset
	})

	holds = make([]Hold, 0, len(l.holds))
	for _, h := range l.holds {
		holds = append(holds, *h)
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].ID < holds[j].ID })

	return accounts, holds, l.nextHold
}

// Restore rebuilds ledger state from a snapshot. Existing state is
// discarded.
func (l *Ledger) Restore(accounts []AccountState, holds []Hold, nextHold uint64) {
	l.accounts = make(map[key]*Account, len(accounts))
	l.holds = make(map[uint64]*Hold, len(holds))
	for _, s := range accounts {
		a := s.Account
		l.accounts[key{s.User, s.Asset}] = &a
	}
	for _, h := range holds {
		hc := h
		l.holds[h.ID] = &hc
	}
	l.nextHold = nextHold
}

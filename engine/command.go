package engine

import "janus/domain/orderbook"

// Action selects what a submitted command does. Every action flows
// through the same pipeline so deposits and trading activity serialize
// into one total order.
type Action uint8

const (
	Place Action = iota + 1
	Cancel
	Reduce
	Move
	Deposit

	// takeSnapshot is injected by the snapshot job; it never arrives
	// from callers.
	takeSnapshot
)

func (a Action) String() string {
	switch a {
	case Place:
		return "PLACE"
	case Cancel:
		return "CANCEL"
	case Reduce:
		return "REDUCE"
	case Move:
		return "MOVE"
	case Deposit:
		return "DEPOSIT"
	case takeSnapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// Command is the inbound envelope. Price and Qty are already fixed-point
// (ticks and lots); the decimal boundary lives in the reference package
// and is crossed before submission.
type Command struct {
	Action Action

	// Seq is the global command sequence. Assigned by Submit, never by
	// the caller.
	Seq uint64

	UserID   uint64
	ClientID string
	Symbol   string

	// Place fields. Market orders still carry Price as the protective
	// cap a buy is funded against.
	Side     orderbook.Side
	Type     orderbook.OrderType
	TIF      orderbook.TimeInForce
	PostOnly bool
	Price    int64
	Qty      int64

	// OrderID targets an existing order for Cancel, Reduce and Move.
	OrderID  uint64
	Delta    int64 // Reduce
	NewPrice int64 // Move

	// Deposit fields. Amount is in the asset's smallest units.
	Asset  string
	Amount int64
}

// Reject reasons carried on OrderRejected events.
const (
	ReasonUnknownSymbol     = "unknown symbol"
	ReasonSymbolDisabled    = "symbol not tradable"
	ReasonAssetDisabled     = "asset disabled"
	ReasonBadPrice          = "invalid price"
	ReasonBadQty            = "invalid quantity"
	ReasonBelowMinQty       = "quantity below minimum"
	ReasonBadAmount         = "invalid amount"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonUnknownOrder      = "unknown order"
	ReasonNotOwner          = "order belongs to another user"
	ReasonWouldCross        = "post-only order would cross"
	ReasonUnfillable        = "fill-or-kill not fillable"
)

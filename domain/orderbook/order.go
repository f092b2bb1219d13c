package orderbook

type Side uint8
type OrderType uint8
type TimeInForce uint8
type Status uint8

const (
	Bid Side = iota
	Ask
)

const (
	Limit OrderType = iota
	Market
)

const (
	GTC TimeInForce = iota
	IOC
	FOK
)

const (
	New Status = iota
	PartiallyFilled
	Filled
	Canceled
	Rejected
	Expired
)

func (s Side) String() string {
	if s == Bid {
		return "BID"
	}
	return "ASK"
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (st Status) String() string {
	switch st {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (st Status) Terminal() bool {
	return st == Filled || st == Canceled || st == Rejected || st == Expired
}

// Order is the authoritative order record. While resting it lives exactly
// once inside its price level's FIFO list; the book index refers to the
// same instance, never a copy.
type Order struct {
	ID       uint64
	UserID   uint64
	ClientID string
	Symbol   string

	Side     Side
	Type     OrderType
	TIF      TimeInForce
	PostOnly bool
	Status   Status

	Price  int64 // quote ticks per lot
	Qty    int64 // lots
	Filled int64

	// SeqID is the per-book insertion sequence. FIFO position within a
	// price level is decided by SeqID alone.
	SeqID uint64

	// HoldID references the balance hold backing this order.
	HoldID uint64

	next  *Order
	prev  *Order
	level *PriceLevel
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Next walks the FIFO list toward the back of the level. Read-only.
func (o *Order) Next() *Order {
	return o.next
}

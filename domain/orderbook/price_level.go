package orderbook

import "fmt"

// PriceLevel is a FIFO queue of resting orders at a single price.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// Unlink removes o from the FIFO in place. The orders on either side keep
// their relative positions.
func (p *PriceLevel) Unlink(o *Order) {
	if o.level != p {
		panic(fmt.Sprintf("orderbook: order %d unlinked from wrong level %d", o.ID, p.Price))
	}

	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}

	o.next = nil
	o.prev = nil
	o.level = nil

	p.TotalQty -= o.Remaining()
	p.OrderCount--
}

// ReduceQty shrinks the remaining quantity of a resting order without
// touching its FIFO position.
func (p *PriceLevel) ReduceQty(o *Order, delta int64) {
	p.TotalQty -= delta
}

// FillQty accounts a fill against the level aggregate.
func (p *PriceLevel) FillQty(qty int64) {
	p.TotalQty -= qty
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head returns the oldest resting order. Read-only.
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) String() string {
	return fmt.Sprintf("level{price=%d qty=%d orders=%d}", p.Price, p.TotalQty, p.OrderCount)
}

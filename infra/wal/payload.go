package wal

import (
	"encoding/binary"
	"fmt"
)

// Payloads are fixed-layout big-endian binary with length-prefixed
// strings. Each type has a matched Encode/Decode pair; decode failures
// surface as ErrCorrupt since the frame checksum already passed.

type OrderInsertPayload struct {
	Symbol  string
	OrderID uint64
	UserID  uint64
	SeqID   uint64
	HoldID  uint64
	Side    uint8
	Price   int64
	Qty     int64
	Filled  int64
}

type OrderFillPayload struct {
	Symbol       string
	MakerOrderID uint64
	Qty          int64
	Remaining    int64 // maker remaining after the fill
	Done         bool
}

type OrderReducePayload struct {
	Symbol  string
	OrderID uint64
	Delta   int64
}

type OrderRemovePayload struct {
	Symbol  string
	OrderID uint64
	Status  uint8
}

type BalanceLockPayload struct {
	User        uint64
	Asset       string
	Amount      int64
	HoldID      uint64
	LockVersion uint64
}

type BalanceUnlockPayload struct {
	HoldID      uint64
	Amount      int64
	LockVersion uint64
}

type BalanceSettlePayload struct {
	HoldID        uint64
	Debit         int64
	CreditUser    uint64
	CreditAsset   string
	CreditAmount  int64
	Fee           int64
	SettleVersion uint64
}

type DepositPayload struct {
	User          uint64
	Asset         string
	Amount        int64
	SettleVersion uint64
}

func (p OrderInsertPayload) Encode() []byte {
	b := newEncoder()
	b.str(p.Symbol)
	b.u64(p.OrderID)
	b.u64(p.UserID)
	b.u64(p.SeqID)
	b.u64(p.HoldID)
	b.u8(p.Side)
	b.i64(p.Price)
	b.i64(p.Qty)
	b.i64(p.Filled)
	return b.bytes()
}

func DecodeOrderInsert(data []byte) (p OrderInsertPayload, err error) {
	d := decoder{buf: data}
	p.Symbol = d.str()
	p.OrderID = d.u64()
	p.UserID = d.u64()
	p.SeqID = d.u64()
	p.HoldID = d.u64()
	p.Side = d.u8()
	p.Price = d.i64()
	p.Qty = d.i64()
	p.Filled = d.i64()
	return p, d.done()
}

func (p OrderFillPayload) Encode() []byte {
	b := newEncoder()
	b.str(p.Symbol)
	b.u64(p.MakerOrderID)
	b.i64(p.Qty)
	b.i64(p.Remaining)
	b.bool(p.Done)
	return b.bytes()
}

func DecodeOrderFill(data []byte) (p OrderFillPayload, err error) {
	d := decoder{buf: data}
	p.Symbol = d.str()
	p.MakerOrderID = d.u64()
	p.Qty = d.i64()
	p.Remaining = d.i64()
	p.Done = d.bool()
	return p, d.done()
}

func (p OrderReducePayload) Encode() []byte {
	b := newEncoder()
	b.str(p.Symbol)
	b.u64(p.OrderID)
	b.i64(p.Delta)
	return b.bytes()
}

func DecodeOrderReduce(data []byte) (p OrderReducePayload, err error) {
	d := decoder{buf: data}
	p.Symbol = d.str()
	p.OrderID = d.u64()
	p.Delta = d.i64()
	return p, d.done()
}

func (p OrderRemovePayload) Encode() []byte {
	b := newEncoder()
	b.str(p.Symbol)
	b.u64(p.OrderID)
	b.u8(p.Status)
	return b.bytes()
}

func DecodeOrderRemove(data []byte) (p OrderRemovePayload, err error) {
	d := decoder{buf: data}
	p.Symbol = d.str()
	p.OrderID = d.u64()
	p.Status = d.u8()
	return p, d.done()
}

func (p BalanceLockPayload) Encode() []byte {
	b := newEncoder()
	b.u64(p.User)
	b.str(p.Asset)
	b.i64(p.Amount)
	b.u64(p.HoldID)
	b.u64(p.LockVersion)
	return b.bytes()
}

func DecodeBalanceLock(data []byte) (p BalanceLockPayload, err error) {
	d := decoder{buf: data}
	p.User = d.u64()
	p.Asset = d.str()
	p.Amount = d.i64()
	p.HoldID = d.u64()
	p.LockVersion = d.u64()
	return p, d.done()
}

func (p BalanceUnlockPayload) Encode() []byte {
	b := newEncoder()
	b.u64(p.HoldID)
	b.i64(p.Amount)
	b.u64(p.LockVersion)
	return b.bytes()
}

func DecodeBalanceUnlock(data []byte) (p BalanceUnlockPayload, err error) {
	d := decoder{buf: data}
	p.HoldID = d.u64()
	p.Amount = d.i64()
	p.LockVersion = d.u64()
	return p, d.done()
}

func (p BalanceSettlePayload) Encode() []byte {
	b := newEncoder()
	b.u64(p.HoldID)
	b.i64(p.Debit)
	b.u64(p.CreditUser)
	b.str(p.CreditAsset)
	b.i64(p.CreditAmount)
	b.i64(p.Fee)
	b.u64(p.SettleVersion)
	return b.bytes()
}

func DecodeBalanceSettle(data []byte) (p BalanceSettlePayload, err error) {
	d := decoder{buf: data}
	p.HoldID = d.u64()
	p.Debit = d.i64()
	p.CreditUser = d.u64()
	p.CreditAsset = d.str()
	p.CreditAmount = d.i64()
	p.Fee = d.i64()
	p.SettleVersion = d.u64()
	return p, d.done()
}

func (p DepositPayload) Encode() []byte {
	b := newEncoder()
	b.u64(p.User)
	b.str(p.Asset)
	b.i64(p.Amount)
	b.u64(p.SettleVersion)
	return b.bytes()
}

func DecodeDeposit(data []byte) (p DepositPayload, err error) {
	d := decoder{buf: data}
	p.User = d.u64()
	p.Asset = d.str()
	p.Amount = d.i64()
	p.SettleVersion = d.u64()
	return p, d.done()
}

/******************** codec helpers ********************/

type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 64)}
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *encoder) i64(v int64) {
	e.u64(uint64(v))
}

func (e *encoder) str(s string) {
	if len(s) > 0xFFFF {
		panic("wal: string payload too long")
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) bytes() []byte {
	return e.buf
}

type decoder struct {
	buf  []byte
	off  int
	fail bool
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) u8() uint8 {
	if d.fail || d.remaining() < 1 {
		d.fail = true
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) bool() bool {
	return d.u8() != 0
}

func (d *decoder) u64() uint64 {
	if d.fail || d.remaining() < 8 {
		d.fail = true
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 {
	return int64(d.u64())
}

func (d *decoder) str() string {
	if d.fail || d.remaining() < 2 {
		d.fail = true
		return ""
	}
	n := int(binary.BigEndian.Uint16(d.buf[d.off:]))
	d.off += 2
	if d.remaining() < n {
		d.fail = true
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

func (d *decoder) done() error {
	if d.fail || d.off != len(d.buf) {
		return fmt.Errorf("%w: malformed payload", ErrCorrupt)
	}
	return nil
}

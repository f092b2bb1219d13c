// Package wal implements the write-ahead log: length-prefixed, CRC32
// checksummed, versioned binary records appended to size-rotated segment
// files. Every committed order book and ledger mutation is framed here
// before it counts as durable.
package wal

import "time"

// FormatVersion is the frame format. Bump it when the frame layout
// changes; replay refuses unknown versions.
const FormatVersion byte = 1

type RecordType uint8

const (
	RecordOrderInsert RecordType = iota + 1
	RecordOrderFill
	RecordOrderReduce
	RecordOrderRemove
	RecordBalanceLock
	RecordBalanceUnlock
	RecordBalanceSettle
	RecordDeposit

	// RecordCommit closes a command's record group. Replay applies a
	// command's records only once its commit is seen; an uncommitted
	// tail is a crash mid-command and is discarded.
	RecordCommit
)

func (t RecordType) String() string {
	switch t {
	case RecordOrderInsert:
		return "ORDER_INSERT"
	case RecordOrderFill:
		return "ORDER_FILL"
	case RecordOrderReduce:
		return "ORDER_REDUCE"
	case RecordOrderRemove:
		return "ORDER_REMOVE"
	case RecordBalanceLock:
		return "BALANCE_LOCK"
	case RecordBalanceUnlock:
		return "BALANCE_UNLOCK"
	case RecordBalanceSettle:
		return "BALANCE_SETTLE"
	case RecordDeposit:
		return "DEPOSIT"
	case RecordCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// Record is one committed state mutation. Seq is the global command
// sequence that produced it; several records may share a Seq (one command
// can lock, fill, and settle in a single pass).
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// Package outbox is the durable event staging area between the engine and
// the outside world. The persist stage writes every emitted event here
// before anything external can observe it; the broadcaster drains it to
// Kafka and marks delivery progress, so a crash never loses or double-
// publishes an acknowledged event.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Record is one staged event.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][payload]
const valueHeaderLen = 1 + 4 + 8

func encodeValue(r Record) []byte {
	buf := make([]byte, valueHeaderLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[valueHeaderLen:], r.Payload)
	return buf
}

func decodeValue(seq uint64, b []byte) (Record, error) {
	if len(b) < valueHeaderLen {
		return Record{}, errors.New("outbox: short record")
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[valueHeaderLen:]...),
	}, nil
}

type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put stages a new event. Synchronous: when Put returns, the event
// survives a crash.
func (o *Outbox) Put(seq uint64, payload []byte) error {
	rec := Record{Seq: seq, State: StateNew, Payload: payload}
	return o.db.Set(keyFor(seq), encodeValue(rec), pebble.Sync)
}

// MarkSent flips a record to SENT before the publish attempt, so a crash
// between publish and ack is detectable.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, StateSent)
}

// MarkAcked records broker acknowledgement.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, StateAcked)
}

func (o *Outbox) transition(seq uint64, to State) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = to
	rec.Retries++
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeValue(rec), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeValue(seq, val)
}

// ScanUndelivered visits every record not yet ACKED, in sequence order.
// SENT records are included: a crash after publish but before ack means
// the event may or may not have reached the broker, and redelivery is the
// safe side of that ambiguity.
func (o *Outbox) ScanUndelivered(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeValue(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAckedUpTo removes ACKED records with seq at or below the given
// bound. Called after a snapshot, alongside WAL truncation.
func (o *Outbox) TruncateAckedUpTo(seq uint64) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		s, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if s > seq {
			break
		}
		rec, err := decodeValue(s, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != StateAcked {
			continue
		}
		if err := o.db.Delete(keyFor(s), pebble.Sync); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MaxSeq returns the highest staged sequence, or zero when empty. The
// engine resumes its event counter from here on startup.
func (o *Outbox) MaxSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

const keyPrefix = "event/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b[len(keyPrefix):]), "%d", &seq)
	return seq, err
}

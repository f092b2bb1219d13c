// Package sequence issues the global command sequence that defines the
// engine's total processing order.
package sequence

import "sync/atomic"

// Sequencer hands out strictly monotonic sequence IDs, starting above the
// value it was constructed with. Recovery passes the last replayed
// sequence so a restart never reissues an ID.
type Sequencer struct {
	last atomic.Uint64
}

func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next claims and returns the next sequence ID.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the most recently issued ID without claiming one.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

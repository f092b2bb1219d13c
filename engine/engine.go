// Package engine wires the matching core, balance ledger and settlement
// into a staged pipeline: gate validates commands read-only, core owns
// every piece of mutable trading state on a single thread, persist makes
// the resulting mutations durable, egress fans events out. Recovery
// rebuilds the core state from the latest snapshot plus the WAL tail
// before the pipeline accepts its first command.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"janus/domain/balance"
	"janus/domain/orderbook"
	"janus/domain/reference"
	"janus/infra/outbox"
	"janus/infra/sequence"
	"janus/infra/wal"
	"janus/pipeline"
	"janus/settlement"
	"janus/snapshot"
)

// Config locates the durable stores and sizes the pipeline.
type Config struct {
	WALDir      string
	SnapshotDir string
	OutboxDir   string

	// SegmentSize is the WAL rotation threshold in bytes.
	SegmentSize int64

	// SyncEveryAppend fsyncs the WAL on every record. Turning it off
	// trades crash durability of the newest records for throughput.
	SyncEveryAppend bool

	// QueueCapacity is the per-stage queue size; it must be a power of
	// two.
	QueueCapacity uint64

	// EventBuffer sizes the in-process event subscription channel.
	EventBuffer int
}

// TradePublisher receives every trade on the egress stage. The market
// data feed implements it; nil disables the feed.
type TradePublisher interface {
	PublishTrade(ctx context.Context, t settlement.Trade) error
}

// task is the unit flowing through the pipeline: the command plus
// everything the core stage decided about it.
type task struct {
	cmd Command

	rejected bool
	reason   string

	records []*wal.Record
	events  []Event
	trades  []settlement.Trade

	// snapshot capture, set by core for takeSnapshot tasks
	snap      *snapshot.Snapshot
	eventMark uint64
	done      chan error
}

// Engine is the single-process exchange core.
type Engine struct {
	log   *zap.Logger
	cfg   Config
	table *reference.Table

	// Owned by the core stage after Start. Touched elsewhere only
	// during recovery, before the pipeline exists.
	books   map[string]*orderbook.OrderBook
	ledger  *balance.Ledger
	settler *settlement.Settler

	// coreSeq is the last command sequence the core stage finished.
	coreSeq uint64

	// eventSeq is owned by the core stage; recovery seeds it from the
	// outbox high-water mark.
	eventSeq uint64

	wal    *wal.WAL
	outbox *outbox.Outbox
	snaps  *snapshot.Writer

	seq  *sequence.Sequencer
	pipe *pipeline.Pipeline[*task]
	feed TradePublisher

	events chan Event

	// Submit is single-producer into the head queue.
	submitMu sync.Mutex
}

// New opens the durable stores, runs recovery and builds the pipeline.
// The engine does not process commands until Start.
func New(cfg Config, table *reference.Table, fees settlement.FeePolicy, feed TradePublisher, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 4096
	}

	w, err := wal.Open(wal.Config{
		Dir:             cfg.WALDir,
		SegmentSize:     cfg.SegmentSize,
		SyncEveryAppend: cfg.SyncEveryAppend,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	ob, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: open outbox: %w", err)
	}

	ledger := balance.NewLedger(log)
	e := &Engine{
		log:     log,
		cfg:     cfg,
		table:   table,
		books:   make(map[string]*orderbook.OrderBook),
		ledger:  ledger,
		settler: settlement.NewSettler(ledger, table, fees, log),
		wal:     w,
		outbox:  ob,
		snaps:   &snapshot.Writer{Dir: cfg.SnapshotDir},
		feed:    feed,
		events:  make(chan Event, cfg.EventBuffer),
	}

	if err := e.recoverState(); err != nil {
		ob.Close()
		w.Close()
		return nil, err
	}

	e.pipe = pipeline.New(log, cfg.QueueCapacity,
		pipeline.NamedStage[*task]{Name: "gate", Fn: e.gate},
		pipeline.NamedStage[*task]{Name: "core", Fn: e.core},
		pipeline.NamedStage[*task]{Name: "persist", Fn: e.persist},
		pipeline.NamedStage[*task]{Name: "egress", Fn: e.egress},
	)
	return e, nil
}

// Start launches the stage goroutines.
func (e *Engine) Start() {
	e.pipe.Start()
	e.log.Info("engine live",
		zap.Uint64("next_seq", e.seq.Current()+1),
		zap.Uint64("next_event", e.eventSeq+1))
}

// Submit assigns the global sequence and hands the command to the
// pipeline, blocking under backpressure. Safe for concurrent use.
func (e *Engine) Submit(cmd Command) (uint64, error) {
	switch cmd.Action {
	case Place, Cancel, Reduce, Move, Deposit:
	default:
		return 0, fmt.Errorf("engine: invalid action %d", cmd.Action)
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	cmd.Seq = e.seq.Next()
	if err := e.pipe.Submit(&task{cmd: cmd}); err != nil {
		return 0, err
	}
	return cmd.Seq, nil
}

// Events is the in-process event stream. Best effort: a slow consumer
// loses events here, never in the outbox.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Snapshot captures a point-in-time snapshot through the pipeline and
// blocks until it is on disk. WAL segments and acked outbox entries
// behind the snapshot are pruned.
func (e *Engine) Snapshot() error {
	t := &task{cmd: Command{Action: takeSnapshot}, done: make(chan error, 1)}

	e.submitMu.Lock()
	t.cmd.Seq = e.seq.Current()
	err := e.pipe.Submit(t)
	e.submitMu.Unlock()
	if err != nil {
		return err
	}

	// An aborting pipeline abandons in-flight tasks, so waiting on done
	// alone could block forever.
	select {
	case err := <-t.done:
		return err
	case <-e.pipe.Aborted():
		return e.pipe.Err()
	}
}

// Close drains the pipeline and releases the durable stores.
func (e *Engine) Close() error {
	err := e.pipe.Close()
	close(e.events)
	if cerr := e.outbox.Close(); err == nil {
		err = cerr
	}
	if cerr := e.wal.Close(); err == nil {
		err = cerr
	}
	return err
}

// Outbox exposes the durable event store for the broadcaster job. Pebble
// is safe for concurrent use alongside the persist stage.
func (e *Engine) Outbox() *outbox.Outbox {
	return e.outbox
}

// Err reports the pipeline failure, if any.
func (e *Engine) Err() error {
	return e.pipe.Err()
}

// Balance returns the current view of one account. Reads race the core
// stage; use it for boundaries that tolerate slightly stale values.
func (e *Engine) Balance(user uint64, asset string) balance.Account {
	return e.ledger.Get(user, asset)
}

// book returns the per-symbol book, creating it on first use. Only the
// core stage and recovery call it.
func (e *Engine) book(symbol string) *orderbook.OrderBook {
	b, ok := e.books[symbol]
	if !ok {
		b = orderbook.NewOrderBook(symbol)
		e.books[symbol] = b
	}
	return b
}

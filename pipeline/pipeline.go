package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// StageFunc processes one item on the stage's own goroutine. Returning an
// error is fatal to the whole pipeline: the stages stop rather than
// continue past a state they cannot prove consistent.
type StageFunc[T any] func(T) error

type stage[T any] struct {
	name string
	fn   StageFunc[T]
	in   *Queue[T]
	out  *Queue[T] // nil for the tail stage
}

// Pipeline runs a fixed chain of stages, one goroutine per stage,
// connected by bounded SPSC queues. Items flow front to back and are
// never reordered, skipped, or duplicated: the only concurrency is stage
// N+1 working on item i while stage N works on item i+1.
type Pipeline[T any] struct {
	log    *zap.Logger
	stages []stage[T]
	queues []*Queue[T]

	wg      sync.WaitGroup
	aborted atomic.Bool
	abortCh chan struct{}
	errOnce sync.Once
	err     error
}

// New builds a pipeline from named stage functions. Every stage gets an
// inbound queue of the given capacity.
func New[T any](log *zap.Logger, capacity uint64, stages ...NamedStage[T]) *Pipeline[T] {
	if log == nil {
		log = zap.NewNop()
	}
	if len(stages) == 0 {
		panic("pipeline: no stages")
	}

	p := &Pipeline[T]{log: log, abortCh: make(chan struct{})}
	p.queues = make([]*Queue[T], len(stages))
	for i := range stages {
		p.queues[i] = NewQueue[T](capacity)
	}
	for i, s := range stages {
		st := stage[T]{name: s.Name, fn: s.Fn, in: p.queues[i]}
		if i+1 < len(stages) {
			st.out = p.queues[i+1]
		}
		p.stages = append(p.stages, st)
	}
	return p
}

// NamedStage pairs a stage function with its name for logs.
type NamedStage[T any] struct {
	Name string
	Fn   StageFunc[T]
}

// Start launches the stage goroutines.
func (p *Pipeline[T]) Start() {
	for i := range p.stages {
		p.wg.Add(1)
		go p.run(&p.stages[i])
	}
}

func (p *Pipeline[T]) run(s *stage[T]) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("pipeline: stage %s panicked: %v", s.name, r))
		}
		if s.out != nil {
			s.out.Close()
		}
	}()

	for {
		v, ok := s.in.Pop()
		if !ok {
			return
		}
		if err := s.fn(v); err != nil {
			p.fail(fmt.Errorf("pipeline: stage %s: %w", s.name, err))
			return
		}
		if s.out != nil {
			if err := s.out.Push(v); err != nil {
				return
			}
		}
	}
}

// Submit hands an item to the first stage, blocking under backpressure.
// Callers must serialize Submit; the head queue is single-producer.
func (p *Pipeline[T]) Submit(v T) error {
	if p.aborted.Load() {
		return p.err
	}
	return p.queues[0].Push(v)
}

// Close stops intake and waits for in-flight items to drain through every
// stage.
func (p *Pipeline[T]) Close() error {
	p.queues[0].Close()
	p.wg.Wait()
	return p.err
}

// Err reports the fatal error that aborted the pipeline, if any.
func (p *Pipeline[T]) Err() error {
	if p.aborted.Load() {
		return p.err
	}
	return nil
}

// Aborted is closed when the pipeline fails. In-flight items past the
// failure are abandoned, so anything waiting on one must also watch this.
func (p *Pipeline[T]) Aborted() <-chan struct{} {
	return p.abortCh
}

func (p *Pipeline[T]) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.aborted.Store(true)
		close(p.abortCh)
		p.log.Error("pipeline aborted", zap.Error(err))
		// Unblock every stage; queued work past the failure is
		// abandoned on purpose.
		for _, q := range p.queues {
			q.Close()
		}
	})
}

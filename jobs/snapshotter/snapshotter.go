// Package snapshotter periodically captures engine snapshots so restart
// replay stays short and old WAL segments can be pruned.
package snapshotter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"janus/engine"
)

type Snapshotter struct {
	log      *zap.Logger
	eng      *engine.Engine
	interval time.Duration
}

func New(log *zap.Logger, eng *engine.Engine, interval time.Duration) *Snapshotter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Snapshotter{log: log, eng: eng, interval: interval}
}

// Run blocks until the context is canceled, capturing a snapshot every
// interval. A failed capture is logged and retried next tick; the WAL
// keeps the engine durable in the meantime.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.eng.Snapshot(); err != nil {
				s.log.Error("snapshot failed", zap.Error(err))
				continue
			}
			s.log.Info("snapshot captured", zap.Duration("took", time.Since(start)))
		}
	}
}

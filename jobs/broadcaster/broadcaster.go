// Package broadcaster drains the event outbox to Kafka. It is the only
// reader of undelivered outbox records; delivery state transitions make
// redelivery after a crash at-least-once, never silent loss.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"janus/infra/outbox"
)

type Broadcaster struct {
	log      *zap.Logger
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
}

func New(log *zap.Logger, ob *outbox.Outbox, brokers []string, topic string, interval time.Duration) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		log:      log,
		outbox:   ob,
		producer: producer,
		topic:    topic,
		interval: interval,
	}, nil
}

// Run polls the outbox until the context ends.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("broadcaster started", zap.String("topic", b.topic))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanUndelivered(func(rec outbox.Record) error {
		// SENT before publish: a crash in between leaves the record
		// redeliverable instead of lost.
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(rec.Seq, 10)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.Warn("publish failed, will retry",
				zap.Uint64("seq", rec.Seq), zap.Error(err))
			return nil // leave SENT, picked up next drain
		}

		return b.outbox.MarkAcked(rec.Seq)
	})
	if err != nil {
		b.log.Error("outbox drain failed", zap.Error(err))
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

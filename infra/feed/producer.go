// Package feed publishes market data (trades, book updates) to Kafka for
// downstream consumers: tickers, kline builders, analytical storage. It
// is fire-and-forget relative to the core; delivery guarantees for
// account-level events live in the outbox/broadcaster path instead.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"janus/settlement"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// TradeMessage is the public market-data shape of a trade. It carries no
// account identifiers.
type TradeMessage struct {
	TradeID uint64 `json:"trade_id"`
	Symbol  string `json:"symbol"`
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
	Taker   string `json:"taker_side"`
	Time    int64  `json:"time"`
}

func (p *Producer) PublishTrade(ctx context.Context, t settlement.Trade) error {
	msg := TradeMessage{
		TradeID: t.ID,
		Symbol:  t.Symbol,
		Price:   t.Price,
		Qty:     t.Qty,
		Taker:   t.TakerSide.String(),
		Time:    t.Time,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Symbol),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

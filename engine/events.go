package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderAccepted        EventType = "ORDER_ACCEPTED"
	EventOrderRejected        EventType = "ORDER_REJECTED"
	EventOrderPartiallyFilled EventType = "ORDER_PARTIALLY_FILLED"
	EventOrderFilled          EventType = "ORDER_FILLED"
	EventOrderCanceled        EventType = "ORDER_CANCELED"
	EventOrderExpired         EventType = "ORDER_EXPIRED"
	EventOrderReduced         EventType = "ORDER_REDUCED"
	EventOrderMoved           EventType = "ORDER_MOVED"
	EventTrade                EventType = "TRADE"
	EventDeposit              EventType = "DEPOSIT"
)

// Event is the outbound envelope. Seq is the engine-wide event sequence;
// consumers dedupe on it, so it must survive restarts (the outbox is the
// source of truth for the high-water mark).
type Event struct {
	ID   string    `json:"id"`
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	Time int64     `json:"time"`

	Symbol    string `json:"symbol,omitempty"`
	OrderID   uint64 `json:"order_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	UserID    uint64 `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Price     int64  `json:"price,omitempty"`
	Qty       int64  `json:"qty,omitempty"`
	Filled    int64  `json:"filled,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`

	TradeID      uint64 `json:"trade_id,omitempty"`
	MakerOrderID uint64 `json:"maker_order_id,omitempty"`
	TakerOrderID uint64 `json:"taker_order_id,omitempty"`
	MakerFee     int64  `json:"maker_fee,omitempty"`
	TakerFee     int64  `json:"taker_fee,omitempty"`

	Asset  string `json:"asset,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

func newEvent(t EventType) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: time.Now().UnixNano(),
	}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janus/domain/balance"
	"janus/domain/orderbook"
	"janus/domain/reference"
)

func testTable() *reference.Table {
	return reference.NewTable(
		[]reference.Symbol{{Name: "BTC-USDT", Base: "BTC", Quote: "USDT",
			PricePrecision: 0, QtyPrecision: 0, MinQty: 1, Tradable: true}},
		[]reference.Asset{
			{Code: "BTC", Precision: 0, Enabled: true},
			{Code: "USDT", Precision: 0, Enabled: true},
		},
	)
}

func fundedFill(t *testing.T, l *balance.Ledger, price, qty int64) orderbook.Fill {
	t.Helper()
	l.Deposit(1, "USDT", 10000)
	l.Deposit(2, "BTC", 100)
	buyHold, err := l.Lock(1, "USDT", price*qty)
	require.NoError(t, err)
	sellHold, err := l.Lock(2, "BTC", qty)
	require.NoError(t, err)

	return orderbook.Fill{
		Symbol:       "BTC-USDT",
		MakerOrderID: 10,
		TakerOrderID: 11,
		MakerUserID:  1,
		TakerUserID:  2,
		MakerHoldID:  buyHold.ID,
		TakerHoldID:  sellHold.ID,
		TakerSide:    orderbook.Ask, // maker is the buyer
		Price:        price,
		Qty:          qty,
	}
}

func TestApplyMovesBothLegs(t *testing.T) {
	l := balance.NewLedger(nil)
	s := NewSettler(l, testTable(), FreePolicy{}, nil)

	trade, legs := s.Apply(fundedFill(t, l, 100, 5))

	assert.Equal(t, uint64(1), trade.ID)
	assert.Equal(t, int64(100), trade.Price)
	assert.Equal(t, int64(5), trade.Qty)

	// Buyer paid 500 USDT for 5 BTC, seller the reverse.
	assert.Equal(t, int64(5), l.Get(1, "BTC").Available)
	assert.Equal(t, int64(500), l.Get(2, "USDT").Available)
	assert.Equal(t, int64(0), l.Get(1, "USDT").Frozen)
	assert.Equal(t, int64(95), l.Get(2, "BTC").Available)
	assert.Equal(t, int64(0), l.Get(2, "BTC").Frozen)

	assert.Equal(t, int64(500), legs[0].Debit)
	assert.Equal(t, int64(5), legs[1].Debit)
}

func TestFeeRouting(t *testing.T) {
	l := balance.NewLedger(nil)
	// 100 bps maker, 200 bps taker.
	fees := NewBasisPointPolicy(decimal.RequireFromString("0.01"), decimal.RequireFromString("0.02"))
	s := NewSettler(l, testTable(), fees, nil)

	// Maker is the buyer (taker sold), so the buyer pays the maker rate
	// on base proceeds and the seller the taker rate on quote proceeds.
	s.Apply(fundedFill(t, l, 100, 10))

	quote := int64(1000)
	base := int64(10)
	sellerFee := quote * 200 / 10000 // 20 USDT
	buyerFee := base * 100 / 10000   // 0.1 BTC rounds down to 0

	assert.Equal(t, quote-sellerFee, l.Get(2, "USDT").Available)
	assert.Equal(t, sellerFee, l.Get(balance.FeeUser, "USDT").Available)
	assert.Equal(t, base-buyerFee, l.Get(1, "BTC").Available)
	assert.Equal(t, buyerFee, l.Get(balance.FeeUser, "BTC").Available)
}

func TestZeroSumAcrossAccounts(t *testing.T) {
	l := balance.NewLedger(nil)
	fees := NewBasisPointPolicy(decimal.RequireFromString("0.001"), decimal.RequireFromString("0.002"))
	s := NewSettler(l, testTable(), fees, nil)

	s.Apply(fundedFill(t, l, 250, 8))

	usdt := l.Get(1, "USDT").Available + l.Get(1, "USDT").Frozen +
		l.Get(2, "USDT").Available + l.Get(2, "USDT").Frozen +
		l.Get(balance.FeeUser, "USDT").Available
	btc := l.Get(1, "BTC").Available + l.Get(1, "BTC").Frozen +
		l.Get(2, "BTC").Available + l.Get(2, "BTC").Frozen +
		l.Get(balance.FeeUser, "BTC").Available

	assert.Equal(t, int64(10000), usdt, "quote asset conserved")
	assert.Equal(t, int64(100), btc, "base asset conserved")
}

func TestTradeIDsMonotonic(t *testing.T) {
	l := balance.NewLedger(nil)
	s := NewSettler(l, testTable(), FreePolicy{}, nil)

	tr1, _ := s.Apply(fundedFill(t, l, 100, 1))

	l2 := balance.NewLedger(nil)
	s.ledger = l2
	tr2, _ := s.Apply(fundedFill(t, l2, 100, 1))

	assert.Equal(t, tr1.ID+1, tr2.ID)
}

func TestBasisPointPolicy(t *testing.T) {
	p := NewBasisPointPolicy(decimal.RequireFromString("0.001"), decimal.RequireFromString("0.0025"))
	assert.Equal(t, int64(10), p.MakerFee(10000))
	assert.Equal(t, int64(25), p.TakerFee(10000))
	assert.Equal(t, int64(0), p.MakerFee(50), "sub-unit fees round down")
}

func TestUnknownSymbolPanics(t *testing.T) {
	l := balance.NewLedger(nil)
	s := NewSettler(l, testTable(), FreePolicy{}, nil)
	assert.Panics(t, func() {
		s.Apply(orderbook.Fill{Symbol: "DOGE-USDT"})
	})
}

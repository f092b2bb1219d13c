package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"janus/domain/reference"
	"janus/engine"
	"janus/infra/feed"
	"janus/jobs/broadcaster"
	"janus/jobs/snapshotter"
	"janus/settlement"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// ---------------- Reference data ----------------

	table := reference.NewTable(
		[]reference.Symbol{
			{Name: "BTC-USDT", Base: "BTC", Quote: "USDT",
				PricePrecision: 2, QtyPrecision: 4, MinQty: 1, Tradable: true},
			{Name: "ETH-USDT", Base: "ETH", Quote: "USDT",
				PricePrecision: 2, QtyPrecision: 3, MinQty: 1, Tradable: true},
		},
		[]reference.Asset{
			{Code: "BTC", Precision: 8, Enabled: true},
			{Code: "ETH", Precision: 8, Enabled: true},
			{Code: "USDT", Precision: 6, Enabled: true},
		},
	)

	makerRate := decimal.RequireFromString(envOr("FEE_MAKER_RATE", "0.001"))
	takerRate := decimal.RequireFromString(envOr("FEE_TAKER_RATE", "0.002"))
	fees := settlement.NewBasisPointPolicy(makerRate, takerRate)

	// ---------------- Market data feed ----------------

	var tradeFeed engine.TradePublisher
	brokers := strings.Split(envOr("KAFKA_BROKERS", ""), ",")
	var producer *feed.Producer
	if brokers[0] != "" {
		producer = feed.NewProducer(brokers, envOr("FEED_TOPIC", "trades"))
		defer producer.Close()
		tradeFeed = producer
	}

	// ---------------- Engine ----------------

	dataDir := envOr("DATA_DIR", "./data")
	eng, err := engine.New(engine.Config{
		WALDir:          dataDir + "/wal",
		SnapshotDir:     dataDir + "/snapshots",
		OutboxDir:       dataDir + "/outbox",
		SegmentSize:     envInt("WAL_SEGMENT_SIZE", 16*1024*1024),
		SyncEveryAppend: envOr("WAL_SYNC", "1") == "1",
		QueueCapacity:   uint64(envInt("QUEUE_CAPACITY", 1024)),
	}, table, fees, tradeFeed, logger)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	eng.Start()

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapEvery := time.Duration(envInt("SNAPSHOT_INTERVAL_SEC", 60)) * time.Second
	go snapshotter.New(logger, eng, snapEvery).Run(ctx)

	if brokers[0] != "" {
		bc, err := broadcaster.New(logger, eng.Outbox(), brokers,
			envOr("EVENT_TOPIC", "engine-events"), 2*time.Second)
		if err != nil {
			logger.Fatal("broadcaster init failed", zap.Error(err))
		}
		defer bc.Close()
		go bc.Run(ctx)
	}

	logger.Info("engine running")

	// ---------------- Shutdown ----------------

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	if err := eng.Close(); err != nil {
		logger.Error("engine shutdown", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

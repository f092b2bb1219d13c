package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"janus/domain/balance"
	"janus/domain/orderbook"
)

func testSnapshot(walSeq uint64) *Snapshot {
	b := orderbook.NewOrderBook("BTC-USDT")
	b.Place(&orderbook.Order{ID: 1, UserID: 1, Symbol: "BTC-USDT",
		Side: orderbook.Bid, Price: 100, Qty: 5, HoldID: 1})
	b.Place(&orderbook.Order{ID: 2, UserID: 2, Symbol: "BTC-USDT",
		Side: orderbook.Ask, Price: 105, Qty: 3, HoldID: 2})

	l := balance.NewLedger(nil)
	l.Deposit(1, "USDT", 1000)
	l.Deposit(2, "BTC", 10)
	accounts, holds, nextHold := l.Export()

	return &Snapshot{
		WalSeq:    walSeq,
		Created:   time.Now(),
		Books:     []BookState{CaptureBook(b)},
		Accounts:  accounts,
		Holds:     holds,
		NextHold:  nextHold,
		NextTrade: 42,
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	if err := w.Write(testSnapshot(17)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Latest(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.WalSeq != 17 || got.NextTrade != 42 {
		t.Errorf("wal_seq=%d next_trade=%d", got.WalSeq, got.NextTrade)
	}
	if len(got.Books) != 1 || len(got.Books[0].Orders) != 2 {
		t.Fatalf("book state not preserved: %+v", got.Books)
	}

	b := RestoreBook(got.Books[0])
	if b.Depth() != 2 {
		t.Errorf("restored depth = %d, want 2", b.Depth())
	}
	if o := b.Lookup(1); o == nil || o.Price != 100 || o.Qty != 5 {
		t.Errorf("restored order mismatch: %+v", o)
	}
}

func TestColdStart(t *testing.T) {
	s, err := Latest(t.TempDir())
	if err != nil || s != nil {
		t.Errorf("empty dir should be a clean cold start, got %v %v", s, err)
	}
}

func TestLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	for _, seq := range []uint64{5, 9, 12} {
		if err := w.Write(testSnapshot(seq)); err != nil {
			t.Fatalf("write %d: %v", seq, err)
		}
	}

	got, err := Latest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.WalSeq != 12 {
		t.Errorf("wal_seq = %d, want 12", got.WalSeq)
	}
}

func TestPruneKeepsTwo(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	for _, seq := range []uint64{1, 2, 3, 4, 5} {
		if err := w.Write(testSnapshot(seq)); err != nil {
			t.Fatal(err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if len(files) != keepSnapshots {
		t.Errorf("kept %d snapshots, want %d", len(files), keepSnapshots)
	}
}

func TestCorruptSnapshotIsFatal(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	if err := w.Write(testSnapshot(3)); err != nil {
		t.Fatal(err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(files[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Latest(dir); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	if err := w.Write(testSnapshot(1)); err != nil {
		t.Fatal(err)
	}

	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}
}

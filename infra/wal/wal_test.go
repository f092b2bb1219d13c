package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T, dir string, segSize int64) *WAL {
	t.Helper()
	w, err := Open(Config{Dir: dir, SegmentSize: segSize, SyncEveryAppend: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return w
}

func appendN(t *testing.T, w *WAL, from, count uint64) {
	t.Helper()
	for i := from; i < from+count; i++ {
		p := DepositPayload{User: i, Asset: "USDT", Amount: int64(i) * 10, SettleVersion: i}
		if err := w.Append(NewRecord(RecordDeposit, i, p.Encode())); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func collect(t *testing.T, dir string, afterSeq uint64) ([]*Record, uint64) {
	t.Helper()
	var recs []*Record
	last, err := Replay(dir, afterSeq, func(r *Record) error {
		recs = append(recs, r)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	return recs, last
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	appendN(t, w, 1, 5)
	w.Close()

	recs, last := collect(t, dir, 0)
	if len(recs) != 5 || last != 5 {
		t.Fatalf("got %d records last=%d, want 5/5", len(recs), last)
	}
	for i, r := range recs {
		if r.Seq != uint64(i+1) || r.Type != RecordDeposit {
			t.Errorf("record %d: seq=%d type=%v", i, r.Seq, r.Type)
		}
		p, err := DecodeDeposit(r.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Amount != int64(r.Seq)*10 {
			t.Errorf("payload mismatch at seq %d", r.Seq)
		}
	}
}

func TestReplaySkipsCoveredSeqs(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	appendN(t, w, 1, 10)
	w.Close()

	recs, last := collect(t, dir, 7)
	if len(recs) != 3 || last != 10 {
		t.Fatalf("got %d records last=%d, want 3/10", len(recs), last)
	}
	if recs[0].Seq != 8 {
		t.Errorf("first replayed seq = %d, want 8", recs[0].Seq)
	}
}

func TestRotationAndReopen(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 256) // tiny segments to force rotation
	appendN(t, w, 1, 20)
	w.Close()

	segs, _ := listSegments(dir)
	if len(segs) < 2 {
		t.Fatalf("expected rotation, got %d segments", len(segs))
	}

	// Reopen resumes the highest segment without clobbering history.
	w = openTest(t, dir, 256)
	appendN(t, w, 21, 5)
	w.Close()

	recs, last := collect(t, dir, 0)
	if len(recs) != 25 || last != 25 {
		t.Fatalf("got %d records last=%d, want 25/25", len(recs), last)
	}
}

func TestTornTailIsCleanEnd(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	appendN(t, w, 1, 3)
	w.Close()

	// A crash mid-append leaves a partial frame at the tail.
	f, err := os.OpenFile(segmentPath(dir, 0), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	f.Close()

	recs, last := collect(t, dir, 0)
	if len(recs) != 3 || last != 3 {
		t.Fatalf("torn tail should be ignored, got %d records last=%d", len(recs), last)
	}
}

func TestCorruptRecordIsFatal(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	appendN(t, w, 1, 3)
	w.Close()

	// Flip a payload byte inside the first record; its checksum no
	// longer matches.
	path := segmentPath(dir, 0)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[headerLen+2] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Replay(dir, 0, func(*Record) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 256)
	appendN(t, w, 1, 30)

	if err := w.TruncateBefore(15); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	w.Close()

	recs, last := collect(t, dir, 15)
	if last != 30 {
		t.Fatalf("last = %d, want 30", last)
	}
	for _, r := range recs {
		if r.Seq <= 15 {
			// Whole-segment granularity may keep some covered
			// records; they are skipped by afterSeq anyway.
			t.Errorf("replay surfaced covered seq %d", r.Seq)
		}
	}

	segs, _ := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if len(segs) == 0 {
		t.Fatal("active segment must survive truncation")
	}
}

func TestPayloadRoundTrips(t *testing.T) {
	ins := OrderInsertPayload{Symbol: "BTC-USDT", OrderID: 7, UserID: 3, SeqID: 9,
		HoldID: 4, Side: 1, Price: 100, Qty: 5, Filled: 2}
	got, err := DecodeOrderInsert(ins.Encode())
	if err != nil || got != ins {
		t.Errorf("order insert: %+v err=%v", got, err)
	}

	fill := OrderFillPayload{Symbol: "BTC-USDT", MakerOrderID: 7, Qty: 3, Remaining: 2, Done: true}
	gf, err := DecodeOrderFill(fill.Encode())
	if err != nil || gf != fill {
		t.Errorf("order fill: %+v err=%v", gf, err)
	}

	set := BalanceSettlePayload{HoldID: 4, Debit: 300, CreditUser: 2,
		CreditAsset: "USDT", CreditAmount: 297, Fee: 3, SettleVersion: 11}
	gs, err := DecodeBalanceSettle(set.Encode())
	if err != nil || gs != set {
		t.Errorf("balance settle: %+v err=%v", gs, err)
	}

	if _, err := DecodeOrderInsert([]byte{1, 2, 3}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("short payload should decode as corrupt, got %v", err)
	}
}

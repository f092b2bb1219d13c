package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestPutAndGet(t *testing.T) {
	o := openTest(t)

	require.NoError(t, o.Put(1, []byte("hello")))
	rec, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateNew, rec.State)
	assert.Equal(t, []byte("hello"), rec.Payload)
	assert.Equal(t, uint64(1), rec.Seq)
}

func TestStateTransitions(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Put(1, []byte("a")))

	require.NoError(t, o.MarkSent(1))
	rec, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateSent, rec.State)
	assert.Equal(t, uint32(1), rec.Retries)

	require.NoError(t, o.MarkAcked(1))
	rec, err = o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, rec.State)
}

func TestScanUndeliveredIncludesSent(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Put(1, []byte("a")))
	require.NoError(t, o.Put(2, []byte("b")))
	require.NoError(t, o.Put(3, []byte("c")))

	// A SENT entry might never have reached the broker; it must be
	// redelivered. Only ACKED entries are done.
	require.NoError(t, o.MarkSent(2))
	require.NoError(t, o.MarkSent(3))
	require.NoError(t, o.MarkAcked(3))

	var seqs []uint64
	require.NoError(t, o.ScanUndelivered(func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestTruncateAckedUpTo(t *testing.T) {
	o := openTest(t)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, o.Put(seq, []byte("x")))
	}
	require.NoError(t, o.MarkSent(1))
	require.NoError(t, o.MarkAcked(1))
	require.NoError(t, o.MarkSent(2))
	require.NoError(t, o.MarkAcked(2))
	require.NoError(t, o.MarkSent(4))
	require.NoError(t, o.MarkAcked(4))

	require.NoError(t, o.TruncateAckedUpTo(3))

	_, err := o.Get(1)
	assert.Error(t, err, "acked entry below the bound is pruned")
	_, err = o.Get(2)
	assert.Error(t, err)
	_, err = o.Get(3)
	assert.NoError(t, err, "undelivered entries survive")
	_, err = o.Get(4)
	assert.NoError(t, err, "acked entry above the bound survives")
}

func TestMaxSeq(t *testing.T) {
	o := openTest(t)

	max, err := o.MaxSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), max)

	require.NoError(t, o.Put(7, []byte("a")))
	require.NoError(t, o.Put(12, []byte("b")))

	max, err = o.MaxSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), max)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, o.Put(1, []byte("persist me")))
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()

	rec, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), rec.Payload)
}

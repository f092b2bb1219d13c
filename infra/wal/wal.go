package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const headerLen = 1 + 1 + 8 + 8 + 4 // version, type, seq, time, payload len

type Config struct {
	Dir         string
	SegmentSize int64
	// SyncEveryAppend fsyncs on every append. The persist stage runs
	// with this on: an entry is not durable until it hits disk.
	SyncEveryAppend bool
}

type WAL struct {
	dir       string
	segSize   int64
	syncEvery bool
	current   *segment
	segIndex  int
}

// Open resumes the highest existing segment, or starts segment zero.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}

	index := 0
	paths, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if i, ok := segmentIndex(p); ok && i > index {
			index = i
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	return &WAL{
		dir:       cfg.Dir,
		segSize:   cfg.SegmentSize,
		syncEvery: cfg.SyncEveryAppend,
		current:   seg,
		segIndex:  index,
	}, nil
}

// Append frames and writes one record:
//
//	[version:1][type:1][seq:8][time:8][len:4][payload][crc32:4]
//
// The checksum covers everything before it.
func (w *WAL) Append(r *Record) error {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, headerLen+int(payloadLen)+4)

	buf[0] = FormatVersion
	buf[1] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[2:10], r.Seq)
	binary.BigEndian.PutUint64(buf[10:18], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[18:22], payloadLen)
	copy(buf[headerLen:], r.Data)

	crc := crc32.ChecksumIEEE(buf[:headerLen+int(payloadLen)])
	binary.BigEndian.PutUint32(buf[headerLen+int(payloadLen):], crc)

	if err := w.current.append(buf); err != nil {
		return err
	}
	if w.syncEvery {
		if err := w.current.sync(); err != nil {
			return err
		}
	}

	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) Sync() error {
	return w.current.sync()
}

func (w *WAL) Close() error {
	return w.current.close()
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore drops whole segments whose records are all covered by a
// snapshot at seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	paths, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	sort.Strings(paths)

	active := segmentPath(w.dir, w.segIndex)
	for _, path := range paths {
		if path == active {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func segmentIndex(path string) (int, bool) {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, "segment-")
	name = strings.TrimSuffix(name, ".wal")
	i, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return i, true
}

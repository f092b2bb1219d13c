package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
)

// ErrCorrupt marks a checksum or framing failure. Recovery must refuse to
// start on it rather than load partial state.
var ErrCorrupt = errors.New("wal: corrupt record")

type ReplayHandler func(*Record) error

// Replay scans every segment in order and invokes fn for each record with
// Seq > afterSeq. Sequence numbers must be non-decreasing across the log.
//
// A truncated frame at the very tail of the last segment is a crash
// mid-append: the record was never durable, so the scan ends cleanly
// there. A checksum mismatch anywhere is fatal corruption.
func Replay(dir string, afterSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	paths, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	for i, path := range paths {
		last := i == len(paths)-1
		lastSeq, err = replaySegment(path, last, afterSeq, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, lastSegment bool, afterSeq, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err == io.EOF {
			return lastSeq, nil
		}
		if err == io.ErrUnexpectedEOF {
			if lastSegment {
				return lastSeq, nil // torn tail, never durable
			}
			return lastSeq, fmt.Errorf("%w: truncated record in %s", ErrCorrupt, path)
		}
		if err != nil {
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}

		if rec.Seq < lastSeq {
			return lastSeq, fmt.Errorf("%w: sequence went backwards: %d after %d in %s",
				ErrCorrupt, rec.Seq, lastSeq, path)
		}
		lastSeq = rec.Seq

		if rec.Seq <= afterSeq {
			continue // covered by the snapshot
		}
		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != FormatVersion {
		return nil, fmt.Errorf("%w: frame version %d", ErrCorrupt, header[0])
	}

	t := RecordType(header[1])
	seq := binary.BigEndian.Uint64(header[2:10])
	ts := binary.BigEndian.Uint64(header[10:18])
	payloadLen := binary.BigEndian.Uint32(header[18:22])

	body := make([]byte, int(payloadLen)+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	payload := body[:payloadLen]
	crc := binary.BigEndian.Uint32(body[payloadLen:])

	framed := make([]byte, 0, headerLen+int(payloadLen))
	framed = append(framed, header...)
	framed = append(framed, payload...)
	if crc32.ChecksumIEEE(framed) != crc {
		return nil, ErrCorrupt
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}

// maxSeqInSegment scans one segment for its highest sequence. Used only
// by snapshot-based truncation, so framing errors just end the scan.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	for {
		header := make([]byte, headerLen)
		if _, err := io.ReadFull(f, header); err != nil {
			return max, nil
		}
		seq := binary.BigEndian.Uint64(header[2:10])
		if seq > max {
			max = seq
		}
		payloadLen := binary.BigEndian.Uint32(header[18:22])
		if _, err := f.Seek(int64(payloadLen)+4, io.SeekCurrent); err != nil {
			return max, nil
		}
	}
}

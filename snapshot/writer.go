package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
)

// File format: [magic:4][version:1][len:8][crc:4][gob payload].
// Files are written to a temp name and renamed into place, so a
// half-written snapshot can never be mistaken for the latest one.

var magic = [4]byte{'J', 'S', 'N', 'P'}

const formatVersion byte = 1

const fileHeaderLen = 4 + 1 + 8 + 4

// keepSnapshots is how many older snapshot files survive a new capture.
const keepSnapshots = 2

type Writer struct {
	Dir string
}

func (w *Writer) Write(s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(s); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	header := make([]byte, fileHeaderLen)
	copy(header[:4], magic[:])
	header[4] = formatVersion
	binary.BigEndian.PutUint64(header[5:13], uint64(payload.Len()))
	binary.BigEndian.PutUint32(header[13:17], crc32.ChecksumIEEE(payload.Bytes()))

	final := filepath.Join(w.Dir, fmt.Sprintf("snapshot-%020d.snap", s.WalSeq))
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(payload.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, final); err != nil {
		return err
	}

	w.prune(final)
	return nil
}

// prune removes all but the newest keepSnapshots files.
func (w *Writer) prune(latest string) {
	paths, err := filepath.Glob(filepath.Join(w.Dir, "snapshot-*.snap"))
	if err != nil {
		return
	}
	sort.Strings(paths)
	if len(paths) <= keepSnapshots {
		return
	}
	for _, p := range paths[:len(paths)-keepSnapshots] {
		if p != latest {
			_ = os.Remove(p)
		}
	}
}

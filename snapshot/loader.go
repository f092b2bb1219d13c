package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
)

// ErrCorrupt marks a snapshot that fails header or checksum validation.
// Recovery treats it as fatal: a system that cannot prove its snapshot
// consistent must not serve.
var ErrCorrupt = errors.New("snapshot: corrupt file")

// Latest loads the newest snapshot in dir. Returns (nil, nil) when no
// snapshot exists — a valid cold start. A corrupt newest snapshot is a
// fatal error, not an excuse to silently fall back.
func Latest(dir string) (*Snapshot, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}
	sort.Strings(paths)
	newest := paths[len(paths)-1]

	s, err := load(newest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", newest, err)
	}
	return s, nil
}

func load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < fileHeaderLen {
		return nil, ErrCorrupt
	}

	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, data[4])
	}

	payloadLen := binary.BigEndian.Uint64(data[5:13])
	wantCRC := binary.BigEndian.Uint32(data[13:17])

	payload := data[fileHeaderLen:]
	if uint64(len(payload)) != payloadLen {
		return nil, fmt.Errorf("%w: payload length mismatch", ErrCorrupt)
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &s, nil
}

package wal

import (
	"fmt"
	"os"
	"path/filepath"
)

type segment struct {
	file   *os.File
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, offset: st.Size()}, nil
}

// append writes one framed record. On a short or failed write the
// segment is truncated back to the last full record, so the caller may
// retry the same record without leaving a torn frame mid-file.
func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err != nil {
		if n > 0 {
			_ = s.file.Truncate(s.offset)
		}
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}

// listSegments returns segment paths in index order.
func listSegments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		return nil, err
	}
	return files, nil
}

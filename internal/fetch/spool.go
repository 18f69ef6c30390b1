package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/pdf-fusion/internal/staging"
)

var errNotRewound = errors.New("fetch: spool read before Rewind")

// Spool is memory-then-disk staging for one downloaded document. Bytes stay
// in memory until the threshold is crossed, then move to a workspace temp
// file and every later write goes to disk.
type Spool struct {
	ws        *staging.Workspace
	threshold int64
	buf       bytes.Buffer
	file      *os.File
	reader    *bytes.Reader
	size      int64
	closed    bool
	onResize  func(delta int64)
}

// NewSpool creates an empty spool. A threshold <= 0 spills on first write.
func NewSpool(ws *staging.Workspace, threshold int64) *Spool {
	return &Spool{ws: ws, threshold: threshold}
}

func (s *Spool) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if s.file == nil && int64(s.buf.Len()+len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.size += int64(n)
	if s.onResize != nil {
		s.onResize(int64(n))
	}
	return n, err
}

func (s *Spool) spill() error {
	f, err := s.ws.CreateTemp("spool-*.pdf")
	if err != nil {
		return err
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		s.ws.Release(f.Name())
		return fmt.Errorf("fetch: spill to disk: %w", err)
	}
	s.file = f
	s.buf = bytes.Buffer{}
	s.reader = nil
	return nil
}

// Rewind positions the spool at its first byte for reading.
func (s *Spool) Rewind() error {
	if s.closed {
		return os.ErrClosed
	}
	if s.file != nil {
		_, err := s.file.Seek(0, io.SeekStart)
		return err
	}
	s.reader = bytes.NewReader(s.buf.Bytes())
	return nil
}

func (s *Spool) Read(p []byte) (int, error) {
	switch {
	case s.closed:
		return 0, os.ErrClosed
	case s.file != nil:
		return s.file.Read(p)
	case s.reader == nil:
		return 0, errNotRewound
	default:
		return s.reader.Read(p)
	}
}

func (s *Spool) Seek(offset int64, whence int) (int64, error) {
	switch {
	case s.closed:
		return 0, os.ErrClosed
	case s.file != nil:
		return s.file.Seek(offset, whence)
	case s.reader == nil:
		return 0, errNotRewound
	default:
		return s.reader.Seek(offset, whence)
	}
}

// Size is the number of bytes written.
func (s *Spool) Size() int64 { return s.size }

// Spilled reports whether the spool moved to disk.
func (s *Spool) Spilled() bool { return s.file != nil }

// Close discards the spool's storage. Safe to call more than once.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onResize != nil {
		s.onResize(-s.size)
	}
	s.buf = bytes.Buffer{}
	s.reader = nil
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rerr := s.ws.Release(name); err == nil {
		err = rerr
	}
	s.file = nil
	return err
}

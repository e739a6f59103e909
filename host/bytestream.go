package host

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zioncity/flvsource/media"
)

// readerAt is the random-access surface shared by the file- and
// memory-backed byte streams.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// byteStream adapts a readerAt to media.ByteStream. Reads complete on the
// dispatcher; a seek with cancelPending bumps the generation counter so
// work items issued for stale reads return without invoking their callback.
type byteStream struct {
	r    readerAt
	disp media.Dispatcher

	mu  sync.Mutex
	pos int64
	gen uint64
}

func newByteStream(r readerAt, disp media.Dispatcher) *byteStream {
	if disp == nil {
		disp = media.GoDispatcher{}
	}
	return &byteStream{r: r, disp: disp}
}

func (s *byteStream) Capabilities() media.Capability {
	return media.Readable | media.Seekable
}

func (s *byteStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *byteStream) SetPosition(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("position %d: %w", pos, media.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	return nil
}

func (s *byteStream) Seek(origin media.SeekOrigin, offset int64, cancelPending bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancelPending {
		s.gen++
	}
	pos := offset
	if origin == media.SeekCurrent {
		pos = s.pos + offset
	}
	if pos < 0 {
		return s.pos, fmt.Errorf("seek to %d: %w", pos, media.ErrInvalidArgument)
	}
	s.pos = pos
	return pos, nil
}

func (s *byteStream) ReadAsync(n int, cb media.ReadCallback) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	err := s.disp.Dispatch(func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return // cancelled by an intervening seek
		}
		buf := make([]byte, n)
		m, err := s.r.ReadAt(buf, s.pos)
		s.pos += int64(m)
		s.mu.Unlock()
		if errors.Is(err, io.EOF) {
			err = nil // short read signals end of stream
		}
		cb(buf[:m], err)
	})
	if err != nil {
		// Deliver the failure off this goroutine; the caller may hold the
		// lock its completion needs.
		go cb(nil, err)
	}
}

// FileByteStream is a seekable byte stream over a file on disk.
type FileByteStream struct {
	*byteStream
	f *os.File
}

// OpenFile opens path as a byte stream. Read completions run on disp;
// a nil disp falls back to per-read goroutines.
func OpenFile(path string, disp media.Dispatcher) (*FileByteStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileByteStream{byteStream: newByteStream(f, disp), f: f}, nil
}

// Close releases the underlying file.
func (s *FileByteStream) Close() error {
	return s.f.Close()
}

// MemoryByteStream is a seekable byte stream over an in-memory buffer,
// used by tests and for already-loaded media.
type MemoryByteStream struct {
	*byteStream
}

// NewMemoryByteStream wraps data. Read completions run on disp; a nil disp
// falls back to per-read goroutines.
func NewMemoryByteStream(data []byte, disp media.Dispatcher) *MemoryByteStream {
	return &MemoryByteStream{byteStream: newByteStream(memReader(data), disp)}
}

type memReader []byte

func (m memReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

package stream

import (
	"context"
	"io"
	"sync"

	"github.com/objectfs/accelerator/internal/physical"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// Stream is a seekable reader over one object version. All reads are
// synchronous. Closing the stream cancels any read in flight.
type Stream struct {
	id      string
	uri     types.S3URI
	blob    *physical.Blob
	release func()
	stale   func()
	tail    []types.Range

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	pos    int64
	closed bool
}

var (
	_ io.Reader     = (*Stream)(nil)
	_ io.ReaderAt   = (*Stream)(nil)
	_ io.Seeker     = (*Stream)(nil)
	_ io.ByteReader = (*Stream)(nil)
	_ io.Closer     = (*Stream)(nil)
)

func newStream(id string, uri types.S3URI, blob *physical.Blob, release func()) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{id: id, uri: uri, blob: blob, release: release, ctx: ctx, cancel: cancel}
}

// ID returns the stream identifier carried on its object requests.
func (s *Stream) ID() string { return s.id }

// URI returns the object location.
func (s *Stream) URI() types.S3URI { return s.uri }

// Metadata returns the metadata of the version being read.
func (s *Stream) Metadata() types.ObjectMetadata { return s.blob.Metadata() }

// Size returns the content length.
func (s *Stream) Size() int64 { return s.blob.Size() }

// TailRanges returns the footer ranges prefetched when the stream opened.
func (s *Stream) TailRanges() []types.Range { return s.tail }

// Blob exposes the shared blob, for submitting prefetch plans.
func (s *Stream) Blob() *physical.Blob { return s.blob }

// Position returns the current read offset.
func (s *Stream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Read reads from the current position and advances it.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(s.ctx, p)
}

// ReadContext is Read bounded by ctx as well as by the stream's lifetime.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("read"); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.FromContext(err, "read").WithComponent("stream")
	}
	if len(p) == 0 {
		return 0, nil
	}

	ctx, stop := s.bind(ctx)
	defer stop()

	n, err := s.blob.Read(ctx, p, 0, len(p), s.pos)
	s.pos += int64(n)
	return n, s.observe(err)
}

// ReadAt reads len(p) bytes at off without moving the position.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.InvalidInput("read_at", "offset %d is negative", off)
	}
	if err := s.checkOpenLocked("read_at"); err != nil {
		return 0, err
	}
	n, err := s.blob.ReadAt(s.ctx, p, off)
	return n, s.observe(err)
}

// ReadByte reads one byte and advances the position.
func (s *Stream) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("read_byte"); err != nil {
		return 0, err
	}
	c, err := s.blob.ReadByte(s.ctx, s.pos)
	if err != nil {
		return 0, s.observe(err)
	}
	s.pos++
	return c, nil
}

// Seek sets the position. Seeking past the end is allowed; reads there
// return io.EOF.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("seek"); err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = s.pos + offset
	case io.SeekEnd:
		next = s.blob.Size() + offset
	default:
		return 0, errors.InvalidInput("seek", "invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.InvalidInput("seek", "position %d is negative", next)
	}
	s.pos = next
	return next, nil
}

// Close releases the stream's hold on the shared blob. It is idempotent.
func (s *Stream) Close() error {
	// Cancel before locking so a blocked read gives the lock up.
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

// observe reports a vanished or replaced object version to the opener.
func (s *Stream) observe(err error) error {
	if s.stale != nil && errors.IsCode(err, errors.ErrCodeObjectNotFound) {
		s.stale()
	}
	return err
}

func (s *Stream) checkOpen(op string) error {
	if s.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "stream is closed").
			WithComponent("stream").
			WithOperation(op)
	}
	return nil
}

func (s *Stream) checkOpenLocked(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpen(op)
}

// bind returns a context that ends when either ctx or the stream does.
func (s *Stream) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == s.ctx {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

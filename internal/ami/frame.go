package ami

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	// fallbackMinContent is the minimum number of bytes that must precede a
	// bare "\n\n" before it is accepted as a frame terminator.
	fallbackMinContent = 10

	defaultMaxFrame = 1 << 20
	readChunkSize   = 4096
)

// ErrFrameTooLarge is returned when a frame grows past the reader's limit
// without a terminator.
var ErrFrameTooLarge = errors.New("ami: frame too large")

// Frame is one AMI message: a header block plus optional output lines, ended
// by an empty line. Complete is false when the read deadline expired or the
// peer closed before the terminator arrived.
type Frame struct {
	Raw      []byte
	Complete bool
}

// String returns the raw frame text
func (f Frame) String() string {
	return string(f.Raw)
}

// Empty reports whether the frame carries no content besides whitespace.
func (f Frame) Empty() bool {
	return strings.TrimSpace(string(f.Raw)) == ""
}

// FrameReader accumulates bytes from a connection and cuts them into frames.
// Bytes after a terminator are kept for the next ReadFrame call.
type FrameReader struct {
	conn     net.Conn
	readFn   func([]byte) (int, error)
	buf      []byte
	readBuf  []byte
	scanned  int
	maxFrame int
}

// NewFrameReader creates a frame reader on conn
func NewFrameReader(conn net.Conn) *FrameReader {
	return newFrameReaderWithTransport(conn, conn.Read, defaultMaxFrame)
}

// newFrameReaderWithTransport allows tests to control how bytes arrive.
func newFrameReaderWithTransport(conn net.Conn, readFn func([]byte) (int, error), maxFrame int) *FrameReader {
	if readFn == nil {
		readFn = conn.Read
	}
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrame
	}
	return &FrameReader{
		conn:     conn,
		readFn:   readFn,
		buf:      make([]byte, 0, readChunkSize),
		readBuf:  make([]byte, readChunkSize),
		maxFrame: maxFrame,
	}
}

// ReadFrame blocks until a complete frame is buffered, the deadline (or the
// context deadline, whichever is earlier) passes, or the peer closes.
//
// On timeout the partial content is returned together with ErrFrameTimeout;
// on peer close with ErrConnectionClosed. A zero deadline means no limit
// besides ctx.
func (r *FrameReader) ReadFrame(ctx context.Context, deadline time.Time) (Frame, error) {
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return Frame{}, err
	}
	// Cancelling ctx forces the blocked Read to return by moving the
	// deadline into the past.
	stop := context.AfterFunc(ctx, func() {
		_ = r.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		if frame, ok := r.tryFrame(); ok {
			return frame, nil
		}
		if len(r.buf) > r.maxFrame {
			return r.takePartial(), ErrFrameTooLarge
		}

		n, err := r.readFn(r.readBuf)
		if n > 0 {
			r.buf = append(r.buf, r.readBuf[:n]...)
		}
		if err == nil && n > 0 {
			continue
		}
		if frame, ok := r.tryFrame(); ok {
			return frame, nil
		}

		partial := r.takePartial()
		var netErr net.Error
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return partial, ErrConnectionClosed
		case ctx.Err() != nil:
			return partial, fmt.Errorf("%w: %w", ErrFrameTimeout, ctx.Err())
		case errors.As(err, &netErr) && netErr.Timeout():
			return partial, ErrFrameTimeout
		default:
			return partial, err
		}
	}
}

// Buffered returns the number of carried-over bytes.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Discard drops carried-over bytes and returns how many were dropped.
func (r *FrameReader) Discard() int {
	n := len(r.buf)
	r.buf = r.buf[:0]
	r.scanned = 0
	return n
}

// tryFrame cuts a frame off the front of the buffer if a terminator has
// been received.
func (r *FrameReader) tryFrame() (Frame, bool) {
	if r.scanned == 0 {
		r.buf = trimLeadingLineBreaks(r.buf)
	}
	if len(r.buf) == 0 {
		return Frame{}, false
	}
	from := r.scanned - 3
	if from < 0 {
		from = 0
	}
	end := indexFrameEnd(r.buf, from)
	if end < 0 {
		r.scanned = len(r.buf)
		return Frame{}, false
	}

	frame := Frame{Raw: append([]byte(nil), r.buf[:end]...), Complete: true}
	n := copy(r.buf, r.buf[end:])
	r.buf = r.buf[:n]
	r.scanned = 0
	return frame, true
}

func (r *FrameReader) takePartial() Frame {
	frame := Frame{Raw: append([]byte(nil), r.buf...)}
	r.buf = r.buf[:0]
	r.scanned = 0
	return frame
}

// indexFrameEnd returns the index just past the earliest terminator that
// ends at or after from, or -1. A terminator is "\r\n\r\n", or "\n\n" after
// at least fallbackMinContent bytes. Because the earliest terminator wins,
// the boundary does not depend on how the bytes were chunked.
func indexFrameEnd(b []byte, from int) int {
	if from < 1 {
		from = 1
	}
	for i := from; i < len(b); i++ {
		if b[i] != '\n' {
			continue
		}
		if i >= 3 && b[i-3] == '\r' && b[i-2] == '\n' && b[i-1] == '\r' {
			return i + 1
		}
		if b[i-1] == '\n' && i-1 >= fallbackMinContent {
			return i + 1
		}
	}
	return -1
}

// trimLeadingLineBreaks discards CR/LF bytes at the start of a frame so a
// stray blank line is never taken for an empty frame.
func trimLeadingLineBreaks(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == '\r' || b[i] == '\n') {
		i++
	}
	if i == 0 {
		return b
	}
	n := copy(b, b[i:])
	return b[:n]
}

package boot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/arloliu/go-raspboot/internal/pool"
)

// Link is the raw byte channel to the device.
//
// Read may return 0 bytes with a nil error when no data is available yet,
// as a serial port with a read timeout does; the session then waits one
// poll interval and reads again. Implementations should not block in Read
// for long, since cancellation is only observed between reads.
//
// Flush blocks until every written byte has been handed to the transport.
type Link interface {
	io.Reader
	io.Writer
	Flush() error
}

// linkReader is the read-ahead buffer between the link and the scanner.
//
// The scanner consumes one byte at a time so a match is reported on the
// exact byte that completes the marker. Bytes read from the link past that
// point stay here for the next stage.
type linkReader struct {
	link         Link
	buf          []byte
	r, w         int
	err          error
	pollInterval time.Duration
	onRead       func(n int)
}

func newLinkReader(link Link, chunkSize int, pollInterval time.Duration, onRead func(n int)) *linkReader {
	return &linkReader{
		link:         link,
		buf:          make([]byte, chunkSize),
		pollInterval: pollInterval,
		onRead:       onRead,
	}
}

// buffered returns the number of read-ahead bytes not consumed yet.
func (lr *linkReader) buffered() int {
	return lr.w - lr.r
}

// pending returns a copy of the read-ahead bytes not consumed yet.
func (lr *linkReader) pending() []byte {
	return bytes.Clone(lr.buf[lr.r:lr.w])
}

// readByte returns the next byte from the link, polling until one arrives.
//
// A zero deadline means wait forever. ErrDeadlineExceeded is returned when the
// deadline passes, ctx.Err() when the context is done.
func (lr *linkReader) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	for lr.r == lr.w {
		if lr.err != nil {
			err := lr.err
			lr.err = nil

			return 0, err
		}

		if err := ctx.Err(); err != nil {
			return 0, err
		}

		wait := lr.pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, ErrDeadlineExceeded
			}
			wait = min(wait, remaining)
		}

		n, err := lr.link.Read(lr.buf)
		if n > 0 {
			lr.r, lr.w = 0, n
			if lr.onRead != nil {
				lr.onRead(n)
			}
		}

		if err != nil {
			// Hand out the bytes that came with the error first.
			lr.err = fmt.Errorf("%w: read: %w", ErrTransport, err)
			continue
		}

		if n == 0 {
			if err := pool.Sleep(ctx, wait); err != nil {
				return 0, err
			}
		}
	}

	b := lr.buf[lr.r]
	lr.r++

	return b, nil
}

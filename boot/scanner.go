package boot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-raspboot/internal/util"
	"github.com/arloliu/go-raspboot/logger"
)

// ByteScanner detects markers in the byte stream coming from a link.
//
// Every AwaitMarker call starts from an empty scan buffer that belongs to
// that call alone. Bytes are consumed one at a time regardless of how the
// link chunks them, so a wait returns on the byte that completes the marker.
//
// ByteScanner is NOT goroutine-safe; one wait may be active at a time.
type ByteScanner struct {
	reader *linkReader
	logger logger.Logger
}

// NewByteScanner creates a ByteScanner reading from link with the poll and
// read-ahead settings of cfg.
func NewByteScanner(link Link, cfg *SessionConfig) (*ByteScanner, error) {
	if link == nil {
		return nil, ErrLinkNil
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}

	return newByteScanner(newLinkReader(link, cfg.readChunkSize, cfg.pollInterval, nil), cfg.logger), nil
}

func newByteScanner(reader *linkReader, l logger.Logger) *ByteScanner {
	return &ByteScanner{reader: reader, logger: l}
}

// Buffered returns the number of bytes read from the link but not scanned yet.
// They are the first bytes the next AwaitMarker call sees.
func (s *ByteScanner) Buffered() int {
	return s.reader.buffered()
}

// Pending returns a copy of the bytes read from the link but not scanned yet.
func (s *ByteScanner) Pending() []byte {
	return s.reader.pending()
}

// AwaitMarker blocks until m is found, returning the number of bytes consumed.
//
// timeout bounds the wait; NoDeadline waits until the marker shows up or
// ctx is done. Errors are ErrDeadlineExceeded, ErrTransport or the context
// error, each wrapped with the marker name. The scanned count is returned
// on error too.
func (s *ByteScanner) AwaitMarker(ctx context.Context, m Marker, timeout time.Duration) (int, error) {
	if m.Len() == 0 {
		return 0, ErrEmptyMarker
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	buf := make([]byte, 0, 2*m.Len())
	scanned := 0
	stalled := false

	for {
		b, err := s.reader.readByte(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrDeadlineExceeded) {
				return scanned, fmt.Errorf("%w: %s marker not seen within %v", ErrDeadlineExceeded, m.Name(), timeout)
			}

			return scanned, fmt.Errorf("boot: waiting for %s marker: %w", m.Name(), err)
		}
		scanned++

		if stalled {
			continue
		}
		buf = append(buf, b)

		if m.Matches(buf) {
			s.logger.Info("marker found", "marker", m.Name(), "scanned", scanned)
			return scanned, nil
		}

		if m.unmatchable(buf) {
			stalled = true
			s.logger.Warn("exact marker can no longer match, waiting for deadline or cancel",
				"marker", m.Name(),
				"expected", util.QuoteBytes(m.data),
				"got", util.QuoteBytes(buf),
			)
		}
	}
}

package boot

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/arloliu/go-raspboot/logger"
)

// LengthPrefixSize is the size of the payload length on the wire.
const LengthPrefixSize = 4

// EncodeLength serializes n as the 4-byte little-endian length prefix.
func EncodeLength(n uint32) [LengthPrefixSize]byte {
	var b [LengthPrefixSize]byte
	binary.LittleEndian.PutUint32(b[:], n)

	return b
}

// DecodeLength parses a length prefix produced by EncodeLength.
// Bytes past the first four are ignored.
func DecodeLength(b []byte) (uint32, error) {
	if len(b) < LengthPrefixSize {
		return 0, fmt.Errorf("%w: got %d", ErrShortLength, len(b))
	}

	return binary.LittleEndian.Uint32(b), nil
}

// Payload is the image sent to the device together with its length.
type Payload struct {
	data   []byte
	length uint32
}

// NewPayload wraps data as a Payload. data is not copied and must not be
// modified while a session sends it.
func NewPayload(data []byte) (Payload, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return Payload{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	return Payload{data: data, length: uint32(len(data))}, nil //nolint:gosec
}

// Len returns the length sent in the prefix. It always equals the number
// of body bytes.
func (p Payload) Len() uint32 { return p.length }

// Data returns the payload body.
func (p Payload) Data() []byte { return p.data }

// PayloadTransfer writes the length prefix and the payload body.
//
// Each write is followed by a Flush so the bytes have left the host before
// the next protocol step starts.
type PayloadTransfer struct {
	link    Link
	logger  logger.Logger
	metrics *SessionMetrics
}

func newPayloadTransfer(link Link, l logger.Logger, metrics *SessionMetrics) *PayloadTransfer {
	return &PayloadTransfer{link: link, logger: l, metrics: metrics}
}

// SendLength writes the 4-byte little-endian length and flushes it.
func (pt *PayloadTransfer) SendLength(ctx context.Context, n uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := EncodeLength(n)
	pt.logger.Info("sending payload length", "length", n)

	if err := pt.writeAll(prefix[:]); err != nil {
		return fmt.Errorf("%w: send length: %w", ErrTransport, err)
	}

	return pt.flush("length")
}

// SendBody writes data in a single write and flushes it. An empty body
// writes nothing but is still flushed.
func (pt *PayloadTransfer) SendBody(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pt.logger.Info("sending payload", "length", len(data))

	if err := pt.writeAll(data); err != nil {
		return fmt.Errorf("%w: send body: %w", ErrTransport, err)
	}

	if err := pt.flush("body"); err != nil {
		return err
	}
	pt.logger.Info("sent payload", "bytes", len(data))

	return nil
}

// writeAll writes all bytes in data to the link. A Write that accepts
// fewer bytes without an error is continued where it stopped; a Write
// that makes no progress fails with io.ErrShortWrite.
func (pt *PayloadTransfer) writeAll(data []byte) error {
	for written := 0; written < len(data); {
		n, err := pt.link.Write(data[written:])
		written += n
		pt.metrics.addBytesSent(n)

		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}

	return nil
}

func (pt *PayloadTransfer) flush(what string) error {
	if err := pt.link.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrTransport, what, err)
	}

	return nil
}

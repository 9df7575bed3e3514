// Package payload loads the image that a boot session sends to the device.
//
// Loading happens before the serial link is touched, so a missing or
// unreadable file never leaves the device mid-handshake.
package payload

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/arloliu/go-raspboot/boot"
)

// ErrPayloadSource indicates that the payload could not be read.
var ErrPayloadSource = errors.New("payload: cannot read payload")

// Load reads the file at path into a boot.Payload.
func Load(path string) (boot.Payload, error) {
	if path == "" {
		return boot.Payload{}, fmt.Errorf("%w: empty path", ErrPayloadSource)
	}

	f, err := os.Open(path)
	if err != nil {
		return boot.Payload{}, fmt.Errorf("%w: %w", ErrPayloadSource, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return boot.Payload{}, fmt.Errorf("%w: %w", ErrPayloadSource, err)
	}
	if info.IsDir() {
		return boot.Payload{}, fmt.Errorf("%w: %s is a directory", ErrPayloadSource, path)
	}
	if info.Size() > math.MaxUint32 {
		return boot.Payload{}, fmt.Errorf("%w: %s has %d bytes", boot.ErrPayloadTooLarge, path, info.Size())
	}

	return Read(f)
}

// Read reads r to the end into a boot.Payload.
func Read(r io.Reader) (boot.Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, math.MaxUint32+1))
	if err != nil {
		return boot.Payload{}, fmt.Errorf("%w: %w", ErrPayloadSource, err)
	}

	return boot.NewPayload(data)
}

package boot

import (
	"bytes"
	"fmt"

	"github.com/arloliu/go-raspboot/internal/util"
)

// MatchMode selects how a Marker is recognised in the scan buffer.
type MatchMode uint8

const (
	// MatchContains is satisfied as soon as the marker appears as a
	// contiguous run anywhere in the scan buffer, after any amount of noise.
	MatchContains MatchMode = iota
	// MatchExact is satisfied only when the whole scan buffer equals the
	// marker. Any leading noise makes the stage unmatchable.
	MatchExact
)

func (m MatchMode) String() string {
	switch m {
	case MatchContains:
		return "contains"
	case MatchExact:
		return "exact"
	default:
		return fmt.Sprintf("MatchMode(%d)", uint8(m))
	}
}

// ParseMatchMode converts "contains" or "exact" to a MatchMode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "contains", "":
		return MatchContains, nil
	case "exact":
		return MatchExact, nil
	default:
		return MatchContains, fmt.Errorf("%w: %q", ErrInvalidMatchMode, s)
	}
}

// Marker is an immutable byte pattern that signals a protocol transition.
type Marker struct {
	name string
	data []byte
	mode MatchMode
}

// Protocol marker contents.
var (
	ReadyBytes   = []byte("RBIN64\r\n")
	TriggerBytes = []byte{0x03, 0x03, 0x03}
	AckBytes     = []byte("OK")
)

// NewMarker creates a Marker from a copy of data.
func NewMarker(name string, data []byte, mode MatchMode) (Marker, error) {
	if len(data) == 0 {
		return Marker{}, fmt.Errorf("%w: %s", ErrEmptyMarker, name)
	}
	if mode != MatchContains && mode != MatchExact {
		return Marker{}, fmt.Errorf("%w: %d", ErrInvalidMatchMode, mode)
	}

	return Marker{name: name, data: util.CloneSlice(data, 0), mode: mode}, nil
}

func mustMarker(name string, data []byte, mode MatchMode) Marker {
	m, err := NewMarker(name, data, mode)
	if err != nil {
		panic(err)
	}

	return m
}

// Name returns the marker name used in logs and errors.
func (m Marker) Name() string { return m.name }

// Bytes returns a copy of the marker content.
func (m Marker) Bytes() []byte { return util.CloneSlice(m.data, 0) }

// Len returns the marker length in bytes.
func (m Marker) Len() int { return len(m.data) }

// Mode returns the match mode.
func (m Marker) Mode() MatchMode { return m.mode }

// WithMode returns a copy of m using mode.
func (m Marker) WithMode(mode MatchMode) Marker {
	m.mode = mode
	return m
}

func (m Marker) String() string {
	return fmt.Sprintf("%s(%s, %s)", m.name, util.QuoteBytes(m.data), m.mode)
}

// Matches reports whether buf satisfies the marker.
//
// For MatchContains only the tail of buf is inspected, so buf must be
// checked after every appended byte to catch the first occurrence.
func (m Marker) Matches(buf []byte) bool {
	switch m.mode {
	case MatchExact:
		return len(buf) == len(m.data) && bytes.Equal(buf, m.data)
	default:
		return bytes.HasSuffix(buf, m.data)
	}
}

// unmatchable reports whether no further bytes can ever satisfy an exact marker.
func (m Marker) unmatchable(buf []byte) bool {
	if m.mode != MatchExact {
		return false
	}

	return len(buf) > len(m.data) || !bytes.HasPrefix(m.data, buf)
}

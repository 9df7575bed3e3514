package boot

import "errors"

// Sentinel errors for the boot protocol.
var (
	// ErrTransport indicates that a link read, write or flush failed.
	// The underlying error is wrapped alongside it.
	ErrTransport = errors.New("boot: transport error")

	// ErrDeadlineExceeded indicates that a marker did not show up within
	// the deadline configured for its stage.
	ErrDeadlineExceeded = errors.New("boot: marker deadline exceeded")

	// ErrPayloadTooLarge indicates that a payload does not fit the 32-bit length prefix.
	ErrPayloadTooLarge = errors.New("boot: payload exceeds 4 GiB length prefix")

	// ErrShortLength indicates that a length prefix holds fewer than 4 bytes.
	ErrShortLength = errors.New("boot: length prefix shorter than 4 bytes")
)

var (
	// ErrEmptyMarker indicates that a marker was created without content.
	ErrEmptyMarker = errors.New("boot: marker is empty")

	// ErrInvalidMatchMode indicates an unknown MatchMode value.
	ErrInvalidMatchMode = errors.New("boot: invalid match mode")

	// ErrInvalidStage indicates an unknown Stage value.
	ErrInvalidStage = errors.New("boot: invalid stage")

	// ErrStageOrder indicates that a handshake stage was requested out of order.
	ErrStageOrder = errors.New("boot: handshake stage out of order")
)

var (
	// ErrLinkNil indicates that a nil Link was provided.
	ErrLinkNil = errors.New("boot: link is nil")

	// ErrConfigNil indicates that a nil SessionConfig was provided.
	ErrConfigNil = errors.New("boot: session config is nil")

	// ErrSessionUsed indicates that Run was called on a session that already ran.
	// A failed session restarts from a fresh Session, never from the failed stage.
	ErrSessionUsed = errors.New("boot: session already used")

	// ErrInvalidTransition indicates an attempt to skip or repeat a session state.
	ErrInvalidTransition = errors.New("boot: invalid state transition")
)

// Package boot implements the host side of the raspbootin style chain-loading
// handshake spoken by a minimal stage-1 bootloader over a serial link.
//
// # Protocol Overview
//
// The exchange is a fixed sequence of markers and two host writes:
//
//  1. Device -> host: ready marker "RBIN64\r\n".
//  2. Device -> host: trigger marker, three 0x03 bytes.
//  3. Host -> device: payload length, 4 bytes little-endian unsigned.
//  4. Device -> host: acknowledgement marker "OK".
//  5. Host -> device: the payload bytes, exactly length bytes.
//
// There is no checksum, retransmission or flow control; the device is
// expected to absorb the whole payload once it has acknowledged the length.
//
// # Components
//
// A [ByteScanner] recognises one [Marker] in an arbitrarily chunked byte
// stream. The [HandshakeSequencer] drives the scanner through the ready,
// trigger and ack stages in order, each on a fresh scan buffer. The
// [PayloadTransfer] writes the length prefix and the body, each followed by a
// flush. A [Session] composes the three into the linear state machine
//
//	Init -> AwaitReady -> AwaitTrigger -> SendLength -> AwaitAck -> SendBody -> Done
//
// # Blocking
//
// By default every marker wait blocks until the marker shows up, the context
// is cancelled, or the link fails. A per-marker deadline can be configured
// with [WithMarkerTimeout]; an expired wait reports [ErrDeadlineExceeded].
//
// The [Link] is not closed by a Session. After Done the caller hands it to
// an interactive terminal; after a failure the caller closes it.
package boot

package boot

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// SessionMetrics contains counters for a boot session.
// They are safe to read while the session runs, e.g. from a progress display.
type SessionMetrics struct {
	// BytesRead indicates the number of bytes read from the link.
	BytesRead *xsync.Counter
	// BytesScanned indicates the number of bytes consumed by marker scans.
	BytesScanned *xsync.Counter
	// NoiseBytes indicates the number of scanned bytes that were not part of a matched marker.
	NoiseBytes *xsync.Counter
	// BytesSent indicates the number of bytes written to the link, length prefix included.
	BytesSent *xsync.Counter
	// MarkersMatched indicates the number of markers found.
	MarkersMatched atomic.Uint32

	stageDurations *xsync.MapOf[Stage, time.Duration]
}

func newSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		BytesRead:      xsync.NewCounter(),
		BytesScanned:   xsync.NewCounter(),
		NoiseBytes:     xsync.NewCounter(),
		BytesSent:      xsync.NewCounter(),
		stageDurations: xsync.NewMapOf[Stage, time.Duration](),
	}
}

// StageDuration returns how long the wait for the marker of stage took.
// ok is false if the stage has not completed.
func (m *SessionMetrics) StageDuration(stage Stage) (d time.Duration, ok bool) {
	return m.stageDurations.Load(stage)
}

func (m *SessionMetrics) addBytesRead(n int) {
	m.BytesRead.Add(int64(n))
}

func (m *SessionMetrics) addBytesSent(n int) {
	m.BytesSent.Add(int64(n))
}

func (m *SessionMetrics) markerMatched(stage Stage, scanned int, markerLen int, elapsed time.Duration) {
	m.MarkersMatched.Add(1)
	m.BytesScanned.Add(int64(scanned))
	m.NoiseBytes.Add(int64(scanned - markerLen))
	m.stageDurations.Store(stage, elapsed)
}

func (m *SessionMetrics) scanAborted(scanned int) {
	m.BytesScanned.Add(int64(scanned))
	m.NoiseBytes.Add(int64(scanned))
}

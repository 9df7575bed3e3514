// Package linktest provides a scripted in-memory link for exercising the
// boot protocol without a serial device.
//
// A Link hands out fed chunks to Read one chunk per call, returns 0 bytes
// with a nil error when nothing is queued (as a serial port with a read
// timeout does), and records every read, write and flush in a trace.
package linktest

import (
	"bytes"
	"errors"
	"sync"

	"github.com/arloliu/go-raspboot/internal/queue"
)

// ErrClosed is returned by a closed Link.
var ErrClosed = errors.New("linktest: link closed")

// EventKind identifies a traced link operation.
type EventKind int

const (
	EventRead EventKind = iota
	EventWrite
	EventFlush
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventFlush:
		return "flush"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one traced link operation. Data is a copy of the bytes
// delivered by a read or accepted by a write.
type Event struct {
	Kind EventKind
	Data []byte
}

// Link is a scripted link. All methods are goroutine-safe.
type Link struct {
	mu      sync.Mutex
	chunks  queue.Queue[[]byte]
	pending []byte
	trace   []Event
	flushes int
	closed  bool

	readErr  error
	writeErr error
	flushErr error
	maxWrite int

	onFlush func(count int)
	onWrite func(data []byte)
}

// New creates a Link with chunks already queued for reading.
func New(chunks ...[]byte) *Link {
	l := &Link{chunks: queue.NewSliceQueue[[]byte](len(chunks))}
	l.Feed(chunks...)

	return l
}

// Feed queues chunks; each is returned by a separate Read call.
func (l *Link) Feed(chunks ...[]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range chunks {
		l.chunks.Enqueue(bytes.Clone(c))
	}
}

// FeedString queues each string as one chunk.
func (l *Link) FeedString(chunks ...string) {
	for _, c := range chunks {
		l.Feed([]byte(c))
	}
}

// OnFlush registers f to run after every Flush with the flush count so far.
// f runs on the flushing goroutine and may call Feed.
func (l *Link) OnFlush(f func(count int)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onFlush = f
}

// OnWrite registers f to run after every successful Write.
func (l *Link) OnWrite(f func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onWrite = f
}

// FailRead makes Read return err once the queued chunks are exhausted.
func (l *Link) FailRead(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readErr = err
}

// FailWrite makes every Write return err.
func (l *Link) FailWrite(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writeErr = err
}

// FailFlush makes every Flush return err.
func (l *Link) FailFlush(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.flushErr = err
}

// LimitWrite makes Write accept at most n bytes per call. Zero removes the limit.
func (l *Link) LimitWrite(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxWrite = n
}

func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	if len(l.pending) == 0 {
		chunk, ok := l.chunks.Dequeue()
		if !ok {
			if l.readErr != nil {
				return 0, l.readErr
			}

			return 0, nil
		}
		l.pending = chunk
	}

	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	l.trace = append(l.trace, Event{Kind: EventRead, Data: bytes.Clone(p[:n])})

	return n, nil
}

func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if l.writeErr != nil {
		l.mu.Unlock()
		return 0, l.writeErr
	}

	n := len(p)
	if l.maxWrite > 0 && n > l.maxWrite {
		n = l.maxWrite
	}
	data := bytes.Clone(p[:n])
	l.trace = append(l.trace, Event{Kind: EventWrite, Data: data})
	onWrite := l.onWrite
	l.mu.Unlock()

	if onWrite != nil {
		onWrite(data)
	}

	return n, nil
}

func (l *Link) Flush() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.flushErr != nil {
		l.mu.Unlock()
		return l.flushErr
	}

	l.flushes++
	count := l.flushes
	l.trace = append(l.trace, Event{Kind: EventFlush})
	onFlush := l.onFlush
	l.mu.Unlock()

	if onFlush != nil {
		onFlush(count)
	}

	return nil
}

// Close marks the link closed. Closing twice returns ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true
	l.trace = append(l.trace, Event{Kind: EventClose})

	return nil
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// Trace returns a copy of the recorded events.
func (l *Link) Trace() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Event(nil), l.trace...)
}

// Writes returns the data of every write event in order.
func (l *Link) Writes() [][]byte {
	var out [][]byte
	for _, ev := range l.Trace() {
		if ev.Kind == EventWrite {
			out = append(out, ev.Data)
		}
	}

	return out
}

// Written returns all written bytes concatenated.
func (l *Link) Written() []byte {
	return bytes.Join(l.Writes(), nil)
}

// Flushes returns the number of successful Flush calls.
func (l *Link) Flushes() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.flushes
}

// Unread returns the bytes still queued for reading.
func (l *Link) Unread() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := bytes.Clone(l.pending)
	var rest [][]byte
	for !l.chunks.IsEmpty() {
		c, _ := l.chunks.Dequeue()
		rest = append(rest, c)
	}
	for _, c := range rest {
		out = append(out, c...)
		l.chunks.Enqueue(c)
	}

	return out
}

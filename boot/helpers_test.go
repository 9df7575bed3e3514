package boot

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/arloliu/go-raspboot/internal/linktest"
	"github.com/arloliu/go-raspboot/logger"
)

// testLogger discards output but still runs every record through slog.
var testLogger = logger.NewSlogWriter(io.Discard, logger.DebugLevel, false)

// newTestConfig creates a SessionConfig with a short poll interval suitable for tests.
func newTestConfig(t *testing.T, opts ...SessionOption) *SessionConfig {
	t.Helper()

	defaults := []SessionOption{
		WithPollInterval(MinPollInterval),
		WithLogger(testLogger),
	}

	cfg, err := NewSessionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestScanner creates a ByteScanner over a scripted link fed with chunks.
func newTestScanner(t *testing.T, cfg *SessionConfig, chunks ...string) (*ByteScanner, *linktest.Link) {
	t.Helper()

	link := linktest.New()
	link.FeedString(chunks...)

	s, err := NewByteScanner(link, cfg)
	if err != nil {
		t.Fatalf("newTestScanner: %v", err)
	}

	return s, link
}

// newTestSession creates a Session over link.
func newTestSession(t *testing.T, link Link, opts ...SessionOption) *Session {
	t.Helper()

	s, err := NewSession(link, newTestConfig(t, opts...))
	if err != nil {
		t.Fatalf("newTestSession: %v", err)
	}

	return s
}

// mustPayload wraps data as a Payload, failing the test on error.
func mustPayload(t *testing.T, data []byte) Payload {
	t.Helper()

	p, err := NewPayload(data)
	if err != nil {
		t.Fatalf("mustPayload: %v", err)
	}

	return p
}

// testContext returns a context that ends the test instead of hanging it.
func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// ackAfterFirstFlush feeds the acknowledgement once the length prefix is flushed.
func ackAfterFirstFlush(link *linktest.Link, chunks ...string) {
	link.OnFlush(func(count int) {
		if count == 1 {
			link.FeedString(chunks...)
		}
	})
}

// makePayload creates n bytes with a recognisable pattern.
func makePayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}

	return data
}

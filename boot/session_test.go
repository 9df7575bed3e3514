package boot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-raspboot/internal/linktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Invalid(t *testing.T) {
	_, err := NewSession(nil, newTestConfig(t))
	require.ErrorIs(t, err, ErrLinkNil)

	_, err = NewSession(linktest.New(), nil)
	require.ErrorIs(t, err, ErrConfigNil)
}

// --- end-to-end scenarios ---

func TestSession_Run_NoisyReady(t *testing.T) {
	link := linktest.New()
	link.FeedString("noiseRBIN64\r\n", "\x03\x03\x03")
	ackAfterFirstFlush(link, "OK")

	s := newTestSession(t, link)
	payload := makePayload(16)

	require.NoError(t, s.Run(testContext(t), mustPayload(t, payload)))
	assert.Equal(t, StateDone, s.State())

	writes := link.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00}, writes[0])
	assert.Equal(t, payload, writes[1])
	assert.Equal(t, 2, link.Flushes())
	assert.False(t, link.Closed())
}

func TestSession_Run_EmptyPayload(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN64\r\n", "\x03\x03\x03")
	ackAfterFirstFlush(link, "OK")

	s := newTestSession(t, link)

	require.NoError(t, s.Run(testContext(t), mustPayload(t, nil)))
	assert.Equal(t, StateDone, s.State())

	assert.Equal(t, []byte{0, 0, 0, 0}, link.Written())
	assert.Equal(t, 2, link.Flushes())
}

func TestSession_Run_SplitTrigger(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN", "64\r\n", "\x03", "\x03\x03")
	ackAfterFirstFlush(link, "O", "K")

	s := newTestSession(t, link)
	payload := makePayload(3)

	require.NoError(t, s.Run(testContext(t), mustPayload(t, payload)))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, append([]byte{3, 0, 0, 0}, payload...), link.Written())
}

func TestSession_Run_SingleChunkStream(t *testing.T) {
	// Everything arrives in one read; later markers must survive the read-ahead.
	link := linktest.New()
	link.FeedString("boot\r\nRBIN64\r\n\x03\x03\x03")
	ackAfterFirstFlush(link, "OK\r\n[0] Booting")

	s := newTestSession(t, link)

	require.NoError(t, s.Run(testContext(t), mustPayload(t, []byte("img"))))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, len("\r\n[0] Booting"), s.Buffered())
	assert.Equal(t, "\r\n[0] Booting", string(s.Pending()))
}

// --- ordering ---

func TestSession_Run_Ordering(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	link := linktest.New()
	link.FeedString("RBIN64\r\n", "\x03\x03\x03")
	link.OnWrite(func(data []byte) { record(fmt.Sprintf("write:%d", len(data))) })
	link.OnFlush(func(count int) {
		record(fmt.Sprintf("flush:%d", count))
		if count == 1 {
			link.FeedString("OK")
		}
	})

	s := newTestSession(t, link, WithStateHandler(func(_ State, next State) {
		record("state:" + next.String())
	}))

	require.NoError(t, s.Run(testContext(t), mustPayload(t, makePayload(8))))

	assert.Equal(t, []string{
		"state:AwaitReady",
		"state:AwaitTrigger",
		"state:SendLength",
		"write:4",
		"flush:1",
		"state:AwaitAck",
		"state:SendBody",
		"write:8",
		"flush:2",
		"state:Done",
	}, events)

	// the acknowledgement is read after the length flush and before the body write
	trace := link.Trace()
	ackRead, bodyWrite, lengthFlush := -1, -1, -1
	for i, ev := range trace {
		switch {
		case ev.Kind == linktest.EventFlush && lengthFlush < 0:
			lengthFlush = i
		case ev.Kind == linktest.EventRead && string(ev.Data) == "OK":
			ackRead = i
		case ev.Kind == linktest.EventWrite && len(ev.Data) == 8:
			bodyWrite = i
		}
	}
	assert.Less(t, lengthFlush, ackRead)
	assert.Less(t, ackRead, bodyWrite)
}

func TestSession_Run_NoAckBeforeLength(t *testing.T) {
	// An "OK" that arrives before the trigger is noise for the trigger stage,
	// so the session must still wait for an acknowledgement after the length.
	link := linktest.New()
	link.FeedString("RBIN64\r\nOK\x03\x03\x03")

	s := newTestSession(t, link, WithMarkerTimeout(StageAck, 50*time.Millisecond))

	err := s.Run(testContext(t), mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Equal(t, StateFailed, s.State())
	assert.Len(t, link.Writes(), 1)
}

// --- failures ---

func TestSession_Run_TransportFailure(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN64\r\n")
	link.FailRead(io.ErrUnexpectedEOF)

	var states []State
	s := newTestSession(t, link, WithStateHandler(func(_ State, next State) {
		states = append(states, next)
	}))

	err := s.Run(testContext(t), mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []State{StateAwaitReady, StateAwaitTrigger, StateFailed}, states)
	assert.Empty(t, link.Writes())
}

func TestSession_Run_WriteFailure(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN64\r\n", "\x03\x03\x03")
	link.FailWrite(io.ErrClosedPipe)

	s := newTestSession(t, link)

	err := s.Run(testContext(t), mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_Run_Cancelled(t *testing.T) {
	link := linktest.New()
	s := newTestSession(t, link)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := s.Run(ctx, mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, link.Closed())
}

func TestSession_Run_Once(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN64\r\n", "\x03\x03\x03")
	ackAfterFirstFlush(link, "OK")

	s := newTestSession(t, link)
	require.NoError(t, s.Run(testContext(t), mustPayload(t, []byte{1})))

	err := s.Run(testContext(t), mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, ErrSessionUsed)
	assert.Equal(t, StateDone, s.State())
}

func TestSession_Run_StageDeadline(t *testing.T) {
	link := linktest.New()
	link.FeedString("RBIN64\r\n")

	s := newTestSession(t, link, WithMarkerTimeout(StageTrigger, 30*time.Millisecond))

	begin := time.Now()
	err := s.Run(testContext(t), mustPayload(t, []byte{1}))
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Contains(t, err.Error(), "trigger")
	assert.Less(t, time.Since(begin), 2*time.Second)
}

// --- metrics ---

func TestSession_Metrics(t *testing.T) {
	link := linktest.New()
	link.FeedString("noiseRBIN64\r\n", "xx\x03\x03\x03")
	ackAfterFirstFlush(link, "OK")

	s := newTestSession(t, link)
	require.NoError(t, s.Run(testContext(t), mustPayload(t, makePayload(16))))

	m := s.Metrics()
	assert.Equal(t, uint32(3), m.MarkersMatched.Load())
	assert.Equal(t, int64(13+5+2), m.BytesScanned.Value())
	assert.Equal(t, int64(13+5+2), m.BytesRead.Value())
	assert.Equal(t, int64(5+2), m.NoiseBytes.Value())
	assert.Equal(t, int64(4+16), m.BytesSent.Value())

	for _, stage := range []Stage{StageReady, StageTrigger, StageAck} {
		_, ok := m.StageDuration(stage)
		assert.True(t, ok, stage.String())
	}
}

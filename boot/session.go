package boot

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/go-raspboot/logger"
)

// Session runs one boot handshake and payload transfer over a Link.
//
// The session owns the link for the duration of Run; nothing else may read
// or write it concurrently. A Session runs once. After a failure a fresh
// Session restarts from StateInit.
type Session struct {
	cfg    *SessionConfig
	link   Link
	logger logger.Logger

	scanner   *ByteScanner
	sequencer *HandshakeSequencer
	transfer  *PayloadTransfer

	state   AtomicState
	used    atomic.Bool
	metrics *SessionMetrics
}

// NewSession creates a Session over link. The link must already be open.
func NewSession(link Link, cfg *SessionConfig) (*Session, error) {
	if link == nil {
		return nil, ErrLinkNil
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}

	s := &Session{
		cfg:     cfg,
		link:    link,
		logger:  cfg.logger,
		metrics: newSessionMetrics(),
	}

	reader := newLinkReader(link, cfg.readChunkSize, cfg.pollInterval, s.metrics.addBytesRead)
	s.scanner = newByteScanner(reader, cfg.logger)
	s.sequencer = newHandshakeSequencer(s.scanner, cfg, s.metrics)
	s.transfer = newPayloadTransfer(link, cfg.logger, s.metrics)

	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state.Get()
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *SessionMetrics {
	return s.metrics
}

// Buffered returns the number of bytes read from the link after the last
// matched marker. They belong to whoever takes over the link after Run.
func (s *Session) Buffered() int {
	return s.scanner.Buffered()
}

// Pending returns a copy of the bytes counted by Buffered, typically the
// first device output after the payload started.
func (s *Session) Pending() []byte {
	return s.scanner.Pending()
}

// Run performs the handshake and sends p.
//
// The steps run strictly in sequence:
//
//  1. Wait for the ready marker.
//  2. Wait for the trigger marker.
//  3. Send the length prefix and flush it.
//  4. Wait for the acknowledgement marker.
//  5. Send the payload body and flush it.
//
// Any error aborts the session in StateFailed. Run leaves the link open in
// both cases.
func (s *Session) Run(ctx context.Context, p Payload) error {
	if !s.used.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}

	steps := []func(context.Context) error{
		s.sequencer.AwaitReady,
		s.sequencer.AwaitTrigger,
		func(ctx context.Context) error { return s.transfer.SendLength(ctx, p.Len()) },
		s.sequencer.AwaitAck,
		func(ctx context.Context) error { return s.transfer.SendBody(ctx, p.Data()) },
	}

	for _, step := range steps {
		if err := s.advance(); err != nil {
			return s.fail(err)
		}

		if err := step(ctx); err != nil {
			return s.fail(err)
		}
	}

	if err := s.advance(); err != nil {
		return s.fail(err)
	}
	s.logger.Info("payload transferred", "bytes", p.Len())

	return nil
}

func (s *Session) advance() error {
	prev, next, ok := s.state.Advance()
	if !ok {
		return fmt.Errorf("%w: from %s", ErrInvalidTransition, prev)
	}
	s.stateChanged(prev, next)

	return nil
}

func (s *Session) fail(err error) error {
	if prev, ok := s.state.Fail(); ok {
		s.logger.Error("boot session failed", "state", prev.String(), "error", err)
		s.stateChanged(prev, StateFailed)
	}

	return err
}

func (s *Session) stateChanged(prev State, next State) {
	s.logger.Debug("session state changed", "prevState", prev.String(), "newState", next.String())
	if s.cfg.stateHandler != nil {
		s.cfg.stateHandler(prev, next)
	}
}

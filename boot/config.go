package boot

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-raspboot/logger"
)

// Default values for a SessionConfig.
const (
	// DefaultPollInterval is the idle wait after a read that returned no data.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultReadChunkSize is the read-ahead buffer size. The scanner still
	// consumes the buffered bytes one at a time.
	DefaultReadChunkSize = 256
	// NoDeadline disables the marker deadline, waiting until the marker shows up.
	NoDeadline time.Duration = 0
)

// Range limits for SessionConfig values.
const (
	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MinReadChunkSize = 1
	MaxReadChunkSize = 64 * 1024
)

// stageConfig holds the marker and deadline for one handshake stage.
type stageConfig struct {
	marker  Marker
	timeout time.Duration
}

// SessionConfig holds the configuration of a boot Session.
type SessionConfig struct {
	stages        [stageCount]stageConfig
	pollInterval  time.Duration
	readChunkSize int

	stateHandler StateHandler
	logger       logger.Logger
}

// NewSessionConfig creates a SessionConfig with the protocol markers, all in
// MatchContains mode and without deadlines.
//
// opts are applied in order; see the With* functions.
func NewSessionConfig(opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		pollInterval:  DefaultPollInterval,
		readChunkSize: DefaultReadChunkSize,
		logger:        logger.GetLogger(),
	}
	cfg.stages[StageReady].marker = mustMarker("ready", ReadyBytes, MatchContains)
	cfg.stages[StageTrigger].marker = mustMarker("trigger", TriggerBytes, MatchContains)
	cfg.stages[StageAck].marker = mustMarker("ack", AckBytes, MatchContains)

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Marker returns the marker awaited in stage.
func (cfg *SessionConfig) Marker(stage Stage) Marker { return cfg.stages[stage].marker }

// MarkerTimeout returns the deadline of stage, NoDeadline when disabled.
func (cfg *SessionConfig) MarkerTimeout(stage Stage) time.Duration { return cfg.stages[stage].timeout }

// PollInterval returns the idle wait between empty reads.
func (cfg *SessionConfig) PollInterval() time.Duration { return cfg.pollInterval }

// ReadChunkSize returns the read-ahead buffer size.
func (cfg *SessionConfig) ReadChunkSize() int { return cfg.readChunkSize }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithMatchMode sets the match mode of the marker awaited in stage.
func WithMatchMode(stage Stage, mode MatchMode) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if !stage.valid() {
			return fmt.Errorf("%w: %d", ErrInvalidStage, stage)
		}
		if mode != MatchContains && mode != MatchExact {
			return fmt.Errorf("%w: %d", ErrInvalidMatchMode, mode)
		}
		cfg.stages[stage].marker = cfg.stages[stage].marker.WithMode(mode)

		return nil
	})
}

// WithAllMatchModes sets the same match mode for every stage.
func WithAllMatchModes(mode MatchMode) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		for stage := range stageCount {
			if err := WithMatchMode(stage, mode).apply(cfg); err != nil {
				return err
			}
		}

		return nil
	})
}

// WithMarker replaces the marker awaited in stage.
func WithMarker(stage Stage, m Marker) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if !stage.valid() {
			return fmt.Errorf("%w: %d", ErrInvalidStage, stage)
		}
		if m.Len() == 0 {
			return fmt.Errorf("%w: stage %s", ErrEmptyMarker, stage)
		}
		cfg.stages[stage].marker = m

		return nil
	})
}

// WithMarkerTimeout bounds the wait for the marker of stage.
// NoDeadline (zero) restores the unbounded wait.
func WithMarkerTimeout(stage Stage, d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if !stage.valid() {
			return fmt.Errorf("%w: %d", ErrInvalidStage, stage)
		}
		if d < 0 {
			return fmt.Errorf("boot: marker timeout %v must not be negative", d)
		}
		cfg.stages[stage].timeout = d

		return nil
	})
}

// WithPollInterval sets the idle wait after a read that returned no data.
func WithPollInterval(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("boot: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithReadChunkSize sets the read-ahead buffer size.
func WithReadChunkSize(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < MinReadChunkSize || n > MaxReadChunkSize {
			return fmt.Errorf("boot: read chunk size %d out of range [%d, %d]", n, MinReadChunkSize, MaxReadChunkSize)
		}
		cfg.readChunkSize = n

		return nil
	})
}

// WithStateHandler registers h to be called after every session state change.
func WithStateHandler(h StateHandler) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.stateHandler = h
		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("boot: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-raspboot/logger"
)

// Stage identifies one marker wait of the handshake.
type Stage uint8

const (
	// StageReady waits for the ready marker the bootloader prints on start.
	StageReady Stage = iota
	// StageTrigger waits for the trigger marker requesting the payload length.
	StageTrigger
	// StageAck waits for the acknowledgement of the length prefix.
	StageAck

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageReady:
		return "ready"
	case StageTrigger:
		return "trigger"
	case StageAck:
		return "ack"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

func (s Stage) valid() bool {
	return s < stageCount
}

// HandshakeSequencer runs the marker stages in their fixed order.
//
// Each stage scans a fresh buffer and a stage starts only after the previous
// one matched. There is no way back: once a stage failed the sequencer
// refuses further stages and a new session has to start over.
type HandshakeSequencer struct {
	scanner *ByteScanner
	cfg     *SessionConfig
	logger  logger.Logger
	metrics *SessionMetrics
	next    Stage
	failed  bool
}

func newHandshakeSequencer(scanner *ByteScanner, cfg *SessionConfig, metrics *SessionMetrics) *HandshakeSequencer {
	return &HandshakeSequencer{
		scanner: scanner,
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: metrics,
	}
}

// Next returns the stage the sequencer expects to run next.
// It returns a value past StageAck once all stages completed.
func (hs *HandshakeSequencer) Next() Stage {
	return hs.next
}

// AwaitReady waits for the ready marker.
func (hs *HandshakeSequencer) AwaitReady(ctx context.Context) error {
	return hs.await(ctx, StageReady)
}

// AwaitTrigger waits for the trigger marker. AwaitReady must have succeeded.
func (hs *HandshakeSequencer) AwaitTrigger(ctx context.Context) error {
	return hs.await(ctx, StageTrigger)
}

// AwaitAck waits for the acknowledgement marker. The caller sends the length
// prefix between AwaitTrigger and AwaitAck.
func (hs *HandshakeSequencer) AwaitAck(ctx context.Context) error {
	return hs.await(ctx, StageAck)
}

func (hs *HandshakeSequencer) await(ctx context.Context, stage Stage) error {
	if hs.failed || stage != hs.next {
		return fmt.Errorf("%w: requested %s, expected %s", ErrStageOrder, stage, hs.next)
	}

	m := hs.cfg.Marker(stage)
	timeout := hs.cfg.MarkerTimeout(stage)
	hs.logger.Info("listening for marker", "stage", stage.String(), "marker", m.String(), "timeout", timeout)

	begin := time.Now()
	scanned, err := hs.scanner.AwaitMarker(ctx, m, timeout)
	if err != nil {
		hs.failed = true
		hs.metrics.scanAborted(scanned)

		return err
	}

	hs.metrics.markerMatched(stage, scanned, m.Len(), time.Since(begin))
	if noise := scanned - m.Len(); noise > 0 {
		hs.logger.Debug("skipped bytes before marker", "stage", stage.String(), "noise", noise)
	}
	hs.next++

	return nil
}

package boot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionConfig_Defaults(t *testing.T) {
	cfg, err := NewSessionConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval())
	assert.Equal(t, DefaultReadChunkSize, cfg.ReadChunkSize())
	assert.NotNil(t, cfg.GetLogger())

	for stage, want := range map[Stage][]byte{
		StageReady:   ReadyBytes,
		StageTrigger: TriggerBytes,
		StageAck:     AckBytes,
	} {
		m := cfg.Marker(stage)
		assert.Equal(t, want, m.Bytes(), stage.String())
		assert.Equal(t, MatchContains, m.Mode(), stage.String())
		assert.Equal(t, NoDeadline, cfg.MarkerTimeout(stage), stage.String())
	}
}

func TestSessionOptions(t *testing.T) {
	custom, err := NewMarker("ack", []byte("ACK"), MatchExact)
	require.NoError(t, err)

	cfg, err := NewSessionConfig(
		WithAllMatchModes(MatchExact),
		WithMatchMode(StageReady, MatchContains),
		WithMarker(StageAck, custom),
		WithMarkerTimeout(StageTrigger, 2*time.Second),
		WithPollInterval(5*time.Millisecond),
		WithReadChunkSize(1),
	)
	require.NoError(t, err)

	assert.Equal(t, MatchContains, cfg.Marker(StageReady).Mode())
	assert.Equal(t, MatchExact, cfg.Marker(StageTrigger).Mode())
	assert.Equal(t, []byte("ACK"), cfg.Marker(StageAck).Bytes())
	assert.Equal(t, 2*time.Second, cfg.MarkerTimeout(StageTrigger))
	assert.Equal(t, NoDeadline, cfg.MarkerTimeout(StageAck))
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 1, cfg.ReadChunkSize())
}

func TestSessionOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  SessionOption
	}{
		{"stage", WithMatchMode(Stage(5), MatchExact)},
		{"mode", WithMatchMode(StageAck, MatchMode(3))},
		{"empty marker", WithMarker(StageAck, Marker{})},
		{"marker stage", WithMarker(stageCount, mustMarker("x", []byte("x"), MatchExact))},
		{"negative timeout", WithMarkerTimeout(StageReady, -time.Second)},
		{"timeout stage", WithMarkerTimeout(Stage(9), time.Second)},
		{"poll too short", WithPollInterval(time.Microsecond)},
		{"poll too long", WithPollInterval(time.Minute)},
		{"chunk zero", WithReadChunkSize(0)},
		{"chunk huge", WithReadChunkSize(MaxReadChunkSize + 1)},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewSessionConfig(tt.opt)
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "ready", StageReady.String())
	assert.Equal(t, "trigger", StageTrigger.String())
	assert.Equal(t, "ack", StageAck.String())
	assert.Equal(t, "Stage(7)", Stage(7).String())
}

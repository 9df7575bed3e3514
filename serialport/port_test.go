package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-raspboot/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort implements the serial.Port methods a Port uses; the embedded
// interface panics on anything else.
type fakePort struct {
	serial.Port

	mu          sync.Mutex
	readTimeout time.Duration
	input       []byte
	written     []byte
	drains      int
	resets      int
	closes      int
	timeoutErr  error
}

func (f *fakePort) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timeoutErr != nil {
		return f.timeoutErr
	}
	f.readTimeout = d

	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	f.input = nil

	return nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := copy(p, f.input)
	f.input = f.input[n:]

	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.written = append(f.written, p...)

	return len(p), nil
}

func (f *fakePort) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.drains++

	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++

	return nil
}

// withFakeOpen replaces openFunc for the duration of the test.
func withFakeOpen(t *testing.T, fp *fakePort, openErr error) *serial.Mode {
	t.Helper()

	var gotMode serial.Mode
	orig := openFunc
	openFunc = func(_ string, mode *serial.Mode) (serial.Port, error) {
		gotMode = *mode
		if openErr != nil {
			return nil, openErr
		}

		return fp, nil
	}
	t.Cleanup(func() { openFunc = orig })

	return &gotMode
}

func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{WithLogger(logger.NewSlogWriter(io.Discard, logger.DebugLevel, false))}
	cfg, err := NewConfig("/dev/ttyUSB0", append(defaults, opts...)...)
	require.NoError(t, err)

	return cfg
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("/dev/ttyAMA0")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Path())
	assert.Equal(t, 115200, cfg.BaudRate())
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout())
	assert.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, cfg.Mode())
}

func TestNewConfig_Invalid(t *testing.T) {
	_, err := NewConfig("")
	require.Error(t, err)

	for _, opt := range []Option{
		WithBaudRate(0),
		WithDataBits(9),
		WithParity(serial.Parity(42)),
		WithStopBits(serial.StopBits(42)),
		WithReadTimeout(0),
		WithReadTimeout(time.Hour),
		WithLogger(nil),
	} {
		_, err := NewConfig("/dev/ttyUSB0", opt)
		require.Error(t, err)
	}
}

func TestNewConfig_Options(t *testing.T) {
	cfg := newTestConfig(t,
		WithBaudRate(921600),
		WithDataBits(7),
		WithParity(serial.EvenParity),
		WithStopBits(serial.TwoStopBits),
		WithReadTimeout(10*time.Millisecond),
	)

	assert.Equal(t, &serial.Mode{
		BaudRate: 921600,
		DataBits: 7,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}, cfg.Mode())
	assert.Equal(t, 10*time.Millisecond, cfg.ReadTimeout())
}

func TestOpen(t *testing.T) {
	fp := &fakePort{input: []byte("stale")}
	mode := withFakeOpen(t, fp, nil)

	p, err := Open(newTestConfig(t))
	require.NoError(t, err)

	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, DefaultReadTimeout, fp.readTimeout)
	assert.Equal(t, 1, fp.resets)

	// stale input was discarded, an empty read is not an error
	buf := make([]byte, 8)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	fp.input = []byte("RBIN64\r\n")
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "RBIN64\r\n", string(buf[:n]))

	_, err = p.Write([]byte{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, p.Flush())
	assert.Equal(t, []byte{1, 0, 0, 0}, fp.written)
	assert.Equal(t, 1, fp.drains)
}

func TestOpen_Errors(t *testing.T) {
	openErr := &serial.PortError{}
	withFakeOpen(t, nil, openErr)

	_, err := Open(newTestConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)

	_, err = Open(nil)
	require.Error(t, err)
}

func TestOpen_ReadTimeoutError(t *testing.T) {
	fp := &fakePort{timeoutErr: errors.New("unsupported")}
	withFakeOpen(t, fp, nil)

	_, err := Open(newTestConfig(t))
	require.Error(t, err)
	assert.Equal(t, 1, fp.closes)
}

func TestPort_Close(t *testing.T) {
	fp := &fakePort{}
	withFakeOpen(t, fp, nil)

	p, err := Open(newTestConfig(t))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, fp.closes)

	_, err = p.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrPortClosed)
	_, err = p.Write([]byte{1})
	require.ErrorIs(t, err, ErrPortClosed)
	require.ErrorIs(t, p.Flush(), ErrPortClosed)
}

func TestIsDisconnect(t *testing.T) {
	assert.False(t, IsDisconnect(nil))
	assert.True(t, IsDisconnect(ErrPortClosed))
	assert.True(t, IsDisconnect(fmt.Errorf("boot: read: %w", ErrPortClosed)))
	assert.True(t, IsDisconnect(errors.New("read /dev/ttyUSB0: input/output error")))
	assert.False(t, IsDisconnect(errors.New("permission denied")))
}

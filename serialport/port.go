// Package serialport opens the serial device that carries the boot protocol.
//
// A Port satisfies boot.Link: Read returns 0 bytes with a nil error once the
// read timeout passes without data, and Flush waits until the OS has
// transmitted every written byte.
package serialport

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/arloliu/go-raspboot/logger"
	"go.bug.st/serial"
)

// ErrPortClosed is returned by operations on a closed Port.
var ErrPortClosed = errors.New("serialport: port closed")

// openFunc opens the device; tests swap it for a fake port.
var openFunc = serial.Open

// Port is an open serial device.
type Port struct {
	port   serial.Port
	cfg    *Config
	logger logger.Logger

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// Open opens and configures the device described by cfg.
//
// Pending input left over from before the open, e.g. from an earlier boot
// attempt, is discarded so the first marker scan starts on fresh bytes.
func Open(cfg *Config) (*Port, error) {
	if cfg == nil {
		return nil, errors.New("serialport: config is nil")
	}

	sp, err := openFunc(cfg.path, cfg.Mode())
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.path, err)
	}

	if err := sp.SetReadTimeout(cfg.readTimeout); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}

	if err := sp.ResetInputBuffer(); err != nil {
		cfg.logger.Warn("failed to reset input buffer", "port", cfg.path, "error", err)
	}

	cfg.logger.Info("serial port opened",
		"port", cfg.path,
		"baudRate", cfg.baudRate,
		"dataBits", cfg.dataBits,
		"readTimeout", cfg.readTimeout,
	)

	return &Port{port: sp, cfg: cfg, logger: cfg.logger}, nil
}

// Path returns the device path.
func (p *Port) Path() string {
	return p.cfg.path
}

// Read reads available bytes, waiting at most the configured read timeout.
// It returns 0, nil when no data arrived in time.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	return p.port.Write(b)
}

// Flush blocks until all written bytes have been transmitted.
func (p *Port) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return p.port.Drain()
}

// Close closes the device. It is safe to call more than once; later calls
// return the result of the first.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.closeErr = p.port.Close()
		p.logger.Debug("serial port closed", "port", p.cfg.path, "error", p.closeErr)
	})

	return p.closeErr
}

// ListPorts returns the serial device paths present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}

	return ports, nil
}

// IsDisconnect reports whether err means the device went away, e.g. an
// unplugged USB adapter, as opposed to a configuration problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPortClosed) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return isDisconnectCode(portErr.Code())
	}
	var portErrVal serial.PortError
	if errors.As(err, &portErrVal) {
		return isDisconnectCode(portErrVal.Code())
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe")
}

func isDisconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

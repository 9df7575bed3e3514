package serialport

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-raspboot/logger"
	"go.bug.st/serial"
)

// Default line settings: 115200 baud, 8 data bits, no parity, one stop bit,
// no hardware flow control.
const (
	DefaultBaudRate    = 115200
	DefaultDataBits    = 8
	DefaultReadTimeout = 50 * time.Millisecond
)

// Range limits for Config values.
const (
	MinReadTimeout = time.Millisecond
	MaxReadTimeout = 10 * time.Second
)

// Config holds the serial device settings.
type Config struct {
	path        string
	baudRate    int
	dataBits    int
	parity      serial.Parity
	stopBits    serial.StopBits
	readTimeout time.Duration

	logger logger.Logger
}

// NewConfig creates a Config for the device at path with the default line settings.
func NewConfig(path string, opts ...Option) (*Config, error) {
	if path == "" {
		return nil, errors.New("serialport: device path is empty")
	}

	cfg := &Config{
		path:        path,
		baudRate:    DefaultBaudRate,
		dataBits:    DefaultDataBits,
		parity:      serial.NoParity,
		stopBits:    serial.OneStopBit,
		readTimeout: DefaultReadTimeout,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Path returns the device path.
func (cfg *Config) Path() string { return cfg.path }

// BaudRate returns the line speed.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// ReadTimeout returns how long a Read waits for data before returning 0 bytes.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// Mode returns the go.bug.st/serial mode for the configured line settings.
func (cfg *Config) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: cfg.dataBits,
		Parity:   cfg.parity,
		StopBits: cfg.stopBits,
	}
}

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("serialport: invalid baud rate %d", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithDataBits sets the number of data bits, 5 to 8.
func WithDataBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("serialport: data bits %d out of range [5, 8]", bits)
		}
		cfg.dataBits = bits

		return nil
	})
}

// WithParity sets the parity mode.
func WithParity(p serial.Parity) Option {
	return optFunc(func(cfg *Config) error {
		switch p {
		case serial.NoParity, serial.OddParity, serial.EvenParity, serial.MarkParity, serial.SpaceParity:
			cfg.parity = p
			return nil
		default:
			return fmt.Errorf("serialport: invalid parity %d", p)
		}
	})
}

// WithStopBits sets the number of stop bits.
func WithStopBits(s serial.StopBits) Option {
	return optFunc(func(cfg *Config) error {
		switch s {
		case serial.OneStopBit, serial.OnePointFiveStopBits, serial.TwoStopBits:
			cfg.stopBits = s
			return nil
		default:
			return fmt.Errorf("serialport: invalid stop bits %d", s)
		}
	})
}

// WithReadTimeout sets how long a Read waits for data before returning 0 bytes.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("serialport: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithLogger sets the logger for the port.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("serialport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

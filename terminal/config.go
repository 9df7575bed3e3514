package terminal

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-raspboot/logger"
)

// Default key bindings, matching the classic miniterm ones.
const (
	DefaultExitChar = 0x1d // Ctrl-]
	DefaultMenuChar = 0x14 // Ctrl-T

	DefaultPollInterval = 10 * time.Millisecond
)

// EOL selects how an outgoing newline is sent to the device.
type EOL uint8

const (
	// EOLCRLF sends "\r\n" for every newline.
	EOLCRLF EOL = iota
	// EOLLF sends "\n".
	EOLLF
	// EOLCR sends "\r".
	EOLCR
)

func (e EOL) String() string {
	switch e {
	case EOLCRLF:
		return "crlf"
	case EOLLF:
		return "lf"
	case EOLCR:
		return "cr"
	default:
		return fmt.Sprintf("EOL(%d)", uint8(e))
	}
}

func (e EOL) bytes() []byte {
	switch e {
	case EOLLF:
		return []byte{'\n'}
	case EOLCR:
		return []byte{'\r'}
	default:
		return []byte{'\r', '\n'}
	}
}

// Config holds the terminal settings.
type Config struct {
	exitChar     byte
	menuChar     byte
	eol          EOL
	echo         bool
	rawMode      bool
	pollInterval time.Duration
	logger       logger.Logger
}

// NewConfig creates a Config with the default key bindings, CRLF line
// endings, no local echo and raw mode on interactive input.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		exitChar:     DefaultExitChar,
		menuChar:     DefaultMenuChar,
		eol:          EOLCRLF,
		rawMode:      true,
		pollInterval: DefaultPollInterval,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.exitChar == cfg.menuChar {
		return nil, fmt.Errorf("terminal: exit and menu character are both 0x%02x", cfg.exitChar)
	}

	return cfg, nil
}

// ExitChar returns the key that ends the session.
func (cfg *Config) ExitChar() byte { return cfg.exitChar }

// MenuChar returns the key that makes the next key be sent literally.
func (cfg *Config) MenuChar() byte { return cfg.menuChar }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithExitChar sets the key that ends the session.
func WithExitChar(c byte) Option {
	return optFunc(func(cfg *Config) error {
		cfg.exitChar = c
		return nil
	})
}

// WithMenuChar sets the escape key; the key typed after it is sent as is.
func WithMenuChar(c byte) Option {
	return optFunc(func(cfg *Config) error {
		cfg.menuChar = c
		return nil
	})
}

// WithEOL sets the outgoing line ending.
func WithEOL(eol EOL) Option {
	return optFunc(func(cfg *Config) error {
		if eol > EOLCR {
			return fmt.Errorf("terminal: invalid line ending %d", eol)
		}
		cfg.eol = eol

		return nil
	})
}

// WithEcho enables local echo of typed keys.
func WithEcho(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.echo = enabled
		return nil
	})
}

// WithRawMode controls whether an interactive input is switched to raw mode.
func WithRawMode(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.rawMode = enabled
		return nil
	})
}

// WithPollInterval sets the idle wait after a link read that returned no data.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("terminal: poll interval must be positive")
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithLogger sets the logger for the terminal.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("terminal: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

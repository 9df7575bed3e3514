// Package terminal provides the interactive console that takes over the
// serial link once the payload has been transferred.
//
// Bytes from the device are decoded as UTF-8 and written to the output;
// keys typed on the input are sent to the device with newlines translated
// to the configured line ending. The exit character ends the session, the
// menu character makes the following key be sent literally, so the exit
// character itself can still reach the device.
package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/arloliu/go-raspboot/internal/pool"
	"github.com/arloliu/go-raspboot/logger"
	"golang.org/x/term"
)

// Link is the device side of the terminal. The terminal owns it and closes
// it when Run returns.
type Link interface {
	io.ReadWriteCloser
}

var errExit = errors.New("terminal: exit key")

// Terminal pumps bytes between a Link and a local input/output pair.
type Terminal struct {
	cfg    *Config
	link   Link
	in     io.Reader
	out    io.Writer
	logger logger.Logger

	outMu   sync.Mutex
	rawMode bool
	rxCR    bool
	initial []byte
}

// New creates a Terminal. Output written by the device before the hand-off,
// e.g. bytes read ahead by the boot session, can be passed as initial and
// is shown first.
func New(link Link, in io.Reader, out io.Writer, cfg *Config, initial []byte) (*Terminal, error) {
	if link == nil {
		return nil, errors.New("terminal: link is nil")
	}
	if cfg == nil {
		return nil, errors.New("terminal: config is nil")
	}

	return &Terminal{
		cfg:     cfg,
		link:    link,
		in:      in,
		out:     out,
		logger:  cfg.logger,
		initial: bytes.Clone(initial),
	}, nil
}

// Run pumps bytes until the exit key is typed, ctx is done, or the link
// fails. The link is closed exactly once before Run returns. Exit key and
// cancellation return nil.
func (t *Terminal) Run(ctx context.Context) error {
	restore := t.enterRawMode()
	defer restore()

	t.logger.Info("terminal started",
		"exitChar", fmt.Sprintf("0x%02x", t.cfg.exitChar),
		"menuChar", fmt.Sprintf("0x%02x", t.cfg.menuChar),
		"eol", t.cfg.eol.String(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dec utf8Decoder
	if len(t.initial) > 0 {
		if err := t.writeOut(t.translateRx(dec.decode(t.initial))); err != nil {
			_ = t.link.Close()
			return err
		}
	}

	rxDone := make(chan error, 1)
	go func() { rxDone <- t.receive(ctx, &dec) }()

	// The input pump may stay blocked on a read that never returns, so it
	// is not waited for.
	txDone := make(chan error, 1)
	go func() { txDone <- t.transmit() }()

	var err error
	rxRunning := true

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-rxDone:
			rxRunning = false
			break loop
		case err = <-txDone:
			if errors.Is(err, io.EOF) {
				// input ended, keep showing device output
				t.logger.Debug("terminal input closed")
				err = nil
				txDone = nil

				continue
			}

			break loop
		}
	}

	cancel()
	closeErr := t.link.Close()
	if rxRunning {
		<-rxDone
	}

	if errors.Is(err, errExit) {
		err = nil
	}
	if err == nil && closeErr != nil {
		t.logger.Debug("terminal link close failed", "error", closeErr)
	}
	t.logger.Info("terminal stopped", "error", err)

	return err
}

func (t *Terminal) enterRawMode() func() {
	if !t.cfg.rawMode {
		return func() {}
	}

	f, ok := t.in.(interface{ Fd() uintptr })
	if !ok {
		return func() {}
	}

	fd := int(f.Fd()) //nolint:gosec
	if !term.IsTerminal(fd) {
		return func() {}
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		t.logger.Warn("failed to switch input to raw mode", "error", err)
		return func() {}
	}
	t.rawMode = true

	return func() {
		if err := term.Restore(fd, state); err != nil {
			t.logger.Warn("failed to restore terminal mode", "error", err)
		}
	}
}

// receive copies device output to the local output until ctx is done or
// the link fails.
func (t *Terminal) receive(ctx context.Context, dec *utf8Decoder) error {
	buf := make([]byte, 1024)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := t.link.Read(buf)
		if n > 0 {
			if werr := t.writeOut(t.translateRx(dec.decode(buf[:n]))); werr != nil {
				return werr
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("terminal: read link: %w", err)
		}

		if n == 0 {
			if pool.Sleep(ctx, t.cfg.pollInterval) != nil {
				return nil
			}
		}
	}
}

// transmit sends typed keys to the device until the exit key or an input error.
func (t *Terminal) transmit() error {
	buf := make([]byte, 256)
	var st keyState

	for {
		n, err := t.in.Read(buf)
		if n > 0 {
			data, exit := st.translate(buf[:n], t.cfg)
			if len(data) > 0 {
				if werr := writeAll(t.link, data); werr != nil {
					return fmt.Errorf("terminal: write link: %w", werr)
				}
				if t.cfg.echo {
					if werr := t.writeOut(data); werr != nil {
						return werr
					}
				}
			}

			if exit {
				return errExit
			}
		}

		if err != nil {
			return err
		}
	}
}

func (t *Terminal) writeOut(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	t.outMu.Lock()
	defer t.outMu.Unlock()

	if _, err := t.out.Write(p); err != nil {
		return fmt.Errorf("terminal: write output: %w", err)
	}

	return nil
}

// translateRx turns bare LF into CRLF while the local terminal is in raw
// mode, since raw mode disables the output post-processing that does it.
func (t *Terminal) translateRx(p []byte) []byte {
	if !t.rawMode {
		return p
	}

	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' && !t.rxCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		t.rxCR = b == '\r'
	}

	return out
}

func writeAll(w io.Writer, data []byte) error {
	for written := 0; written < len(data); {
		n, err := w.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}

	return nil
}

// keyState carries key translation state across input reads.
type keyState struct {
	menu   bool
	lastCR bool
}

// translate maps typed bytes to the bytes sent to the device.
// exit is true when the exit key was typed; bytes after it are dropped.
func (st *keyState) translate(p []byte, cfg *Config) (out []byte, exit bool) {
	out = make([]byte, 0, len(p)+4)

	for _, c := range p {
		if st.menu {
			st.menu = false
			st.lastCR = false
			out = append(out, c)

			continue
		}

		switch c {
		case cfg.menuChar:
			st.menu = true
		case cfg.exitChar:
			return out, true
		case '\r', '\n':
			if c == '\n' && st.lastCR {
				st.lastCR = false
				continue
			}
			st.lastCR = c == '\r'
			out = append(out, cfg.eol.bytes()...)
		default:
			st.lastCR = false
			out = append(out, c)
		}
	}

	return out, false
}

// utf8Decoder decodes a byte stream split at arbitrary points, holding back
// an incomplete trailing sequence until the rest arrives. Invalid bytes are
// replaced with U+FFFD.
type utf8Decoder struct {
	carry []byte
}

func (d *utf8Decoder) decode(p []byte) []byte {
	data := append(d.carry, p...) //nolint:gocritic
	d.carry = nil

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i > len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}

			break
		}
	}

	if cut < len(data) {
		d.carry = bytes.Clone(data[cut:])
	}

	return bytes.ToValidUTF8(data[:cut], []byte("\uFFFD"))
}

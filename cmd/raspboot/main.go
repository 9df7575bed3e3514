// Command raspboot sends a kernel image to a board running the raspbootin
// serial bootloader and then attaches a terminal to the serial line.
//
// Usage:
//
//	raspboot <kernel image>
//
// Environment variables:
//
//	PORT             - serial device (default: "/dev/ttyUSB0")
//	BAUD             - baud rate (default: 115200)
//	LOG_LEVEL        - "debug", "info" (default), "warn" or "error"
//	MATCH_MODE       - "contains" (default) or "exact", applied to every marker
//	READY_DEADLINE   - max wait for the ready marker, e.g. "30s" (default: none)
//	TRIGGER_DEADLINE - max wait for the trigger marker (default: none)
//	ACK_DEADLINE     - max wait for the acknowledgement (default: none)
//	NO_TERM          - set to "1" to exit after the transfer instead of
//	                   attaching a terminal
//	RASPBOOT_ENV     - "development" for human-readable log output
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arloliu/go-raspboot/boot"
	"github.com/arloliu/go-raspboot/logger"
	"github.com/arloliu/go-raspboot/payload"
	"github.com/arloliu/go-raspboot/serialport"
	"github.com/arloliu/go-raspboot/terminal"
)

const defaultPort = "/dev/ttyUSB0"

type config struct {
	payloadPath string
	port        string
	baudRate    int
	logLevel    logger.Level
	matchMode   boot.MatchMode
	deadlines   map[boot.Stage]time.Duration
	noTerm      bool
}

func loadConfig(args []string, getenv func(string) string) (*config, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, errors.New("missing kernel image path")
	}

	cfg := &config{
		payloadPath: args[0],
		port:        defaultPort,
		baudRate:    serialport.DefaultBaudRate,
		logLevel:    logger.InfoLevel,
		matchMode:   boot.MatchContains,
		deadlines:   make(map[boot.Stage]time.Duration),
	}

	if val := getenv("PORT"); val != "" {
		cfg.port = val
	}

	if val := getenv("BAUD"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid BAUD %q: %w", val, err)
		}
		cfg.baudRate = n
	}

	if val := getenv("LOG_LEVEL"); val != "" {
		level, ok := logger.ParseLevel(val)
		if !ok {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q", val)
		}
		cfg.logLevel = level
	}

	if val := getenv("MATCH_MODE"); val != "" {
		mode, err := boot.ParseMatchMode(val)
		if err != nil {
			return nil, err
		}
		cfg.matchMode = mode
	}

	envDeadlines := map[string]boot.Stage{
		"READY_DEADLINE":   boot.StageReady,
		"TRIGGER_DEADLINE": boot.StageTrigger,
		"ACK_DEADLINE":     boot.StageAck,
	}
	for name, stage := range envDeadlines {
		val := getenv(name)
		if val == "" {
			continue
		}

		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, val, err)
		}
		cfg.deadlines[stage] = d
	}

	if val := getenv("NO_TERM"); val != "" {
		noTerm, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid NO_TERM %q: %w", val, err)
		}
		cfg.noTerm = noTerm
	}

	return cfg, nil
}

func (cfg *config) sessionOptions(log logger.Logger) []boot.SessionOption {
	opts := []boot.SessionOption{
		boot.WithAllMatchModes(cfg.matchMode),
		boot.WithLogger(log),
		boot.WithStateHandler(func(prev boot.State, next boot.State) {
			log.Debug("boot state changed", "prevState", prev.String(), "newState", next.String())
		}),
	}
	for stage, d := range cfg.deadlines {
		opts = append(opts, boot.WithMarkerTimeout(stage, d))
	}

	return opts
}

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewSlog(logger.InfoLevel, false)
	logger.SetLogger(log)

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		fmt.Fprintln(os.Stderr, "usage: raspboot <kernel image>")

		return 2
	}
	log.SetLevel(cfg.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	image, err := payload.Load(cfg.payloadPath)
	if err != nil {
		log.Error("failed to load kernel image", "path", cfg.payloadPath, "error", err)
		return 1
	}
	log.Info("kernel image loaded", "path", cfg.payloadPath, "bytes", image.Len())

	portCfg, err := serialport.NewConfig(cfg.port,
		serialport.WithBaudRate(cfg.baudRate),
		serialport.WithLogger(log),
	)
	if err != nil {
		log.Error("invalid serial configuration", "error", err)
		return 2
	}

	port, err := serialport.Open(portCfg)
	if err != nil {
		log.Error("failed to open serial port", "port", cfg.port, "error", err)
		if ports, lerr := serialport.ListPorts(); lerr == nil && len(ports) > 0 {
			log.Info("available serial ports", "ports", ports)
		}

		return 1
	}

	sessCfg, err := boot.NewSessionConfig(cfg.sessionOptions(log)...)
	if err != nil {
		_ = port.Close()
		log.Error("invalid session configuration", "error", err)

		return 2
	}

	session, err := boot.NewSession(port, sessCfg)
	if err != nil {
		_ = port.Close()
		log.Error("failed to create boot session", "error", err)

		return 1
	}

	start := time.Now()
	if err := session.Run(ctx, image); err != nil {
		_ = port.Close()
		if serialport.IsDisconnect(err) {
			log.Error("serial device disconnected", "port", cfg.port)
		}
		if errors.Is(err, context.Canceled) {
			log.Info("interrupted")
		}

		return 1
	}

	m := session.Metrics()
	log.Info("boot finished",
		"elapsed", time.Since(start).String(),
		"bytesSent", m.BytesSent.Value(),
		"noiseBytes", m.NoiseBytes.Value(),
	)

	if cfg.noTerm {
		if err := port.Close(); err != nil {
			log.Warn("failed to close serial port", "error", err)
		}

		return 0
	}

	termCfg, err := terminal.NewConfig(terminal.WithLogger(log))
	if err != nil {
		_ = port.Close()
		log.Error("invalid terminal configuration", "error", err)

		return 2
	}

	term, err := terminal.New(port, os.Stdin, os.Stdout, termCfg, session.Pending())
	if err != nil {
		_ = port.Close()
		log.Error("failed to create terminal", "error", err)

		return 1
	}

	fmt.Fprintf(os.Stderr, "--- raspboot terminal on %s | quit: Ctrl-] | literal key: Ctrl-T followed by the key ---\r\n", cfg.port)
	if err := term.Run(ctx); err != nil {
		log.Error("terminal stopped", "error", err)
		return 1
	}

	return 0
}

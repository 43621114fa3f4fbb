// Command yabd-monitor shows the live state of a running yabd daemon and
// sends it commands.
//
// State arrives over the daemon's state websocket (state_ws.listen must be
// set in the daemon config); commands go over the IPC socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "yabd-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		wsURL     = flag.String("ws", "ws://127.0.0.1:3002/ws", "yabd state websocket URL")
		socket    = flag.String("ipc-socket", "/tmp/yabd.sock", "yabd IPC socket path")
		logFile   = flag.String("log-file", "", "Write logs to this file (default: discard)")
		verbosity = flag.Bool("v", false, "Debug logging (with -log-file)")
	)
	flag.Parse()

	logger, closeLog, err := setupLogger(*logFile, *verbosity)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	send := func(typ string, data any) (commandResult, error) {
		return sendCommand(*socket, typ, data)
	}

	p := tea.NewProgram(NewModel(send), tea.WithAltScreen(), tea.WithContext(ctx))

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	go runStateFeed(feedCtx, *wsURL, p.Send, logger)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run monitor: %w", err)
	}
	return nil
}

// setupLogger logs to path, or nowhere when path is empty; the terminal
// belongs to the UI.
func setupLogger(path string, debug bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})).
		With("service", "yabd-monitor")
	return logger, func() { _ = f.Close() }, nil
}

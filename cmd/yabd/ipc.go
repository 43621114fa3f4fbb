package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local command surface used by the `yabd dim|undim|...` subcommands and the
// monitor.
//
// Protocol: line-delimited JSON
//   - Client sends: {"type": "set_multiplier", "data": {"percent": 150}}
//   - Server responds: {"status": "ok", "result": {...}}
//     or {"status": "error", "error": "msg"}
//
// A command refused because the daemon is not controllable is still "ok",
// with result.ok == false.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"` // "ok" or "error"
	Result *CommandResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

const ipcDialTimeout = 2 * time.Second

// runIPCServer serves the IPC socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection answers every request line on conn in order.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		resp := handleIPCRequest(ctx, []byte(line), events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func handleIPCRequest(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	cmd, err := UnmarshalCommand(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse command: %v", err)}
	}

	res, err := submitCommand(ctx, events, cmd)
	if err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}
	if res.Err != nil {
		return IPCResponse{Status: "error", Error: res.Err.Error()}
	}
	return IPCResponse{Status: "ok", Result: &res}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPCCommand sends cmd to the daemon and returns its result.
func SendIPCCommand(socketPath string, cmd Command) (CommandResult, error) {
	conn, err := net.DialTimeout("unix", socketPath, ipcDialTimeout)
	if err != nil {
		return CommandResult{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(commandReplyTimeout + ipcDialTimeout))

	data, err := MarshalCommand(cmd)
	if err != nil {
		return CommandResult{}, fmt.Errorf("marshal command: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return CommandResult{}, fmt.Errorf("send command: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return CommandResult{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return CommandResult{}, fmt.Errorf("ipc error: %s", resp.Error)
	}
	if resp.Result == nil {
		return CommandResult{}, errors.New("ipc error: response without result")
	}
	return *resp.Result, nil
}

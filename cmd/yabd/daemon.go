package main

import (
	"context"
	"fmt"
	"log/slog"
)

// runDaemon is the single consumer of events. Sensor changes and remote
// commands are applied one at a time, so a command never interleaves with a
// handoff decision.
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(ctx context.Context, events <-chan Event, ctrl *Controller, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			handleEvent(ctx, ev, ctrl, logger)
		}
	}
}

func handleEvent(ctx context.Context, ev Event, ctrl *Controller, logger *slog.Logger) {
	switch e := ev.(type) {
	case AmbientChanged:
		if err := ctrl.HandleAmbient(e.Lux); err != nil {
			logger.Error("ambient change not applied", "lux", e.Lux, "error", err)
		}

	case CommandRequest:
		cctx, cancel := context.WithTimeout(ctx, commandReplyTimeout)
		res := executeCommand(cctx, ctrl, e.Command)
		cancel()

		if res.Err != nil {
			logger.Error("command failed", "command", e.Command.String(), "error", res.Err)
		} else {
			logger.Debug("command executed", "command", e.Command.String(), "ok", res.OK)
		}
		if e.Reply != nil {
			select {
			case e.Reply <- res:
			default:
				logger.Warn("command reply dropped", "command", e.Command.String())
			}
		}

	case RequestStateSnapshot:
		if e.Reply == nil {
			return
		}
		select {
		case e.Reply <- ctrl.Snapshot():
		default:
		}

	default:
		logger.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// forwardSensor subscribes to sensor and turns every reading into an
// AmbientChanged event.
func forwardSensor(ctx context.Context, sensor LightSensor, events chan<- Event) error {
	return sensor.Subscribe(ctx, func(lux float64) {
		select {
		case events <- AmbientChanged{Lux: lux}:
		case <-ctx.Done():
		}
	})
}

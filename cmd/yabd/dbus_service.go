package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// dbusCommandService exports the command surface on the session bus.
//
// Method names and signatures follow the long-standing yabd interface:
//
//	dim() -> b
//	undim() -> b
//	set_multiplier(d) -> v      multiplier percent as d, or false
//	change_multiplier(d) -> v   multiplier percent as d, or false
//
// Every call is forwarded into the daemon loop.
type dbusCommandService struct {
	ctx    context.Context
	events chan<- Event
	logger *slog.Logger
}

func newDBusCommandService(ctx context.Context, events chan<- Event, logger *slog.Logger) *dbusCommandService {
	return &dbusCommandService{ctx: ctx, events: events, logger: logger}
}

func (s *dbusCommandService) methodTable() map[string]interface{} {
	return map[string]interface{}{
		"dim":               s.dim,
		"undim":             s.undim,
		"set_multiplier":    s.setMultiplier,
		"change_multiplier": s.changeMultiplier,
	}
}

func (s *dbusCommandService) dim() (bool, *dbus.Error) {
	return s.boolCommand(CmdDim{})
}

func (s *dbusCommandService) undim() (bool, *dbus.Error) {
	return s.boolCommand(CmdUndim{})
}

func (s *dbusCommandService) setMultiplier(percent float64) (dbus.Variant, *dbus.Error) {
	return s.multiplierCommand(CmdSetMultiplier{Percent: percent})
}

func (s *dbusCommandService) changeMultiplier(delta float64) (dbus.Variant, *dbus.Error) {
	return s.multiplierCommand(CmdChangeMultiplier{Delta: delta})
}

func (s *dbusCommandService) run(cmd Command) (CommandResult, *dbus.Error) {
	res, err := submitCommand(s.ctx, s.events, cmd)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		s.logger.Warn("dbus command failed", "command", cmd.String(), "error", err)
		return CommandResult{}, dbus.MakeFailedError(err)
	}
	return res, nil
}

func (s *dbusCommandService) boolCommand(cmd Command) (bool, *dbus.Error) {
	res, derr := s.run(cmd)
	if derr != nil {
		return false, derr
	}
	return res.OK, nil
}

func (s *dbusCommandService) multiplierCommand(cmd Command) (dbus.Variant, *dbus.Error) {
	res, derr := s.run(cmd)
	if derr != nil {
		return dbus.MakeVariant(false), derr
	}
	if !res.OK || res.MultiplierPercent == nil {
		return dbus.MakeVariant(false), nil
	}
	return dbus.MakeVariant(*res.MultiplierPercent), nil
}

func dbusIntrospection(iface string) introspect.Interface {
	out := func(name, typ string) introspect.Arg {
		return introspect.Arg{Name: name, Type: typ, Direction: "out"}
	}
	in := func(name string) introspect.Arg {
		return introspect.Arg{Name: name, Type: "d", Direction: "in"}
	}
	return introspect.Interface{
		Name: iface,
		Methods: []introspect.Method{
			{Name: "dim", Args: []introspect.Arg{out("ok", "b")}},
			{Name: "undim", Args: []introspect.Arg{out("ok", "b")}},
			{Name: "set_multiplier", Args: []introspect.Arg{in("percent"), out("multiplier", "v")}},
			{Name: "change_multiplier", Args: []introspect.Arg{in("delta"), out("multiplier", "v")}},
		},
	}
}

// runDBusService claims cfg.BusName on the session bus and serves commands
// until ctx is canceled. The interface name equals the bus name.
func runDBusService(ctx context.Context, cfg DBusConfig, events chan<- Event, logger *slog.Logger) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	path := dbus.ObjectPath(cfg.ObjectPath)
	svc := newDBusCommandService(ctx, events, logger)

	if err := conn.ExportMethodTable(svc.methodTable(), path, cfg.BusName); err != nil {
		return fmt.Errorf("export methods: %w", err)
	}
	node := &introspect.Node{
		Name: cfg.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			dbusIntrospection(cfg.BusName),
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", cfg.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("dbus name %s already taken", cfg.BusName)
	}

	logger.Info("dbus service ready", "bus_name", cfg.BusName, "object_path", cfg.ObjectPath)
	<-ctx.Done()

	if _, err := conn.ReleaseName(cfg.BusName); err != nil {
		logger.Debug("dbus release name failed", "error", err)
	}
	return nil
}

// ============================================================================
// D-Bus client
// ============================================================================

var errUnexpectedDBusReply = errors.New("unexpected dbus reply")

// SendDBusCommand calls the daemon's D-Bus interface and maps the reply into
// a CommandResult. CmdStatus has no D-Bus method.
func SendDBusCommand(ctx context.Context, cfg DBusConfig, cmd Command) (CommandResult, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return CommandResult{}, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(cfg.BusName, dbus.ObjectPath(cfg.ObjectPath))
	method := func(name string) string { return cfg.BusName + "." + name }

	ctx, cancel := context.WithTimeout(ctx, commandReplyTimeout)
	defer cancel()

	switch c := cmd.(type) {
	case CmdDim, CmdUndim:
		name := commandTypeDim
		if _, ok := c.(CmdUndim); ok {
			name = commandTypeUndim
		}
		var ok bool
		if err := obj.CallWithContext(ctx, method(name), 0).Store(&ok); err != nil {
			return CommandResult{}, fmt.Errorf("dbus %s: %w", name, err)
		}
		return CommandResult{OK: ok}, nil

	case CmdSetMultiplier:
		return callMultiplier(ctx, obj, method(commandTypeSetMultiplier), c.Percent)

	case CmdChangeMultiplier:
		return callMultiplier(ctx, obj, method(commandTypeChangeMultiplier), c.Delta)

	default:
		return CommandResult{}, fmt.Errorf("command %s is not available over dbus", cmd.String())
	}
}

func callMultiplier(ctx context.Context, obj dbus.BusObject, method string, arg float64) (CommandResult, error) {
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, method, 0, arg).Store(&v); err != nil {
		return CommandResult{}, fmt.Errorf("dbus %s: %w", method, err)
	}
	return multiplierResultFromVariant(v)
}

func multiplierResultFromVariant(v dbus.Variant) (CommandResult, error) {
	switch x := v.Value().(type) {
	case float64:
		return CommandResult{OK: true, MultiplierPercent: &x}, nil
	case bool:
		if x {
			return CommandResult{}, fmt.Errorf("%w: true", errUnexpectedDBusReply)
		}
		return CommandResult{OK: false}, nil
	default:
		return CommandResult{}, fmt.Errorf("%w: signature %s", errUnexpectedDBusReply, v.Signature())
	}
}

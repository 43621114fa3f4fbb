package main

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const logindCallTimeout = 2 * time.Second

// logindWriter sets brightness through systemd-logind's Session.SetBrightness,
// which lets an unprivileged session user drive the backlight.
type logindWriter struct {
	conn    *dbus.Conn
	session dbus.BusObject
}

func newLogindWriter() (*logindWriter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &logindWriter{
		conn:    conn,
		session: conn.Object(logindService, dbus.ObjectPath(logindSession)),
	}, nil
}

func (w *logindWriter) SetBrightness(subsystem, device string, v int) error {
	ctx, cancel := context.WithTimeout(context.Background(), logindCallTimeout)
	defer cancel()

	call := w.session.CallWithContext(ctx, logindInterface+".SetBrightness", 0, subsystem, device, uint32(v))
	if call.Err != nil {
		return fmt.Errorf("logind SetBrightness %s/%s=%d: %w", subsystem, device, v, call.Err)
	}
	return nil
}

func (w *logindWriter) Close() error {
	return w.conn.Close()
}

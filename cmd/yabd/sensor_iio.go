package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"

// IIOSensor reads the ambient light level from iio-sensor-proxy
// (net.hadess.SensorProxy) on the system bus.
type IIOSensor struct {
	conn   *dbus.Conn
	proxy  dbus.BusObject
	logger *slog.Logger

	signals chan *dbus.Signal
	claimed bool
}

func newIIOSensor(logger *slog.Logger) (*IIOSensor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &IIOSensor{
		conn:   conn,
		proxy:  conn.Object(sensorProxyService, dbus.ObjectPath(sensorProxyPath)),
		logger: logger,
	}, nil
}

func (s *IIOSensor) ClaimLight(ctx context.Context) error {
	if err := s.proxy.CallWithContext(ctx, sensorProxyInterface+".ClaimLight", 0).Err; err != nil {
		return fmt.Errorf("ClaimLight: %w", err)
	}
	s.claimed = true
	return nil
}

func (s *IIOSensor) Subscribe(ctx context.Context, onChange func(lux float64)) error {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(sensorProxyPath)),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	s.signals = make(chan *dbus.Signal, 16)
	s.conn.Signal(s.signals)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-s.signals:
				if !ok {
					return
				}
				if lux, ok := lightLevelFromSignal(sig); ok {
					onChange(lux)
				}
			}
		}
	}()
	return nil
}

func (s *IIOSensor) ReadCurrent(ctx context.Context) (float64, error) {
	var v dbus.Variant
	call := s.proxy.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, sensorProxyInterface, "LightLevel")
	if err := call.Store(&v); err != nil {
		return 0, fmt.Errorf("get LightLevel: %w", err)
	}
	lux, ok := variantFloat(v)
	if !ok {
		return 0, fmt.Errorf("LightLevel has unexpected type %s", v.Signature())
	}
	return lux, nil
}

func (s *IIOSensor) Close() error {
	if s.signals != nil {
		s.conn.RemoveSignal(s.signals)
	}
	if s.claimed {
		if err := s.proxy.Call(sensorProxyInterface+".ReleaseLight", 0).Err; err != nil {
			s.logger.Warn("ReleaseLight failed", "error", err)
		}
	}
	return s.conn.Close()
}

// lightLevelFromSignal extracts LightLevel from a PropertiesChanged signal.
// Body is (interface string, changed map[string]variant, invalidated []string).
func lightLevelFromSignal(sig *dbus.Signal) (float64, bool) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return 0, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != sensorProxyInterface {
		return 0, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, false
	}
	v, ok := changed["LightLevel"]
	if !ok {
		return 0, false
	}
	return variantFloat(v)
}

func variantFloat(v dbus.Variant) (float64, bool) {
	switch x := v.Value().(type) {
	case float64:
		return x, true
	case uint32:
		return float64(x), true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}

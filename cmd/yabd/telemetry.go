package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	influxPingTimeout     = 10 * time.Second
	telemetryMeasurement  = "backlight"
	millisecondsPerSecond = 1000
)

var (
	errTelemetryDisabled = errors.New("influxdb: disabled in configuration")
	errTelemetryConnect  = errors.New("influxdb: connection failed")
)

// telemetry records settled controller state in InfluxDB. Writes are
// non-blocking and batched by the client library.
type telemetry struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	device   string
	logger   *slog.Logger
}

// connectTelemetry returns errTelemetryDisabled when cfg is not enabled.
func connectTelemetry(ctx context.Context, cfg InfluxDBConfig, device string, logger *slog.Logger) (*telemetry, error) {
	if !cfg.Enabled {
		return nil, errTelemetryDisabled
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.BatchSize)).
			SetFlushInterval(uint(cfg.FlushIntervalS)*millisecondsPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", errTelemetryConnect, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", errTelemetryConnect)
	}

	t := &telemetry{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		device:   device,
		logger:   logger,
	}
	go func(errs <-chan error) {
		for err := range errs {
			logger.Warn("influxdb write failed", "error", err)
		}
	}(t.writeAPI.Errors())

	logger.Info("influxdb connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return t, nil
}

// PublishSnapshot implements SnapshotSink.
func (t *telemetry) PublishSnapshot(ctx context.Context, snap StateSnapshot) {
	t.writeAPI.WritePoint(snapshotPoint(t.device, snap))
}

// Close flushes pending points.
func (t *telemetry) Close() {
	t.writeAPI.Flush()
	t.client.Close()
}

// snapshotPoint converts a snapshot into a line protocol point.
// Fields that are not known yet are left out.
func snapshotPoint(device string, snap StateSnapshot) *write.Point {
	fields := map[string]interface{}{
		"multiplier":  snap.MultiplierPercent / 100,
		"has_control": snap.HasControl,
		"is_dim":      snap.IsDim,
		"ramping":     snap.Ramping,
	}
	if snap.BrightnessKnown {
		fields["brightness"] = snap.KnownBrightness
		fields["brightness_percent"] = snap.BrightnessPercent()
	}
	if snap.LuxKnown {
		fields["lux"] = snap.LastLux
	}

	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(telemetryMeasurement, map[string]string{"device": device}, fields, at)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
)

// LightSensor delivers ambient light readings in lux.
type LightSensor interface {
	// ClaimLight acquires the sensor. Must succeed before Subscribe.
	ClaimLight(ctx context.Context) error
	// Subscribe delivers every ambient change to onChange until ctx is canceled.
	// onChange runs on the sensor's goroutine.
	Subscribe(ctx context.Context, onChange func(lux float64)) error
	// ReadCurrent performs an on-demand read.
	ReadCurrent(ctx context.Context) (float64, error)
	Close() error
}

// Sensor backends
const (
	SensorBackendIIO    = "iio"
	SensorBackendBH1750 = "bh1750"
	SensorBackendMQTT   = "mqtt"
)

// newLightSensor builds the sensor selected in cfg. mq is only used by the
// mqtt backend and may be nil otherwise.
func newLightSensor(cfg SensorConfig, mq *mqttClient, logger *slog.Logger) (LightSensor, error) {
	switch cfg.Backend {
	case SensorBackendIIO:
		return newIIOSensor(logger)
	case SensorBackendBH1750:
		return openBH1750Sensor(cfg.I2CBus, uint16(cfg.I2CAddr), cfg.PollInterval(), logger)
	case SensorBackendMQTT:
		if mq == nil {
			return nil, fmt.Errorf("sensor backend %q needs an mqtt connection", cfg.Backend)
		}
		return newMQTTSensor(mq, cfg.MQTTTopic, logger), nil
	default:
		return nil, fmt.Errorf("unknown sensor backend %q", cfg.Backend)
	}
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the yabd daemon.
//
// Precedence is defaults < file < environment < flags. Validate is called once
// after all layers are applied; the rest of the code assumes a well-formed config.
type Config struct {
	Backlight BacklightConfig   `yaml:"backlight"`
	Sensor    SensorConfig      `yaml:"sensor"`
	Mapping   MappingFileConfig `yaml:"mapping"`
	Control   ControlFileConfig `yaml:"control"`
	Ramp      RampFileConfig    `yaml:"ramp"`

	IPC     IPCConfig      `yaml:"ipc"`
	DBus    DBusConfig     `yaml:"dbus"`
	StateWS StateWSConfig  `yaml:"state_ws"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Influx  InfluxDBConfig `yaml:"influxdb"`

	// Single-instance lock file
	LockFile string `yaml:"lock_file"`

	Logging LoggingConfig `yaml:"logging"`
}

type BacklightConfig struct {
	Device    string `yaml:"device"`
	Subsystem string `yaml:"subsystem"`
	SysfsRoot string `yaml:"sysfs_root"`
	Writer    string `yaml:"writer"` // "logind" or "sysfs"
}

// Brightness writers
const (
	WriterLogind = "logind"
	WriterSysfs  = "sysfs"
)

type SensorConfig struct {
	Backend   string `yaml:"backend"` // "iio", "bh1750" or "mqtt"
	I2CBus    string `yaml:"i2c_bus,omitempty"`
	I2CAddr   int    `yaml:"i2c_addr"`
	PollMS    int    `yaml:"poll_ms"`
	MQTTTopic string `yaml:"mqtt_topic,omitempty"`
}

// PollInterval is the polling period of polled sensor backends.
func (s SensorConfig) PollInterval() time.Duration {
	return time.Duration(s.PollMS) * time.Millisecond
}

type MappingFileConfig struct {
	MinPercent    float64 `yaml:"min_percent"`
	MaxPercent    float64 `yaml:"max_percent"`
	DimmedPercent float64 `yaml:"dimmed_percent"`
	MaxAmbientLux float64 `yaml:"max_ambient_lux"`
	Gamma         float64 `yaml:"gamma"`
	MultiplierMax float64 `yaml:"multiplier_max"`
}

type ControlFileConfig struct {
	ReclaimThresholdLux   float64 `yaml:"reclaim_threshold_lux"`
	YieldOnExternalChange bool    `yaml:"yield_on_external_change"`
	Controllable          bool    `yaml:"controllable"`
}

type RampFileConfig struct {
	Enabled     bool    `yaml:"enabled"`
	StepPercent float64 `yaml:"step_percent"`
	TickMS      int     `yaml:"tick_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type DBusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BusName    string `yaml:"bus_name"`
	ObjectPath string `yaml:"object_path"`
}

// StateWSConfig configures the read-only state websocket. An empty Listen
// disables it.
type StateWSConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	TopicPrefix string           `yaml:"topic_prefix"`
	QoS         int              `yaml:"qos"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	TLS      bool   `yaml:"tls"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token,omitempty"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	BatchSize      int    `yaml:"batch_size"`
	FlushIntervalS int    `yaml:"flush_interval_s"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Backlight: BacklightConfig{
			Device:    "intel_backlight",
			Subsystem: "backlight",
			SysfsRoot: "/sys/class",
			Writer:    WriterLogind,
		},
		Sensor: SensorConfig{
			Backend: SensorBackendIIO,
			I2CAddr: defaultBH1750Addr,
			PollMS:  defaultSensorPollMS,
		},
		Mapping: MappingFileConfig{
			MinPercent:    defaultMinPercent,
			MaxPercent:    defaultMaxPercent,
			DimmedPercent: defaultDimmedPercent,
			MaxAmbientLux: defaultMaxAmbientLux,
			Gamma:         defaultGamma,
			MultiplierMax: defaultMultiplierMax,
		},
		Control: ControlFileConfig{
			ReclaimThresholdLux:   defaultReclaimThresholdLux,
			YieldOnExternalChange: false,
			Controllable:          true,
		},
		Ramp: RampFileConfig{
			Enabled:     true,
			StepPercent: defaultRampStepPercent,
			TickMS:      defaultRampTickMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		DBus: DBusConfig{
			Enabled:    true,
			BusName:    defaultDBusBusName,
			ObjectPath: defaultDBusObjectPath,
		},
		StateWS: StateWSConfig{
			Path: "/ws",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "yabd",
			},
			TopicPrefix: "yabd",
			QoS:         1,
		},
		Influx: InfluxDBConfig{
			URL:            "http://localhost:8086",
			Bucket:         "yabd",
			BatchSize:      100,
			FlushIntervalS: 10,
		},
		LockFile: defaultLockFilePath,
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// applyEnvOverrides applies YABD_* environment variables. These are meant for
// secrets and per-host values that don't belong in a shared config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("YABD_BACKLIGHT_DEVICE"); v != "" {
		cfg.Backlight.Device = v
	}

	if v := os.Getenv("YABD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("YABD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("YABD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("YABD_INFLUXDB_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
}

// FlagOverrides holds values from command-line flags. A nil pointer means the
// flag was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	Device    *string
	Subsystem *string

	MinPercent    *float64
	MaxPercent    *float64
	MaxAmbientLux *float64
	Gamma         *float64

	YieldOnExternalChange *bool
	ReclaimThresholdLux   *float64
	Controllable          *bool

	RampEnabled     *bool
	RampStepPercent *float64

	IPCSocketPath *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.Device != nil {
		cfg.Backlight.Device = *o.Device
	}
	if o.Subsystem != nil {
		cfg.Backlight.Subsystem = *o.Subsystem
	}

	if o.MinPercent != nil {
		cfg.Mapping.MinPercent = *o.MinPercent
	}
	if o.MaxPercent != nil {
		cfg.Mapping.MaxPercent = *o.MaxPercent
	}
	if o.MaxAmbientLux != nil {
		cfg.Mapping.MaxAmbientLux = *o.MaxAmbientLux
	}
	if o.Gamma != nil {
		cfg.Mapping.Gamma = *o.Gamma
	}

	if o.YieldOnExternalChange != nil {
		cfg.Control.YieldOnExternalChange = *o.YieldOnExternalChange
	}
	if o.ReclaimThresholdLux != nil {
		cfg.Control.ReclaimThresholdLux = *o.ReclaimThresholdLux
	}
	if o.Controllable != nil {
		cfg.Control.Controllable = *o.Controllable
	}

	if o.RampEnabled != nil {
		cfg.Ramp.Enabled = *o.RampEnabled
	}
	if o.RampStepPercent != nil {
		cfg.Ramp.StepPercent = *o.RampStepPercent
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	// Backlight
	if c.Backlight.Device == "" {
		return errors.New("backlight.device must not be empty")
	}
	if c.Backlight.Subsystem == "" {
		return errors.New("backlight.subsystem must not be empty")
	}
	if c.Backlight.SysfsRoot == "" {
		return errors.New("backlight.sysfs_root must not be empty")
	}
	if c.Backlight.Writer != WriterLogind && c.Backlight.Writer != WriterSysfs {
		return fmt.Errorf("backlight.writer must be %q or %q", WriterLogind, WriterSysfs)
	}

	// Sensor
	switch c.Sensor.Backend {
	case SensorBackendIIO:
	case SensorBackendBH1750:
		if c.Sensor.I2CAddr <= 0 || c.Sensor.I2CAddr > 0x7f {
			return errors.New("sensor.i2c_addr must be a 7-bit address")
		}
		if c.Sensor.PollMS <= 0 {
			return errors.New("sensor.poll_ms must be > 0")
		}
	case SensorBackendMQTT:
		if c.Sensor.MQTTTopic == "" {
			return errors.New("sensor.mqtt_topic must not be empty for the mqtt backend")
		}
		if !c.MQTT.Enabled {
			return errors.New("sensor.backend is mqtt but mqtt.enabled is false")
		}
	default:
		return fmt.Errorf("sensor.backend must be %q, %q or %q", SensorBackendIIO, SensorBackendBH1750, SensorBackendMQTT)
	}

	// Mapping
	m := c.Mapping
	if m.MinPercent < 0 || m.MinPercent > 100 {
		return errors.New("mapping.min_percent must be between 0 and 100")
	}
	if m.MaxPercent < 0 || m.MaxPercent > 100 {
		return errors.New("mapping.max_percent must be between 0 and 100")
	}
	if m.MinPercent > m.MaxPercent {
		return errors.New("mapping.min_percent must be <= mapping.max_percent")
	}
	if m.DimmedPercent < 0 || m.DimmedPercent > 100 {
		return errors.New("mapping.dimmed_percent must be between 0 and 100")
	}
	if m.MaxAmbientLux <= 0 {
		return errors.New("mapping.max_ambient_lux must be > 0")
	}
	if m.Gamma <= 0 {
		return errors.New("mapping.gamma must be > 0")
	}
	if m.MultiplierMax <= 0 {
		return errors.New("mapping.multiplier_max must be > 0")
	}

	// Control
	if c.Control.ReclaimThresholdLux < 0 {
		return errors.New("control.reclaim_threshold_lux must be >= 0")
	}

	// Ramp
	if c.Ramp.Enabled && c.Ramp.StepPercent <= 0 {
		return errors.New("ramp.step_percent must be > 0 when ramp.enabled is true")
	}
	if c.Ramp.TickMS <= 0 || c.Ramp.TickMS > 1000 {
		return errors.New("ramp.tick_ms must be between 1 and 1000")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// D-Bus
	if c.DBus.Enabled {
		if c.DBus.BusName == "" {
			return errors.New("dbus.bus_name must not be empty")
		}
		if c.DBus.ObjectPath == "" || c.DBus.ObjectPath[0] != '/' {
			return errors.New("dbus.object_path must be an absolute object path")
		}
	}

	// State websocket
	if c.StateWS.Listen != "" && (c.StateWS.Path == "" || c.StateWS.Path[0] != '/') {
		return errors.New("state_ws.path must start with /")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker.host is empty")
		}
		if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
			return errors.New("mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.Broker.ClientID == "" {
			return errors.New("mqtt.broker.client_id must not be empty")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
	}

	// InfluxDB
	if c.Influx.Enabled {
		if c.Influx.URL == "" {
			return errors.New("influxdb.enabled is true but influxdb.url is empty")
		}
		if c.Influx.Org == "" {
			return errors.New("influxdb.enabled is true but influxdb.org is empty")
		}
		if c.Influx.Bucket == "" {
			return errors.New("influxdb.enabled is true but influxdb.bucket is empty")
		}
		if c.Influx.BatchSize <= 0 {
			return errors.New("influxdb.batch_size must be > 0")
		}
		if c.Influx.FlushIntervalS <= 0 {
			return errors.New("influxdb.flush_interval_s must be > 0")
		}
	}

	if c.LockFile == "" {
		return errors.New("lock_file must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.New(`logging.format must be "text" or "json"`)
	}

	return nil
}

// ToControlConfig converts the file config into the immutable controller
// config for a device whose maximum is maxBrightness.
func (c *Config) ToControlConfig(maxBrightness int) ControlConfig {
	return ControlConfig{
		Mapping: MappingConfig{
			MinPercent:    c.Mapping.MinPercent,
			MaxPercent:    c.Mapping.MaxPercent,
			DimmedPercent: c.Mapping.DimmedPercent,
			MaxAmbientLux: c.Mapping.MaxAmbientLux,
			Gamma:         c.Mapping.Gamma,
		},
		ReclaimThresholdLux:   c.Control.ReclaimThresholdLux,
		YieldOnExternalChange: c.Control.YieldOnExternalChange,
		Controllable:          c.Control.Controllable,
		MultiplierMax:         c.Mapping.MultiplierMax,
		RampEnabled:           c.Ramp.Enabled,
		TickInterval:          time.Duration(c.Ramp.TickMS) * time.Millisecond,
		MaxBrightness:         maxBrightness,
		StepUnits:             rampStepUnits(c.Ramp.StepPercent, maxBrightness),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

package main

import "time"

// Mapping defaults (percent of the device range unless noted)
const (
	defaultMinPercent     = 1.0   // Lowest brightness the mapper may select
	defaultMaxPercent     = 100.0 // Highest brightness the mapper may select
	defaultDimmedPercent  = 0.7   // Brightness while dimmed
	defaultMaxAmbientLux  = 500.0 // Ambient level that maps to defaultMaxPercent (lux)
	defaultGamma          = 2.0   // Power-law exponent; 1 is linear
	defaultMultiplierMax  = 2.0   // Ceiling for the user multiplier
	defaultMultiplierInit = 1.0
)

// Handoff defaults
const (
	// Ambient swing needed to take control back after yielding (lux).
	// 0 disables automatic reclaim.
	defaultReclaimThresholdLux = 100.0
)

// Ramp defaults
const (
	defaultRampStepPercent = 0.5 // Brightness change per tick while ramping (percent)
	defaultRampTickMS      = 10  // Ramp tick interval (ms)
)

// Sensor defaults
const (
	defaultSensorPollMS  = 500
	defaultBH1750Addr    = 0x23
	sensorChangeEpsilon  = 0.5 // Polled sensors only deliver changes larger than this (lux)
	defaultIPCSocketPath = "/tmp/yabd.sock"
	defaultLockFilePath  = "/tmp/yabd.lock"
)

// Command round-trip limits
const (
	commandReplyTimeout = 2 * time.Second
	snapshotTimeout     = 1 * time.Second
)

// D-Bus names
const (
	defaultDBusBusName    = "re.bruge.yabd"
	defaultDBusObjectPath = "/re/bruge/yabd"

	logindService   = "org.freedesktop.login1"
	logindSession   = "/org/freedesktop/login1/session/auto"
	logindInterface = "org.freedesktop.login1.Session"

	sensorProxyService   = "net.hadess.SensorProxy"
	sensorProxyPath      = "/net/hadess/SensorProxy"
	sensorProxyInterface = "net.hadess.SensorProxy"
)

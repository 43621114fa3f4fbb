package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.2.0"

const (
	eventQueueSize    = 64
	snapshotQueueSize = 64
)

func printVersion() {
	fmt.Printf("yabd v%s\n", version)
	fmt.Println("Ambient light adaptive backlight daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  yabd [OPTIONS]")
	fmt.Println("  yabd dim|undim|status [-transport ipc|dbus] [-ipc-socket PATH] [-config FILE]")
	fmt.Println("  yabd set_multiplier <percent> [-transport ipc|dbus] [-ipc-socket PATH] [-config FILE]")
	fmt.Println("  yabd change_multiplier <delta> [-transport ipc|dbus] [-ipc-socket PATH] [-config FILE]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Sets the display backlight from the ambient light sensor. When somebody")
	fmt.Println("  else changes the brightness the daemon can back off, and take control")
	fmt.Println("  back once the room gets noticeably brighter or darker.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file; flags override values from the file")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Backlight device (default \"intel_backlight\")")
	fmt.Println()
	fmt.Println("  -subsystem string")
	fmt.Println("        Backlight subsystem (default \"backlight\")")
	fmt.Println()
	fmt.Println("  -min-brightness float")
	fmt.Printf("        Lowest brightness in percent (default %.1f)\n", defaultMinPercent)
	fmt.Println()
	fmt.Println("  -max-brightness float")
	fmt.Printf("        Highest brightness in percent (default %.1f)\n", defaultMaxPercent)
	fmt.Println()
	fmt.Println("  -max-ambient-brightness float")
	fmt.Printf("        Ambient light in lux that maps to the highest brightness (default %.0f)\n", defaultMaxAmbientLux)
	fmt.Println()
	fmt.Println("  -gamma float")
	fmt.Printf("        Response curve exponent; 1 is linear (default %.1f)\n", defaultGamma)
	fmt.Println()
	fmt.Println("  -yield-control")
	fmt.Println("        Stop adjusting when the brightness is changed externally")
	fmt.Println()
	fmt.Println("  -change-to-get-control-back float")
	fmt.Printf("        Ambient change in lux needed to take control back; 0 never does (default %.0f)\n", defaultReclaimThresholdLux)
	fmt.Println()
	fmt.Println("  -controllable")
	fmt.Println("        Accept dim/undim/multiplier commands (default true)")
	fmt.Println()
	fmt.Println("  -ramp")
	fmt.Println("        Change brightness gradually (default true)")
	fmt.Println()
	fmt.Println("  -ramp-step float")
	fmt.Printf("        Ramp step in percent of the device range (default %.1f)\n", defaultRampStepPercent)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"warn\")")
	fmt.Println()
	fmt.Println("  -v")
	fmt.Println("        Verbose; same as -log-level info")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  yabd -yield-control -change-to-get-control-back 150")
	fmt.Println("  yabd change_multiplier -10")
	fmt.Println("  yabd set_multiplier 150 -transport dbus")
	fmt.Println()
}

func main() {
	if len(os.Args) > 1 && isClientCommand(os.Args[1]) {
		os.Exit(runClientCommand(os.Args[1], os.Args[2:], os.Stdout, os.Stderr))
	}

	for _, arg := range os.Args[1:] {
		switch arg {
		case "-version", "--version":
			printVersion()
			return
		case "-help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := loadDaemonConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("yabd exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

// loadDaemonConfig layers defaults, the config file, environment and flags.
// Only flags that were given on the command line override the file.
func loadDaemonConfig(args []string) (Config, error) {
	def := DefaultConfig()

	fs := flag.NewFlagSet("yabd", flag.ContinueOnError)
	fs.Usage = printUsage

	var (
		configPath    = fs.String("config", "", "YAML config file")
		device        = fs.String("device", def.Backlight.Device, "Backlight device")
		subsystem     = fs.String("subsystem", def.Backlight.Subsystem, "Backlight subsystem")
		minPercent    = fs.Float64("min-brightness", def.Mapping.MinPercent, "Lowest brightness in percent")
		maxPercent    = fs.Float64("max-brightness", def.Mapping.MaxPercent, "Highest brightness in percent")
		maxAmbientLux = fs.Float64("max-ambient-brightness", def.Mapping.MaxAmbientLux, "Ambient lux mapped to the highest brightness")
		gamma         = fs.Float64("gamma", def.Mapping.Gamma, "Response curve exponent")
		yieldControl  = fs.Bool("yield-control", def.Control.YieldOnExternalChange, "Yield on external brightness changes")
		reclaimLux    = fs.Float64("change-to-get-control-back", def.Control.ReclaimThresholdLux, "Ambient change in lux needed to reclaim control")
		controllable  = fs.Bool("controllable", def.Control.Controllable, "Accept remote commands")
		ramp          = fs.Bool("ramp", def.Ramp.Enabled, "Change brightness gradually")
		rampStep      = fs.Float64("ramp-step", def.Ramp.StepPercent, "Ramp step in percent")
		ipcSocket     = fs.String("ipc-socket", def.IPC.SocketPath, "Unix domain socket path for IPC")
		logLevel      = fs.String("log-level", def.Logging.Level, "Log level: error, warn, info, debug")
		verbose       = fs.Bool("v", false, "Verbose (log level info)")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(*configPath); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)

	var o FlagOverrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			o.Device = device
		case "subsystem":
			o.Subsystem = subsystem
		case "min-brightness":
			o.MinPercent = minPercent
		case "max-brightness":
			o.MaxPercent = maxPercent
		case "max-ambient-brightness":
			o.MaxAmbientLux = maxAmbientLux
		case "gamma":
			o.Gamma = gamma
		case "yield-control":
			o.YieldOnExternalChange = yieldControl
		case "change-to-get-control-back":
			o.ReclaimThresholdLux = reclaimLux
		case "controllable":
			o.Controllable = controllable
		case "ramp":
			o.RampEnabled = ramp
		case "ramp-step":
			o.RampStepPercent = rampStep
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	// -v raises the level to info; it never quiets a more verbose setting.
	if *verbose && o.LogLevel == nil {
		if lvl, err := parseLogLevel(cfg.Logging.Level); err == nil && lvl.slogLevel() > slog.LevelInfo {
			info := string(LogLevelInfo)
			o.LogLevel = &info
		}
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run wires the daemon and blocks until ctx is canceled or a component fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	lock, err := acquireInstanceLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	var writer brightnessWriter
	if cfg.Backlight.Writer == WriterLogind {
		lw, err := newLogindWriter()
		if err != nil {
			return err
		}
		defer lw.Close()
		writer = lw
	}

	backlight, err := NewBacklight(cfg.Backlight.SysfsRoot, cfg.Backlight.Subsystem, cfg.Backlight.Device, writer)
	if err != nil {
		return err
	}

	var mq *mqttClient
	if cfg.MQTT.Enabled {
		if mq, err = connectMQTT(cfg.MQTT, logger); err != nil {
			return err
		}
		defer mq.Close()
	}

	sensor, err := newLightSensor(cfg.Sensor, mq, logger)
	if err != nil {
		return err
	}
	defer sensor.Close()

	if err := sensor.ClaimLight(ctx); err != nil {
		return fmt.Errorf("claim light sensor: %w", err)
	}

	ctrlCfg := cfg.ToControlConfig(backlight.Max())
	ctrl := NewController(ctrlCfg, backlight, sensor, logger)

	snapshots := make(chan StateSnapshot, snapshotQueueSize)
	ctrl.SetSnapshotSink(snapshots)
	events := make(chan Event, eventQueueSize)

	logger.Info("starting yabd",
		"backlight", backlight.String(),
		"max_brightness", ctrlCfg.MaxBrightness,
		"writer", cfg.Backlight.Writer,
		"sensor", cfg.Sensor.Backend,
		"yield_control", ctrlCfg.YieldOnExternalChange,
		"reclaim_threshold_lux", ctrlCfg.ReclaimThresholdLux,
		"ramp", ctrlCfg.RampEnabled,
		"ramp_step_units", ctrlCfg.StepUnits,
		"controllable", ctrlCfg.Controllable)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ctrl.RunRamp(gctx)
		return nil
	})
	g.Go(func() error {
		runDaemon(gctx, events, ctrl, logger)
		return nil
	})

	var sinks []SnapshotSink

	if cfg.StateWS.Listen != "" {
		srv := NewStateServer(logger, events, HubConfig{})
		wsSnapshots := make(chan StateSnapshot, snapshotQueueSize)
		sinks = append(sinks, chanSink{ch: wsSnapshots, name: "state_ws", logger: logger})

		mux := newHTTPMux(srv, cfg.StateWS.Path, events)
		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), wsSnapshots, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.StateWS.Listen, mux, logger)
		})
	}

	if mq != nil {
		bridge := newMQTTBridge(gctx, mq, mq.topics, events, logger)
		if err := bridge.Start(); err != nil {
			logger.Warn("mqtt command topic unavailable", "error", err)
		}
		sinks = append(sinks, newSettledSink(bridge))
	}

	tel, err := connectTelemetry(ctx, cfg.Influx, cfg.Backlight.Device, logger)
	switch {
	case err == nil:
		defer tel.Close()
		sinks = append(sinks, newSettledSink(tel))
	case errors.Is(err, errTelemetryDisabled):
	default:
		logger.Warn("telemetry unavailable, continuing without it", "error", err)
	}

	g.Go(func() error {
		runPublisher(gctx, snapshots, logger, sinks...)
		return nil
	})

	if cfg.DBus.Enabled {
		g.Go(func() error {
			if err := runDBusService(gctx, cfg.DBus, events, logger); err != nil {
				logger.Warn("dbus command service unavailable", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	// Seed the first decision from an on-demand read so the backlight is set
	// without waiting for the room to change.
	if lux, err := sensor.ReadCurrent(gctx); err == nil {
		select {
		case events <- AmbientChanged{Lux: lux}:
		case <-gctx.Done():
		}
	} else {
		logger.Warn("initial ambient read failed", "error", err)
	}

	g.Go(func() error {
		if err := forwardSensor(gctx, sensor, events); err != nil {
			return fmt.Errorf("subscribe to light sensor: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ============================================================================
// Client subcommands
// ============================================================================

var clientCommands = map[string]bool{
	commandTypeDim:              true,
	commandTypeUndim:            true,
	commandTypeStatus:           true,
	commandTypeSetMultiplier:    true,
	commandTypeChangeMultiplier: true,
}

func isClientCommand(name string) bool {
	return clientCommands[name]
}

// Transports for client subcommands
const (
	transportIPC  = "ipc"
	transportDBus = "dbus"
)

// runClientCommand implements `yabd <command>` and returns the exit code.
func runClientCommand(name string, args []string, stdout, stderr io.Writer) int {
	flagArgs, values := splitValueArgs(args, map[string]bool{"transport": true, "ipc-socket": true, "config": true})

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	transport := fs.String("transport", transportIPC, "Transport: ipc or dbus")
	ipcSocket := fs.String("ipc-socket", "", "Unix domain socket path for IPC (default from config)")
	configPath := fs.String("config", "", "YAML config file of the daemon")
	if err := fs.Parse(flagArgs); err != nil {
		return 2
	}
	values = append(values, fs.Args()...)

	cmd, err := buildClientCommand(name, values)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	target, err := resolveClientTarget(*configPath, *ipcSocket)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	var res CommandResult
	switch *transport {
	case transportIPC:
		res, err = SendIPCCommand(target.socketPath, cmd)
	case transportDBus:
		res, err = SendDBusCommand(context.Background(), target.dbus, cmd)
	default:
		err = fmt.Errorf("unknown transport %q", *transport)
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	if !res.OK {
		fmt.Fprintln(stderr, "daemon is not controllable")
		return 1
	}

	switch {
	case res.MultiplierPercent != nil:
		fmt.Fprintf(stdout, "%g\n", *res.MultiplierPercent)
	case name == commandTypeStatus && res.State != nil:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res.State)
	}
	return 0
}

// clientTarget is where a client subcommand reaches the daemon.
type clientTarget struct {
	socketPath string
	dbus       DBusConfig
}

// resolveClientTarget reads the daemon's IPC socket and D-Bus names from its
// config file, if given. An explicit -ipc-socket wins over the file.
func resolveClientTarget(configPath, ipcSocket string) (clientTarget, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(configPath); err != nil {
			return clientTarget{}, err
		}
	}
	t := clientTarget{socketPath: cfg.IPC.SocketPath, dbus: cfg.DBus}
	if ipcSocket != "" {
		t.socketPath = ipcSocket
	}
	return t, nil
}

func buildClientCommand(name string, values []string) (Command, error) {
	needValue := name == commandTypeSetMultiplier || name == commandTypeChangeMultiplier
	if !needValue {
		if len(values) > 0 {
			return nil, fmt.Errorf("%s takes no arguments", name)
		}
	} else if len(values) != 1 {
		return nil, fmt.Errorf("%s needs exactly one numeric argument", name)
	}

	switch name {
	case commandTypeDim:
		return CmdDim{}, nil
	case commandTypeUndim:
		return CmdUndim{}, nil
	case commandTypeStatus:
		return CmdStatus{}, nil
	}

	v, err := strconv.ParseFloat(values[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", name, values[0])
	}
	if name == commandTypeSetMultiplier {
		return CmdSetMultiplier{Percent: v}, nil
	}
	return CmdChangeMultiplier{Delta: v}, nil
}

// splitValueArgs pulls numeric positional arguments out of args so that
// negative values like "-10" are not mistaken for flags. valueFlags names
// flags that consume the following argument.
func splitValueArgs(args []string, valueFlags map[string]bool) (flagArgs, values []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if _, err := strconv.ParseFloat(a, 64); err == nil {
			values = append(values, a)
			continue
		}
		flagArgs = append(flagArgs, a)

		name := strings.TrimLeft(a, "-")
		if strings.HasPrefix(a, "-") && !strings.Contains(name, "=") && valueFlags[name] && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return flagArgs, values
}

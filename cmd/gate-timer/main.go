// Command gate-timer times laps through an RSSI gate, runs the race start
// protocol and announces results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/gate-timer/internal/announce"
	"github.com/sweeney/gate-timer/internal/config"
	"github.com/sweeney/gate-timer/internal/device"
	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logging"
	"github.com/sweeney/gate-timer/internal/mqtt"
	"github.com/sweeney/gate-timer/internal/status"
	"github.com/sweeney/gate-timer/internal/timing"
	"github.com/sweeney/gate-timer/internal/web"
)

const (
	shutdownTimeout  = 5 * time.Second
	mqttStatusPeriod = time.Second
)

// overrides holds the command line values that replace config file settings.
type overrides struct {
	device   string
	broker   string
	httpAddr string
	enter    int
	exit     int
	mode     string
	pilot    string
	logLevel string
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	printConfig := flag.Bool("print-device-config", false, "Print the device configuration and exit")

	var o overrides
	registerOverrides(flag.CommandLine, &o)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := applyOverrides(flag.CommandLine, o, &cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *printConfig); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func registerOverrides(fs *flag.FlagSet, o *overrides) {
	fs.StringVar(&o.device, "device", "", "Device base URL (empty runs without a device)")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address (empty disables MQTT)")
	fs.StringVar(&o.httpAddr, "http", "", "HTTP status address (empty to disable)")
	fs.IntVar(&o.enter, "enter", 0, "Enter threshold")
	fs.IntVar(&o.exit, "exit", 0, "Exit threshold")
	fs.StringVar(&o.mode, "mode", "", "Announcer mode: tone, 1lap, 2lap or 3lap")
	fs.StringVar(&o.pilot, "pilot", "", "Pilot name")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// applyOverrides copies the flags that were set on the command line into cfg.
func applyOverrides(fs *flag.FlagSet, o overrides, cfg *config.Config) error {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device.URL = o.device
		case "broker":
			cfg.MQTT.Broker = o.broker
		case "http":
			cfg.HTTP.Addr = o.httpAddr
		case "enter":
			cfg.Detector.Enter = o.enter
		case "exit":
			cfg.Detector.Exit = o.exit
		case "mode":
			cfg.Announcer.Mode = o.mode
		case "pilot":
			cfg.Announcer.Pilot = o.pilot
		case "log-level":
			cfg.Log.Level = o.logLevel
		}
	})
	return cfg.Validate()
}

func run(cfg config.Config, printConfig bool) error {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	var client *device.Client
	if cfg.Device.URL != "" {
		client = device.NewClient(cfg.Device.URL, cfg.Device.RequestTimeout, logger)
	}

	// Print config mode
	if printConfig {
		if client == nil {
			return errors.New("print device config: no device configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.RequestTimeout)
		defer cancel()
		return printDeviceConfig(ctx, os.Stdout, client)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceURL:    cfg.Device.URL,
		Broker:       cfg.MQTT.Broker,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		HTTPAddr:     cfg.HTTP.Addr,
		TickMs:       cfg.Detector.Tick.Milliseconds(),
		PollMs:       cfg.Announcer.Poll.Milliseconds(),
		SpeechBinary: cfg.Announcer.SpeechCommand,
	})

	var dev timing.Device
	if client != nil {
		client.OnConnectionChange(tracker.SetDeviceConnected)
		dev = client
	}

	toner, closeToner := newToner(cfg.Buzzer, logger)
	defer closeToner()

	// Initialize MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher, mqttStatus = rp, rp
	}

	scheduler := announce.NewScheduler(announce.Config{
		Speaker: announce.NewExecSpeaker(cfg.Announcer.SpeechCommand, logger),
		Rate:    cfg.Announcer.Rate,
		Poll:    cfg.Announcer.Poll,
		Logger:  logger,
	})

	coord := timing.New(timing.Config{
		Device:        dev,
		Announcer:     scheduler,
		Toner:         toner,
		Publisher:     publisher,
		Tracker:       tracker,
		Logger:        logger,
		Enter:         cfg.Detector.Enter,
		Exit:          cfg.Detector.Exit,
		Mode:          cfg.AnnouncerMode(),
		Pilot:         cfg.Announcer.Pilot,
		Tick:          cfg.Detector.Tick,
		DeviceTimeout: cfg.Device.RequestTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordDone := make(chan error, 1)
	go func() { coordDone <- coord.Run(ctx) }()
	<-coord.Started()

	if err := start(ctx, coord, cfg, client != nil, logger); err != nil {
		cancel()
		<-coordDone
		return err
	}

	if client != nil {
		go client.Subscribe(ctx, cfg.Device.ReconnectDelay, coord.Deliver)
	}
	if mqttStatus != nil {
		go watchMQTT(ctx, mqttStatus, tracker, mqttStatusPeriod)
	}

	// Publish startup event with full status snapshot
	publishStartup(publisher, tracker, logger)

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, coord, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started", "device", cfg.Device.URL, "broker", cfg.MQTT.Broker, "enter", cfg.Detector.Enter, "exit", cfg.Detector.Exit, "tick", cfg.Detector.Tick)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return waitForShutdown(sigCh, coordDone, publisher, mqttStatus, tracker, time.Now, logger, cancel)
}

// start applies the startup settings through the coordinator.
func start(ctx context.Context, coord *timing.Coordinator, cfg config.Config, hasDevice bool, logger *slog.Logger) error {
	if hasDevice && cfg.Device.SyncConfig {
		if err := coord.SyncDeviceConfig(ctx); err != nil {
			logger.Warn("device config sync failed, keeping local settings", "error", err)
		}
	}

	enabled := cfg.Announcer.Enabled
	if err := coord.ConfigureAnnouncer(ctx, timing.AnnouncerSettings{Enabled: &enabled}); err != nil {
		return fmt.Errorf("configure announcer: %w", err)
	}
	if cfg.Detector.Active {
		if err := coord.SetDetection(ctx, true); err != nil {
			return fmt.Errorf("enable detection: %w", err)
		}
	}
	return nil
}

// waitForShutdown blocks until a signal arrives or the coordinator exits.
// On a signal it publishes SHUTDOWN before stopping the coordinator.
func waitForShutdown(sig <-chan os.Signal, coordDone <-chan error, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, logger *slog.Logger, stop context.CancelFunc) error {
	select {
	case err := <-coordDone:
		if err != nil {
			return fmt.Errorf("coordinator: %w", err)
		}
		return errors.New("coordinator exited")

	case s := <-sig:
		logger.Info("shutting down", "signal", s)
		publishShutdown(publisher, mqttStatus, tracker, signalName(s), now, logger)
		stop()
		return <-coordDone
	}
}

func publishStartup(publisher mqtt.Publisher, tracker *status.Tracker, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(event); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event")
	}
}

// syncPublisher is implemented by publishers that can wait for the broker.
type syncPublisher interface {
	PublishSystemSync(event mqtt.SystemEvent, timeout time.Duration) error
}

func publishShutdown(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, reason string, now func() time.Time, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		snap := tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
	}

	var err error
	if sp, ok := publisher.(syncPublisher); ok {
		err = sp.PublishSystemSync(event, shutdownTimeout)
	} else {
		err = publisher.PublishSystem(event)
	}
	if err != nil {
		logger.Warn("failed to publish shutdown event", "error", err)
	} else {
		logger.Info("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// watchMQTT mirrors the broker connection state into the tracker.
func watchMQTT(ctx context.Context, conn mqtt.ConnectionStatus, tracker *status.Tracker, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		tracker.SetMQTTConnected(conn.IsConnected())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newToner opens the GPIO buzzer. Without one, tones are only logged.
func newToner(cfg config.BuzzerConfig, logger *slog.Logger) (gpio.Toner, func()) {
	if cfg.Line < 0 {
		return gpio.LogBuzzer{Logger: logger}, func() {}
	}
	b, err := gpio.NewRealBuzzer(cfg.Chip, cfg.Line, cfg.Passive, logger)
	if err != nil {
		logger.Warn("buzzer unavailable, tones will be logged", "chip", cfg.Chip, "line", cfg.Line, "error", err)
		return gpio.LogBuzzer{Logger: logger}, func() {}
	}
	return b, func() { b.Close() }
}

func printDeviceConfig(ctx context.Context, w io.Writer, client *device.Client) error {
	dc, err := client.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("read device config: %w", err)
	}
	fmt.Fprintf(w, "frequency: %d\n", dc.Frequency)
	fmt.Fprintf(w, "enter: %d exit: %d\n", dc.EnterLevel, dc.ExitLevel)
	fmt.Fprintf(w, "min lap: %.1fs alarm: %.1fV\n", float64(dc.MinLapTenths)/10, float64(dc.AlarmTenths)/10)
	fmt.Fprintf(w, "announcer: type %d rate %.1f\n", dc.AnnouncerType, dc.RateMultiplier())
	fmt.Fprintf(w, "pilot: %s\n", dc.PilotName)
	return nil
}

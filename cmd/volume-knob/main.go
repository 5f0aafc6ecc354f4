// Command volume-knob reads a rotary encoder and drives the ALSA mixer,
// an SSD1306 readout and, optionally, MQTT state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/volume-knob/internal/config"
	"github.com/sweeney/volume-knob/internal/display"
	"github.com/sweeney/volume-knob/internal/encoder"
	"github.com/sweeney/volume-knob/internal/gpio"
	"github.com/sweeney/volume-knob/internal/latest"
	"github.com/sweeney/volume-knob/internal/mixer"
	"github.com/sweeney/volume-knob/internal/mqtt"
	"github.com/sweeney/volume-knob/internal/poller"
	"github.com/sweeney/volume-knob/internal/status"
	"github.com/sweeney/volume-knob/internal/throttle"
	"github.com/sweeney/volume-knob/internal/web"
)

// flagOverrides holds command-line values that replace config file settings.
// Zero values (-1 for pins) mean "not set".
type flagOverrides struct {
	clk      int
	dt       int
	device   string
	logLevel string
	httpAddr string
	broker   string
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "Config file (.toml, otherwise YAML)")
	var o flagOverrides
	flag.IntVar(&o.clk, "clk", -1, "BCM pin for encoder CLK (overrides config)")
	flag.IntVar(&o.dt, "dt", -1, "BCM pin for encoder DT (overrides config)")
	flag.StringVar(&o.device, "device", "", "ALSA mixer control (overrides config)")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address (overrides config)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (overrides config)")
	printState := flag.Bool("print-state", false, "Print current encoder line levels and exit")

	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(*configPath, log)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(level)

	if err := run(cfg, *printState, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads path. A missing file at the default path falls back to
// defaults; a missing file that was asked for explicitly is an error.
func loadConfig(path string, log logrus.FieldLogger) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath {
		log.Infof("no config file at %s, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func applyOverrides(cfg *config.Config, o flagOverrides) {
	if o.clk >= 0 {
		cfg.ClkPin = o.clk
	}
	if o.dt >= 0 {
		cfg.DtPin = o.dt
	}
	if o.device != "" {
		cfg.Device = o.device
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
}

func run(cfg config.Config, printState bool, log *logrus.Logger) error {
	reader, err := gpio.NewRealReader(cfg.GPIOChip, cfg.ClkPin, cfg.DtPin)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	if printState {
		clk, dt, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("CLK: %s, DT: %s\n", levelString(clk), levelString(dt))
		return nil
	}

	log.Infof("config loaded: clk=%d dt=%d device=%s", cfg.ClkPin, cfg.DtPin, cfg.Device)

	var disp display.Display
	if cfg.Display.Enabled {
		d, err := display.NewSSD1306(cfg.Display.Bus, cfg.Display.Format)
		if err != nil {
			return fmt.Errorf("init display: %w", err)
		}
		defer d.Close()
		if err := d.ShowStartupMessage(cfg.Display.StartupMessage); err != nil {
			log.WithError(err).Warn("failed to show startup message")
		}
		disp = d
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	amixer := mixer.NewAmixer(cfg.Device, config.Millis(cfg.Mixer.TimeoutMs))
	amixer.Command = cfg.Mixer.Command
	level, applied := mixer.StartupVolume(ctx, amixer, cfg.StartupVolume, cfg.FallbackVolume, log.WithField("component", "mixer"))

	dec, err := encoder.NewDecoder(cfg.EncoderSettings(), level, time.Now())
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	initial := dec.Value()
	lo, hi := dec.Bounds()

	started := time.Now()
	tracker := status.NewTracker(started, status.Config{
		ClkPin:        cfg.ClkPin,
		DtPin:         cfg.DtPin,
		Device:        cfg.Device,
		StartupVolume: cfg.StartupVolume,
		DebounceUs:    int64(cfg.Encoder.DebounceUs),
		ResetMs:       int64(cfg.Encoder.ResetMs),
		SleepMs:       int64(cfg.Encoder.SleepMs),
		LoopMs:        int64(cfg.LoopMs),
		HeartbeatMs:   int64(cfg.MQTT.HeartbeatMs),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
	}, initial, lo, hi)
	tracker.SetNetwork(readNetworkInfo())

	var outputs []*throttle.Throttler[int]
	if disp != nil {
		outputs = append(outputs, throttle.NewUnsynced[int]("display", display.NewSink(disp), config.Millis(cfg.Display.IntervalMs), nil))
	}
	mixerSink := mixer.NewSink(ctx, amixer)
	mixerInterval := config.Millis(cfg.Mixer.IntervalMs)
	if applied {
		outputs = append(outputs, throttle.New[int]("mixer", mixerSink, level, mixerInterval, nil))
	} else {
		outputs = append(outputs, throttle.NewUnsynced[int]("mixer", mixerSink, mixerInterval, nil))
	}

	var publisher mqtt.Publisher
	var connStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID, log.WithField("component", "mqtt"))
		if err != nil {
			log.WithError(err).Warn("mqtt disabled")
		} else {
			defer pub.Close()
			publisher, connStatus = pub, pub
			outputs = append(outputs, throttle.NewUnsynced[int]("mqtt", mqtt.NewSink(pub, nil), config.Millis(cfg.MQTT.IntervalMs), nil))
			publishStartup(pub, cfg, lo, hi, log)
		}
	}

	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, log.WithField("component", "web"))
		hub = srv.Hub()
		go hub.Run(ctx)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	values := latest.New[int]()
	p := poller.New(reader, dec, cfg.PollInterval(), log,
		poller.WithSleepObserver(func(asleep bool) {
			tracker.SetAsleep(asleep)
			if hub != nil {
				hub.BroadcastSleep(asleep, time.Now())
			}
		}),
		poller.WithCountsObserver(tracker.SetCounts))

	pollErr := make(chan error, 1)
	go func() { pollErr <- p.Run(ctx, values) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	reason := cancelOnSignal(sigCh, cancel, log)

	log.Infof("volume control started at %d%% (range %d-%d)", initial, lo, hi)

	l := &loop{
		values:   values,
		outputs:  outputs,
		tracker:  tracker,
		hub:      hub,
		mqtt:     connStatus,
		log:      log.WithField("component", "main"),
		interval: cfg.LoopInterval(),
		flush:    cfg.FlushPending,
		now:      time.Now,
		sleep:    time.Sleep,

		publisher:     publisher,
		heartbeat:     config.Millis(cfg.MQTT.HeartbeatMs),
		lastHeartbeat: started,
		network:       readNetworkInfo,
	}
	loopErr := l.run(ctx)
	cancel()

	if err := <-pollErr; err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if loopErr != nil {
		return loopErr
	}

	if publisher != nil {
		publishShutdown(publisher, signalReason(reason), log)
	}
	return nil
}

// cancelOnSignal cancels on the first signal and reports its name.
func cancelOnSignal(sig <-chan os.Signal, cancel context.CancelFunc, log logrus.FieldLogger) <-chan string {
	reason := make(chan string, 1)
	go func() {
		s := <-sig
		log.Infof("received %v, shutting down", s)
		reason <- signalName(s)
		cancel()
	}()
	return reason
}

func signalReason(reason <-chan string) string {
	select {
	case r := <-reason:
		return r
	default:
		return "UNKNOWN"
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func publishStartup(pub mqtt.Publisher, cfg config.Config, lo, hi int, log logrus.FieldLogger) {
	event := mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     mqtt.EventStartup,
		Retained:  true,
		Config: &mqtt.SystemConfig{
			ClkPin:        cfg.ClkPin,
			DtPin:         cfg.DtPin,
			Device:        cfg.Device,
			StartupVolume: cfg.StartupVolume,
			Min:           lo,
			Max:           hi,
		},
	}
	if err := pub.PublishSystem(event); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
		return
	}
	log.Info("published startup event")
}

func publishShutdown(pub mqtt.Publisher, reason string, log logrus.FieldLogger) {
	event := mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     mqtt.EventShutdown,
		Reason:    reason,
		Retained:  true,
	}
	if err := pub.PublishSystem(event); err != nil {
		log.WithError(err).Warn("failed to publish shutdown event")
		return
	}
	log.Info("published shutdown event")
}

// Network state variables written by the provisioning helper.
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo returns nil when the helper has not reported a status.
func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

// Command button-sensor debounces push buttons on GPIO inputs and publishes
// press, click and long-press gestures to MQTT, HomeKit and AWS IoT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/awsiot"
	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/homekit"
	"github.com/sweeney/button-sensor/internal/logic"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

type options struct {
	buttons     buttonList
	backend     string
	chip        string
	bias        string
	activeHigh  bool
	poll        time.Duration
	debounce    time.Duration
	clickWindow time.Duration
	longPress   time.Duration
	broker      string
	heartbeat   time.Duration
	httpAddr    string
	homekitPin  string
	homekitPort string
	homekitDB   string
	iotEndpoint string
	iotRegion   string
	iotTopic    string
	printState  bool
}

func main() {
	var opts options
	def := button.DefaultConfig()

	flag.Var(&opts.buttons, "button", "Button as name:pin (BCM), repeatable (default "+defaultButton+")")
	flag.StringVar(&opts.backend, "gpio", gpio.BackendGPIOCDev, "GPIO backend: gpiocdev, rpio or periph")
	flag.StringVar(&opts.chip, "chip", gpio.DefaultChip, "GPIO chip (gpiocdev backend)")
	flag.StringVar(&opts.bias, "bias", "up", "Input bias: none, up or down")
	flag.BoolVar(&opts.activeHigh, "active-high", false, "Treat a high level as pressed")
	flag.DurationVar(&opts.poll, "poll", 5*time.Millisecond, "GPIO polling interval")
	flag.DurationVar(&opts.debounce, "debounce", def.DebounceDelay, "Debounce duration")
	flag.DurationVar(&opts.clickWindow, "click-window", def.ClickWindow, "Maximum gap between clicks of a burst")
	flag.DurationVar(&opts.longPress, "long-press", def.LongPressDelay, "Hold time for a long press")
	flag.StringVar(&opts.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&opts.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&opts.homekitPin, "homekit-pin", "", "HomeKit setup code, 8 digits (empty to disable)")
	flag.StringVar(&opts.homekitPort, "homekit-port", "", "HomeKit HAP port (empty for random)")
	flag.StringVar(&opts.homekitDB, "homekit-db", "./homekit-db", "HomeKit pairing storage directory")
	flag.StringVar(&opts.iotEndpoint, "iot-endpoint", "", "AWS IoT data endpoint URL (empty to disable)")
	flag.StringVar(&opts.iotRegion, "iot-region", "", "AWS region for the IoT endpoint")
	flag.StringVar(&opts.iotTopic, "iot-topic", mqtt.Topic, "AWS IoT topic for button events")
	flag.BoolVar(&opts.printState, "print-state", false, "Print current levels and debounced states, then exit")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Log as JSON")

	flag.Parse()

	if err := configureLogging(*logLevel, *logJSON); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if len(opts.buttons) == 0 {
		if err := opts.buttons.Set(defaultButton); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	}
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// input is one configured button and the line it is wired to.
type input struct {
	name   string
	reader gpio.Reader
}

// eventSink receives every button event. MQTT, HomeKit and AWS IoT all
// satisfy it.
type eventSink interface {
	Publish(event logic.Event) error
}

type namedSink struct {
	name string
	sink eventSink
}

func run(opts options) error {
	cfg, err := buildConfig(opts.poll, opts.debounce, opts.clickWindow, opts.longPress, opts.activeHigh)
	if err != nil {
		return err
	}
	bias, err := gpio.ParseBias(opts.bias)
	if err != nil {
		return err
	}

	// Initialize GPIO
	var inputs []input
	defer func() {
		for _, in := range inputs {
			in.reader.Close()
		}
	}()
	for _, b := range opts.buttons {
		r, err := gpio.Open(gpio.Options{Backend: opts.backend, Chip: opts.chip, Pin: b.Pin, Bias: bias})
		if err != nil {
			return fmt.Errorf("init gpio for %s: %w", b.Name, err)
		}
		inputs = append(inputs, input{name: b.Name, reader: r})
	}

	// Print state mode
	if opts.printState {
		return printState(os.Stdout, inputs, cfg)
	}

	// Initialize MQTT
	hostname, _ := os.Hostname()
	publisher, err := mqtt.NewRealPublisher(opts.broker, "button-sensor-"+hostname)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.name
	}

	var sinks []namedSink
	if opts.homekitPin != "" {
		hk, err := homekit.New(homekit.Config{Pin: opts.homekitPin, Port: opts.homekitPort, StoragePath: opts.homekitDB}, names)
		if err != nil {
			return fmt.Errorf("init homekit: %w", err)
		}
		defer hk.Close()
		sinks = append(sinks, namedSink{name: "homekit", sink: hk})
	}
	if opts.iotEndpoint != "" {
		iot, err := awsiot.New(opts.iotEndpoint, opts.iotRegion, opts.iotTopic)
		if err != nil {
			return fmt.Errorf("init aws iot: %w", err)
		}
		defer iot.Close()
		sinks = append(sinks, namedSink{name: "awsiot", sink: iot})
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:        opts.poll.Milliseconds(),
		DebounceMs:    opts.debounce.Milliseconds(),
		ClickWindowMs: opts.clickWindow.Milliseconds(),
		LongPressMs:   opts.longPress.Milliseconds(),
		HeartbeatMs:   opts.heartbeat.Milliseconds(),
		ActiveHigh:    opts.activeHigh,
		GPIOBackend:   opts.backend,
		Broker:        opts.broker,
		HTTPPort:      opts.httpAddr,
		HomeKit:       opts.homekitPin != "",
		IoTEndpoint:   opts.iotEndpoint,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	} else {
		log.Info("published startup event")
	}

	// Start HTTP status server
	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	log.WithFields(log.Fields{
		"buttons":      opts.buttons.String(),
		"gpio":         opts.backend,
		"poll":         opts.poll,
		"debounce":     opts.debounce,
		"click_window": opts.clickWindow,
		"long_press":   opts.longPress,
		"broker":       opts.broker,
		"heartbeat":    opts.heartbeat,
	}).Info("started")

	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(inputs, cfg, publisher, publisher, sinks, tracker, opts.heartbeat, time.Now, ticker.C, sigCh)
}

// tickClock hands engines the time of the tick being processed, so event
// timestamps and engine timing agree.
type tickClock struct {
	start time.Time
	now   time.Time
}

func (c *tickClock) NowMillis() uint32 {
	return uint32(c.now.Sub(c.start).Milliseconds())
}

// pinSource adapts a gpio.Reader to button.InputSource. A failed read
// repeats the last good level so a glitch cannot fake a release.
type pinSource struct {
	name   string
	reader gpio.Reader
	level  bool
	failed bool
}

func (p *pinSource) ReadLevel() bool {
	level, err := p.reader.Read()
	if err != nil {
		if !p.failed {
			log.WithError(err).WithField("button", p.name).Warn("gpio read error, holding last level")
		}
		p.failed = true
		return p.level
	}
	if p.failed {
		log.WithField("button", p.name).Info("gpio read recovered")
		p.failed = false
	}
	p.level = level
	return level
}

// heldLevel is an InputSource that never changes.
type heldLevel bool

func (h heldLevel) ReadLevel() bool { return bool(h) }

// printState reads every line once and reports its level together with the
// state a fresh engine settles in when that level is held past the debounce
// delay.
func printState(w io.Writer, inputs []input, cfg button.Config) error {
	start := time.Unix(0, 0)
	clock := &tickClock{start: start, now: start}

	lineLevels := make([]bool, len(inputs))
	buttons := make([]logic.Button, len(inputs))
	for i, in := range inputs {
		level, err := in.reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio for %s: %w", in.name, err)
		}
		lineLevels[i] = level
		buttons[i] = logic.Button{Name: in.name, Engine: button.New(cfg, clock, heldLevel(level))}
	}

	detector := logic.NewDetector(buttons, start)
	detector.Process(clock.now)
	clock.now = start.Add(cfg.DebounceDelay + time.Millisecond)
	detector.Process(clock.now)

	for i, in := range inputs {
		level := lineLevels[i]
		fmt.Fprintf(w, "%s: %s (%s, %s)\n", in.name, levelString(level),
			pressedString(level == cfg.ActiveLevel), detector.Engine(in.name).State())
	}
	return nil
}

func runLoop(inputs []input, cfg button.Config, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, sinks []namedSink, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	clock := &tickClock{start: startTime, now: startTime}

	buttons := make([]logic.Button, len(inputs))
	for i, in := range inputs {
		// Start from the released level so an early read error is not a press.
		src := &pinSource{name: in.name, reader: in.reader, level: !cfg.ActiveLevel}
		buttons[i] = logic.Button{Name: in.name, Engine: button.New(cfg, clock, src)}
	}
	detector := logic.NewDetector(buttons, startTime)

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(detector.CurrentState(), detector.EventCountsSnapshot())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			clock.now = t

			for _, event := range detector.Process(t) {
				log.WithFields(log.Fields{
					"button": event.Button,
					"state":  event.State.String(),
					"clicks": event.ClickCount,
				}).Infof("event: %s", event.Type)

				if err := publisher.Publish(event); err != nil {
					// Don't crash on publish failure
					log.WithError(err).Warn("publish error")
				}
				for _, s := range sinks {
					if err := s.sink.Publish(event); err != nil {
						log.WithError(err).WithField("sink", s.name).Warn("publish error")
					}
				}
			}

			// Check for heartbeat
			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.WithFields(log.Fields{
					"uptime":  hbData.Uptime,
					"presses": hbData.Counts.Presses,
					"clicks":  hbData.Counts.Clicks,
					"long":    hbData.Counts.LongPresses,
				}).Info("heartbeat")

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					refresh()
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.WithError(err).Warn("heartbeat publish error")
				}
			}

			// Update status tracker for HTTP consumers
			refresh()
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

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

func pressedString(pressed bool) string {
	if pressed {
		return "pressed"
	}
	return "released"
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/logic"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

// --- runLoop tests ---

const testStep = 5 * time.Millisecond

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// testConfig is active-high with a short long-press so scripts stay small.
func testConfig() button.Config {
	cfg := button.DefaultConfig()
	cfg.ActiveLevel = button.High
	cfg.LongPressDelay = 100 * time.Millisecond
	return cfg
}

// levels concatenates runs of (level, count) pairs.
func levels(runs ...interface{}) []bool {
	var out []bool
	for i := 0; i+1 < len(runs); i += 2 {
		level := runs[i].(bool)
		for n := 0; n < runs[i+1].(int); n++ {
			out = append(out, level)
		}
	}
	return out
}

// clickScript is idle, a 50ms press, then idle again: 16 ticks.
func clickScript() []bool {
	return levels(false, 2, true, 10, false, 4)
}

// faultReader wraps a FakeReader and returns errors for a range of Read() calls.
// The inner reader is not consulted during faults.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() (bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return false, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

type recordingSink struct {
	events []logic.Event
	err    error
}

func (s *recordingSink) Publish(e logic.Event) error {
	s.events = append(s.events, e)
	return s.err
}

type loopRig struct {
	inputs    []input
	cfg       button.Config
	pub       *mqtt.FakePublisher
	sinks     []namedSink
	tracker   *status.Tracker
	heartbeat time.Duration
	step      time.Duration
}

func newLoopRig(samples []bool) *loopRig {
	return &loopRig{
		inputs: []input{{name: "a", reader: gpio.NewFakeReader(samples)}},
		cfg:    testConfig(),
		pub:    mqtt.NewFakePublisher(),
		step:   testStep,
	}
}

// run drives runLoop for nTicks and then delivers signal.
func (r *loopRig) run(t *testing.T, nTicks int, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.inputs, r.cfg, r.pub, r.pub, r.sinks, r.tracker, r.heartbeat, fakeClock(testStart, r.step), tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func eventTypes(events []logic.Event) []logic.EventType {
	out := make([]logic.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func assertEvents(t *testing.T, events []logic.Event, want ...logic.EventType) {
	t.Helper()
	got := eventTypes(events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
}

func TestRunLoopNoEventsWhileIdle(t *testing.T) {
	r := newLoopRig(levels(false, 1))
	r.run(t, 20, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("expected 0 button events, got %v", eventTypes(r.pub.Events))
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	if r.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", r.pub.SystemEvents[0].Event)
	}
}

func TestRunLoopSingleClick(t *testing.T) {
	script := clickScript()
	r := newLoopRig(script)
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events, logic.EventPressed, logic.EventReleased, logic.EventClick)

	press := r.pub.Events[0]
	if press.Button != "a" {
		t.Errorf("expected button a, got %q", press.Button)
	}
	// Press starts on tick 3 (15ms) and is confirmed once 20ms have passed.
	if want := testStart.Add(40 * time.Millisecond); !press.Timestamp.Equal(want) {
		t.Errorf("press timestamp: got %v, want %v", press.Timestamp, want)
	}
	if r.pub.Events[2].ClickCount != 1 {
		t.Errorf("expected click count 1, got %d", r.pub.Events[2].ClickCount)
	}
}

func TestRunLoopDoubleClick(t *testing.T) {
	script := append(clickScript(), levels(true, 10, false, 4)...)
	r := newLoopRig(script)
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events,
		logic.EventPressed, logic.EventReleased, logic.EventClick,
		logic.EventPressed, logic.EventReleased, logic.EventDoubleClick)
	if r.pub.Events[5].ClickCount != 2 {
		t.Errorf("expected click count 2, got %d", r.pub.Events[5].ClickCount)
	}
}

func TestRunLoopLongPress(t *testing.T) {
	script := levels(true, 40, false, 4)
	r := newLoopRig(script)
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events,
		logic.EventPressed, logic.EventLongPress, logic.EventReleased, logic.EventLongPressRelease)
}

func TestRunLoopBounceRejection(t *testing.T) {
	// A 10ms spike is shorter than the 20ms debounce.
	script := levels(false, 2, true, 2, false, 10)
	r := newLoopRig(script)
	r.run(t, len(script), syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("expected bounce to be rejected, got %v", eventTypes(r.pub.Events))
	}
}

func TestRunLoopActiveLow(t *testing.T) {
	script := levels(true, 2, false, 10, true, 4)
	r := newLoopRig(script)
	r.cfg.ActiveLevel = button.Low
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events, logic.EventPressed, logic.EventReleased, logic.EventClick)
}

func TestRunLoopGPIOErrorHoldsLevel(t *testing.T) {
	// Reads fail for five ticks while the button is held. Holding the last
	// level keeps the press intact, so exactly one click is reported.
	inner := gpio.NewFakeReader(levels(false, 2, true, 14, false, 4))
	r := newLoopRig(nil)
	r.inputs = []input{{name: "a", reader: &faultReader{inner: inner, faultStart: 10, faultEnd: 15}}}
	r.run(t, 25, syscall.SIGTERM)

	assertEvents(t, r.pub.Events, logic.EventPressed, logic.EventReleased, logic.EventClick)
}

func TestRunLoopGPIOErrorAtStartIsNotAPress(t *testing.T) {
	inner := gpio.NewFakeReader(levels(false, 1))
	r := newLoopRig(nil)
	r.inputs = []input{{name: "a", reader: &faultReader{inner: inner, faultStart: 0, faultEnd: 10}}}
	r.run(t, 20, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("expected no events, got %v", eventTypes(r.pub.Events))
	}
	found := false
	for _, se := range r.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after GPIO errors")
	}
}

func TestRunLoopMultipleButtons(t *testing.T) {
	r := newLoopRig(nil)
	script := clickScript()
	r.inputs = []input{
		{name: "a", reader: gpio.NewFakeReader(levels(false, 1))},
		{name: "b", reader: gpio.NewFakeReader(script)},
	}
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events, logic.EventPressed, logic.EventReleased, logic.EventClick)
	for _, e := range r.pub.Events {
		if e.Button != "b" {
			t.Errorf("expected only button b events, got %q", e.Button)
		}
	}
}

func TestRunLoopFansOutToSinks(t *testing.T) {
	script := clickScript()
	r := newLoopRig(script)
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("sink down")}
	r.sinks = []namedSink{{name: "failing", sink: failing}, {name: "ok", sink: ok}}
	r.run(t, len(script), syscall.SIGTERM)

	assertEvents(t, r.pub.Events, logic.EventPressed, logic.EventReleased, logic.EventClick)
	assertEvents(t, ok.events, logic.EventPressed, logic.EventReleased, logic.EventClick)
	assertEvents(t, failing.events, logic.EventPressed, logic.EventReleased, logic.EventClick)
}

func TestRunLoopPublishError(t *testing.T) {
	script := clickScript()
	r := newLoopRig(script)
	r.pub.PublishError = fmt.Errorf("broker unavailable")
	sink := &recordingSink{}
	r.sinks = []namedSink{{name: "sink", sink: sink}}
	r.run(t, len(script), syscall.SIGTERM)

	// FakePublisher doesn't record on error; other sinks still get events.
	if len(r.pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(r.pub.Events))
	}
	if len(sink.events) != 3 {
		t.Errorf("expected 3 sink events, got %d", len(sink.events))
	}

	found := false
	for _, se := range r.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	script := clickScript()
	r := newLoopRig(script)
	r.tracker = status.NewTracker(testStart, status.Config{})
	r.pub.Connected = true
	r.run(t, len(script), syscall.SIGTERM)

	snap := r.tracker.Snapshot()
	if len(snap.Buttons) != 1 {
		t.Fatalf("expected 1 button in tracker, got %d", len(snap.Buttons))
	}
	if snap.Buttons[0].State != button.Idle || snap.Buttons[0].ClickCount != 1 {
		t.Errorf("button status: got %+v", snap.Buttons[0])
	}
	if snap.Counts.Presses != 1 || snap.Counts.Clicks != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r := newLoopRig(levels(false, 1))
			r.run(t, 4, tt.sig)

			if len(r.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
			}
			se := r.pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tt.want {
				t.Errorf("expected reason %s, got %q", tt.want, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
		})
	}
}

func TestRunLoopShutdownCarriesSnapshot(t *testing.T) {
	r := newLoopRig(levels(false, 1))
	r.tracker = status.NewTracker(testStart, status.Config{})
	r.run(t, 4, syscall.SIGTERM)

	var sj status.StatusJSON
	if err := json.Unmarshal(r.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid shutdown payload: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("payload event/reason: got %q/%q", sj.Status.Event, sj.Status.Reason)
	}
	if len(sj.Status.Buttons) != 1 || sj.Status.Buttons[0].Name != "a" {
		t.Errorf("payload buttons: got %+v", sj.Status.Buttons)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Ticks at 5, 10, 15 and 20 minutes: one heartbeat at 15.
	r := newLoopRig(levels(false, 1))
	r.step = 5 * time.Minute
	r.heartbeat = 15 * time.Minute
	r.run(t, 4, syscall.SIGTERM)

	var heartbeats, shutdowns int
	for _, se := range r.pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if want := testStart.Add(15 * time.Minute); !se.Timestamp.Equal(want) {
				t.Errorf("heartbeat timestamp: got %v, want %v", se.Timestamp, want)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "associated")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	r := newLoopRig(levels(false, 1))
	r.step = 5 * time.Minute
	r.heartbeat = 15 * time.Minute
	r.tracker = status.NewTracker(testStart, status.Config{})
	r.run(t, 4, syscall.SIGTERM)

	var payload []byte
	for i, se := range r.pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			payload = r.pub.SystemPayloads[i]
			break
		}
	}
	if payload == nil {
		t.Fatal("expected a HEARTBEAT system event")
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(payload, &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", sj.Status.Event)
	}
	if sj.Status.Network == nil {
		t.Fatal("HEARTBEAT payload missing network info")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", sj.Status.Network.IP, "192.168.1.42")
	}
	if sj.Status.Network.SSID != "HomeNet" {
		t.Errorf("Network.SSID: got %q, want %q", sj.Status.Network.SSID, "HomeNet")
	}
}

func TestTickClock(t *testing.T) {
	c := &tickClock{start: testStart, now: testStart.Add(1500 * time.Millisecond)}
	if got := c.NowMillis(); got != 1500 {
		t.Errorf("NowMillis: got %d, want 1500", got)
	}
}

func TestPrintState(t *testing.T) {
	inputs := []input{
		{name: "up", reader: gpio.NewFakeReader([]bool{false})},
		{name: "down", reader: gpio.NewFakeReader([]bool{true})},
	}
	var buf bytes.Buffer
	if err := printState(&buf, inputs, testConfig()); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "up: LOW (released, IDLE)\ndown: HIGH (pressed, PRESSED)\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrintStateReadError(t *testing.T) {
	inputs := []input{{name: "a", reader: &faultReader{inner: gpio.NewFakeReader(nil), faultEnd: 1}}}
	var buf bytes.Buffer
	if err := printState(&buf, inputs, testConfig()); err == nil {
		t.Fatal("expected read error")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output on error, got %q", buf.String())
	}
}

func TestLevelStrings(t *testing.T) {
	if levelString(true) != "HIGH" || levelString(false) != "LOW" {
		t.Error("levelString mismatch")
	}
	if pressedString(true) != "pressed" || pressedString(false) != "released" {
		t.Error("pressedString mismatch")
	}
}

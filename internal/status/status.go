// Package status provides a thread-safe status tracker for the button-sensor daemon.
// It is read by the HTTP handlers and by lifecycle events published to MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/button-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	DebounceMs    int64
	ClickWindowMs int64
	LongPressMs   int64
	HeartbeatMs   int64
	ActiveHigh    bool
	GPIOBackend   string
	Broker        string
	HTTPPort      string
	HomeKit       bool
	IoTEndpoint   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: its Buttons slice is never shared with the tracker.
type Snapshot struct {
	Buttons       []logic.ButtonStatus
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets button states and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(buttons []logic.ButtonStatus, counts logic.EventCounts) {
	cp := append([]logic.ButtonStatus(nil), buttons...)
	t.mu.Lock()
	t.snap.Buttons = cp
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Buttons = append([]logic.ButtonStatus(nil), t.snap.Buttons...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

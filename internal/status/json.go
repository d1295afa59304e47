package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Buttons       []ButtonJSON `json:"buttons"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ButtonJSON is the JSON representation of one button.
type ButtonJSON struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Held       bool   `json:"held"`
	ClickCount int    `json:"click_count"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Presses           int `json:"pressed"`
	Releases          int `json:"released"`
	Clicks            int `json:"click"`
	DoubleClicks      int `json:"double_click"`
	TripleClicks      int `json:"triple_click"`
	MultiClicks       int `json:"multi_click"`
	LongPresses       int `json:"long_press"`
	LongPressReleases int `json:"long_press_release"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64  `json:"poll_ms"`
	DebounceMs    int64  `json:"debounce_ms"`
	ClickWindowMs int64  `json:"click_window_ms"`
	LongPressMs   int64  `json:"long_press_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	ActiveHigh    bool   `json:"active_high"`
	GPIOBackend   string `json:"gpio_backend"`
	Broker        string `json:"broker"`
	HTTPPort      string `json:"http_port"`
	HomeKit       bool   `json:"homekit"`
	IoTEndpoint   string `json:"iot_endpoint,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	buttons := make([]ButtonJSON, len(snap.Buttons))
	for i, b := range snap.Buttons {
		buttons[i] = ButtonJSON{
			Name:       b.Name,
			State:      b.State.String(),
			Held:       b.Held,
			ClickCount: b.ClickCount,
		}
	}

	c := snap.Counts
	return StatusInner{
		Buttons:       buttons,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Presses:           c.Presses,
			Releases:          c.Releases,
			Clicks:            c.Clicks,
			DoubleClicks:      c.DoubleClicks,
			TripleClicks:      c.TripleClicks,
			MultiClicks:       c.MultiClicks,
			LongPresses:       c.LongPresses,
			LongPressReleases: c.LongPressReleases,
		},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			DebounceMs:    snap.Config.DebounceMs,
			ClickWindowMs: snap.Config.ClickWindowMs,
			LongPressMs:   snap.Config.LongPressMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			ActiveHigh:    snap.Config.ActiveHigh,
			GPIOBackend:   snap.Config.GPIOBackend,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
			HomeKit:       snap.Config.HomeKit,
			IoTEndpoint:   snap.Config.IoTEndpoint,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package logic turns polled button engines into timestamped gesture events.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/button-sensor/internal/button"
)

// EventType represents a gesture reported by a button.
type EventType string

const (
	EventPressed          EventType = "PRESSED"
	EventReleased         EventType = "RELEASED"
	EventClick            EventType = "CLICK"
	EventDoubleClick      EventType = "DOUBLE_CLICK"
	EventTripleClick      EventType = "TRIPLE_CLICK"
	EventMultiClick       EventType = "MULTI_CLICK"
	EventLongPress        EventType = "LONG_PRESS"
	EventLongPressRelease EventType = "LONG_PRESS_RELEASE"
)

// Event represents a gesture to be published.
type Event struct {
	Timestamp  time.Time
	Button     string
	Type       EventType
	ClickCount int          // set for click events only
	State      button.State // engine state after the poll that produced the event
}

// Button pairs a name with the engine that debounces it.
type Button struct {
	Name   string
	Engine *button.Engine
}

// ButtonStatus is a point-in-time view of one button.
type ButtonStatus struct {
	Name       string
	State      button.State
	Held       bool
	ClickCount int
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Presses           int
	Releases          int
	Clicks            int
	DoubleClicks      int
	TripleClicks      int
	MultiClicks       int
	LongPresses       int
	LongPressReleases int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

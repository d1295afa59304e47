package logic

import (
	"time"

	"github.com/sweeney/button-sensor/internal/button"
)

// Detector polls a set of button engines and reports their gestures.
type Detector struct {
	buttons       []Button
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a detector over the given buttons.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(buttons []Button, startTime time.Time) *Detector {
	return &Detector{
		buttons:       buttons,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process polls every engine exactly once and returns the events that poll
// produced. Buttons are reported in the order they were configured.
func (d *Detector) Process(now time.Time) []Event {
	var events []Event
	for _, b := range d.buttons {
		b.Engine.Poll()
		events = append(events, eventsFor(b, now)...)
	}

	for _, e := range events {
		d.count(e.Type)
	}
	return events
}

// eventsFor classifies the state reached by the engine's last poll.
func eventsFor(b Button, now time.Time) []Event {
	e := b.Engine
	if !e.JustEntered() {
		return nil
	}

	event := func(t EventType) Event {
		return Event{Timestamp: now, Button: b.Name, Type: t, State: e.State()}
	}

	switch {
	case e.Pressed():
		return []Event{event(EventPressed)}
	case e.LongPressed():
		return []Event{event(EventLongPress)}
	case e.LongPressReleased():
		return []Event{event(EventReleased), event(EventLongPressRelease)}
	case e.ClickReleased():
		click := event(clickType(e.ClickCount()))
		click.ClickCount = e.ClickCount()
		return []Event{event(EventReleased), click}
	}
	return nil
}

func clickType(count int) EventType {
	switch count {
	case 1:
		return EventClick
	case 2:
		return EventDoubleClick
	case 3:
		return EventTripleClick
	default:
		return EventMultiClick
	}
}

func (d *Detector) count(t EventType) {
	switch t {
	case EventPressed:
		d.eventCounts.Presses++
	case EventReleased:
		d.eventCounts.Releases++
	case EventClick:
		d.eventCounts.Clicks++
	case EventDoubleClick:
		d.eventCounts.DoubleClicks++
	case EventTripleClick:
		d.eventCounts.TripleClicks++
	case EventMultiClick:
		d.eventCounts.MultiClicks++
	case EventLongPress:
		d.eventCounts.LongPresses++
	case EventLongPressRelease:
		d.eventCounts.LongPressReleases++
	}
}

// CurrentState returns the state of every button.
func (d *Detector) CurrentState() []ButtonStatus {
	out := make([]ButtonStatus, len(d.buttons))
	for i, b := range d.buttons {
		out[i] = ButtonStatus{
			Name:       b.Name,
			State:      b.Engine.State(),
			Held:       b.Engine.Held(),
			ClickCount: b.Engine.ClickCount(),
		}
	}
	return out
}

// EventCountsSnapshot returns a copy of the event counts.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// Engine returns the engine for the named button, or nil.
func (d *Detector) Engine(name string) *button.Engine {
	for _, b := range d.buttons {
		if b.Name == name {
			return b.Engine
		}
	}
	return nil
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}

// Package button turns the raw, bouncing level of one digital input into
// press, click and long-press gestures.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via the Clock interface.
package button

import "time"

// Level values for Config.ActiveLevel.
const (
	Low  = false
	High = true
)

// Clock returns a monotonically increasing millisecond counter.
// It may wrap around once per ~49.7 days like a 32-bit millis() counter.
type Clock interface {
	NowMillis() uint32
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() uint32

// NowMillis calls f.
func (f ClockFunc) NowMillis() uint32 { return f() }

// InputSource returns the instantaneous raw level of one input line.
type InputSource interface {
	ReadLevel() bool
}

// InputFunc adapts a plain function to InputSource.
type InputFunc func() bool

// ReadLevel calls f.
func (f InputFunc) ReadLevel() bool { return f() }

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock that starts at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// NowMillis returns milliseconds since creation, truncated to 32 bits.
func (c *SystemClock) NowMillis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// Config holds the timing policy of one button.
type Config struct {
	// Minimum stable time before a raw transition is trusted.
	DebounceDelay time.Duration
	// Maximum gap between releases for a click to join the current burst.
	ClickWindow time.Duration
	// Held time after which a press becomes a long press.
	LongPressDelay time.Duration
	// Raw level that means "pressed".
	ActiveLevel bool
}

// DefaultConfig returns the usual values for a switch wired to ground
// with a pull-up resistor.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:  20 * time.Millisecond,
		ClickWindow:    500 * time.Millisecond,
		LongPressDelay: 2000 * time.Millisecond,
		ActiveLevel:    Low,
	}
}

// State is the current mode of the debounce state machine.
type State int

const (
	Idle State = iota
	Debouncing
	Pressed
	Clicked
	Released
	LongPressed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Debouncing:
		return "DEBOUNCING"
	case Pressed:
		return "PRESSED"
	case Clicked:
		return "CLICKED"
	case Released:
		return "RELEASED"
	case LongPressed:
		return "LONG_PRESSED"
	default:
		return "UNKNOWN"
	}
}

// millis converts d to whole milliseconds, clamped to the uint32 range.
func millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

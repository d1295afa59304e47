// Package gpio provides GPIO input reading with hardware abstraction.
// Backends: Linux GPIO character device (gpiocdev), BCM283x register access
// (rpio) and periph.io. The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"strings"
)

// Reader reads the raw level of one GPIO input line.
type Reader interface {
	// Read returns the instantaneous raw level (true = high).
	// No debouncing or inversion is applied.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Bias selects the internal pull resistor of an input line.
type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "up"
	case BiasPullDown:
		return "down"
	default:
		return "none"
	}
}

// ParseBias parses "none", "up" or "down".
func ParseBias(s string) (Bias, error) {
	switch strings.ToLower(s) {
	case "none", "off", "":
		return BiasNone, nil
	case "up", "pull-up":
		return BiasPullUp, nil
	case "down", "pull-down":
		return BiasPullDown, nil
	default:
		return BiasNone, fmt.Errorf("unknown bias %q (want none, up or down)", s)
	}
}

// Backend names accepted by Open.
const (
	BackendGPIOCDev = "gpiocdev"
	BackendRPIO     = "rpio"
	BackendPeriph   = "periph"
)

// DefaultChip is the gpiocdev chip of the Raspberry Pi header.
const DefaultChip = "gpiochip0"

// Options selects and configures one input line.
type Options struct {
	Backend string
	Chip    string // gpiocdev only
	Pin     int    // BCM numbering
	Bias    Bias
}

// Open returns a Reader for the line described by opts.
func Open(opts Options) (Reader, error) {
	switch opts.Backend {
	case BackendGPIOCDev, "":
		chip := opts.Chip
		if chip == "" {
			chip = DefaultChip
		}
		r, err := NewRealReader(chip, opts.Pin, opts.Bias)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendRPIO:
		r, err := NewRPIOReader(opts.Pin, opts.Bias)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendPeriph:
		r, err := NewPeriphReader(fmt.Sprintf("GPIO%d", opts.Pin), opts.Bias)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", opts.Backend)
	}
}

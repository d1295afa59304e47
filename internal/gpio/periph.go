package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphReader reads one pin through the periph.io driver registry.
type PeriphReader struct {
	pin pgpio.PinIO
}

func periphPull(b Bias) pgpio.Pull {
	switch b {
	case BiasPullUp:
		return pgpio.PullUp
	case BiasPullDown:
		return pgpio.PullDown
	default:
		return pgpio.Float
	}
}

// NewPeriphReader looks up name (e.g. "GPIO26") and configures it as an input.
func NewPeriphReader(name string, bias Bias) (*PeriphReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %s not found", name)
	}
	if err := p.In(periphPull(bias), pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", name, err)
	}

	return &PeriphReader{pin: p}, nil
}

// Read returns the raw level of the pin.
func (r *PeriphReader) Read() (bool, error) {
	return r.pin.Read() == pgpio.High, nil
}

// Close halts the pin.
func (r *PeriphReader) Close() error {
	if err := r.pin.Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", r.pin.Name(), err)
	}
	return nil
}

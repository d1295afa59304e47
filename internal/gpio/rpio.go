package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpio maps the GPIO registers once per process; readers share the mapping.
var (
	rpioMu   sync.Mutex
	rpioRefs int
)

func rpioAcquire() error {
	rpioMu.Lock()
	defer rpioMu.Unlock()
	if rpioRefs == 0 {
		if err := rpio.Open(); err != nil {
			return fmt.Errorf("open gpio memory: %w", err)
		}
	}
	rpioRefs++
	return nil
}

func rpioRelease() error {
	rpioMu.Lock()
	defer rpioMu.Unlock()
	if rpioRefs == 0 {
		return nil
	}
	rpioRefs--
	if rpioRefs == 0 {
		return rpio.Close()
	}
	return nil
}

// RPIOReader reads one BCM283x pin through /dev/gpiomem.
type RPIOReader struct {
	pin  rpio.Pin
	mu   sync.Mutex
	open bool
}

// NewRPIOReader configures pin as an input with the given bias.
func NewRPIOReader(pin int, bias Bias) (*RPIOReader, error) {
	if err := rpioAcquire(); err != nil {
		return nil, err
	}

	p := rpio.Pin(pin)
	p.Input()
	switch bias {
	case BiasPullUp:
		p.PullUp()
	case BiasPullDown:
		p.PullDown()
	default:
		p.PullOff()
	}

	return &RPIOReader{pin: p, open: true}, nil
}

// Read returns the raw level of the pin.
func (r *RPIOReader) Read() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return false, fmt.Errorf("read pin %d: reader closed", r.pin)
	}
	return r.pin.Read() == rpio.High, nil
}

// Close restores the boot-default pull-down and releases the mapping.
func (r *RPIOReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil
	}
	r.open = false
	r.pin.PullDown()
	return rpioRelease()
}

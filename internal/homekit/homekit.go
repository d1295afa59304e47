// Package homekit exposes each button as a HomeKit stateless programmable
// switch behind a single bridge accessory.
package homekit

import (
	"fmt"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/logic"
)

// Config holds the HomeKit pairing and storage settings.
type Config struct {
	Pin         string // 8-digit setup code
	Port        string // empty picks a random port
	StoragePath string // pairing database directory
}

// Bridge publishes button gestures as programmable switch events.
type Bridge struct {
	bridge    *accessory.Bridge
	switches  map[string]*service.StatelessProgrammableSwitch
	accs      []*accessory.Accessory
	transport hc.Transport
}

func newBridge(names []string) *Bridge {
	b := &Bridge{
		bridge: accessory.NewBridge(accessory.Info{
			ID:           1,
			Name:         "Button Sensor",
			Manufacturer: "sweeney",
		}),
		switches: make(map[string]*service.StatelessProgrammableSwitch, len(names)),
	}
	for i, name := range names {
		acc := accessory.New(accessory.Info{
			ID:   uint64(i + 2),
			Name: name,
		}, accessory.TypeProgrammableSwitch)
		sw := service.NewStatelessProgrammableSwitch()
		acc.AddService(sw.Service)
		b.switches[name] = sw
		b.accs = append(b.accs, acc)
	}
	return b
}

// New creates the accessories and starts the HAP transport in the background.
func New(cfg Config, names []string) (*Bridge, error) {
	b := newBridge(names)
	t, err := hc.NewIPTransport(hc.Config{
		Pin:         cfg.Pin,
		Port:        cfg.Port,
		StoragePath: cfg.StoragePath,
	}, b.bridge.Accessory, b.accs...)
	if err != nil {
		return nil, fmt.Errorf("homekit transport: %w", err)
	}
	b.transport = t
	go t.Start()
	log.Printf("HomeKit bridge started with %d switches", len(b.accs))
	return b, nil
}

// switchEvent maps a detector event to a programmable switch event value.
func switchEvent(t logic.EventType) (int, bool) {
	switch t {
	case logic.EventClick:
		return characteristic.ProgrammableSwitchEventSinglePress, true
	case logic.EventDoubleClick:
		return characteristic.ProgrammableSwitchEventDoublePress, true
	case logic.EventLongPress:
		return characteristic.ProgrammableSwitchEventLongPress, true
	default:
		return 0, false
	}
}

// Publish forwards click, double click and long press events. Other event
// types have no HomeKit equivalent and are dropped.
func (b *Bridge) Publish(e logic.Event) error {
	v, ok := switchEvent(e.Type)
	if !ok {
		return nil
	}
	sw, ok := b.switches[e.Button]
	if !ok {
		return fmt.Errorf("homekit: unknown button %q", e.Button)
	}
	sw.ProgrammableSwitchEvent.SetValue(v)
	return nil
}

// Close stops the HAP transport and waits for it to finish.
func (b *Bridge) Close() error {
	if b.transport != nil {
		<-b.transport.Stop()
	}
	return nil
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/button"
)

// defaultButton is used when no -button flag is given.
const defaultButton = "button:17"

// buttonDef is one -button flag value.
type buttonDef struct {
	Name string
	Pin  int
}

// buttonList collects repeated -button name:pin flags.
type buttonList []buttonDef

func (l *buttonList) String() string {
	parts := make([]string, len(*l))
	for i, b := range *l {
		parts[i] = fmt.Sprintf("%s:%d", b.Name, b.Pin)
	}
	return strings.Join(parts, ",")
}

func (l *buttonList) Set(v string) error {
	b, err := parseButton(v)
	if err != nil {
		return err
	}
	for _, existing := range *l {
		if existing.Name == b.Name {
			return fmt.Errorf("duplicate button name %q", b.Name)
		}
		if existing.Pin == b.Pin {
			return fmt.Errorf("pin %d already used by %q", b.Pin, existing.Name)
		}
	}
	*l = append(*l, b)
	return nil
}

// parseButton parses "name:pin" with a BCM pin number.
func parseButton(v string) (buttonDef, error) {
	i := strings.LastIndex(v, ":")
	if i < 0 {
		return buttonDef{}, fmt.Errorf("button %q: want name:pin", v)
	}
	name := strings.TrimSpace(v[:i])
	if name == "" {
		return buttonDef{}, fmt.Errorf("button %q: empty name", v)
	}
	pin, err := strconv.Atoi(strings.TrimSpace(v[i+1:]))
	if err != nil {
		return buttonDef{}, fmt.Errorf("button %q: bad pin: %w", v, err)
	}
	if pin < 0 {
		return buttonDef{}, fmt.Errorf("button %q: negative pin", v)
	}
	return buttonDef{Name: name, Pin: pin}, nil
}

// buildConfig validates the timing flags and returns the engine config.
func buildConfig(poll, debounce, clickWindow, longPress time.Duration, activeHigh bool) (button.Config, error) {
	switch {
	case poll <= 0:
		return button.Config{}, fmt.Errorf("poll interval must be positive, got %v", poll)
	case debounce < 0:
		return button.Config{}, fmt.Errorf("debounce must not be negative, got %v", debounce)
	case clickWindow < 0:
		return button.Config{}, fmt.Errorf("click window must not be negative, got %v", clickWindow)
	case longPress <= debounce:
		return button.Config{}, fmt.Errorf("long press (%v) must be longer than debounce (%v)", longPress, debounce)
	}
	if poll > debounce/2 && debounce > 0 {
		log.Warnf("poll interval %v is coarse for debounce %v; gestures may be missed", poll, debounce)
	}

	cfg := button.DefaultConfig()
	cfg.DebounceDelay = debounce
	cfg.ClickWindow = clickWindow
	cfg.LongPressDelay = longPress
	cfg.ActiveLevel = button.Low
	if activeHigh {
		cfg.ActiveLevel = button.High
	}
	return cfg, nil
}

// configureLogging applies the -log-level and -log-json flags.
func configureLogging(level string, asJSON bool) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if asJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

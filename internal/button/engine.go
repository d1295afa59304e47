package button

// Engine is the debounce state machine for one button.
// Not safe for concurrent use: Poll and the queries must be called from
// one goroutine. Each button gets its own Engine.
type Engine struct {
	cfg   Config
	clock Clock
	input InputSource

	debounceMs  uint32
	windowMs    uint32
	longPressMs uint32

	state   State
	prev    State
	entered bool // state was entered by the most recent Poll

	lastDebounceTime uint32
	lastPressTime    uint32
	lastClickTime    uint32
	clickCount       int
}

// New creates an Engine in the Idle state.
func New(cfg Config, clock Clock, input InputSource) *Engine {
	return &Engine{
		cfg:         cfg,
		clock:       clock,
		input:       input,
		debounceMs:  millis(cfg.DebounceDelay),
		windowMs:    millis(cfg.ClickWindow),
		longPressMs: millis(cfg.LongPressDelay),
		state:       Idle,
		prev:        Idle,
	}
}

// Poll samples the input once and evaluates at most one transition.
// Call it once per loop iteration, several times per debounce delay.
func (e *Engine) Poll() {
	now := e.clock.NowMillis()
	active := e.input.ReadLevel() == e.cfg.ActiveLevel
	e.entered = false

	// Elapsed times use uint32 subtraction so one counter wrap is harmless.
	switch e.state {
	case Idle:
		if active {
			e.lastDebounceTime = now
			e.enter(Debouncing)
		}

	case Debouncing:
		if now-e.lastDebounceTime <= e.debounceMs {
			return
		}
		if active {
			e.lastPressTime = now
			e.enter(Pressed)
		} else {
			e.enter(Idle)
		}

	case Pressed:
		if !active {
			e.enter(Clicked)
			return
		}
		if now-e.lastPressTime > e.longPressMs {
			// The burst count is left alone; only the next click updates it.
			e.enter(LongPressed)
		}

	case Clicked:
		if e.clickCount > 0 && now-e.lastClickTime < e.windowMs {
			e.clickCount++
		} else {
			e.clickCount = 1
		}
		e.lastClickTime = now
		e.enter(Released)

	case Released:
		e.enter(Idle)

	case LongPressed:
		if !active {
			e.enter(Released)
		}
	}
}

func (e *Engine) enter(s State) {
	e.prev = e.state
	e.state = s
	e.entered = true
}

// State returns the state reached by the most recent Poll.
func (e *Engine) State() State { return e.state }

// Previous returns the state the engine was in before its last transition.
func (e *Engine) Previous() State { return e.prev }

// JustEntered reports whether the most recent Poll changed state.
func (e *Engine) JustEntered() bool { return e.entered }

// ClickCount returns the size of the current click burst. It is updated
// when a click is released and stays valid until the next one.
func (e *Engine) ClickCount() int { return e.clickCount }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Held reports whether the button is debounced and still held down.
func (e *Engine) Held() bool {
	return e.state == Pressed || e.state == LongPressed
}

// Pressed reports whether the last Poll confirmed a new press.
func (e *Engine) Pressed() bool {
	return e.state == Pressed && e.entered
}

// Released reports whether the last Poll released the button, after
// either a click or a long press.
func (e *Engine) Released() bool {
	return e.state == Released && e.entered
}

// Clicked reports a completed single click.
func (e *Engine) Clicked() bool { return e.clickedTimes(1) }

// DoubleClicked reports the second click of a burst.
func (e *Engine) DoubleClicked() bool { return e.clickedTimes(2) }

// TripleClicked reports the third click of a burst.
func (e *Engine) TripleClicked() bool { return e.clickedTimes(3) }

// ClickReleased reports that the last Poll completed a click of any count.
func (e *Engine) ClickReleased() bool {
	return e.Released() && e.prev == Clicked
}

func (e *Engine) clickedTimes(n int) bool {
	return e.ClickReleased() && e.clickCount == n
}

// LongPressed reports whether the last Poll reclassified a press as long.
func (e *Engine) LongPressed() bool {
	return e.state == LongPressed && e.entered
}

// LongPressReleased reports whether the last Poll released a long press.
func (e *Engine) LongPressReleased() bool {
	return e.Released() && e.prev == LongPressed
}

package app

import (
	"context"
	"time"
)

// CountdownEvent is emitted by the countdown loop: one tick per cadence
// interval carrying whole seconds remaining, and a single terminal end.
type CountdownEvent struct {
	Type      string `json:"type"` // "tick" or "end"
	Remaining int    `json:"remaining,omitempty"`
}

const (
	countdownTick = "tick"
	countdownEnd  = "end"
)

type countdownCmdKind int

const (
	cmdStart countdownCmdKind = iota
	cmdStop
)

type countdownCommand struct {
	kind     countdownCmdKind
	start    time.Time
	duration time.Duration
}

// Countdown is an isolated timing loop communicating strictly over
// channels: start/stop commands in, tick/end events out. Remaining time
// is always recomputed from the absolute start timestamp, never
// decremented in place, so a delayed or missed tick self-corrects.
type Countdown struct {
	interval time.Duration
	clock    func() time.Time
	cmds     chan countdownCommand
	events   chan CountdownEvent
}

func NewCountdown() *Countdown {
	return NewCountdownWithClock(time.Now, time.Second)
}

// NewCountdownWithClock allows deterministic clocks and short cadences in tests.
func NewCountdownWithClock(clock func() time.Time, interval time.Duration) *Countdown {
	return &Countdown{
		interval: interval,
		clock:    clock,
		cmds:     make(chan countdownCommand, 4),
		events:   make(chan CountdownEvent, 16),
	}
}

// Events returns the outbound event stream.
func (c *Countdown) Events() <-chan CountdownEvent {
	return c.events
}

// Start resets the baseline: remaining time is measured against
// start+duration from now on. Restarting after the end event re-arms
// the loop.
func (c *Countdown) Start(start time.Time, duration time.Duration) {
	c.cmds <- countdownCommand{kind: cmdStart, start: start, duration: duration}
}

// Stop halts emission. The deadline is retained, so a later Start (or
// an external read of the attempt) still sees a consistent remaining
// value.
func (c *Countdown) Stop() {
	c.cmds <- countdownCommand{kind: cmdStop}
}

// Run drives the loop until ctx is canceled. The end event fires the
// first time remaining reaches zero and never again unless Start
// re-arms the loop.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var (
		deadline time.Time
		running  bool
		ended    bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdStart:
				deadline = cmd.start.Add(cmd.duration)
				running = true
				ended = false
				// immediate tick so the client sees remaining without
				// waiting a full cadence interval
				if c.emitTick(deadline) {
					running = false
					ended = true
				}
			case cmdStop:
				running = false
			}
		case <-ticker.C:
			if !running || ended {
				continue
			}
			if c.emitTick(deadline) {
				running = false
				ended = true
			}
		}
	}
}

// emitTick sends a tick for the current remaining time and, when the
// window has fully elapsed, the terminal end event. Returns true once
// the end has fired.
func (c *Countdown) emitTick(deadline time.Time) bool {
	remaining := deadline.Sub(c.clock())
	if remaining < 0 {
		remaining = 0
	}
	c.emit(CountdownEvent{Type: countdownTick, Remaining: remainingSeconds(remaining)})
	if remaining == 0 {
		c.emit(CountdownEvent{Type: countdownEnd})
		return true
	}
	return false
}

// emit delivers an event without ever blocking the loop: if the
// consumer lags, the oldest buffered event is dropped in its favor.
func (c *Countdown) emit(ev CountdownEvent) {
	select {
	case c.events <- ev:
	default:
		select {
		case <-c.events:
		default:
		}
		c.events <- ev
	}
}

// remainingSeconds rounds up so the display only shows zero once the
// window has truly elapsed.
func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

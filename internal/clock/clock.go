package clock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mode identifies how a provider sources time.
type Mode string

const (
	ModeRealTime  Mode = "realtime"
	ModeSimulated Mode = "simulated"
)

// Lifecycle tracks where a simulated clock is in its run.
// Transitions: Created -> Running <-> Paused -> Completed. Completed is terminal.
type Lifecycle string

const (
	StateCreated   Lifecycle = "created"
	StateRunning   Lifecycle = "running"
	StatePaused    Lifecycle = "paused"
	StateCompleted Lifecycle = "completed"
)

// State is a point-in-time snapshot of a provider, used for status reporting.
type State struct {
	RunID          string        `json:"run_id"`
	Mode           Mode          `json:"mode"`
	Lifecycle      Lifecycle     `json:"lifecycle"`
	Speed          float64       `json:"speed"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end,omitempty"`
	Now            time.Time     `json:"now"`
	ElapsedVirtual time.Duration `json:"elapsed_virtual"`
	ElapsedReal    time.Duration `json:"elapsed_real"`
	Remaining      time.Duration `json:"remaining"`
}

// Provider is the single source of "now" for a run. Mutation operations are
// no-ops on the real-time provider so calling code can be written uniformly
// against either mode.
type Provider interface {
	// Now never blocks and is safe for concurrent readers.
	Now() time.Time
	// Sleep blocks for the virtual duration d scaled by the clock's speed.
	// In instant mode it advances virtual time and returns immediately.
	// A cancelled context interrupts a real wait.
	Sleep(ctx context.Context, d time.Duration) error
	Mode() Mode
	Start()
	Pause()
	Resume()
	JumpTo(t time.Time)
	SetSpeed(multiplier float64) error
	IsPastEnd() bool
	Stop()
	State() State
}

// ConfigError reports an invalid clock configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("clock config: %s: %s", e.Field, e.Message)
}

// RealClock proxies wall-clock time. All lifecycle mutations are no-ops.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (RealClock) Mode() Mode                 { return ModeRealTime }
func (RealClock) Start()                     {}
func (RealClock) Pause()                     {}
func (RealClock) Resume()                    {}
func (RealClock) JumpTo(time.Time)           {}
func (RealClock) SetSpeed(float64) error     { return nil }
func (RealClock) IsPastEnd() bool            { return false }
func (RealClock) Stop()                      {}

func (RealClock) State() State {
	now := time.Now().UTC()
	return State{Mode: ModeRealTime, Lifecycle: StateRunning, Speed: 1, Now: now}
}

// SimClock computes virtual time from an anchored formula:
//
//	now = virtualAnchor + (realNow - realAnchor) * speed
//
// clamped to the end time when one is set. Speed 0 is instant mode: time
// advances only through Sleep or JumpTo.
type SimClock struct {
	mu sync.Mutex

	runID         string
	start         time.Time
	end           time.Time // zero = no end
	virtualAnchor time.Time
	realAnchor    time.Time
	speed         float64
	state         Lifecycle
	createdReal   time.Time
}

// Option configures a SimClock at construction.
type Option func(*SimClock)

func WithEnd(end time.Time) Option {
	return func(c *SimClock) { c.end = end.UTC() }
}

func WithSpeed(multiplier float64) Option {
	return func(c *SimClock) { c.speed = multiplier }
}

func WithRunID(id string) Option {
	return func(c *SimClock) { c.runID = id }
}

// NewSimClock creates a simulated clock anchored at start. The clock is
// Created until Start is called; Now is frozen at start until then.
func NewSimClock(start time.Time, opts ...Option) (*SimClock, error) {
	if start.IsZero() {
		return nil, &ConfigError{Field: "start", Message: "simulation clock requires a start time"}
	}
	c := &SimClock{
		start:         start.UTC(),
		virtualAnchor: start.UTC(),
		realAnchor:    time.Now(),
		speed:         1,
		state:         StateCreated,
		createdReal:   time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.speed < 0 {
		return nil, &ConfigError{Field: "speed", Message: "speed multiplier must be >= 0"}
	}
	if !c.end.IsZero() && c.end.Before(c.start) {
		return nil, &ConfigError{Field: "end", Message: "end time precedes start time"}
	}
	return c, nil
}

// nowLocked computes current virtual time. Callers must hold c.mu.
func (c *SimClock) nowLocked() time.Time {
	v := c.virtualAnchor
	if c.state == StateRunning && c.speed > 0 {
		elapsed := time.Since(c.realAnchor)
		v = v.Add(time.Duration(float64(elapsed) * c.speed))
	}
	if !c.end.IsZero() && v.After(c.end) {
		v = c.end
	}
	return v
}

// reanchorLocked freezes the current virtual instant into the anchors so a
// subsequent speed or state change does not shift time.
func (c *SimClock) reanchorLocked() {
	c.virtualAnchor = c.nowLocked()
	c.realAnchor = time.Now()
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *SimClock) Mode() Mode { return ModeSimulated }

// Start moves the clock from Created to Running. No-op in any other state.
func (c *SimClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return
	}
	c.realAnchor = time.Now()
	c.state = StateRunning
}

// Sleep advances virtual time by d. In instant mode the advance is immediate;
// otherwise the caller blocks for d/speed real time and the anchored formula
// reflects the elapsed interval on its own. Sleeping on a paused or completed
// clock returns immediately without advancing.
func (c *SimClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	if c.state == StateCompleted || c.state == StatePaused {
		c.mu.Unlock()
		return nil
	}
	if c.speed == 0 {
		v := c.nowLocked().Add(d)
		if !c.end.IsZero() && v.After(c.end) {
			v = c.end
		}
		c.virtualAnchor = v
		c.realAnchor = time.Now()
		c.mu.Unlock()
		return nil
	}
	real := time.Duration(float64(d) / c.speed)
	c.mu.Unlock()

	timer := time.NewTimer(real)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pause freezes Now at its current value. Only meaningful while Running.
func (c *SimClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	c.reanchorLocked()
	c.state = StatePaused
}

// Resume continues advancement from the frozen instant. The paused interval
// is neither lost nor double-counted.
func (c *SimClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return
	}
	c.realAnchor = time.Now()
	c.state = StateRunning
}

// JumpTo sets virtual time directly, clamped to the end time if one is set.
func (c *SimClock) JumpTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted {
		return
	}
	v := t.UTC()
	if !c.end.IsZero() && v.After(c.end) {
		v = c.end
	}
	c.virtualAnchor = v
	c.realAnchor = time.Now()
}

// SetSpeed changes the multiplier while preserving the instantaneous virtual
// time, so there is no jump at the moment of change.
func (c *SimClock) SetSpeed(multiplier float64) error {
	if multiplier < 0 {
		return &ConfigError{Field: "speed", Message: "speed multiplier must be >= 0"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reanchorLocked()
	c.speed = multiplier
	return nil
}

// IsPastEnd reports whether virtual time has reached the end time. Once true
// the clock is Completed and stays there.
func (c *SimClock) IsPastEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted {
		return true
	}
	if c.end.IsZero() {
		return false
	}
	if !c.nowLocked().Before(c.end) {
		c.reanchorLocked()
		c.state = StateCompleted
		return true
	}
	return false
}

// Stop freezes the clock and marks it Completed.
func (c *SimClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted {
		return
	}
	c.reanchorLocked()
	c.state = StateCompleted
}

func (c *SimClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowLocked()
	st := State{
		RunID:          c.runID,
		Mode:           ModeSimulated,
		Lifecycle:      c.state,
		Speed:          c.speed,
		Start:          c.start,
		End:            c.end,
		Now:            now,
		ElapsedVirtual: now.Sub(c.start),
		ElapsedReal:    time.Since(c.createdReal),
	}
	if !c.end.IsZero() {
		st.Remaining = c.end.Sub(now)
	}
	return st
}

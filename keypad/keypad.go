// Package keypad tracks which of the 16 hexadecimal keys are held down and
// pushes the resulting mask to a machine.
//
// A Tracker is not safe for concurrent use. Front ends call it from the one
// goroutine that receives their input events.
package keypad

import (
	"io"
	"log/slog"
)

// Mask has bit i set while logical key i is pressed.
type Mask uint16

// Set returns m with key i pressed.
func (m Mask) Set(i uint8) Mask {
	return m | 1<<i
}

// Clear returns m with key i released.
func (m Mask) Clear(i uint8) Mask {
	return m &^ (1 << i)
}

// Toggle returns m with key i flipped.
func (m Mask) Toggle(i uint8) Mask {
	return m ^ 1<<i
}

// IsSet reports whether key i is pressed.
func (m Mask) IsSet(i uint8) bool {
	return m&(1<<i) != 0
}

// Notifier receives the key mask after every matched input event.
type Notifier interface {
	OnKeyStateChanged(mask uint16) error
}

// ReleaseMode selects how a key-up event updates the mask.
type ReleaseMode int

const (
	// ReleaseClear clears the key bit. A release without a matching press
	// leaves the mask unchanged.
	ReleaseClear ReleaseMode = iota

	// ReleaseToggle flips the key bit. A release without a matching press
	// sets the bit, which is what browser builds of this harness did.
	ReleaseToggle
)

func (r ReleaseMode) String() string {
	switch r {
	case ReleaseClear:
		return "clear"
	case ReleaseToggle:
		return "toggle"
	}
	return "unknown"
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithKeyMap replaces DefaultKeyMap.
func WithKeyMap(km KeyMap) Option {
	return func(t *Tracker) {
		t.keys = km
	}
}

// WithReleaseMode sets the key-up semantics. The default is ReleaseClear.
func WithReleaseMode(mode ReleaseMode) Option {
	return func(t *Tracker) {
		t.release = mode
	}
}

// WithLogger sets the logger unmapped symbols are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// Tracker owns the key mask of one machine.
type Tracker struct {
	keys    KeyMap
	release ReleaseMode
	logger  *slog.Logger

	mask   Mask
	target Notifier
}

// New returns a Tracker with all keys released that notifies target.
func New(target Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		keys:   DefaultKeyMap,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		target: target,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Mask returns the current key mask.
func (t *Tracker) Mask() Mask {
	return t.mask
}

// Down records a key press. The target is notified even when the key was
// already down, so a held key repeats its notification.
func (t *Tracker) Down(sym Symbol) error {
	i, ok := t.lookup(sym)
	if !ok {
		return nil
	}

	t.mask = t.mask.Set(i)

	return t.notify()
}

// Up records a key release.
func (t *Tracker) Up(sym Symbol) error {
	i, ok := t.lookup(sym)
	if !ok {
		return nil
	}

	switch t.release {
	case ReleaseToggle:
		t.mask = t.mask.Toggle(i)
	default:
		t.mask = t.mask.Clear(i)
	}

	return t.notify()
}

// ReleaseAll releases every key, e.g. when the input source loses focus.
func (t *Tracker) ReleaseAll() error {
	t.mask = 0

	return t.notify()
}

func (t *Tracker) lookup(sym Symbol) (uint8, bool) {
	i, ok := t.keys.Lookup(sym)
	if !ok {
		t.logger.Debug("ignoring unmapped symbol", slog.String("symbol", string(rune(sym))))
	}
	return i, ok
}

func (t *Tracker) notify() error {
	return t.target.OnKeyStateChanged(uint16(t.mask))
}

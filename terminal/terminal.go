// Package terminal runs a program in a full-screen terminal.
//
// Terminals report key presses but not releases, so every press is held
// for a fixed time and then released. Pressing the key again while it is
// held extends the hold.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"chip8harness/chip8"
	"chip8harness/chip8/display"
	"chip8harness/config"
	"chip8harness/keypad"
	"chip8harness/loader"
)

const refresh = time.Second / 60

var (
	pixelStyle = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlack)
	textStyle  = tcell.StyleDefault
)

type release struct {
	sym keypad.Symbol
	gen uint64
}

type terminal struct {
	screen tcell.Screen
	keys   *keypad.Tracker
	hold   time.Duration

	gen      uint64
	held     map[keypad.Symbol]uint64
	releases chan release
	beeps    chan struct{}
	done     chan struct{}
	help     string

	mu    sync.Mutex
	frame display.Frame
	dirty bool
}

func newTerminal(s tcell.Screen, hold time.Duration) *terminal {
	return &terminal{
		screen:   s,
		hold:     hold,
		held:     map[keypad.Symbol]uint64{},
		releases: make(chan release, keypad.NumKeys),
		beeps:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		help:     keyHelp(keypad.DefaultKeyMap),
		dirty:    true,
	}
}

// keyHelp lists the symbols of km ordered by the key they press, e.g.
// "x=0 1=1 2=2".
func keyHelp(km keypad.KeyMap) string {
	var syms [keypad.NumKeys]keypad.Symbol
	km.Symbols(func(sym keypad.Symbol, i uint8) {
		syms[i] = sym
	})

	var b strings.Builder
	b.Grow(km.Len() * len("x=0 "))
	for i, sym := range syms {
		if sym == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%c=%X", sym, i)
	}
	return b.String()
}

// Draw is called from the machine goroutine.
func (t *terminal) Draw(frame display.Frame) error {
	t.mu.Lock()
	t.frame = frame
	t.dirty = true
	t.mu.Unlock()

	return nil
}

// Beep is called from the machine goroutine. The screen is not safe for
// concurrent writes, so the bell is rung by the Run loop.
func (t *terminal) Beep(time.Duration) {
	select {
	case t.beeps <- struct{}{}:
	default:
	}
}

// handle processes one screen event. It reports whether the user asked to
// quit.
func (t *terminal) handle(ev tcell.Event) (bool, error) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return true, nil
		case tcell.KeyRune:
			return false, t.press(keypad.Symbol(ev.Rune()))
		}
	case *tcell.EventResize:
		t.screen.Sync()
		t.invalidate()
	}

	return false, nil
}

func (t *terminal) press(sym keypad.Symbol) error {
	t.gen++
	gen := t.gen
	t.held[sym] = gen

	time.AfterFunc(t.hold, func() {
		select {
		case t.releases <- release{sym: sym, gen: gen}:
		case <-t.done:
		}
	})

	t.invalidate()

	return t.keys.Down(sym)
}

func (t *terminal) release(r release) error {
	if t.held[r.sym] != r.gen {
		// pressed again since this timer was set
		return nil
	}
	delete(t.held, r.sym)

	t.invalidate()

	return t.keys.Up(r.sym)
}

func (t *terminal) invalidate() {
	t.mu.Lock()
	t.dirty = true
	t.mu.Unlock()
}

func (t *terminal) render() {
	t.mu.Lock()
	frame, dirty := t.frame, t.dirty
	t.dirty = false
	t.mu.Unlock()

	if !dirty {
		return
	}

	for y := 0; y < display.DisplayHeight; y += 2 {
		for x := 0; x < display.DisplayWidth; x++ {
			t.screen.SetContent(x, y/2, cell(frame[y][x], frame[y+1][x]), nil, pixelStyle)
		}
	}

	status := fmt.Sprintf("keys %016b  esc to quit", uint16(t.keys.Mask()))
	for i, r := range status {
		t.screen.SetContent(i, display.DisplayHeight/2+1, r, nil, textStyle)
	}
	for i, r := range t.help {
		t.screen.SetContent(i, display.DisplayHeight/2+2, r, nil, textStyle)
	}

	t.screen.Show()
}

func cell(top, bottom bool) rune {
	switch {
	case top && bottom:
		return '█'
	case top:
		return '▀'
	case bottom:
		return '▄'
	}
	return ' '
}

// Run loads the program at cfg.Location and runs it on the terminal until
// escape is pressed, ctx is done or the machine halts.
func Run(ctx context.Context, cfg config.Config, fetcher loader.Fetcher, logger *slog.Logger) error {
	mode, err := cfg.ReleaseMode()
	if err != nil {
		return err
	}

	s, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := s.Init(); err != nil {
		return fmt.Errorf("failed to init screen: %w", err)
	}
	defer s.Fini()

	t := newTerminal(s, cfg.KeyHold)
	defer close(t.done)

	machine := chip8.New(t, t,
		chip8.WithCyclesPerSecond(cfg.CyclesPerSecond),
		chip8.WithLogger(logger))
	defer machine.Stop()

	if err := loader.LoadAndStart(ctx, fetcher, cfg.Location, machine,
		loader.WithLogger(logger), loader.WithTimeout(cfg.Timeout)); err != nil {
		return err
	}

	t.keys = keypad.New(machine, keypad.WithReleaseMode(mode), keypad.WithLogger(logger))

	events := make(chan tcell.Event)
	quit := make(chan struct{})
	defer close(quit)
	go s.ChannelEvents(events, quit)

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-machine.Done():
			return machine.Err()
		case ev := <-events:
			done, err := t.handle(ev)
			if err != nil {
				return fmt.Errorf("failed to update keys: %w", err)
			}
			if done {
				return nil
			}
		case <-t.beeps:
			_ = s.Beep()
		case r := <-t.releases:
			if err := t.release(r); err != nil {
				return fmt.Errorf("failed to update keys: %w", err)
			}
		case <-ticker.C:
			t.render()
		}
	}
}

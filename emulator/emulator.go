// Package emulator runs a program in an SDL window.
package emulator

// typedef unsigned char Uint8;
// void AudioCallback(void *userdata, Uint8 *stream, int len);
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unsafe"

	sdl "github.com/veandco/go-sdl2/sdl"

	"chip8harness/chip8"
	"chip8harness/chip8/display"
	"chip8harness/config"
	"chip8harness/keypad"
	"chip8harness/loader"
)

const (
	toneHz   = 440
	sampleHz = 22050
	dPhase   = 2 * math.Pi * toneHz / sampleHz

	frameDelay = 1000 / 60
)

func init() {
	// SDL wants its video calls on the main thread
	runtime.LockOSThread()
}

var phase float64

//export AudioCallback
func AudioCallback(userdata unsafe.Pointer, stream *C.Uint8, length C.int) {
	buf := unsafe.Slice(stream, int(length))

	for i := 0; i+1 < len(buf); i += 2 {
		phase += dPhase
		sample := C.Uint8((math.Sin(phase) + 0.999999) * 128)
		buf[i] = sample
		buf[i+1] = sample
	}
}

type beeper struct {
	mu    sync.Mutex
	timer *time.Timer
}

func newBeeper() (*beeper, error) {
	spec := sdl.AudioSpec{
		Freq:     sampleHz,
		Format:   sdl.AUDIO_U8,
		Channels: 2,
		Samples:  1024,
		Callback: sdl.AudioCallback(C.AudioCallback),
	}

	if err := sdl.OpenAudio(&spec, nil); err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}

	return &beeper{}, nil
}

func (b *beeper) destroy() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	sdl.CloseAudio()
}

// Beep plays the tone for d. A new beep replaces one still playing.
func (b *beeper) Beep(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sdl.PauseAudio(false)

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, func() {
		sdl.PauseAudio(true)
	})
}

type window struct {
	window     *sdl.Window
	renderer   *sdl.Renderer
	backbuffer *sdl.Texture

	mu    sync.Mutex
	frame display.Frame
	dirty bool
}

func newWindow(location string) (*window, error) {
	w, err := sdl.CreateWindow(fmt.Sprintf("Chip 8 - %s", filepath.Base(location)), sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, 640, 320, sdl.WINDOW_SHOWN)
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	renderer, err := sdl.CreateRenderer(w, -1, 0)
	if err != nil {
		_ = w.Destroy()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	backbuffer, err := renderer.CreateTexture(sdl.PIXELFORMAT_ABGR8888, sdl.TEXTUREACCESS_TARGET, int32(display.DisplayWidth), int32(display.DisplayHeight))
	if err != nil {
		_ = renderer.Destroy()
		_ = w.Destroy()
		return nil, fmt.Errorf("failed to create backbuffer: %w", err)
	}

	return &window{
		window:     w,
		renderer:   renderer,
		backbuffer: backbuffer,
		dirty:      true,
	}, nil
}

func (d *window) destroy() {
	_ = d.backbuffer.Destroy()
	_ = d.renderer.Destroy()
	_ = d.window.Destroy()
}

// Draw is called from the machine goroutine; the frame is rendered by the
// main loop.
func (d *window) Draw(frame display.Frame) error {
	d.mu.Lock()
	d.frame = frame
	d.dirty = true
	d.mu.Unlock()

	return nil
}

func (d *window) present() error {
	d.mu.Lock()
	frame, dirty := d.frame, d.dirty
	d.dirty = false
	d.mu.Unlock()

	if dirty {
		if err := d.render(frame); err != nil {
			return err
		}
	}

	if err := d.renderer.SetDrawColor(255, 0, 0, 255); err != nil {
		return fmt.Errorf("failed to set draw color: %w", err)
	}

	if err := d.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear: %w", err)
	}

	if err := d.renderer.Copy(d.backbuffer, nil, nil); err != nil {
		return fmt.Errorf("failed to copy backbuffer: %w", err)
	}

	d.renderer.Present()

	return nil
}

func (d *window) render(frame display.Frame) error {
	target := d.renderer.GetRenderTarget()

	if err := d.renderer.SetRenderTarget(d.backbuffer); err != nil {
		return fmt.Errorf("failed to set render target: %w", err)
	}

	for y := range frame {
		for x := range frame[y] {
			if frame[y][x] {
				if err := d.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
					return fmt.Errorf("failed to set draw color: %w", err)
				}
			} else {
				if err := d.renderer.SetDrawColor(255, 255, 255, 255); err != nil {
					return fmt.Errorf("failed to set draw color: %w", err)
				}
			}

			if err := d.renderer.DrawPoint(int32(x), int32(y)); err != nil {
				return fmt.Errorf("failed to draw point: %w", err)
			}
		}
	}

	if err := d.renderer.SetRenderTarget(target); err != nil {
		return fmt.Errorf("failed to restore render target: %w", err)
	}

	return nil
}

func keySymbol(sym sdl.Keycode) (keypad.Symbol, bool) {
	if sym <= 0 || sym > 0x7F {
		return 0, false
	}
	return keypad.Symbol(sym), true
}

func handleKey(keys *keypad.Tracker, e *sdl.KeyboardEvent) error {
	sym, ok := keySymbol(e.Keysym.Sym)
	if !ok {
		return nil
	}

	switch e.Type {
	case sdl.KEYDOWN:
		return keys.Down(sym)
	case sdl.KEYUP:
		return keys.Up(sym)
	}

	return nil
}

// Run opens a window, loads the program at cfg.Location and forwards the
// keyboard to it until the window is closed, ctx is done or the machine
// halts.
func Run(ctx context.Context, cfg config.Config, fetcher loader.Fetcher, logger *slog.Logger) error {
	release, err := cfg.ReleaseMode()
	if err != nil {
		return err
	}

	if err := sdl.Init(sdl.INIT_EVERYTHING); err != nil {
		return fmt.Errorf("failed to init SDL: %w", err)
	}
	defer sdl.Quit()

	beeper, err := newBeeper()
	if err != nil {
		return fmt.Errorf("failed to init beeper: %w", err)
	}
	defer beeper.destroy()

	window, err := newWindow(cfg.Location)
	if err != nil {
		return fmt.Errorf("failed to init window: %w", err)
	}
	defer window.destroy()

	machine := chip8.New(beeper, window,
		chip8.WithCyclesPerSecond(cfg.CyclesPerSecond),
		chip8.WithLogger(logger))
	defer machine.Stop()

	if err := loader.LoadAndStart(ctx, fetcher, cfg.Location, machine,
		loader.WithLogger(logger), loader.WithTimeout(cfg.Timeout)); err != nil {
		return err
	}

	keys := keypad.New(machine, keypad.WithReleaseMode(release), keypad.WithLogger(logger))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-machine.Done():
			return machine.Err()
		default:
		}

		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.KeyboardEvent:
				if err := handleKey(keys, e); err != nil {
					return fmt.Errorf("failed to update keys: %w", err)
				}
			case *sdl.WindowEvent:
				if e.Event == sdl.WINDOWEVENT_FOCUS_LOST {
					if err := keys.ReleaseAll(); err != nil {
						return fmt.Errorf("failed to update keys: %w", err)
					}
				}
			}
		}

		if err := window.present(); err != nil {
			return fmt.Errorf("failed to present: %w", err)
		}

		sdl.Delay(frameDelay)
	}
}

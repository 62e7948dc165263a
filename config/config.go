// Package config holds the command line configuration of the harness.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"chip8harness/chip8"
	"chip8harness/keypad"
	"chip8harness/loader"
)

const (
	DriverSDL      = "sdl"
	DriverTerminal = "terminal"
	DriverWeb      = "web"
)

var drivers = []string{DriverSDL, DriverTerminal, DriverWeb}

var ErrNoProgram = errors.New("no program location given")

// Config is the full set of options shared by the front ends.
type Config struct {
	Driver   string
	Location string

	CyclesPerSecond int
	Release         string
	Timeout         time.Duration
	KeyHold         time.Duration
	Addr            string

	Debug bool
	Quiet bool
}

// Default returns the configuration used when no flags are given.
func Default() Config {
	return Config{
		Driver:          DriverSDL,
		CyclesPerSecond: chip8.DefaultCyclesPerSecond,
		Release:         keypad.ReleaseClear.String(),
		Timeout:         loader.DefaultTimeout,
		KeyHold:         120 * time.Millisecond,
		Addr:            "localhost:8090",
	}
}

// RegisterFlags binds the fields of c to flags on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Driver, "driver", c.Driver, "front end to use: "+strings.Join(drivers, ", "))
	fs.StringVar(&c.Location, "rom", c.Location, "program `path or URL` to load")
	fs.IntVar(&c.CyclesPerSecond, "cycles", c.CyclesPerSecond, "instructions executed per second")
	fs.StringVar(&c.Release, "release", c.Release, "key release semantics: clear or toggle")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "program fetch timeout, 0 to disable")
	fs.DurationVar(&c.KeyHold, "hold", c.KeyHold, "terminal driver: how long a key press is held")
	fs.StringVar(&c.Addr, "addr", c.Addr, "web driver: listen address")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
	fs.BoolVar(&c.Quiet, "quiet", c.Quiet, "only log errors")
}

// Validate checks and normalizes c.
func (c *Config) Validate() error {
	c.Driver = strings.ToLower(c.Driver)

	valid := false
	for _, d := range drivers {
		if c.Driver == d {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("unsupported driver %q, valid options: %s", c.Driver, strings.Join(drivers, ", "))
	}

	if c.Location == "" {
		return ErrNoProgram
	}

	if c.CyclesPerSecond <= 0 || c.CyclesPerSecond > chip8.MaxCyclesPerSecond {
		return fmt.Errorf("cycles per second must be in 1..%d, got %d", chip8.MaxCyclesPerSecond, c.CyclesPerSecond)
	}

	if _, err := c.ReleaseMode(); err != nil {
		return err
	}

	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %v", c.Timeout)
	}

	if c.Driver == DriverTerminal && c.KeyHold <= 0 {
		return fmt.Errorf("key hold must be positive, got %v", c.KeyHold)
	}

	return nil
}

// ReleaseMode parses the Release field.
func (c *Config) ReleaseMode() (keypad.ReleaseMode, error) {
	switch strings.ToLower(c.Release) {
	case keypad.ReleaseClear.String():
		return keypad.ReleaseClear, nil
	case keypad.ReleaseToggle.String():
		return keypad.ReleaseToggle, nil
	}
	return 0, fmt.Errorf("unsupported release mode %q, valid options: clear, toggle", c.Release)
}

// NewLogger creates a logger writing to w with a level from the Debug and
// Quiet flags.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	} else if c.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

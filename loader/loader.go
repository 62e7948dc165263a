// Package loader fetches a program image and hands it to a machine.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cespare/xxhash"

	"chip8harness/vm"
)

// DefaultTimeout bounds the fetch when no WithTimeout option is given.
const DefaultTimeout = 10 * time.Second

type options struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures LoadAndStart.
type Option func(*options)

// WithLogger sets the logger failures and progress are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTimeout bounds the fetch. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Error is returned by LoadAndStart. It has already been logged when it is
// returned.
type Error struct {
	Location string
	Err      error
}

func (e *Error) Error() string {
	return e.Location + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// LoadAndStart fetches the image at location, loads it into m and starts
// m. Start is only called once Load has succeeded. A failure is logged once
// and returned; there are no retries.
func LoadAndStart(ctx context.Context, f Fetcher, location string, m vm.Machine, opts ...Option) error {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With(slog.String("location", location))

	if err := loadAndStart(ctx, f, location, m, o.timeout, logger); err != nil {
		logger.Error("failed to start program", slog.Any("error", err))
		return &Error{Location: location, Err: err}
	}

	return nil
}

func loadAndStart(ctx context.Context, f Fetcher, location string, m vm.Machine, timeout time.Duration, logger *slog.Logger) error {
	image, err := fetch(ctx, f, location, timeout)
	if err != nil {
		return err
	}

	logger.Info("program fetched",
		slog.Int("size", len(image)),
		slog.String("xxhash", fmt.Sprintf("%016x", xxhash.Sum64(image))))

	if err := m.Load(image); err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}

	if err := m.Start(); err != nil {
		return fmt.Errorf("failed to start machine: %w", err)
	}

	return nil
}

func fetch(ctx context.Context, f Fetcher, location string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch program: %w", err)
	}

	image, err := Decode(location, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode program: %w", err)
	}

	return image, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"chip8harness/config"
	"chip8harness/emulator"
	"chip8harness/loader"
	"chip8harness/terminal"
	"chip8harness/web"
)

type runFunc func(ctx context.Context, cfg config.Config, fetcher loader.Fetcher, logger *slog.Logger) error

var runners = map[string]runFunc{
	config.DriverSDL:      emulator.Run,
	config.DriverTerminal: terminal.Run,
	config.DriverWeb:      web.Run,
}

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [PATH or URL]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if cfg.Location == "" {
		cfg.Location = flag.Arg(0)
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoProgram) {
			flag.Usage()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runners[cfg.Driver](ctx, cfg, loader.AutoFetcher{}, logger); err != nil {
		// load failures are reported by the loader
		var lerr *loader.Error
		if !errors.As(err, &lerr) {
			logger.Error("exiting", slog.Any("error", err))
		}
		stop()
		os.Exit(1)
	}
}

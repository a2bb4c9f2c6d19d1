package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/example/kosync/internal/config"
	"github.com/example/kosync/internal/device"
	"github.com/example/kosync/internal/docid"
	"github.com/example/kosync/internal/store"
	ksync "github.com/example/kosync/internal/sync"
	"github.com/example/kosync/internal/transport"
)

// loadConfig resolves the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

// newLogger builds the shared logger: rotated file in the data dir,
// mirrored to stderr with --verbose.
func newLogger(cfg *config.Config) *log.Logger {
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "kosync.log"),
		MaxSize:    5, // megabytes
		MaxBackups: 2,
	}
	var out io.Writer = rotator
	if flagVerbose {
		out = io.MultiWriter(os.Stderr, rotator)
	}
	return log.New(out, "[kosync] ", log.LstdFlags)
}

// ensureCredentials fills in a missing password from an interactive
// prompt. A missing username is fatal; there is no sane prompt-free
// default for it.
func ensureCredentials(cfg *config.Config) error {
	if cfg.Username == "" {
		return fmt.Errorf("no username configured (set username in config.yaml or KOSYNC_USERNAME)")
	}
	if cfg.Password != "" {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no password configured and stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", cfg.Username)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	cfg.Password = string(raw)
	return nil
}

// buildEngine assembles the full stack for one CLI invocation.
// The returned cleanup closes the progress store.
func buildEngine(cfg *config.Config) (ksync.Engine, func(), error) {
	if err := ensureCredentials(cfg); err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg)

	deviceID, err := device.LoadOrCreate(filepath.Join(cfg.DataDir, "device_id"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load device identity: %w", err)
	}

	var cache store.Store
	switch cfg.Store {
	case "sqlite":
		cache, err = store.OpenSQLite(filepath.Join(cfg.DataDir, "progress.db"), logger)
	default:
		cache, err = store.OpenFile(filepath.Join(cfg.DataDir, "progress.json"), logger)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open progress store: %w", err)
	}

	remote := transport.NewHTTP(cfg.ServerURL, cfg.Username, cfg.Password, cfg.Timeout, logger)

	eng := ksync.New(ksync.Config{
		DeviceID:             deviceID,
		DeviceName:           cfg.DeviceName,
		Strategy:             docid.Strategy(cfg.Strategy),
		AdoptRemoteThreshold: cfg.AdoptRemoteThreshold,
		DebounceInterval:     cfg.DebounceInterval,
		MinPositionDelta:     cfg.MinPositionDelta,
	}, remote, cache, logger)

	cleanup := func() {
		if err := cache.Close(); err != nil {
			logger.Printf("WARNING: failed to close progress store: %v", err)
		}
	}
	return eng, cleanup, nil
}

// mustEngine is the common command prologue: load config, build the
// stack, exit on failure.
func mustEngine() (ksync.Engine, func()) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return eng, cleanup
}

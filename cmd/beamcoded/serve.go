package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"beamcode/internal/activitylog"
	"beamcode/internal/config"
	"beamcode/internal/coordinator"
)

// pidLockTimeout bounds how long a second beamcoded waits on another
// instance's pidfile lock before giving up (spec §6's single-instance
// daemon), grounded on the same gofrs/flock idiom the Session Repository
// uses for its per-file write lock.
const pidLockTimeout = 2 * time.Second

type serveFlags struct {
	configPath string
	listenHost string
	listenPort int
	dataDir    string
	logLevel   string
	logConsole bool
}

func runServe(flags serveFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cfg, flags)

	pidLock, err := acquirePIDLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer pidLock.Unlock()

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var console io.Writer
	if cfg.Log.Console {
		console = os.Stderr
	}
	logPath := cfg.Log.Path
	if logPath == "" {
		logPath = filepath.Join(cfg.DataDir, "activity.jsonl")
	}
	logger, err := activitylog.New(activitylog.Options{Path: logPath, Console: console, Level: level})
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer logger.Close()

	coord, err := coordinator.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Event("", "broker:starting", map[string]any{"addr": cfg.Listen.Addr()})
	if err := coord.Start(ctx); err != nil {
		logger.Error("", "broker:exited", err, nil)
		return err
	}
	logger.Event("", "broker:stopped", nil)
	return nil
}

// acquirePIDLock enforces a single running beamcoded per data directory:
// a stale lock from a crashed process is reclaimed automatically since
// flock releases with the holding process.
func acquirePIDLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dataDir, "beamcoded.pid.lock"))
	ctx, cancel := context.WithTimeout(context.Background(), pidLockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("pidfile lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile lock: another beamcoded is already running against %s", dataDir)
	}
	return fl, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func applyFlagOverrides(cfg *config.Config, flags serveFlags) {
	if flags.listenHost != "" {
		cfg.Listen.Host = flags.listenHost
	}
	if flags.listenPort != 0 {
		cfg.Listen.Port = flags.listenPort
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	cfg.Log.Console = flags.logConsole
}

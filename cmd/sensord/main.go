// cmd/sensord/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"sensorcode-go/bus"
	"sensorcode-go/internal/config"
	"sensorcode-go/internal/logging"
	"sensorcode-go/internal/platform"
	"sensorcode-go/services/bridge"
	svcconfig "sensorcode-go/services/config"
	"sensorcode-go/services/hal"
	"sensorcode-go/services/heartbeat"
	"sensorcode-go/services/store"
)

const appName = "sensord"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"board", cfg.Board,
		"i2c", cfg.I2CBuses,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := platform.Init(); err != nil {
		return err
	}
	names, err := platform.ParseBusMap(cfg.I2CBuses)
	if err != nil {
		return err
	}
	buses := platform.NewI2CFactory(names, logger)
	defer func() {
		if err := buses.Close(); err != nil {
			slog.Error("i2c close", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := bus.NewBus(8)

	var wg sync.WaitGroup
	spawn := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	spawn(func() { hal.RunWith(ctx, b.NewConnection("hal"), buses, hal.WorkerConfig{}, logger) })
	spawn(func() { bridge.Start(ctx, b.NewConnection("bridge"), logger) })
	if err := heartbeat.New(logger).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}

	if cfg.SQLitePath != "" {
		db, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("db close", "error", err)
			}
		}()
		repo := store.NewRepository(db)
		opts := store.Options{Retention: cfg.Retention}
		spawn(func() { store.Run(ctx, b.NewConnection("store"), repo, logger, opts) })
	}

	// Config last: its retained documents reach the services whether or not
	// they have subscribed yet.
	cs := svcconfig.NewConfigService()
	if cfg.BoardConfig != "" {
		cs.FromFile(cfg.BoardConfig)
	}
	if doc := cfg.BridgeOverride(); doc != nil {
		cs.Override("bridge", doc)
	}
	cctx := context.WithValue(ctx, svcconfig.CtxDeviceKey, cfg.Board)
	if err := cs.Publish(cctx, b.NewConnection("config")); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("board config: %w", err)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

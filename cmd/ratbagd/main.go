// Command ratbagd is the mouse configuration daemon. It attaches supported
// HID mice, keeps their profile trees in memory and serves them over HTTP,
// with optional MQTT and Lua automation front ends.
//
// Usage:
//
//	ratbagd [config.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/niltonperimneto/libratbag/internal/hid"
	"github.com/niltonperimneto/libratbag/internal/manager"
	"github.com/niltonperimneto/libratbag/internal/store"
	"github.com/niltonperimneto/libratbag/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	scanTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Config errors are reported before the configured logger exists.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := loadConfig(cfgPath)
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		bootLogger.Error("config", "path", cfgPath, "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ratbagd failed", "err", err)
		stop()
		os.Exit(1)
	}
	logger.Info("goodbye")
}

// run starts every component, blocks until ctx is cancelled and shuts
// down in reverse order.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("ratbagd starting", "version", version)

	if err := hid.Init(); err != nil {
		return err
	}
	defer hid.Exit()

	deviceDB, err := manager.LoadDeviceDir(cfg.Devices.DBDir, logger)
	if err != nil {
		return fmt.Errorf("load device database: %w", err)
	}
	logger.Info("device database loaded", "dir", cfg.Devices.DBDir, "entries", deviceDB.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr := manager.New(db, deviceDB, hid.SystemBus(), manager.NewEventBus(logger), manager.Config{
		DriverTimeout: cfg.DriverTimeout(),
	}, logger)
	defer mgr.Stop()

	// Scripts subscribe before the scan so they see startup attaches.
	auto, autoWebOpts := initAutomation(mgr, cfg, logger)
	defer auto.Stop()

	if cfg.ScanOnStart() {
		scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
		_, err := mgr.Scan(scanCtx)
		cancel()
		if err != nil {
			logger.Error("scan", "err", err)
		}
	}

	webServer := web.NewServer(mgr, logger, webOptions(cfg, autoWebOpts)...)
	defer webServer.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Listen(),
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("web server starting", "addr", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	// No-op when built with the no_mqtt tag.
	mqtt := initMQTT(mgr, cfg, logger)
	defer mqtt.Stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	return nil
}

func webOptions(cfg *Config, extra []web.ServerOption) []web.ServerOption {
	opts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		opts = append(opts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		opts = append(opts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	return append(opts, extra...)
}

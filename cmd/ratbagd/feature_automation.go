//go:build !no_automation

package main

import (
	"log/slog"

	"github.com/niltonperimneto/libratbag/internal/automation"
	"github.com/niltonperimneto/libratbag/internal/manager"
	"github.com/niltonperimneto/libratbag/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(mgr *manager.Manager, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	if !cfg.Automation.Enabled {
		return &autoStopper{}, nil
	}
	lib, err := automation.NewLibrary(cfg.Automation.ScriptsDir, logger)
	if err != nil {
		logger.Error("open script library", "dir", cfg.Automation.ScriptsDir, "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(mgr, lib, logger)
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{
		web.WithAutomation(engine, lib),
	}
}

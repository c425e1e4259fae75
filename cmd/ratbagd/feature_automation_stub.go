//go:build no_automation

package main

import (
	"log/slog"

	"github.com/niltonperimneto/libratbag/internal/manager"
	"github.com/niltonperimneto/libratbag/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *manager.Manager, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ripple/pkg/config"
	_ "ripple/pkg/llm/autoload" // register LLM providers
	"ripple/pkg/monitor"
	"ripple/pkg/runtime"
	"ripple/pkg/store"
	"ripple/pkg/tools"
)

func main() {
	monitor.PrintBanner()

	cfg, sys, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	monitor.SetupSlog(sys.LogLevel)

	storeCli := store.NewClient(cfg.Store.BaseURL, runtime.CredentialsFrom(cfg.Store), nil)

	rt, err := runtime.NewRuntimeBuilder().
		WithConfig(cfg).
		WithSystemConfig(sys).
		WithStore(storeCli).
		WithMonitor(monitor.NewCLIMonitor()).
		WithTools(tools.BuiltIn(storeCli)...).
		Build()
	if err != nil {
		slog.Error("Failed to build runtime", "error", err)
		os.Exit(1)
	}

	if err := rt.Start(); err != nil {
		slog.Error("Failed to start runtime", "error", err)
		os.Exit(1)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		for range config.Watch(watchCtx, "config.json") {
			newCfg, _, err := config.Load()
			if err != nil {
				slog.Error("Config reload failed, keeping current agents", "error", err)
				continue
			}
			rt.ReloadConfiguredAgents(newCfg.Agents)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Received shutdown signal, stopping")
	rt.Stop()
}

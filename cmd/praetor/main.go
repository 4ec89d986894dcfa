// Copyright 2026 The Praetor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command praetor runs the AI-mediated command orchestration service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/praetor-ai/praetor/pkg/brain"
	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/composer"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/config/provider"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/llm"
	"github.com/praetor-ai/praetor/pkg/logger"
	"github.com/praetor-ai/praetor/pkg/observability"
	"github.com/praetor-ai/praetor/pkg/risk"
	"github.com/praetor-ai/praetor/pkg/server"
	"github.com/praetor-ai/praetor/pkg/session"
)

var version = "0.3.0"

type cli struct {
	Config   string `short:"c" default:"praetor.yaml" help:"Configuration file path."`
	LogLevel string `help:"Override the configured log level (trace|debug|info|warn|error)."`
	LogFile  string `help:"Write logs to this file instead of stderr."`

	Serve    serveCmd    `cmd:"" default:"withargs" help:"Run the orchestration service."`
	Validate validateCmd `cmd:"" help:"Validate the configuration and registry, then exit."`
	Version  versionCmd  `cmd:"" help:"Print the version and exit."`
}

type serveCmd struct{}
type validateCmd struct{}
type versionCmd struct{}

func main() {
	// .env files are optional; the environment wins over them
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("praetor"),
		kong.Description("AI-mediated command orchestration for security tooling."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&c))
}

func (v *versionCmd) Run(c *cli) error {
	fmt.Println("praetor " + version)
	return nil
}

func (v *validateCmd) Run(c *cli) error {
	ctx := context.Background()
	cfg, loader, err := config.LoadFile(ctx, c.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	store, err := catalog.Load(cfg.Paths)
	if err != nil {
		return err
	}

	fmt.Printf("configuration ok: %s\n", c.Config)
	fmt.Printf("tools: %d registered", len(store.ToolNames()))
	if unselectable := store.Unselectable(); len(unselectable) > 0 {
		fmt.Printf(", %d unselectable: %v", len(unselectable), unselectable)
	}
	fmt.Printf("\npatterns: %d compiled\n", len(store.Patterns()))
	return nil
}

func (s *serveCmd) Run(c *cli) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logOutput := os.Stderr
	if c.LogFile != "" {
		f, closeLog, err := logger.OpenLogFile(c.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer closeLog()
		logOutput = f
	}

	p, err := provider.NewFileProvider(c.Config)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	loader := config.NewLoader(p, config.WithOnChange(func(updated *config.Config) {
		logger.Init(logger.ParseLevel(updated.LogLevel), logOutput, updated.LogFormat)
		slog.Info("Log level reloaded", "level", updated.LogLevel)
	}))
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	logger.Init(logger.ParseLevel(level), logOutput, cfg.LogFormat)

	apiKey, err := config.RequireLLMAPIKey()
	if err != nil {
		return err
	}
	if err := cfg.Paths.EnsureStateDirs(); err != nil {
		return err
	}

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:     cfg.Observability.TracingEnabled,
			Exporter:    cfg.Observability.TracingExporter,
			Endpoint:    cfg.Observability.TracingEndpoint,
			ServiceName: "praetor",
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.MetricsEnabled},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	store, err := catalog.Load(cfg.Paths)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	slog.Info("Registry loaded",
		"tools", len(store.ToolNames()), "patterns", len(store.Patterns()))

	gateway, err := llm.New(store, cfg.LLM, apiKey)
	if err != nil {
		return err
	}

	sessions, err := session.NewStore(cfg.Session, cfg.Paths)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	exec := executor.New(cfg.Executor, cfg.Paths)
	defer exec.Close()

	// eviction destroys the session's execution records; the store's
	// delete drops the shard and artifacts afterwards
	sessions.OnExpire(exec.RemoveSession)
	go sessions.RunReaper(ctx)

	confirmAt, err := catalog.ParseLevel(cfg.Risk.RequireConfirmationAt)
	if err != nil {
		return err
	}

	b := brain.New(store, sessions, gateway,
		composer.New(store, gateway),
		risk.New(store, gateway, confirmAt),
		exec, version)

	go func() {
		if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Config watcher stopped", "error", err)
		}
	}()

	srv := server.New(cfg.Server, b, sessions, exec, version)
	return srv.Run(ctx)
}

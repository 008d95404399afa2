// Command memoryd wires together configuration, storage, the embedding
// adapter, and the consolidation scheduler, then blocks until it
// receives a termination signal. Transport (RPC/HTTP/MCP) is an external
// collaborator this process does not implement; callers embedding this
// module as a library construct a facade.Facade directly instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidate"
	"github.com/fyrsmithlabs/memoryd/internal/coordinator"
	"github.com/fyrsmithlabs/memoryd/internal/embedding"
	"github.com/fyrsmithlabs/memoryd/internal/facade"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/schedule"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

func main() {
	configPath := flag.String("config", "memoryd.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "memoryd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Initialize(cfg.DataDir, logging.Config{
		Enabled: true,
		Level:   cfg.Logging.Level,
	}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.CloseAll()

	logging.BootInfo("memoryd starting, data_dir=%s dimension=%d", cfg.DataDir, cfg.Dimension)

	s, err := store.Open(store.Options{
		Path:            cfg.DBPath(),
		Dimension:       cfg.Dimension,
		ModelIdentifier: cfg.ModelIdentifier,
		BusyTimeoutMS:   cfg.BusyTimeoutMS,
		CacheSizePages:  cfg.CacheSizePages,
		Pragmas:         cfg.Pragmas,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	m := metrics.New()

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		OllamaDims:     cfg.Dimension,
		CacheSize:      cfg.Embedding.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("build embedding engine: %w", err)
	}
	adapter, err := embedding.NewAdapter(engine, cfg.Embedding.CacheSize, m)
	if err != nil {
		return fmt.Errorf("build embedding adapter: %w", err)
	}

	coord := coordinator.New()

	rt := &consolidate.Runtime{
		Store:       s,
		Embedding:   adapter,
		Coordinator: coord,
		Config:      cfg,
	}

	dispatcher, err := schedule.New(rt, m)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	f := facade.New(s, adapter, coord, m, rt, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f.StartScheduler(ctx)
	defer f.StopScheduler()

	logging.BootInfo("memoryd ready")
	<-ctx.Done()
	logging.BootInfo("memoryd shutting down")
	return nil
}

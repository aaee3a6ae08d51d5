package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tagstream/internal/api"
	"tagstream/internal/config"
	"tagstream/internal/emit"
	"tagstream/internal/engine"
	"tagstream/internal/logging"
	"tagstream/internal/metrics"
	"tagstream/internal/notify"
	"tagstream/internal/reader"
	"tagstream/internal/router"
	"tagstream/internal/state"
	"tagstream/internal/storage"
	"tagstream/internal/sweep"
	"tagstream/internal/updates"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "tagstream.yaml", "path to the engine configuration file")
	flag.Parse()

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Get().LogLevel)
	logger.Info("tagstream starting", "version", version, "config", *configPath, "readers", len(cfg.Get().Readers))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewStore(cfg.Get().Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("init storage", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	states, err := state.NewStore(cfg.Get().Ingest.Partitions, cfg.Get().State.CacheSize, store, logging.Component(logger, "state"))
	if err != nil {
		logger.Error("init state store", "err", err)
		os.Exit(1)
	}

	recent := updates.NewStore(cfg.Get().Updates.StoreLimit)
	hub := notify.NewHub(logging.Component(logger, "notify"))

	sinks := make([]emit.Sink, 0, 3)
	if sink := emit.NewStoreSink(store); sink != nil {
		sinks = append(sinks, sink)
	}
	if sink := emit.NewKafkaSink(cfg.Get().Emit.Kafka, logging.Component(logger, "emit")); sink != nil {
		sinks = append(sinks, sink)
		defer sink.Close()
	}
	sinks = append(sinks, emit.NewRingSink(recent), emit.NewHubSink(hub))
	emitter := emit.NewEmitter(cfg.Get().Emit, logging.Component(logger, "emit"), sinks...)
	go emitter.Run(ctx)

	rt := router.New(cfg.Get().Ingest.Partitions, cfg.Get().Ingest.PartitionDepth, logging.Component(logger, "router"))
	eng := engine.NewEngine(cfg, states, emitter, logging.Component(logger, "filter"))
	workers := eng.Start(ctx, rt)

	status := metrics.NewStatusStore()
	for _, rc := range cfg.Get().Readers {
		adapter := reader.NewAdapter(rc, cfg.Get().Ingest, rt.Route, status, logging.Component(logger, "reader"))
		go adapter.Run(ctx)
	}

	sweeper := sweep.NewScheduler(cfg, states, rt, logging.Component(logger, "sweep"))
	go sweeper.Run(ctx)

	api.Start(ctx, cfg, eng, status, recent, hub, logging.Component(logger, "api"), version)

	go cfg.Watch(3*time.Second,
		func(next *config.Config) {
			logger.Info("configuration reloaded",
				"dedup_window", next.Filter.DedupWindow,
				"daily_interval", next.Filter.DailyInterval)
		},
		func(err error) {
			logger.Warn("configuration reload failed", "err", err)
		},
		ctx.Done(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	hub.Shutdown()
	workers.Wait()
	logger.Info("tagstream stopped")
}

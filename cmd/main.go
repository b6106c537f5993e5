package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/cwrk-planet/room-client/internal/app/chat"
	"github.com/cwrk-planet/room-client/internal/config"
	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/outbox"
	"github.com/cwrk-planet/room-client/internal/pebble"
	"github.com/cwrk-planet/room-client/internal/postgres"
	httpserver "github.com/cwrk-planet/room-client/internal/server/http"
	"github.com/cwrk-planet/room-client/internal/snapshot"
	"github.com/cwrk-planet/room-client/internal/syncer"
	"github.com/cwrk-planet/room-client/internal/timeline"
	transport "github.com/cwrk-planet/room-client/internal/transport/http"
	"github.com/cwrk-planet/room-client/internal/transport/ws"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

func main() {
	// 1) load config
	cfg, err := config.Load()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	// 2) init logger (set.Default)
	logger.Init(logger.Config{
		Env:              logger.ParseEnv(cfg.Logging.Env),
		Service:          cfg.Logging.Service,
		Version:          cfg.Logging.Version,
		Backend:          logger.ParseBackend(cfg.Logging.Backend),
		AddSource:        cfg.Logging.AddSource,
		Debug:            cfg.Logging.Debug,
		SampleInitial:    cfg.Logging.SampleInitial,
		SampleThereafter: cfg.Logging.SampleThereafter,
	})
	slog.Info("starting room-client",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "upstream", cfg.Upstream.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("room-client stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("room-client stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// 3) snapshot backend + восстановление кэша до любого сетевого запроса
	backend, err := openSnapshots(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("snapshot backend close failed", "err", err)
		}
	}()

	store := timeline.New(timeline.WithLocation(cfg.Location()))
	if _, err := snapshot.Restore(ctx, backend, store); err != nil {
		// битый снапшот не фатален: стартуем с пустым кэшем
		slog.Warn("snapshot restore failed", "err", err)
	}

	// 4) upstream client
	client, err := chat.New(chat.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
		RPS:     cfg.Upstream.RPS,
		Burst:   cfg.Upstream.Burst,
	})
	if err != nil {
		return err
	}

	// 5) connectivity
	monitor := connectivity.NewMonitor(true)
	var prober *connectivity.Prober
	if !cfg.Connectivity.Disabled {
		prober = connectivity.NewProber(monitor, client, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	}

	// 6) sync core
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queue := outbox.New(store, client, monitor, cfg.Sync.UserID)
	mode := syncer.PollUpsert
	if cfg.Sync.PollMode == "patch" {
		mode = syncer.PollPatch
	}
	coord := syncer.New(store, client, monitor, syncer.Options{
		PollInterval: cfg.Sync.PollInterval,
		PollMode:     mode,
		Flusher:      queue,
		Metrics:      syncer.NewMetrics(reg, store),
	})
	saver := snapshot.NewSaver(backend, store, cfg.Storage.Debounce)

	// 7) local API
	wsServer := ws.NewServer(ws.NewHub(), store, coord, queue, monitor)
	router := transport.NewRouter(transport.Deps{
		Store:       store,
		Sync:        coord,
		Outbox:      queue,
		Net:         monitor,
		Gatherer:    reg,
		WS:          wsServer.HandleWS,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Timeout:     cfg.HTTP.RequestTimeout,
	})
	srv := httpserver.New(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)

	// 8) run until signal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return saver.Run(gctx) })
	g.Go(func() error { return wsServer.Run(gctx) })
	if prober != nil {
		g.Go(func() error {
			prober.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSnapshots(ctx context.Context, sc config.Storage) (snapshot.Store, error) {
	switch sc.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, sc.Postgres.ToPGConfig())
		if err != nil {
			return nil, err
		}
		repo := postgres.NewSnapshotRepo(pool, snapshot.Namespace)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		slog.Info("snapshot backend", "driver", sc.Driver)
		return repo, nil
	case config.DriverMemory:
		slog.Info("snapshot backend", "driver", sc.Driver)
		return snapshot.NewMemory(), nil
	default:
		st, err := pebble.Open(pebble.Options{Path: sc.Path, Namespace: snapshot.Namespace})
		if err != nil {
			return nil, err
		}
		slog.Info("snapshot backend", "driver", config.DriverPebble, "path", sc.Path)
		return st, nil
	}
}

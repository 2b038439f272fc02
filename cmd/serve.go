package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cwrk-planet/signaling-service/config"
	"github.com/cwrk-planet/signaling-service/internal/fanout"
	"github.com/cwrk-planet/signaling-service/internal/metrics"
	"github.com/cwrk-planet/signaling-service/internal/postgres"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/service"
	grpcx "github.com/cwrk-planet/signaling-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/signaling-service/internal/transport/http"
	"github.com/cwrk-planet/signaling-service/internal/transport/ws"
	"github.com/cwrk-planet/signaling-service/pkg/logger"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.LoadConfig()
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// --- logging & tracing ---
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	slog.Info("starting signaling-service",
		"env", cfg.Logging.Env, "version", version)

	// --- core ---
	reg := registry.New(registry.Options{KeepEmptyRooms: cfg.Registry.KeepEmptyRooms})
	hub := ws.NewHub()
	opts := []service.Option{service.WithLeaveName(service.LeaveName(cfg.Session.LeaveName))}

	// --- optional redis fan-out ---
	var bus *fanout.Redis
	if cfg.Redis.Addr != "" {
		b, err := fanout.NewRedis(ctx, fanout.Config{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			Instance: logger.InstanceID(),
		})
		if err != nil {
			return err
		}
		bus = b
		defer func() { _ = bus.Close() }()
		opts = append(opts, service.WithPublisher(bus))
		slog.Info("redis fan-out enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	// --- optional postgres journal ---
	var journal *postgres.Journal
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        4,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		journal = postgres.NewJournal(pool, 0)
		if err := journal.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		opts = append(opts, service.WithJournal(journal))
		slog.Info("session journal enabled")
	}

	sessions := service.NewSessionService(reg, hub, opts...)
	rooms := service.NewRoomService(reg)

	if err := metrics.ObserveRooms(prometheus.DefaultRegisterer, reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- WS & HTTP ---
	wsServer := ws.NewServer(hub, sessions, service.NewRouter(sessions), ws.Options{
		SendBuffer:      cfg.WebSocket.SendBuffer,
		PingEvery:       cfg.WebSocket.PingInterval(),
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	})
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(rooms),
		WS:             wsServer.HandleWS,
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.Timeout())),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	grpcx.Register(grpcServer, grpcx.NewServer(rooms))

	// --- run ---
	// Workers get their own context so they keep draining while the servers
	// stop. The servers' group context doubles as the shutdown trigger.
	workers, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	if bus != nil {
		g.Go(func() error { return bus.Run(workers) })
		g.Go(func() error { return bus.Subscribe(workers, sessions.DeliverRemote) })
	}
	if journal != nil {
		g.Go(func() error { return journal.Run(workers) })
	}

	// Sockets are closed and their disconnects awaited before the workers
	// stop, so every leave reaches the journal and the bus.
	seq := stopSequence{
		timeout: cfg.Shutdown(),
		steps: []stopStep{
			{"http", httpSrv.Shutdown},
			{"websockets", func(ctx context.Context) error {
				hub.CloseAll()
				return wsServer.Wait(ctx)
			}},
			{"grpc", func(ctx context.Context) error {
				return within(ctx, grpcServer.GracefulStop, grpcServer.Stop)
			}},
			{"workers", func(context.Context) error {
				stopWorkers()
				return nil
			}},
			{"tracer", tp.Shutdown},
		},
	}

	// The sequence carries its own deadline; the extra second keeps the
	// library's force-exit timer from racing a sequence that just finished.
	wait := gfshutdown.GracefulShutdown(gctx, cfg.Shutdown()+time.Second,
		map[string]gfshutdown.Operation{"signaling": seq.Run})
	if code := <-wait; code != 0 {
		return errors.New("shutdown timed out")
	}

	err := g.Wait()
	slog.Info("stopped", "err", err)
	return err
}

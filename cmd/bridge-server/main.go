package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradebridge/internal/broker"
	"tradebridge/internal/config"
	"tradebridge/internal/engine"
	"tradebridge/internal/httpapi"
	"tradebridge/internal/live"
	"tradebridge/internal/store"
	"tradebridge/internal/util"
)

// connectionCheckInterval is how often the broker session state is polled.
const connectionCheckInterval = 5 * time.Second

func main() {
	cfgPath := "config/bridge.yaml"
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	journal, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()
	archive := store.NewExecutionArchive(cfg.Storage.DataDir)

	client, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("broker session ready", "broker", client.Name(), "paper", cfg.Trading.PaperMode)

	hub := live.NewHub(0, logger)

	eng := engine.NewEngine(client, journal, hub, nil, engine.Options{
		ConfirmTimeout: cfg.Trading.ConfirmTimeout(),
		FlattenPause:   cfg.Trading.FlattenPause,
	}, logger)
	eng.Start()

	if _, err := eng.Reconciler.Run(ctx); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}

	api := httpapi.NewServer(eng, journal, archive, live.NewWebSocketHandler(hub, logger), logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	live.NewStreamServer(hub, logger).RegisterGRPC(grpcServer)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", grpcAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC stream listening", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runReconcileLoop(gctx, eng.Reconciler, cfg.Trading.ReconcileInterval, logger)
		return nil
	})
	g.Go(func() error {
		superviseConnection(gctx, eng, connectionCheckInterval, logger.With("component", "session"))
		return nil
	})
	g.Go(func() error {
		eod := &endOfDay{
			gw:      eng.Gateway,
			journal: journal,
			archive: archive,
			cal:     util.NewTradingCalendar(),
			before:  cfg.Trading.FlattenBeforeClose,
			log:     logger.With("component", "eod"),
		}
		eod.run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down bridge-server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
		hub.Close()
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// connectBroker opens the configured broker session.
func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Client, error) {
	switch cfg.Broker.Kind {
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, errors.New("alpaca broker requires api_key and api_secret")
		}
		b := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
			cfg.Alpaca.RateLimitPerMin, logger)
		if err := b.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting to alpaca: %w", err)
		}
		return b, nil
	case "simulator":
		sim := broker.NewSimulatorBroker(time.Now().UnixMilli())
		sim.AutoFill = cfg.Trading.PaperMode
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

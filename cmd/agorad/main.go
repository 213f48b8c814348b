package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"agora/cmd/internal/passphrase"
	"agora/config"
	"agora/core"
	"agora/core/genesis"
	"agora/observability/logging"
	telemetry "agora/observability/otel"
	"agora/rpc"
	"agora/storage"
)

const operatorPassEnv = "AGORA_OPERATOR_PASS"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agorad: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFile := flag.String("genesis", "", "Optional genesis JSON; overrides the roles and allocations in the config file")
	flag.Parse()

	passSource := passphrase.NewSource(operatorPassEnv, "operator")
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg.Global); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, closer := logging.SetupWithOptions("agorad", cfg.Environment, logging.Options{File: cfg.LogFile})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromTelemetry("agorad", cfg.Environment, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	spec, err := loadGenesis(cfg, *genesisFile)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	host, err := core.NewHost(db, spec, logger)
	if err != nil {
		return fmt.Errorf("open host: %w", err)
	}
	logger.Info("host ready",
		slog.Uint64("chainId", host.ChainID()),
		slog.Uint64("height", host.Height()),
		slog.String("root", host.StateRoot().Hex()),
	)

	server := rpc.NewServer(host, cfg.Global.RPC, logger)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(groupCtx, cfg.ListenAddress)
	})
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, addr, logger)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("agorad stopped", slog.Uint64("height", host.Height()))
	return nil
}

func loadGenesis(cfg *config.Config, path string) (*genesis.Spec, error) {
	if strings.TrimSpace(path) != "" {
		spec, err := genesis.LoadSpec(path)
		if err != nil {
			return nil, fmt.Errorf("load genesis: %w", err)
		}
		return spec, nil
	}
	spec, err := genesis.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("genesis from config: %w", err)
	}
	return spec, nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

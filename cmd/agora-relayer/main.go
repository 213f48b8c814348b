package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agora/cmd/internal/passphrase"
	"agora/crypto"
	"agora/observability/logging"
	telemetry "agora/observability/otel"
	"agora/services/relayer"
)

const defaultPassEnv = "AGORA_ORACLE_PASS"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agora-relayer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "relayer.yaml", "Path to the relayer YAML config")
	flag.Parse()

	cfg, err := relayer.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("agora-relayer", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromEnv("agora-relayer", cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	passEnv := cfg.PassphraseEnv
	if passEnv == "" {
		passEnv = defaultPassEnv
	}
	pass, err := passphrase.NewSource(passEnv, "oracle").Get()
	if err != nil {
		return err
	}
	signer, err := crypto.LoadFromKeystore(cfg.Keystore, pass)
	if err != nil {
		return fmt.Errorf("load oracle key: %w", err)
	}

	r, err := relayer.New(
		relayer.NewHostClient(cfg.HostEndpoint, cfg.Carrier.RetryMax),
		relayer.NewCarrierClient(cfg.Carrier),
		signer,
		relayer.Options{
			ChainID:      cfg.ChainID,
			PollInterval: cfg.PollInterval.Duration,
			DedupTTL:     cfg.DedupTTL.Duration,
			AutoDeliver:  cfg.AutoDeliver,
			Logger:       logger,
		},
	)
	if err != nil {
		return err
	}
	logger.Info("relayer started",
		slog.String("host", cfg.HostEndpoint),
		slog.String("oracle", signer.PubKey().Address().String()),
		slog.Duration("interval", cfg.PollInterval.Duration),
	)
	return r.Run(ctx)
}

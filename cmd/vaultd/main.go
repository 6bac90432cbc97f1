package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"yieldvault/config"
	"yieldvault/core"
	"yieldvault/core/events"
	"yieldvault/observability/logging"
	telemetry "yieldvault/observability/otel"
	"yieldvault/services/indexer"
	"yieldvault/services/vaultd/server"
	"yieldvault/storage"
)

const (
	tokenCommand  = "token"
	defaultConfig = "./yieldvault.toml"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == tokenCommand {
		if err := runToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("vaultd", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "path to the vaultd configuration file")
	produce := fs.Bool("produce-blocks", true, "advance the block clock on every block interval")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions("vaultd", cfg.Log.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("vaultd", cfg.Log.Env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return err
	}

	var sink events.Emitter = events.NoopEmitter{}
	var index *indexer.Store
	if strings.TrimSpace(cfg.Storage.IndexPath) != "" {
		if err := ensureDir(cfg.Storage.IndexPath); err != nil {
			return err
		}
		index, err = indexer.Open(cfg.Storage.IndexPath, logger)
		if err != nil {
			db.Close()
			return fmt.Errorf("open event index: %w", err)
		}
		defer index.Close()
		sink = index
	}

	protocol, err := core.New(cfg, db, core.Options{Logger: logger, Sink: sink})
	if err != nil {
		db.Close()
		return fmt.Errorf("start protocol: %w", err)
	}
	defer protocol.Close()

	auth := server.NewAuthenticator(server.AuthConfig{HMACSecret: os.Getenv(cfg.Server.JWTSecretEnv), Issuer: "vaultd"}, logger)
	if strings.TrimSpace(os.Getenv(cfg.Server.JWTSecretEnv)) == "" {
		logger.Warn("no jwt secret configured; authenticated routes will reject every request", "env", cfg.Server.JWTSecretEnv)
	}
	srvCfg := server.Config{
		ListenAddress: cfg.Server.ListenAddress,
		Protocol:      protocol,
		Auth:          auth,
		RateLimiter:   server.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst),
		Logger:        logger,
	}
	if index != nil {
		srvCfg.Index = index
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *produce {
		go produceBlocks(ctx, protocol, time.Duration(cfg.Chain.BlockIntervalSeconds)*time.Second, logger)
	}
	logger.Info("vaultd started", "height", protocol.Height(), "backend", cfg.Storage.Backend)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve api: %w", err)
	}
	logger.Info("vaultd stopped", "height", protocol.Height())
	return nil
}

func produceBlocks(ctx context.Context, protocol *core.Protocol, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := protocol.AdvanceBlocks(1); err != nil {
				logger.Error("advance block", "error", err)
			}
		}
	}
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		path := filepath.Join(cfg.DataDir, "state")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "path to the vaultd configuration file")
	address := fs.String("address", "", "account the token authenticates (defaults to the operator)")
	scopes := fs.String("scopes", "", "space separated scopes, e.g. operator")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret := os.Getenv(cfg.Server.JWTSecretEnv)
	if strings.TrimSpace(secret) == "" {
		return errors.New("set " + cfg.Server.JWTSecretEnv + " to sign tokens")
	}
	subject := strings.TrimSpace(*address)
	if subject == "" {
		subject = cfg.Chain.Operator
	}
	caller, err := config.ParseAddress(subject)
	if err != nil {
		return err
	}
	auth := server.NewAuthenticator(server.AuthConfig{HMACSecret: secret, Issuer: "vaultd"}, nil)
	token, err := auth.IssueToken(caller, *ttl, strings.Fields(*scopes)...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

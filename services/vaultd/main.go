package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/vault"
	"yieldvault/observability/logging"
	"yieldvault/observability/metrics"
	telemetry "yieldvault/observability/otel"
	"yieldvault/services/vaultd/adapters"
	"yieldvault/services/vaultd/config"
	"yieldvault/services/vaultd/harvester"
	"yieldvault/services/vaultd/idempotency"
	"yieldvault/services/vaultd/server"
	auditstore "yieldvault/services/vaultd/storage"
	"yieldvault/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}
	logger, err := logging.SetupWithOptions("vaultd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatalf("vaultd: configure logging: %v", err)
	}
	logger.Info("configuration loaded", "mode", cfg.Mode, "listen", cfg.ListenAddress, "harvest", cfg.Harvest.Enabled)
	logger.Debug("effective configuration", "config", cfg.Sanitized())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("vaultd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "vaultd",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	vaultCfg, err := vault.LoadConfig(cfg.VaultConfig)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	dsn, err := auditstore.FileDSN(cfg.AuditPath)
	if err != nil {
		return fmt.Errorf("resolve audit DSN: %w", err)
	}
	audit, err := auditstore.Open(dsn)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()
	audit.SetLogger(logger)

	var replay *idempotency.Store
	if path := strings.TrimSpace(cfg.Idempotency.Path); path != "" {
		replay, err = idempotency.Open(path, cfg.Idempotency.TTL.Duration)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer replay.Close()
		if removed, err := replay.Prune(); err != nil {
			logger.Warn("idempotency prune failed", "error", err)
		} else if removed > 0 {
			logger.Info("idempotency entries expired", "removed", removed)
		}
	}

	swap, staker, err := collaborators(cfg, vaultCfg.PoolInfo())
	if err != nil {
		return err
	}

	engine, err := vault.NewEngine(db, vaultCfg, swap, staker)
	if err != nil {
		return fmt.Errorf("vault engine: %w", err)
	}
	vaultMetrics := metrics.Vault()
	pauses := nativecommon.NewPauseSet()
	engine.SetLogger(logger)
	engine.SetEmitter(events.MultiEmitter{audit})
	engine.SetObserver(vaultMetrics)
	engine.SetPauses(pauses)

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	srv, err := server.New(server.Config{
		ListenAddress:     cfg.ListenAddress,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	}, server.Deps{
		Engine:  engine,
		Audit:   audit,
		Pauses:  pauses,
		Auth:    auth,
		Limiter: server.NewRateLimiter(server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}),
		Metrics: vaultMetrics,
		Logger:  logger,

		Idempotency: replay,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			errOnce.Do(func() { runErr = err })
		}
		cancel()
	}

	if cfg.Harvest.Enabled {
		loop, err := harvester.New(engine, cfg.Harvest.Interval.Duration,
			harvester.WithLogger(logger),
			harvester.WithRecorder(vaultMetrics),
			harvester.WithTimeout(cfg.Harvest.Timeout.Duration))
		if err != nil {
			return fmt.Errorf("harvester: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(loop.Run(ctx))
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		fail(srv.Run(ctx))
	}()

	wg.Wait()
	return runErr
}

func collaborators(cfg config.Config, info vault.PoolInfo) (vault.Swapper, vault.Staker, error) {
	switch cfg.Mode {
	case config.ModeEthereum:
		swap, err := adapters.NewSwapRouter(cfg.Swap.Endpoint, cfg.Swap.APIKey, cfg.Swap.Timeout.Duration)
		if err != nil {
			return nil, nil, err
		}
		client, err := adapters.DialEVM(cfg.Ethereum.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial ethereum: %w", err)
		}
		lpToken := info.LPToken
		if (lpToken == common.Address{}) {
			lpToken = info.BaseAsset
		}
		booster, err := adapters.NewBooster(client, adapters.BoosterConfig{
			Booster:        common.HexToAddress(cfg.Ethereum.Booster),
			RewardPool:     common.HexToAddress(cfg.Ethereum.RewardPool),
			PoolID:         big.NewInt(cfg.Ethereum.BoosterPoolID),
			LPToken:        lpToken,
			RewardTokens:   info.RewardTokens,
			ChainID:        big.NewInt(cfg.Ethereum.ChainID),
			GasLimit:       cfg.Ethereum.GasLimit,
			ReceiptTimeout: cfg.Ethereum.ReceiptTimeout.Duration,
			PollInterval:   cfg.Ethereum.PollInterval.Duration,
		}, cfg.Ethereum.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		return swap, booster, nil
	default:
		staking := vault.NewSimulatedStaking()
		dripA, err := parseOptionalAmount("simulated.drip_a", cfg.Simulated.DripA)
		if err != nil {
			return nil, nil, err
		}
		dripB, err := parseOptionalAmount("simulated.drip_b", cfg.Simulated.DripB)
		if err != nil {
			return nil, nil, err
		}
		staking.SetDrip(dripA, dripB)
		return vault.NewSimulatedSwap(), staking, nil
	}
}

func parseOptionalAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", field)
	}
	return v, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"OmniSwap-Agent/internal/alert"
	"OmniSwap-Agent/internal/api"
	"OmniSwap-Agent/internal/assistant"
	"OmniSwap-Agent/internal/auth"
	"OmniSwap-Agent/internal/config"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/ledger/provider"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/notify"
	"OmniSwap-Agent/internal/swap"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/internal/vault"
	"OmniSwap-Agent/pkg/logger"
)

// main 是 OmniSwap 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("omniswapd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OMNISWAP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "omniswap.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 用户存储。
	var store userstore.Store
	switch cfg.Storage.UserStore.Driver {
	case "", "file":
		store, err = userstore.NewFileStore(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
	case "mysql":
		store, err = userstore.NewMySQLStore(ctx, cfg.Storage.UserStore.DSN, userstore.MySQLOptions{
			MaxOpenConns:    cfg.Storage.UserStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.UserStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.UserStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的用户存储驱动: %s", cfg.Storage.UserStore.Driver)
	}
	defer store.Close()

	// 私钥托管。
	passphrase, err := cfg.VaultPassphrase()
	if err != nil {
		return err
	}
	v, err := vault.New(store, passphrase)
	if err != nil {
		return err
	}

	// 链目录与适配器。
	catalog, err := ledger.LoadCatalog(cfg.Ledger.ChainConfig)
	if err != nil {
		return err
	}
	registry, err := provider.NewRegistry(ctx, catalog)
	if err != nil {
		return err
	}
	defer registry.Close()

	// 行情预言机, 可选 Redis 镜像。
	source := market.NewCoinGeckoSource(cfg.Market.BaseURL,
		time.Duration(cfg.Market.TimeoutSeconds)*time.Second)
	var oracleOpts []market.OracleOption
	if cfg.Market.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Market.Redis.Address,
			Password: cfg.Market.Redis.Password,
			DB:       cfg.Market.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("连接 Redis 失败: %w", err)
		}
		defer client.Close()
		oracleOpts = append(oracleOpts, market.WithRedisMirror(client, cfg.Market.Redis.Prefix))
	}
	oracle := market.NewOracle(source, catalog, cfg.CacheTTL(), oracleOpts...)

	// 通知通道。
	var notifier notify.Notifier
	switch cfg.Notify.Driver {
	case "", "log":
		notifier = notify.LogNotifier{}
	case "rabbitmq":
		queue, err := notify.NewQueueNotifier(notify.QueueConfig{
			URL:     cfg.Notify.RabbitMQ.URL,
			Queue:   cfg.Notify.RabbitMQ.Queue,
			Durable: cfg.Notify.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		// 队列投递失败时日志里仍留有一份。
		notifier = notify.NewFanout(queue, notify.LogNotifier{})
	default:
		return fmt.Errorf("未知的通知驱动: %s", cfg.Notify.Driver)
	}
	defer notifier.Close()

	swaps := swap.NewService(registry, v, oracle, notifier)
	alerts := alert.NewEngine(store, oracle, catalog, notifier, cfg.PollInterval())

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go alerts.Run(sweepCtx)

	tokens := make([]auth.Token, 0, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.Token{Name: t.Name, Value: t.Token})
	}
	authSvc, err := auth.NewService(auth.Mode(cfg.Auth.Mode), tokens)
	if err != nil {
		return err
	}

	router := assistant.NewRouter(registry, v, oracle, swaps, alerts)
	server := api.NewServer(cfg.Server.Address, router, store, alerts, oracle, authSvc)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

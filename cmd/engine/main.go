package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/vitos/options_signal_engine/internal/config"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/infrastructure/broker"
	"github.com/vitos/options_signal_engine/internal/infrastructure/cache"
	"github.com/vitos/options_signal_engine/internal/infrastructure/logger"
	"github.com/vitos/options_signal_engine/internal/infrastructure/marketdata"
	"github.com/vitos/options_signal_engine/internal/infrastructure/news"
	"github.com/vitos/options_signal_engine/internal/infrastructure/pubsub"
	"github.com/vitos/options_signal_engine/internal/infrastructure/sentiment"
	"github.com/vitos/options_signal_engine/internal/infrastructure/storage"
	"github.com/vitos/options_signal_engine/internal/metrics"
	"github.com/vitos/options_signal_engine/internal/usecase"
	"github.com/vitos/options_signal_engine/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	godotenv.Load()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Loggers
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tradeLog := log
	if cfg.Logging.TradeLog != "" {
		if tradeLog, err = logger.NewFileLogger(cfg.Logging.TradeLog, "info"); err != nil {
			log.Error("Failed to init trade logger, using default", zap.Error(err))
			tradeLog = log
		}
	}
	defer tradeLog.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Cache & Pub/Sub
	m := metrics.New()
	hub := pubsub.NewHub(log)
	var (
		cacheStore domain.CacheStore = cache.NewMemoryStore()
		publisher  domain.Publisher  = hub
	)
	if rdb := connectRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		cacheStore = cache.NewRedisStore(rdb, "engine")
		publisher = pubsub.NewFanout(log, hub, pubsub.NewRedisPublisher(rdb))
	}
	marketCache := usecase.NewMarketDataCache(cacheStore, m, log)
	limiter := usecase.NewRateLimiter(cfg.RateLimits)
	events := usecase.NewEventPublisher(publisher, log)

	// 5. Init External Adapters
	brokerURL := cfg.Broker.BaseURL
	if brokerURL == "" && !cfg.Broker.Paper {
		brokerURL = broker.AlpacaLiveURL
	}
	alpaca := broker.NewAlpacaAdapter(cfg.Broker.Key, cfg.Broker.Secret, brokerURL, cfg.Broker.DataURL)
	polygon := marketdata.NewPolygonClient(cfg.MarketData.APIKey, cfg.MarketData.BaseURL)
	provider := marketdata.NewProvider(alpaca, polygon)

	// 6. Init Services
	marketData := usecase.NewMarketDataService(provider, store, marketCache, limiter, log)

	var sentimentSvc *usecase.NewsSentimentService
	if cfg.Engine.EnableNewsSentiment {
		sentimentSvc = usecase.NewNewsSentimentService(
			news.NewNewsAPIClient(cfg.News.APIKey, cfg.News.BaseURL),
			sentiment.NewLexiconScorer(),
			store,
			marketCache,
			limiter,
			log,
		)
	}

	execution := usecase.NewExecutionService(usecase.ExecutionDeps{
		Signals:    store,
		Executions: store,
		Positions:  store,
		Users:      store,
		Tx:         store,
		Broker:     alpaca,
		Limiter:    limiter,
		Events:     events,
		Metrics:    m,
		Logger:     log,
		TradeLog:   tradeLog,
	})

	generator := usecase.NewSignalGenerator(
		store,
		store,
		marketData,
		sentimentOrNil(sentimentSvc),
		usecase.NewStrategySelector(),
		execution,
		events,
		m,
		log,
		usecase.SignalGeneratorOptions{
			ExpirationTime: cfg.Engine.SignalExpirationTime,
			AutoTrading:    cfg.Engine.EnableAutoTrading,
		},
	)

	positions := usecase.NewPositionManager(store, store, store, marketData, execution, events, log, usecase.PositionManagerOptions{
		AutoSellEnabled:     cfg.Engine.AutoSellEnabled,
		TrailingStopEnabled: cfg.Engine.TrailingStopEnabled,
	})

	health := usecase.NewHealthChecker(store, marketCache, marketData, log)

	// 7. Schedule Jobs
	supervisor := usecase.NewSupervisor(log, m)
	jobs := []struct {
		cfg usecase.JobConfig
		run usecase.Job
	}{
		{
			cfg: usecase.JobConfig{Name: "signal_generation", Interval: cfg.Engine.SignalGenerationInterval, Timeout: cfg.Engine.SignalGenerationInterval, RunOnStart: true},
			run: func(ctx context.Context) error {
				if _, err := generator.ExpireSignals(ctx); err != nil {
					log.Error("Failed to expire signals", zap.Error(err))
				}
				return generator.GenerateSignals(ctx)
			},
		},
		{
			cfg: usecase.JobConfig{Name: "position_monitoring", Interval: cfg.Engine.PositionUpdateInterval, Timeout: time.Minute, RunOnStart: true},
			run: positions.MonitorPositions,
		},
		{
			cfg: usecase.JobConfig{Name: "market_data_refresh", Interval: cfg.Engine.MarketDataInterval, Timeout: cfg.Engine.MarketDataInterval},
			run: marketData.RefreshWatchlist,
		},
		{
			cfg: usecase.JobConfig{Name: "health_check", Interval: cfg.Engine.HealthCheckInterval, Timeout: 30 * time.Second, RunOnStart: true},
			run: health.Check,
		},
	}
	for _, j := range jobs {
		if err := supervisor.AddJob(j.cfg, j.run); err != nil {
			log.Fatal("Failed to register job", zap.String("job", j.cfg.Name), zap.Error(err))
		}
	}

	// 8. Init Web Server
	server := web.NewServer(cfg.Server.Port, web.Deps{
		Signals:   store,
		Positions: store,
		Actions:   execution,
		Portfolio: positions,
		Broker:    alpaca,
		Health:    health,
		Stream:    hub,
		Metrics:   m.Handler(),
		Logger:    log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor.Start(ctx)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Engine started",
		zap.Bool("paper", cfg.Broker.Paper),
		zap.Bool("auto_trading", cfg.Engine.EnableAutoTrading),
		zap.Bool("auto_sell", cfg.Engine.AutoSellEnabled),
	)

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	if err := supervisor.Stop(cfg.Engine.ShutdownGrace); err != nil {
		log.Warn("Jobs still running at shutdown", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

// connectRedis returns nil when redis is optional and unreachable; the
// engine then runs on the in-process cache and websocket hub only.
func connectRedis(cfg *config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		if cfg.Redis.Required {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		log.Warn("Redis unavailable, using in-process cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return nil
	}
	return rdb
}

// sentimentOrNil keeps a nil service from becoming a non-nil interface.
func sentimentOrNil(s *usecase.NewsSentimentService) interface {
	GetSentimentSummary(ctx context.Context, symbol string) (*domain.SentimentSummary, error)
} {
	if s == nil {
		return nil
	}
	return s
}

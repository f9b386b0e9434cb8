package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/config"
	cronrunner "github.com/micohasanen/hexagon-api/internal/cron"
	"github.com/micohasanen/hexagon-api/internal/db"
	"github.com/micohasanen/hexagon-api/internal/logger"
	"github.com/micohasanen/hexagon-api/internal/notify"
	"github.com/micohasanen/hexagon-api/internal/ownership"
	"github.com/micohasanen/hexagon-api/internal/queue"
	gormrepository "github.com/micohasanen/hexagon-api/internal/repository/gorm"
	"github.com/micohasanen/hexagon-api/internal/service"
)

func main() {
	cfgPath := os.Getenv("HEX_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("HEX_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.Ping(dbConn); err != nil {
		logger.Fatal("db ping failed", zap.Error(err))
	}
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	cancelPing()

	store := gormrepository.New(dbConn.Gorm)
	jobQueue := queue.NewRedis(redisClient, cfg.Queue, logger)

	var notifier notify.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.Warn("telegram init failed, falling back to log notifier", zap.Error(err))
			notifier = &notify.Log{Logger: logger}
		} else {
			notifier = tg
		}
	} else {
		notifier = &notify.Log{Logger: logger}
	}

	var owners ownership.Oracle
	if cfg.Market.AllowAllOwners {
		owners = &ownership.AllowAll{}
		logger.Warn("ownership checks disabled, sell orders are accepted unverified")
	} else {
		logger.Fatal("no ownership oracle configured, set market.allow_all_owners to accept sell orders unverified")
	}

	expiry := &service.ExpiryScheduler{
		Queue:   jobQueue,
		Logger:  logger,
		Surplus: cfg.Expiry.Surplus,
	}
	prices := &service.PriceAggregator{Repo: store, Queue: jobQueue, Logger: logger}
	raritySvc := &service.RarityService{
		Repo:     store,
		Queue:    jobQueue,
		Logger:   logger,
		Debounce: cfg.Rarity.Debounce,
	}
	listings := &service.ListingService{
		Repo:         store,
		Prices:       prices,
		Expiry:       expiry,
		Owners:       owners,
		Notify:       notifier,
		Logger:       logger,
		DefaultChain: cfg.Market.DefaultChain,
	}
	bids := &service.BidService{
		Repo:         store,
		Prices:       prices,
		Expiry:       expiry,
		Notify:       notifier,
		Logger:       logger,
		DefaultChain: cfg.Market.DefaultChain,
	}
	auctions := &service.AuctionService{
		Repo:         store,
		Prices:       prices,
		Expiry:       expiry,
		Owners:       owners,
		Notify:       notifier,
		Logger:       logger,
		DefaultChain: cfg.Market.DefaultChain,
	}
	transfers := &service.TransferService{
		Repo:   store,
		Queue:  jobQueue,
		Rarity: raritySvc,
		Logger: logger,
	}

	service.Handlers{
		Listings:  listings,
		Bids:      bids,
		Auctions:  auctions,
		Rarity:    raritySvc,
		Prices:    prices,
		Transfers: transfers,
	}.Register(jobQueue)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := &service.ExpirySweeper{
		Repo:      store,
		Scheduler: expiry,
		Logger:    logger,
		Batch:     cfg.Expiry.SweepBatch,
	}
	cronRunner := cronrunner.New(logger, ctx)
	if _, err := cronRunner.Add(cfg.Expiry.SweepSchedule, func(ctx context.Context) {
		if err := sweeper.Sweep(ctx); err != nil {
			logger.Warn("expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Warn("cron register expiry sweep failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("queue worker starting")
		if err := jobQueue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("queue worker error", zap.Error(err))
	}
}

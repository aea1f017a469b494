package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storebot/internal/bot"
	"storebot/internal/config"
	"storebot/internal/orders"
	"storebot/internal/products"
	"storebot/internal/promo"
	"storebot/internal/sheets"
	"storebot/internal/storage"
	"storebot/internal/users"
	"storebot/pkg/crm"
	"storebot/pkg/logger"
	"storebot/pkg/redis"
)

// ENTRY POINT

func main() {
	zapLogger, err := logger.New()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("Failed to load config", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		zapLogger.Fatal("Failed to load timezone",
			zap.String("timezone", cfg.Timezone),
			zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	redisClient := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
	defer redisClient.Close()

	store, err := storage.New(ctx, cfg.CustomersDBPath, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init customers storage", zap.Error(err))
	}
	defer store.Close()

	productsSheet, err := sheets.NewClient(ctx, cfg.ServiceAccountFile, cfg.SpreadsheetID, cfg.ProductsWorksheet)
	if err != nil {
		zapLogger.Fatal("Failed to init sheets client", zap.Error(err))
	}
	usersSheet := productsSheet.ForWorksheet(cfg.UsersWorksheet)
	promoSheet := productsSheet.ForWorksheet(cfg.PromoSettingsWorksheet)
	ordersSheet := productsSheet.ForWorksheet(cfg.OrdersWorksheet)

	productCache := products.NewCache(productsSheet, zapLogger)
	directory := users.NewDirectory(usersSheet, zapLogger)
	orderLog := orders.NewLog(ordersSheet, zapLogger)
	crmClient := crm.NewClient(cfg.CRMBaseURL, cfg.CRMAPIKey, cfg.CRMOfficeID, zapLogger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		zapLogger.Fatal("Failed to create bot API", zap.Error(err))
	}
	zapLogger.Info("Bot authorized",
		zap.String("username", botAPI.Self.UserName),
		zap.Int64("id", botAPI.Self.ID))

	tgBot, err := bot.New(bot.Dependencies{
		API:       botAPI,
		Sessions:  bot.NewRedisSessionStore(redisClient),
		Customers: store,
		Settings:  store,
		CRM:       crmClient,
		Orders:    orderLog,
		Exporter:  orderLog,
		Directory: directory,
		Products:  productCache,
		Logger:    zapLogger,
		Config:    cfg,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create bot", zap.Error(err))
	}

	broadcaster := promo.NewBroadcaster(productCache, directory, tgBot, cfg.BroadcastBatchSize, zapLogger)
	tgBot.AttachBroadcaster(broadcaster)

	settingsService := promo.NewSettingsService(promoSheet, location)
	scheduler := promo.NewScheduler(settingsService, broadcaster, location, zapLogger)

	go productCache.RunRefresher(ctx, cfg.CacheUpdateInterval)
	go scheduler.Run(ctx, cfg.PromoTickInterval)

	if err := tgBot.Start(ctx); err != nil {
		zapLogger.Fatal("Bot stopped with error", zap.Error(err))
	}

	zapLogger.Info("Bot shutdown gracefully")
}

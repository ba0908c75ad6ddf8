package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/jeovahfialho/cctool/internal/api"
	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/config"
	"github.com/jeovahfialho/cctool/internal/cryptocompare"
	"github.com/jeovahfialho/cctool/internal/service"
	"github.com/jeovahfialho/cctool/internal/storage/cache"
	"github.com/jeovahfialho/cctool/internal/storage/postgres"
	pkglogger "github.com/jeovahfialho/cctool/pkg/logger"
)

// @title Portfolio Trade Import API
// @version 1.0
// @description Imports exchange trade histories into FIFO position books.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
func main() {
	cfg := config.Load()

	if err := pkglogger.Init(cfg.LogLevel, cfg.Development()); err != nil {
		log.Fatal("init logger:", err)
	}
	defer pkglogger.Close()

	db, err := connectPostgres(cfg)
	if err != nil {
		pkglogger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	checks := map[string]api.HealthChecker{"database": db}

	client := cryptocompare.NewClient(
		cryptocompare.WithTimeout(cfg.HTTPTimeout),
		cryptocompare.WithBaseURLs(cfg.AuthURL, cfg.SiteURL, cfg.MinAPIURL),
		cryptocompare.WithLogger(pkglogger.Log),
	)

	var (
		resolver book.PriceResolver = cryptocompare.NewPriceResolver(client)
		deleter  api.PatternDeleter
	)
	if redisCache := connectRedis(cfg); redisCache != nil {
		defer redisCache.Close()
		resolver = cache.NewPriceCache(redisCache, resolver, pkglogger.Log)
		deleter = redisCache
		checks["redis"] = redisCache
	}

	books := func(ctx context.Context, portfolioID string) (*book.Book, error) {
		store := postgres.NewPositionStore(db.Pool(), portfolioID, pkglogger.Log)
		return store.LoadBook(ctx,
			book.WithQuote(cfg.QuoteCurrency),
			book.WithPriceResolver(resolver),
			book.WithLogger(pkglogger.Log),
		)
	}

	archive := postgres.NewTradeArchive(db.Pool(), cfg.BatchSize)
	imports := service.NewImportService(cfg.Workers, archive, pkglogger.Log)

	handler := api.NewHandler(imports, books, checks, deleter)

	app := fiber.New(fiber.Config{
		Prefork:                 false,
		ServerHeader:            "cctool",
		AppName:                 "Portfolio Trade Import v1.0.0",
		ReadTimeout:             cfg.APIReadTimeout,
		WriteTimeout:            cfg.APIWriteTimeout,
		IdleTimeout:             120 * time.Second,
		ReadBufferSize:          8192,
		WriteBufferSize:         8192,
		ProxyHeader:             "X-Forwarded-For",
		EnableTrustedProxyCheck: true,
		BodyLimit:               cfg.APIBodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	if cfg.APIPassword == "" {
		pkglogger.Warn("API_PASSWORD is empty, mutating routes reject every request")
	}
	api.SetupRoutes(app, handler, api.RouteConfig{
		User:     cfg.APIUser,
		Password: cfg.APIPassword,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		pkglogger.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			pkglogger.Error("server shutdown", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	pkglogger.Info("starting server", zap.String("addr", addr))

	if err := app.Listen(addr); err != nil {
		pkglogger.Fatal("server error", zap.Error(err))
	}
}

func connectPostgres(cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	pkglogger.Info("connected to postgres")
	return db, nil
}

func connectRedis(cfg *config.Config) *cache.RedisCache {
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		pkglogger.Warn("redis unavailable, continuing without price cache", zap.Error(err))
		return nil
	}

	pkglogger.Info("connected to redis")
	return redisCache
}

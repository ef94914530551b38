package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	firebase "firebase.google.com/go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"iapBack/internal/config"
	"iapBack/internal/handlers"
	"iapBack/internal/repositories"
	"iapBack/internal/services"
	"iapBack/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger

	db    *sql.DB
	redis *redis.Client

	iapRepo    *repositories.IAPRepository
	iapService *services.IAPService

	iapHandler       *handlers.IAPHandler
	googleIAPHandler *handlers.GoogleIAPHandler
	productHandler   *handlers.ProductHandler

	adminTokens *utils.Manager
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, errorLog, infoLog *log.Logger) (*application, error) {
	logger := appLogger{infoLog: infoLog, errorLog: errorLog}

	// Repositories
	iapRepo := repositories.NewIAPRepository(db, repositories.ParseDialect(cfg.Database.Driver))

	// Redis: chain lock and FX cache
	var rdb *redis.Client
	var locker services.ChainLocker = services.NewLocalChainLocker()
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		locker = services.NewRedisChainLocker(rdb, 30*time.Second, 10*time.Second)
		infoLog.Printf("Using redis at %s for chain locks", cfg.Redis.Address)
	}

	converter := services.NewCurrencyConverter(services.CurrencyConfig{
		BaseURL:  cfg.Currency.BaseURL,
		Redis:    rdb,
		CacheTTL: cfg.CurrencyCacheTTL(),
	})

	// Providers
	var providers []services.Provider
	var appleService *services.AppleIAPService
	if cfg.Apple.SharedSecret != "" {
		svc, err := services.NewAppleIAPService(services.AppleIAPConfig{
			SharedSecret: cfg.Apple.SharedSecret,
			DB:           iapRepo,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		appleService = svc
		providers = append(providers, svc)
	}

	var googleService *services.GooglePlayService
	if cfg.Google.PackageName != "" {
		svc, err := services.NewGooglePlayService(services.GooglePlayConfig{
			PackageName:        cfg.Google.PackageName,
			ServiceAccountJSON: cfg.Google.ServiceAccountJSON,
			DB:                 iapRepo,
			Converter:          converter,
			Logger:             logger,
		})
		if err != nil {
			return nil, err
		}
		googleService = svc
		providers = append(providers, svc)
	}

	// Notifiers
	var notifiers services.MultiNotifier
	if cfg.Webhook.Endpoint != "" {
		webhook, err := services.NewWebhookNotifier(services.WebhookConfig{
			Endpoint:  cfg.Webhook.Endpoint,
			AuthToken: cfg.Webhook.AuthToken,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}
	if strings.TrimSpace(cfg.FCM.CredentialsJSON) != "" {
		fbApp, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(cfg.FCM.CredentialsJSON)))
		if err != nil {
			return nil, fmt.Errorf("firebase app: %w", err)
		}
		fcmClient, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		notifiers = append(notifiers, services.NewFCMNotifier(fcmClient))
	}

	var archiver services.ReceiptArchiver
	if cfg.Archive.Bucket != "" {
		archive, err := services.NewS3ReceiptArchive(services.S3ArchiveConfig{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Prefix:    cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, err
		}
		archiver = archive
	}

	// Services
	deps := services.IAPDeps{
		Dispatcher: services.NewDispatcher(providers...),
		Reconciler: services.NewReconcileService(iapRepo, locker, logger),
		Store:      iapRepo,
		Archiver:   archiver,
		Logger:     logger,
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}
	if googleService != nil {
		deps.Voided = googleService
		if cfg.Google.Acknowledge {
			deps.Acknowledger = googleService
		}
	}
	iapService, err := services.NewIAPService(deps)
	if err != nil {
		return nil, err
	}

	// Handlers
	var appleVerifier handlers.AppleNotificationVerifier
	if appleService != nil {
		appleVerifier = appleService
	}
	iapHandler := handlers.NewIAPHandler(iapService, iapRepo, iapRepo, appleVerifier, logger)
	googleIAPHandler := handlers.NewGoogleIAPHandler(iapService, iapRepo, cfg.Google.PackageName, logger)
	productHandler := &handlers.ProductHandler{Store: iapRepo, Log: logger}

	var adminTokens *utils.Manager
	if cfg.Admin.JWTSecret != "" {
		if adminTokens, err = utils.NewManager(cfg.Admin.JWTSecret); err != nil {
			return nil, err
		}
	}

	return &application{
		errorLog:         errorLog,
		infoLog:          infoLog,
		db:               db,
		redis:            rdb,
		iapRepo:          iapRepo,
		iapService:       iapService,
		iapHandler:       iapHandler,
		googleIAPHandler: googleIAPHandler,
		productHandler:   productHandler,
		adminTokens:      adminTokens,
	}, nil
}

func (app *application) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
}

func openDB(driver, dsn string) (*sql.DB, error) {
	if driver == "postgres" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		return nil, err
	}
	db.SetMaxIdleConns(35)
	log.Println("Successfully connected to database")
	return db, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/purchase-approval/internal"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/journey"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	purchasePostgres "github.com/frahmantamala/purchase-approval/internal/purchase/postgres"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	receiptPostgres "github.com/frahmantamala/purchase-approval/internal/receipt/postgres"
	"github.com/frahmantamala/purchase-approval/internal/receiptfetch"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
	reconciliationPostgres "github.com/frahmantamala/purchase-approval/internal/reconciliation/postgres"
	"github.com/frahmantamala/purchase-approval/internal/storage"
	"github.com/frahmantamala/purchase-approval/internal/vendorapi"
	"github.com/frahmantamala/purchase-approval/internal/verification"
	verificationPostgres "github.com/frahmantamala/purchase-approval/internal/verification/postgres"
	"github.com/frahmantamala/purchase-approval/internal/vision"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

// Dependencies is the wired application shared by every command.
type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Gorm   *gorm.DB
	Store  *storage.ObjectStore
	Events *events.EventBus
	Logger *slog.Logger

	Purchases      *purchase.Service
	Receipts       *receipt.Service
	Verification   *verification.Service
	Reconciliation *reconciliation.Service
	Journey        *journey.Service
	VendorClient   *vendorapi.Client
	FetchPool      *receiptfetch.Pool
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Format, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), config.Database.GormConfig())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	store, err := initStorage(ctx, config.Storage)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := newEventBus(lg)

	purchaseSvc := purchase.NewService(purchasePostgres.NewPurchaseRepository(gormDB), bus, lg)
	receiptSvc := receipt.NewService(receiptPostgres.NewReceiptRepository(gormDB), store, purchaseSvc, bus, 0, lg)

	extractor := vision.NewExtractor(vision.Config{
		APIKey:  config.Vision.APIKey,
		BaseURL: config.Vision.BaseURL,
		Model:   config.Vision.Model,
	}, lg)
	if !extractor.Configured() {
		lg.Warn("vision api key not configured; receipts will get manual review fallbacks")
	}

	verificationSvc := verification.NewService(
		verificationPostgres.NewAnalysisRepository(gormDB),
		receiptSvc,
		purchaseSvc,
		store,
		extractor,
		bus,
		verification.Config{MaxImageBytes: config.Vision.MaxImageBytes, Timeout: config.Vision.Timeout},
		lg,
	)
	receiptSvc.SetUploadHook(verificationSvc)

	vendorClient := vendorapi.NewClient(vendorapi.Config{
		BaseURL:   config.Vendor.BaseURL,
		APIKey:    config.Vendor.APIKey,
		APISecret: config.Vendor.APISecret,
		ShopperID: config.Vendor.ShopperID,
		PageSize:  config.Vendor.PageSize,
		Timeout:   config.Vendor.Timeout,
	}, lg)

	pool := receiptfetch.NewPool(vendorClient, receiptSvc, purchaseSvc, verificationSvc, receiptfetch.Config{
		MaxWorkers: config.Vendor.ReceiptWorkers,
		QueueSize:  config.Vendor.ReceiptQueue,
		JobTimeout: config.Vendor.Timeout + config.Vision.Timeout,
	}, lg)

	reconciliationSvc := reconciliation.NewService(
		reconciliationPostgres.NewVendorOrderRepository(gormDB),
		vendorClient,
		purchaseSvc,
		pool,
		bus,
		reconciliation.Config{
			VendorFamily:      config.Vendor.FamilyName,
			MatchThreshold:    config.Matching.MatchThreshold,
			AutoLinkThreshold: config.Matching.AutoLinkThreshold,
			LookbackDays:      config.Vendor.LookbackDays,
		},
		lg,
	)

	return &Dependencies{
		Config:         config,
		DB:             db,
		Gorm:           gormDB,
		Store:          store,
		Events:         bus,
		Logger:         lg,
		Purchases:      purchaseSvc,
		Receipts:       receiptSvc,
		Verification:   verificationSvc,
		Reconciliation: reconciliationSvc,
		Journey:        journey.NewService(purchaseSvc, receiptSvc),
		VendorClient:   vendorClient,
		FetchPool:      pool,
	}, nil
}

// Close drains queued receipt fetches before closing the database.
func (d *Dependencies) Close() {
	d.FetchPool.Shutdown()
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

// initStorage requires a reachable bucket; receipts cannot be kept without one.
func initStorage(ctx context.Context, cfg internal.StorageConfig) (*storage.ObjectStore, error) {
	store, err := storage.NewObjectStore(storage.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, fmt.Errorf("storage.endpoint and storage.bucket are required: %w", err)
	}
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare receipt bucket: %w", err)
	}
	return store, nil
}

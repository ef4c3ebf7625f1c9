package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/artista/market-ledger/internal/api/rest"
	"github.com/artista/market-ledger/internal/api/server"
	"github.com/artista/market-ledger/internal/classifier"
	"github.com/artista/market-ledger/internal/config"
	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
	"github.com/artista/market-ledger/internal/identity"
	"github.com/artista/market-ledger/internal/ledger"
	"github.com/artista/market-ledger/internal/logger"
	"github.com/artista/market-ledger/internal/messaging"
	"github.com/artista/market-ledger/internal/metadata"
	"github.com/artista/market-ledger/internal/minter"
	"github.com/artista/market-ledger/internal/projector"
	"github.com/artista/market-ledger/internal/providers/jetstream"
	"github.com/artista/market-ledger/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting market ledger API")

	// Event log and view cursors: postgres when configured, otherwise an
	// in-memory log for local development
	var eventLog eventlog.Log
	var cursors eventlog.CursorStore
	if cfg.Database.Host != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
			logger.Fatal("Failed to configure connection pool", zap.Error(err))
		}
		if err := store.Migrate(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Connected to database",
			zap.String("host", cfg.Database.Host),
			zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		)
		eventLog = store.NewPGEventLog(db)
		cursors = store.NewPGCursorStore(db)
	} else {
		logger.Warn("Database not configured, using in-memory event log")
		eventLog = eventlog.NewMemoryLog()
		cursors = eventlog.NewMemoryCursorStore()
	}

	// Optional event fan-out to JetStream
	var publisher messaging.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = jetstream.NewPublisher(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.StreamName))
	}

	// Build the ledgers and replay persisted history
	seqOpts := []ledger.SequencerOption{}
	if publisher != nil {
		seqOpts = append(seqOpts, ledger.WithPublisher(publisher))
	}
	seq := ledger.NewSequencer(eventLog, seqOpts...)
	registry := ledger.NewTokenRegistry(seq)

	marketAddr, ok := domain.ParseIdentity(cfg.Market.MarketplaceAddress)
	if !ok {
		logger.Fatal("Invalid marketplace address", zap.String("address", cfg.Market.MarketplaceAddress))
	}
	adminAddr, ok := domain.ParseIdentity(cfg.Market.AdminAddress)
	if !ok {
		logger.Fatal("Invalid admin address", zap.String("address", cfg.Market.AdminAddress))
	}
	market, err := ledger.NewMarketplaceLedger(seq, registry, ledger.MarketConfig{
		Identity:   marketAddr,
		Admin:      adminAddr,
		ListingFee: domain.Amount(cfg.Market.ListingFee),
		Commission: ledger.CommissionPolicy(cfg.Market.CommissionPolicy),
	})
	if err != nil {
		logger.Fatal("Failed to build marketplace ledger", zap.Error(err))
	}

	if err := ledger.Restore(ctx, eventLog, seq, registry, market); err != nil {
		logger.Fatal("Failed to replay event log", zap.Error(err))
	}
	logger.Info("Replayed event log", zap.Uint64("height", seq.Height()))

	// Content store
	if cfg.Metadata.BaseURL == "" {
		logger.Fatal("Metadata base URL is required")
	}
	content := metadata.NewHTTPStore(cfg.Metadata.BaseURL, &http.Client{Timeout: cfg.Metadata.Timeout}, cfg.Metadata.MaxRetryTime)

	// Content gate for minting
	var predictor classifier.Predictor
	if cfg.Classifier.PredictorURL != "" {
		predictor = classifier.NewHTTPPredictor(cfg.Classifier.PredictorURL)
	} else {
		logger.Warn("Predictor not configured, content scoring disabled")
		predictor = classifier.StaticPredictor{}
	}
	gate := classifier.NewGate(predictor)
	mint := minter.New(gate, content, registry)

	// Catalog views
	views := projector.New(eventLog, registry, market,
		projector.WithCursorStore(cursors),
		projector.WithMetadataStore(content),
		projector.WithHydrators(cfg.Projector.Hydrators),
	)

	// Token authentication
	if cfg.Auth.JWTPublicKey == "" {
		logger.Fatal("JWT public key is required")
	}
	resolver, err := identity.NewProvider(cfg.Auth.JWTPublicKey, cfg.Auth.Network)
	if err != nil {
		logger.Fatal("Failed to build identity provider", zap.Error(err))
	}

	handler := rest.NewHandler(registry, market, views, mint)

	srv := server.New(server.Config{
		Debug:          cfg.Debug,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, handler, resolver)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.Error(err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/halcyonmarkets/tradeos/internal/config"
	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/server"
	"github.com/halcyonmarkets/tradeos/internal/surveillance"
	"github.com/halcyonmarkets/tradeos/internal/tradeos"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/routing"
	"github.com/halcyonmarkets/tradeos/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	registry := prometheus.NewRegistry()

	j, closeJournal, err := openJournal(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open journal", zap.Error(err))
	}
	defer closeJournal()
	j = journal.WithMetrics(j, registry)

	svc, closePublisher, err := buildSurveillance(cfg, j, registry, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build surveillance service", zap.Error(err))
	}
	defer closePublisher()

	if err := os.MkdirAll(cfg.ConfirmDir, 0o755); err != nil {
		zapLogger.Fatal("Failed to create confirm directory", zap.Error(err))
	}

	ctx := context.Background()
	oms, err := tradeos.New(ctx, tradeos.Deps{
		ClientOS:     gateway.StaticClientOS{},
		ComplianceOS: gateway.StaticComplianceOS{},
		CustodySync:  gateway.NewMemoryCustody(decimal.NewFromInt(1_000_000)),
		Surveillance: gateway.StaticSurveillanceHub{},
		FeeForge:     gateway.StaticFeeForge{},
		RegDesk:      gateway.LogRegDesk{Logger: zapLogger},
		Adapters:     routing.SimAdapters(),
		Journal:      j,
		ConfirmDir:   cfg.ConfirmDir,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to assemble trade engines", zap.Error(err))
	}

	srv := server.NewServer(zapLogger, oms, svc, j, registry)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

// openJournal selects the WORM backend from configuration.
func openJournal(cfg *config.Config, zapLogger *zap.Logger) (journal.Journal, func(), error) {
	switch cfg.JournalBackend {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
		if err != nil {
			return nil, nil, err
		}
		j, err := journal.NewGormJournal(db)
		if err != nil {
			return nil, nil, err
		}
		return j, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil
	case "badger":
		db, err := badger.Open(badger.DefaultOptions(cfg.JournalPath))
		if err != nil {
			return nil, nil, err
		}
		j, err := journal.NewBadgerJournal(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return j, func() { db.Close() }, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
			return nil, nil, err
		}
		j, err := journal.NewFileJournal(cfg.JournalPath, zapLogger)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { j.Close() }, nil
	}
}

// buildSurveillance assembles the detection pipeline from configuration.
// Redis and Kafka are optional; absent, dedup state is in-memory and
// alerts stay local.
func buildSurveillance(cfg *config.Config, j journal.Journal, registry *prometheus.Registry, zapLogger *zap.Logger) (*surveillance.Service, func(), error) {
	washMinQty, err := decimal.NewFromString(cfg.WashMinQuantity)
	if err != nil {
		return nil, nil, err
	}
	frontRunFloor, err := decimal.NewFromString(cfg.FrontRunMinNotional)
	if err != nil {
		return nil, nil, err
	}

	engine := surveillance.NewScenarioEngine(surveillance.DefaultScenarios(), surveillance.Config{
		WashLookback:        time.Duration(cfg.WashLookbackMinutes) * time.Minute,
		WashMinQuantity:     washMinQty,
		FrontRunWindow:      time.Duration(cfg.FrontRunWindowMinutes) * time.Minute,
		FrontRunMinNotional: frontRunFloor,
		MixerMaxHops:        cfg.MixerMaxHops,
		MixerSeverityBase:   cfg.MixerSeverityBase,
	}, zapLogger)

	var store surveillance.DedupStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = surveillance.NewRedisDedupStore(client, cfg.DedupWindow)
	} else {
		store = surveillance.NewMemoryDedupStore(cfg.DedupWindow)
	}

	var publisher surveillance.AlertPublisher
	closePublisher := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		kp := surveillance.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
		publisher = kp
		closePublisher = func() {
			if err := kp.Close(); err != nil {
				zapLogger.Error("Failed to close alert publisher", zap.Error(err))
			}
		}
	}

	svc := surveillance.NewService(surveillance.ServiceOptions{
		Engine:      engine,
		Suppression: surveillance.NewSuppressionService(j, zapLogger),
		Deduper:     surveillance.NewAlertDeduper(store),
		Cases:       surveillance.NewCaseService(j, zapLogger),
		Publisher:   publisher,
		Metrics:     surveillance.NewMetrics(registry),
		Journal:     j,
	}, zapLogger)
	return svc, closePublisher, nil
}
